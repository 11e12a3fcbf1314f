package rag

import (
	"context"
	"fmt"
	"strings"

	"repovet/internal/index"
	"repovet/internal/llm"
)

const systemPrompt = `You are a code intelligence assistant. You answer questions about a project using the retrieved excerpts provided with each question.

Keep answers concise and grounded in the provided excerpts. If the excerpts don't contain enough information to answer, say so. Do not generate new code unless explicitly asked.`

// maxHistoryTurns bounds how much conversation is replayed per question.
const maxHistoryTurns = 10

// Retriever is the retrieval capability a session needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]index.Result, error)
}

// Turn is one question/answer exchange in a session.
type Turn struct {
	Question string
	Answer   string
}

// Session is a conversational question-answering loop over a built index.
// Each question retrieves fresh evidence; earlier turns are replayed as a
// transcript so follow-up questions keep their referents.
type Session struct {
	Retriever       Retriever
	LLM             llm.Generator
	TopK            int
	MaxContextChars int

	history []Turn
}

// Ask retrieves evidence for the question and generates a grounded answer.
// The exchange is recorded in the session history on success.
func (s *Session) Ask(ctx context.Context, question string) (string, error) {
	results, err := s.Retriever.Retrieve(ctx, question, s.TopK)
	if err != nil {
		return "", fmt.Errorf("retrieve evidence: %w", err)
	}

	var b strings.Builder
	if len(results) > 0 {
		b.WriteString("Relevant excerpts from the project:\n\n")
		b.WriteString(excerpts(results, s.MaxContextChars))
		b.WriteString("\n\n")
	}
	if len(s.history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, t := range s.history {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", t.Question, t.Answer)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Question: %s", question)

	answer, err := s.LLM.Generate(ctx, systemPrompt, b.String())
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	answer = strings.TrimSpace(answer)

	s.history = append(s.history, Turn{Question: question, Answer: answer})
	if len(s.history) > maxHistoryTurns {
		s.history = s.history[len(s.history)-maxHistoryTurns:]
	}
	return answer, nil
}

// Reset clears the conversation history.
func (s *Session) Reset() {
	s.history = nil
}

func excerpts(results []index.Result, maxChars int) string {
	if maxChars < 1 {
		maxChars = 6000
	}
	var b strings.Builder
	for i, r := range results {
		entry := fmt.Sprintf("--- Excerpt %d (relevance %.3f) ---\n%s\n\n", i+1, r.Score, r.Text)
		if b.Len()+len(entry) > maxChars {
			break
		}
		b.WriteString(entry)
	}
	return strings.TrimRight(b.String(), "\n")
}
