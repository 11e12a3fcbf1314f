package interview

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"repovet/internal/index"
	"repovet/internal/llm"
)

// Retriever is the slice of retrieval capability the interview layer needs.
// *retriever.Retriever satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]index.Result, error)
}

// groundingQuery steers retrieval toward the material questions should be
// grounded in.
const groundingQuery = "architecture design decisions trade-offs data structures algorithms components"

const questionSystemPrompt = `You are a senior software engineer conducting a technical interview about a candidate's project. You only ask questions that are grounded in the provided source material.`

const questionPromptTemplate = `Use the context below (project code and documentation) to generate interview questions.

Context:
%s

Instructions:
- Generate exactly %d meaningful technical questions about this project
- Questions must be specific to the code, design, architecture, or data structures in the context
- Ask about design decisions, trade-offs, alternatives, and the purpose of specific components
- Avoid generic or fundamental questions that could apply to any project
- Only use information present in the context

Respond with a single JSON object and nothing else, in exactly this shape:
{"questions": [{"question_number": 1, "question_text": "..."}, ...]}
The question_number values must run contiguously from 1 to %d.`

// generationAttempts bounds schema-validation retries: the first call plus
// one regeneration with a sharpened prompt.
const generationAttempts = 2

// QuestionGenerator produces a grounded batch of interview questions.
type QuestionGenerator struct {
	Retriever       Retriever
	LLM             llm.Generator
	Count           int
	TopK            int
	MaxContextChars int
	Log             *log.Logger
}

// Generate retrieves grounding context, calls the generation capability, and
// returns exactly Count validated questions. A response that fails schema
// validation triggers one regeneration with the violated constraint restated;
// a second failure is surfaced, never silently degraded.
func (g *QuestionGenerator) Generate(ctx context.Context) ([]Question, error) {
	if g.Count < 1 {
		return nil, fmt.Errorf("question count must be >= 1, got %d", g.Count)
	}
	logger := g.Log
	if logger == nil {
		logger = log.Default()
	}

	results, err := g.Retriever.Retrieve(ctx, groundingQuery, g.TopK)
	if err != nil {
		return nil, fmt.Errorf("retrieve grounding context: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no grounding context retrieved; is the index built?")
	}

	prompt := fmt.Sprintf(questionPromptTemplate, contextBlock(results, g.MaxContextChars), g.Count, g.Count)

	var lastErr error
	for attempt := 1; attempt <= generationAttempts; attempt++ {
		raw, err := g.LLM.Generate(ctx, questionSystemPrompt, prompt)
		if err != nil {
			return nil, fmt.Errorf("question generation call: %w", err)
		}
		questions, perr := ParseQuestions(raw, g.Count)
		if perr == nil {
			return questions, nil
		}
		lastErr = perr
		logger.Warn("question batch failed validation", "attempt", attempt, "err", perr)
		// Sharpen rather than resend: restate the violated constraint so a
		// non-deterministic backend doesn't just repeat the same failure.
		prompt += fmt.Sprintf("\n\nYour previous response was rejected: %v. Respond with only the JSON object, containing exactly %d questions numbered 1 to %d.", perr, g.Count, g.Count)
	}
	return nil, fmt.Errorf("question generation failed after %d attempts: %w", generationAttempts, lastErr)
}

// contextBlock concatenates retrieved chunk texts into a bounded context
// section, most relevant first.
func contextBlock(results []index.Result, maxChars int) string {
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
