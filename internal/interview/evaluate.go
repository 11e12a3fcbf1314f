package interview

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"repovet/internal/llm"
)

const evaluationSystemPrompt = `You are a senior software engineer grading a candidate's answer in a technical interview. You grade strictly against the provided source material.`

const evaluationPromptTemplate = `Grade the candidate's answer using the evidence below, retrieved from the project under discussion.

Evidence:
%s

Question: %s

Candidate's answer: %s

Rubric, all four weighed equally:
- Correctness: is the answer factually right about this project?
- Relevance: does it actually address the question?
- Technical accuracy: are the technical details sound?
- Completeness: does it cover the substance the question asks for?

Respond with a single JSON object and nothing else, in exactly this shape:
{"marks": <integer between %d and %d>, "justification": "<one short paragraph>"}`

// Evaluator grades free-text answers against re-retrieved evidence.
// Evaluations are independent across questions and safe to run in parallel.
type Evaluator struct {
	Retriever       Retriever
	LLM             llm.Generator
	TopK            int
	MaxContextChars int
	Log             *log.Logger
}

// Evaluate retrieves evidence for the question, asks the generation
// capability to grade the answer, and returns a validated evaluation.
// Invalid marks or an empty justification trigger one regeneration with the
// violated constraint restated, matching the question generator's policy.
func (e *Evaluator) Evaluate(ctx context.Context, q Question, answer string) (Evaluation, error) {
	logger := e.Log
	if logger == nil {
		logger = log.Default()
	}

	// Evidence should cover both what was asked and what was claimed.
	results, err := e.Retriever.Retrieve(ctx, q.Text+" "+answer, e.TopK)
	if err != nil {
		return Evaluation{}, fmt.Errorf("retrieve evidence for question %d: %w", q.Number, err)
	}

	prompt := fmt.Sprintf(evaluationPromptTemplate,
		contextBlock(results, e.MaxContextChars), q.Text, answer, MinMarks, MaxMarks)

	var lastErr error
	for attempt := 1; attempt <= generationAttempts; attempt++ {
		raw, err := e.LLM.Generate(ctx, evaluationSystemPrompt, prompt)
		if err != nil {
			return Evaluation{}, fmt.Errorf("evaluation call for question %d: %w", q.Number, err)
		}
		marks, justification, perr := ParseEvaluation(raw)
		if perr == nil {
			return Evaluation{
				QuestionNumber: q.Number,
				QuestionText:   q.Text,
				UserAnswer:     answer,
				Marks:          marks,
				Justification:  justification,
			}, nil
		}
		lastErr = perr
		logger.Warn("evaluation failed validation", "question", q.Number, "attempt", attempt, "err", perr)
		prompt += fmt.Sprintf("\n\nYour previous response was rejected: %v. Respond with only the JSON object; marks must be an integer between %d and %d and justification must not be empty.", perr, MinMarks, MaxMarks)
	}
	return Evaluation{}, fmt.Errorf("evaluation of question %d failed after %d attempts: %w", q.Number, generationAttempts, lastErr)
}
