package interview

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrSchema is wrapped by all failures to turn a raw generation response
// into a validated structure: unparseable output, wrong question count,
// broken numbering, marks out of range.
var ErrSchema = errors.New("generation output failed schema validation")

// MinMarks and MaxMarks bound the evaluation score.
const (
	MinMarks = 0
	MaxMarks = 5
)

// Question is one generated interview question.
type Question struct {
	Number int    `json:"question_number"`
	Text   string `json:"question_text"`
}

// Evaluation is the scored result for one answered question.
type Evaluation struct {
	QuestionNumber int    `json:"question_number"`
	QuestionText   string `json:"question_text"`
	UserAnswer     string `json:"user_answer"`
	Marks          int    `json:"marks"`
	Justification  string `json:"justification"`
}

// ExtractJSON returns the first well-formed JSON object embedded in raw.
// Generation backends routinely wrap their JSON in prose or markdown fences;
// everything outside the first balanced object is ignored.
func ExtractJSON(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", fmt.Errorf("%w: no JSON object in response", ErrSchema)
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := raw[start : i+1]
				if !json.Valid([]byte(candidate)) {
					return "", fmt.Errorf("%w: malformed JSON object in response", ErrSchema)
				}
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("%w: unterminated JSON object in response", ErrSchema)
}

// ParseQuestions extracts and validates a question batch. The batch must
// contain exactly count questions numbered contiguously from 1, each with
// non-empty text.
func ParseQuestions(raw string, count int) ([]Question, error) {
	doc, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Questions []Question `json:"questions"`
	}
	if err := json.Unmarshal([]byte(doc), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if len(payload.Questions) != count {
		return nil, fmt.Errorf("%w: expected %d questions, got %d", ErrSchema, count, len(payload.Questions))
	}
	for i, q := range payload.Questions {
		if q.Number != i+1 {
			return nil, fmt.Errorf("%w: question %d numbered %d, want contiguous numbering from 1", ErrSchema, i+1, q.Number)
		}
		if strings.TrimSpace(q.Text) == "" {
			return nil, fmt.Errorf("%w: question %d has empty text", ErrSchema, q.Number)
		}
	}
	return payload.Questions, nil
}

// ParseEvaluation extracts and validates a single evaluation: an integer
// mark in [0,5] and a non-empty justification. Out-of-range or fractional
// marks are rejected, not clamped.
func ParseEvaluation(raw string) (marks int, justification string, err error) {
	doc, err := ExtractJSON(raw)
	if err != nil {
		return 0, "", err
	}
	var payload struct {
		Marks         json.Number `json:"marks"`
		Justification string      `json:"justification"`
	}
	if err := json.Unmarshal([]byte(doc), &payload); err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrSchema, err)
	}
	n, err := payload.Marks.Int64()
	if err != nil {
		return 0, "", fmt.Errorf("%w: marks %q is not an integer", ErrSchema, payload.Marks)
	}
	if n < MinMarks || n > MaxMarks {
		return 0, "", fmt.Errorf("%w: marks %d out of range [%d,%d]", ErrSchema, n, MinMarks, MaxMarks)
	}
	if strings.TrimSpace(payload.Justification) == "" {
		return 0, "", fmt.Errorf("%w: empty justification", ErrSchema)
	}
	return int(n), payload.Justification, nil
}
