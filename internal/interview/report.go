package interview

import (
	"time"

	"github.com/google/uuid"
)

// Report aggregates one interview session: the question batch, the
// per-question evaluations in question order, and the total score.
type Report struct {
	SessionID   string       `json:"session_id"`
	Repository  string       `json:"repository"`
	CreatedAt   time.Time    `json:"created_at"`
	Questions   []Question   `json:"questions"`
	Evaluations []Evaluation `json:"evaluations"`
	TotalMarks  int          `json:"total_marks"`
	MaxMarks    int          `json:"max_marks"`
}

// NewReport assembles a report and computes totals.
func NewReport(repository string, questions []Question, evaluations []Evaluation) *Report {
	r := &Report{
		SessionID:   uuid.NewString(),
		Repository:  repository,
		CreatedAt:   time.Now().UTC(),
		Questions:   questions,
		Evaluations: evaluations,
		MaxMarks:    len(questions) * MaxMarks,
	}
	for _, e := range evaluations {
		r.TotalMarks += e.Marks
	}
	return r
}
