// Package grading scores whole submissions and applies manual reviews.
package grading

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/pavelanni/examgrader/internal/llm"
	"github.com/pavelanni/examgrader/internal/model"
	"github.com/pavelanni/examgrader/internal/scoring"
)

// Grader grades one short answer. *llm.Client implements it.
type Grader interface {
	Enabled() bool
	Grade(ctx context.Context, req llm.GradeRequest) (llm.Result, error)
}

// Store is the persistence the grading core needs. *store.Store
// implements it.
type Store interface {
	SaveSubmission(cfg model.TestConfiguration, sub model.Submission, records []model.ShortAnswerRecord) (model.Submission, error)
	SaveReview(r model.ShortAnswerRecord, total float64) error
	RecomputeStudentHistory(studentID int64) error
	GetSubmission(id int64) (*model.Submission, error)
	GetTest(id int64) (model.Test, error)
	GetQuestionsByIDs(ids []int64) (map[int64]model.Question, error)
	ShortAnswerRecords(submissionID int64) ([]model.ShortAnswerRecord, error)
	GetShortAnswerRecord(submissionID, questionID int64) (*model.ShortAnswerRecord, error)
}

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrQuestionNotFound   = errors.New("question not found")
	ErrNotShortAnswer     = errors.New("question is not a short answer")
	ErrScoreOutOfRange    = errors.New("score out of range")
)

// PersistenceError reports a failed write. Nothing of the operation was
// saved and it is safe to retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "persist " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// PointValue is what question q is worth under cfg. The per-type value of
// the configuration wins; the question's own points are the fallback.
func PointValue(cfg model.TestConfiguration, q model.Question) int {
	if v := cfg.PointValue(q.Type); v > 0 {
		return v
	}
	return q.Points
}

// QuestionScore is the verdict for one answered question.
type QuestionScore struct {
	QuestionID int64              `json:"question_id"`
	Type       model.QuestionType `json:"question_type"`
	Awarded    float64            `json:"awarded"`
	Max        int                `json:"max"`
	Outcome    string             `json:"outcome"`
	Flagged    bool               `json:"flagged,omitempty"`
}

// Outcomes of short-answer questions, next to the objective outcomes of
// package scoring.
const (
	OutcomePending  = "pending"
	OutcomeAIGraded = "ai_graded"
	OutcomeAIFailed = "ai_failed"
	OutcomeReviewed = "reviewed"

	OutcomeConfigError = "configuration_error"
)

// scoreObjective scores one objective answer. Unscorable question data
// is logged and contributes zero.
func scoreObjective(cfg model.TestConfiguration, q model.Question, answer string) QuestionScore {
	qs := QuestionScore{QuestionID: q.ID, Type: q.Type, Max: PointValue(cfg, q)}
	res, err := scoring.Score(q, answer, qs.Max)
	if err != nil {
		slog.Warn("question cannot be scored", "question_id", q.ID, "type", q.Type, "error", err)
		qs.Outcome = OutcomeConfigError
		qs.Flagged = true
		return qs
	}
	if res.Flagged {
		slog.Warn("question has a malformed reference answer", "question_id", q.ID, "type", q.Type)
	}
	qs.Awarded = res.Awarded
	qs.Outcome = string(res.Outcome)
	qs.Flagged = res.Flagged
	return qs
}

// ScoreAnswers scores every answer that is not a short answer and returns
// the verdicts in question order with their sum. Answers to questions that
// no longer exist are skipped.
func ScoreAnswers(cfg model.TestConfiguration, questions map[int64]model.Question, answers map[int64]string) ([]QuestionScore, float64) {
	var (
		scores []QuestionScore
		total  float64
	)
	for _, qid := range sortedIDs(answers) {
		q, ok := questions[qid]
		if !ok || q.Type == model.ShortAnswer {
			continue
		}
		qs := scoreObjective(cfg, q, answers[qid])
		scores = append(scores, qs)
		total += qs.Awarded
	}
	return scores, total
}

func sortedIDs(answers map[int64]string) []int64 {
	ids := make([]int64, 0, len(answers))
	for id := range answers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
