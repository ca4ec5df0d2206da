package grading

import (
	"fmt"
	"log/slog"

	"github.com/pavelanni/examgrader/internal/metrics"
	"github.com/pavelanni/examgrader/internal/model"
	"github.com/pavelanni/examgrader/internal/scoring"
)

// Review is a teacher's verdict on one short answer.
type Review struct {
	SubmissionID int64  `json:"submission_id" validate:"required,gt=0"`
	QuestionID   int64  `json:"question_id" validate:"required,gt=0"`
	Score        int    `json:"score" validate:"min=0"`
	Comment      string `json:"comment" validate:"max=2000"`
}

// ReviewResult is the state after a review was applied.
type ReviewResult struct {
	Record model.ShortAnswerRecord `json:"record"`
	Total  float64                 `json:"total"`
}

// Reconciler applies manual reviews and keeps submission totals in step.
type Reconciler struct {
	store Store
}

func NewReconciler(st Store) *Reconciler {
	return &Reconciler{store: st}
}

// ApplyReview records a human score for a short answer of the submission
// and recomputes the submission total from the stored answers, the current
// questions and all short-answer scores. Applying the same review twice
// gives the same total.
func (r *Reconciler) ApplyReview(rev Review) (*ReviewResult, error) {
	sub, err := r.store.GetSubmission(rev.SubmissionID)
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	if sub == nil {
		return nil, ErrSubmissionNotFound
	}
	test, err := r.store.GetTest(sub.TestID)
	if err != nil {
		return nil, fmt.Errorf("get test %d: %w", sub.TestID, err)
	}
	cfg := model.FromActiveTest(test)

	ids := sortedIDs(sub.Answers)
	_, answered := sub.Answers[rev.QuestionID]
	if !answered {
		ids = append(ids, rev.QuestionID)
	}
	questions, err := r.store.GetQuestionsByIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}

	rec, err := r.store.GetShortAnswerRecord(rev.SubmissionID, rev.QuestionID)
	if err != nil {
		return nil, fmt.Errorf("get short answer: %w", err)
	}

	q, ok := questions[rev.QuestionID]
	switch {
	case ok && q.Type != model.ShortAnswer:
		return nil, ErrNotShortAnswer
	case rec == nil && (!ok || !answered):
		// A record is only created for a short answer the submission holds.
		return nil, ErrQuestionNotFound
	}
	maxScore := cfg.PointValue(model.ShortAnswer)
	if ok {
		maxScore = PointValue(cfg, q)
	}
	if rev.Score < 0 || (maxScore > 0 && rev.Score > maxScore) {
		return nil, fmt.Errorf("%w: %d not in [0, %d]", ErrScoreOutOfRange, rev.Score, maxScore)
	}

	if rec == nil {
		rec = &model.ShortAnswerRecord{
			SubmissionID:  rev.SubmissionID,
			QuestionID:    rev.QuestionID,
			StudentAnswer: sub.Answers[rev.QuestionID],
			Method:        model.GradingManual,
		}
	}
	prevMethod := rec.Method.OrDefault()
	score := rev.Score
	rec.Score = &score
	rec.Comment = rev.Comment
	rec.Graded = true
	if prevMethod == model.GradingAI {
		rec.HumanReviewed = true
	}

	records, err := r.store.ShortAnswerRecords(rev.SubmissionID)
	if err != nil {
		return nil, fmt.Errorf("list short answers: %w", err)
	}
	_, total := ScoreAnswers(cfg, questions, sub.Answers)
	replaced := false
	for _, other := range records {
		if other.QuestionID == rec.QuestionID {
			replaced = true
			total += float64(rec.Points())
			continue
		}
		total += float64(other.Points())
	}
	if !replaced {
		total += float64(rec.Points())
	}
	total = scoring.Round1(total)

	if err := r.store.SaveReview(*rec, total); err != nil {
		slog.Error("failed to save review", "submission_id", rev.SubmissionID, "question_id", rev.QuestionID, "error", err)
		return nil, &PersistenceError{Op: "review", Err: err}
	}
	metrics.ReviewsApplied.WithLabelValues(string(prevMethod)).Inc()
	slog.Info("review applied",
		"submission_id", rev.SubmissionID,
		"question_id", rev.QuestionID,
		"score", score,
		"previous_total", sub.Score,
		"total", total)

	if err := r.store.RecomputeStudentHistory(sub.StudentID); err != nil {
		slog.Error("failed to recompute student history", "student_id", sub.StudentID, "error", err)
	}
	return &ReviewResult{Record: *rec, Total: total}, nil
}
