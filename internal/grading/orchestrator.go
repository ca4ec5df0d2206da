package grading

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pavelanni/examgrader/internal/llm"
	"github.com/pavelanni/examgrader/internal/metrics"
	"github.com/pavelanni/examgrader/internal/model"
	"github.com/pavelanni/examgrader/internal/scoring"
)

// State is a step of grading one submission.
type State string

const (
	StateReceived          State = "received"
	StateObjectivelyScored State = "objectively_scored"
	StateAISkipped         State = "ai_grading_skipped"
	StateAIInFlight        State = "ai_grading_in_flight"
	StateAIGraded          State = "ai_graded"
	StateAIFailed          State = "ai_grading_failed"
	StatePersisted         State = "persisted"
)

// Input is one attempt to grade.
type Input struct {
	Config    model.TestConfiguration
	StudentID int64
	Answers   map[int64]string
	IPAddress string
}

// Result is a graded and stored submission.
type Result struct {
	Submission model.Submission          `json:"submission"`
	Scores     []QuestionScore           `json:"scores"`
	Records    []model.ShortAnswerRecord `json:"records"`
	MaxScore   int                       `json:"max_score"`
	// AIState is StateAISkipped, StateAIGraded or StateAIFailed. The latter
	// means at least one external call failed.
	AIState State `json:"ai_state"`
}

// Orchestrator grades submissions: objective questions locally, short
// answers through the Grader when the test asks for it, then one atomic
// write.
type Orchestrator struct {
	store  Store
	grader Grader
}

func NewOrchestrator(st Store, g Grader) *Orchestrator {
	return &Orchestrator{store: st, grader: g}
}

// Grade scores and stores a submission. The only error it returns for a
// valid input is a *PersistenceError; per-question problems are recorded
// in the result instead. Cancelling ctx does not stop grading once it has
// started: external calls are bounded by their own timeouts and retries.
func (o *Orchestrator) Grade(ctx context.Context, in Input) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	ref := uuid.NewString()
	log := slog.With("submission_ref", ref, "student_id", in.StudentID)
	log.Info("grading submission", "state", StateReceived, "answers", len(in.Answers))

	ids := sortedIDs(in.Answers)
	questions, err := o.store.GetQuestionsByIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	for _, qid := range ids {
		if _, ok := questions[qid]; !ok {
			log.Warn("answer to unknown question ignored", "question_id", qid)
		}
	}

	scores, total := ScoreAnswers(in.Config, questions, in.Answers)
	for _, qs := range scores {
		metrics.ObjectiveScored.WithLabelValues(string(qs.Type), qs.Outcome).Inc()
	}
	log.Info("objective questions scored", "state", StateObjectivelyScored, "count", len(scores), "points", scoring.Round1(total))

	var shortAnswers []model.Question
	for _, qid := range ids {
		if q, ok := questions[qid]; ok && q.Type == model.ShortAnswer {
			shortAnswers = append(shortAnswers, q)
		}
	}

	method := in.Config.GradingMethod.OrDefault()
	useAI := method == model.GradingAI && len(shortAnswers) > 0 && o.grader != nil && o.grader.Enabled()

	aiState := StateAISkipped
	records := make([]model.ShortAnswerRecord, 0, len(shortAnswers))
	if !useAI {
		if method == model.GradingAI && len(shortAnswers) > 0 {
			log.Warn("AI grading requested but unavailable, short answers left for manual grading")
		}
		log.Info("short answers left for manual grading", "state", StateAISkipped, "count", len(shortAnswers))
		for _, q := range shortAnswers {
			records = append(records, model.ShortAnswerRecord{
				QuestionID:    q.ID,
				StudentAnswer: in.Answers[q.ID],
				Method:        model.GradingManual,
			})
			scores = append(scores, QuestionScore{
				QuestionID: q.ID, Type: q.Type, Max: PointValue(in.Config, q), Outcome: OutcomePending,
			})
		}
	} else {
		aiState = StateAIGraded
		log.Info("grading short answers", "state", StateAIInFlight, "count", len(shortAnswers))
		// One external call at a time per submission.
		for _, q := range shortAnswers {
			rec, qs := o.gradeShortAnswer(ctx, log, in.Config, q, in.Answers[q.ID])
			if qs.Outcome == OutcomeAIFailed {
				aiState = StateAIFailed
			}
			records = append(records, rec)
			scores = append(scores, qs)
			total += qs.Awarded
		}
		log.Info("short answers graded", "state", aiState)
	}

	sub := model.Submission{
		Ref:       ref,
		StudentID: in.StudentID,
		Answers:   in.Answers,
		Score:     scoring.Round1(total),
		IPAddress: in.IPAddress,
	}
	saved, err := o.store.SaveSubmission(in.Config, sub, records)
	if err != nil {
		log.Error("failed to save graded submission", "error", err)
		return nil, &PersistenceError{Op: "submission", Err: err}
	}
	log.Info("submission stored", "state", StatePersisted, "submission_id", saved.ID, "score", saved.Score)
	if maxScore := in.Config.TotalScore(); maxScore > 0 && saved.Score > float64(maxScore) {
		log.Warn("submission score exceeds test maximum", "submission_id", saved.ID, "score", saved.Score, "max_score", maxScore)
	}
	metrics.SubmissionsGraded.WithLabelValues(string(method), string(aiState)).Inc()

	if err := o.store.RecomputeStudentHistory(in.StudentID); err != nil {
		log.Error("failed to recompute student history", "error", err)
	}

	return &Result{
		Submission: saved,
		Scores:     scores,
		Records:    records,
		MaxScore:   in.Config.TotalScore(),
		AIState:    aiState,
	}, nil
}

func (o *Orchestrator) gradeShortAnswer(ctx context.Context, log *slog.Logger, cfg model.TestConfiguration, q model.Question, answer string) (model.ShortAnswerRecord, QuestionScore) {
	points := PointValue(cfg, q)
	rec := model.ShortAnswerRecord{
		QuestionID:    q.ID,
		StudentAnswer: answer,
		Method:        model.GradingAI,
		Graded:        true,
	}
	qs := QuestionScore{QuestionID: q.ID, Type: q.Type, Max: points}

	res, err := o.grader.Grade(ctx, llm.GradeRequest{
		Question:        q.Content,
		ReferenceAnswer: q.CorrectAnswer,
		StudentAnswer:   scoring.CapShortAnswer(answer),
		MaxScore:        points,
	})
	if err != nil {
		log.Warn("AI grading failed", "question_id", q.ID, "error", err)
		zero := 0
		rec.Score = &zero
		rec.Comment = "AI grading failed: " + err.Error()
		qs.Outcome = OutcomeAIFailed
		return rec, qs
	}

	score := res.Score
	rec.Score = &score
	aiScore := res.Score
	rec.AIScore = &aiScore
	rec.Comment = res.Feedback
	rec.AIFeedback = res.Feedback
	qs.Awarded = float64(res.Score)
	qs.Outcome = OutcomeAIGraded
	return rec, qs
}
