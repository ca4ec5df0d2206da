package store

import (
	"fmt"
	"time"

	"github.com/pavelanni/examgrader/internal/model"
)

// ExportResults builds export-ready results from all submissions.
func (s *Store) ExportResults() (model.ResultsExport, error) {
	out := model.ResultsExport{GeneratedAt: time.Now().UTC()}

	subs, err := s.ListSubmissions()
	if err != nil {
		return out, fmt.Errorf("list submissions: %w", err)
	}

	// Track submission count per student for attempt_number.
	attempts := make(map[int64]int)
	tests := make(map[int64]model.Test)

	for _, sub := range subs {
		attempts[sub.StudentID]++

		test, ok := tests[sub.TestID]
		if !ok {
			test, err = s.GetTest(sub.TestID)
			if err != nil {
				return out, fmt.Errorf("get test %d: %w", sub.TestID, err)
			}
			tests[sub.TestID] = test
		}

		records, err := s.ShortAnswerRecords(sub.ID)
		if err != nil {
			return out, fmt.Errorf("get short answers of submission %d: %w", sub.ID, err)
		}
		ids := make([]int64, 0, len(records))
		for _, r := range records {
			ids = append(ids, r.QuestionID)
		}
		questions, err := s.GetQuestionsByIDs(ids)
		if err != nil {
			return out, fmt.Errorf("get questions: %w", err)
		}

		answers := make([]model.ShortAnswerResult, 0, len(records))
		for _, r := range records {
			answers = append(answers, model.ShortAnswerResult{
				QuestionID:    r.QuestionID,
				Question:      questions[r.QuestionID].Content,
				Answer:        r.StudentAnswer,
				Score:         r.Score,
				Comment:       r.Comment,
				Graded:        r.Graded,
				Method:        r.Method,
				AIScore:       r.AIScore,
				AIFeedback:    r.AIFeedback,
				HumanReviewed: r.HumanReviewed,
			})
		}

		out.Results = append(out.Results, model.SubmissionResult{
			SubmissionID:  sub.ID,
			Ref:           sub.Ref,
			StudentName:   sub.StudentName,
			ClassNumber:   sub.ClassNumber,
			AttemptNumber: attempts[sub.StudentID],
			TestTitle:     test.Title,
			GradingMethod: test.GradingMethod,
			Score:         sub.Score,
			MaxScore:      test.TotalScore,
			SubmittedAt:   sub.CreatedAt,
			IPAddress:     sub.IPAddress,
			ShortAnswers:  answers,
		})
	}
	out.Count = len(out.Results)
	return out, nil
}
