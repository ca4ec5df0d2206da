package exam

import (
	"fmt"
	"sort"

	"github.com/pavelanni/examgrader/internal/model"
	"github.com/pavelanni/examgrader/internal/scoring"
)

// PassMark is the score at or above which a submission counts as passed.
const PassMark = 60

const topErrorCount = 10

// ClassStats summarizes the submissions of one class.
type ClassStats struct {
	ClassNumber  string  `json:"class_number"`
	StudentCount int     `json:"student_count"`
	AverageScore float64 `json:"average_score"`
	MaxScore     float64 `json:"max_score"`
	MinScore     float64 `json:"min_score"`
	PassRate     float64 `json:"pass_rate"`
}

// QuestionErrors is how often an objective question was answered wrong.
type QuestionErrors struct {
	QuestionID    int64              `json:"question_id"`
	Type          model.QuestionType `json:"question_type"`
	Content       string             `json:"content"`
	CorrectAnswer string             `json:"correct_answer"`
	Wrong         int                `json:"wrong_count"`
	Total         int                `json:"total_count"`
	ErrorRate     float64            `json:"error_rate"`
}

// Statistics is the per-test report for teachers.
type Statistics struct {
	TestID      int64              `json:"test_id"`
	Title       string             `json:"title"`
	Submissions []model.Submission `json:"submissions"`
	Classes     []ClassStats       `json:"classes"`
	TopErrors   []QuestionErrors   `json:"top_errors"`
}

// TestStatistics reports per-class results of a test and its most often
// missed objective questions. Short answers are not counted.
func (s *Service) TestStatistics(testID int64) (*Statistics, error) {
	test, err := s.store.GetTest(testID)
	if err != nil {
		return nil, fmt.Errorf("get test %d: %w", testID, err)
	}
	subs, err := s.store.ListTestSubmissions(testID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	st := &Statistics{TestID: test.ID, Title: test.Title, Submissions: subs}

	byClass := make(map[string]*ClassStats)
	passed := make(map[string]int)
	seen := make(map[int64]bool)
	var ids []int64
	for _, sub := range subs {
		cs, ok := byClass[sub.ClassNumber]
		if !ok {
			cs = &ClassStats{ClassNumber: sub.ClassNumber, MaxScore: sub.Score, MinScore: sub.Score}
			byClass[sub.ClassNumber] = cs
		}
		cs.StudentCount++
		cs.AverageScore += sub.Score
		cs.MaxScore = max(cs.MaxScore, sub.Score)
		cs.MinScore = min(cs.MinScore, sub.Score)
		if sub.Score >= PassMark {
			passed[sub.ClassNumber]++
		}
		for qid := range sub.Answers {
			if !seen[qid] {
				seen[qid] = true
				ids = append(ids, qid)
			}
		}
	}
	for class, cs := range byClass {
		cs.AverageScore = scoring.Round1(cs.AverageScore / float64(cs.StudentCount))
		cs.PassRate = float64(passed[class]) / float64(cs.StudentCount)
		st.Classes = append(st.Classes, *cs)
	}
	sort.Slice(st.Classes, func(i, j int) bool { return st.Classes[i].ClassNumber < st.Classes[j].ClassNumber })

	questions, err := s.store.GetQuestionsByIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	cfg := model.FromActiveTest(test)
	counts := make(map[int64]*QuestionErrors)
	for _, sub := range subs {
		for qid, answer := range sub.Answers {
			q, ok := questions[qid]
			if !ok || !q.Type.Objective() {
				continue
			}
			res, err := scoring.Score(q, answer, cfg.PointValue(q.Type))
			if err != nil {
				continue
			}
			qe, ok := counts[qid]
			if !ok {
				qe = &QuestionErrors{QuestionID: qid, Type: q.Type, Content: q.Content, CorrectAnswer: q.CorrectAnswer}
				counts[qid] = qe
			}
			qe.Total++
			if res.Outcome != scoring.OutcomeCorrect {
				qe.Wrong++
			}
		}
	}
	for _, qe := range counts {
		qe.ErrorRate = float64(qe.Wrong) / float64(qe.Total)
		st.TopErrors = append(st.TopErrors, *qe)
	}
	sort.Slice(st.TopErrors, func(i, j int) bool {
		a, b := st.TopErrors[i], st.TopErrors[j]
		if a.ErrorRate != b.ErrorRate {
			return a.ErrorRate > b.ErrorRate
		}
		return a.QuestionID < b.QuestionID
	})
	if len(st.TopErrors) > topErrorCount {
		st.TopErrors = st.TopErrors[:topErrorCount]
	}
	return st, nil
}
