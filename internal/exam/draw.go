package exam

import (
	"fmt"

	"github.com/pavelanni/examgrader/internal/model"
)

// Section is the questions of one type on a paper.
type Section struct {
	Type      model.QuestionType `json:"question_type"`
	Points    int                `json:"points"`
	Questions []model.Question   `json:"questions"`
}

// Paper is a freshly drawn test as a student sees it.
type Paper struct {
	Title         string              `json:"title"`
	TestID        int64               `json:"test_id,omitempty"`
	PresetID      int64               `json:"preset_id,omitempty"`
	GradingMethod model.GradingMethod `json:"grading_method"`
	TotalScore    int                 `json:"total_score"`
	Sections      []Section           `json:"sections"`
}

// Draw picks questions for cfg uniformly at random, per type and without
// replacement, from the configured bank or from all banks of the type.
// Answers and explanations are withheld. Every call draws anew.
func (s *Service) Draw(cfg model.TestConfiguration) (*Paper, error) {
	p := &Paper{
		Title:         cfg.Title,
		TestID:        cfg.TestID,
		PresetID:      cfg.PresetID,
		GradingMethod: cfg.GradingMethod.OrDefault(),
		TotalScore:    cfg.TotalScore(),
	}
	for _, t := range model.QuestionTypes {
		r := cfg.Composition.Rule(t)
		if r.Count <= 0 {
			continue
		}
		var bankID int64
		if r.BankID != nil {
			bankID = *r.BankID
		}
		drawn, err := s.store.RandomQuestions(bankID, t, r.Count)
		if err != nil {
			return nil, fmt.Errorf("draw %s questions: %w", t, err)
		}
		sec := Section{Type: t, Points: r.Points, Questions: make([]model.Question, 0, len(drawn))}
		for _, q := range drawn {
			sec.Questions = append(sec.Questions, q.ForStudent())
		}
		p.Sections = append(p.Sections, sec)
	}
	return p, nil
}
