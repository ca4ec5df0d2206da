package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/examgrader/internal/cache"
	"github.com/pavelanni/examgrader/internal/model"
)

// Settings is a teacher's test configuration.
type Settings struct {
	Title              string              `json:"title" validate:"required,max=200"`
	Composition        model.Composition   `json:"composition"`
	GradingMethod      model.GradingMethod `json:"grading_method" validate:"omitempty,oneof=manual ai"`
	AllowStudentChoice bool                `json:"allow_student_choice"`
	SavePreset         bool                `json:"save_preset"`
}

// Adjustment reports a question count lowered to what the bank holds.
type Adjustment struct {
	Type      model.QuestionType `json:"question_type"`
	Requested int                `json:"requested"`
	Available int                `json:"available"`
}

// Configured is the outcome of Configure.
type Configured struct {
	TestID      int64             `json:"test_id"`
	PresetID    int64             `json:"preset_id,omitempty"`
	Composition model.Composition `json:"composition"`
	TotalScore  int               `json:"total_score"`
	Adjustments []Adjustment      `json:"adjustments,omitempty"`
}

// checkComposition validates banks and counts of c. Counts larger than
// what the banks hold are lowered, everything else wrong is a problem.
func (s *Service) checkComposition(c model.Composition) (model.Composition, []Adjustment, []string, error) {
	var (
		adjustments []Adjustment
		problems    []string
	)
	for _, t := range model.QuestionTypes {
		r := c.Rule(t)
		if r.Count == 0 {
			continue
		}
		var bankID int64
		if r.BankID != nil {
			bankID = *r.BankID
			bank, err := s.store.GetBank(bankID)
			if err != nil {
				return c, nil, nil, fmt.Errorf("get bank %d: %w", bankID, err)
			}
			if bank == nil {
				problems = append(problems, fmt.Sprintf("%s: bank %d does not exist", t, bankID))
				continue
			}
			if bank.Type != t {
				problems = append(problems, fmt.Sprintf("%s: bank %q holds %s questions", t, bank.Name, bank.Type))
				continue
			}
		}
		available, err := s.store.CountQuestions(bankID, t)
		if err != nil {
			return c, nil, nil, fmt.Errorf("count %s questions: %w", t, err)
		}
		if available == 0 {
			problems = append(problems, fmt.Sprintf("%s: no questions available", t))
			continue
		}
		if r.Count > available {
			adjustments = append(adjustments, Adjustment{Type: t, Requested: r.Count, Available: available})
			r.Count = available
			c.SetRule(t, r)
		}
	}
	if len(problems) == 0 && c.TotalScore() == 0 {
		problems = append(problems, "the test has no questions worth any points")
	}
	return c, adjustments, problems, nil
}

// Configure validates in and makes it the only active test, optionally
// saving it as a preset in the same transaction.
func (s *Service) Configure(ctx context.Context, in Settings) (*Configured, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := s.Validate(in); err != nil {
		return nil, err
	}
	comp, adjustments, problems, err := s.checkComposition(in.Composition)
	if err != nil {
		return nil, err
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	test := model.Test{
		Title:              in.Title,
		Composition:        comp,
		GradingMethod:      in.GradingMethod.OrDefault(),
		AllowStudentChoice: in.AllowStudentChoice,
	}
	testID, presetID, err := s.store.ActivateTest(test, in.SavePreset)
	if err != nil {
		return nil, fmt.Errorf("activate test: %w", err)
	}
	slog.Info("test activated", "test_id", testID, "preset_id", presetID, "title", in.Title,
		"total_score", comp.TotalScore(), "grading_method", test.GradingMethod)
	s.forgetActive(ctx)

	return &Configured{
		TestID:      testID,
		PresetID:    presetID,
		Composition: comp,
		TotalScore:  comp.TotalScore(),
		Adjustments: adjustments,
	}, nil
}

// ActiveConfig returns the configuration students take by default: the
// active test, or the most recent one when none is active.
func (s *Service) ActiveConfig(ctx context.Context) (model.TestConfiguration, error) {
	if s.cache != nil {
		cfg, err := s.cache.Active(ctx)
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			slog.Warn("active test cache unavailable", "error", err)
		}
	}

	test, err := s.store.GetActiveTest()
	if err != nil {
		return model.TestConfiguration{}, fmt.Errorf("get active test: %w", err)
	}
	if test == nil {
		test, err = s.store.GetLatestTest()
		if err != nil {
			return model.TestConfiguration{}, fmt.Errorf("get latest test: %w", err)
		}
	}
	if test == nil {
		return model.TestConfiguration{}, ErrNoTest
	}
	cfg := model.FromActiveTest(*test)

	if s.cache != nil {
		if err := s.cache.SetActive(ctx, cfg); err != nil {
			slog.Warn("failed to cache active test", "error", err)
		}
	}
	return cfg, nil
}

// ResolveConfig picks the configuration for a student. A non-zero
// presetID is honored only when the active test allows choosing.
func (s *Service) ResolveConfig(ctx context.Context, presetID int64) (model.TestConfiguration, error) {
	active, err := s.ActiveConfig(ctx)
	if presetID == 0 || err != nil {
		return active, err
	}
	if !active.AllowStudentChoice {
		return model.TestConfiguration{}, ErrChoiceNotAllowed
	}
	p, err := s.store.GetPreset(presetID)
	if err != nil {
		return model.TestConfiguration{}, fmt.Errorf("get preset %d: %w", presetID, err)
	}
	if p == nil {
		return model.TestConfiguration{}, ErrPresetNotFound
	}
	return model.FromPreset(*p), nil
}

// DeleteTest removes a test and everything submitted against it.
func (s *Service) DeleteTest(ctx context.Context, id int64) error {
	if err := s.store.DeleteTest(id); err != nil {
		return err
	}
	s.forgetActive(ctx)
	return nil
}

func (s *Service) forgetActive(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		slog.Warn("failed to invalidate active test cache", "error", err)
	}
}
