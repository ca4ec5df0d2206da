package exam

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pavelanni/examgrader/internal/model"
)

// PresetInput is a preset saved on its own, without activating it.
type PresetInput struct {
	Title              string              `json:"title" validate:"required,max=200"`
	Composition        model.Composition   `json:"composition"`
	GradingMethod      model.GradingMethod `json:"grading_method" validate:"omitempty,oneof=manual ai"`
	AllowStudentChoice bool                `json:"allow_student_choice"`
}

// PresetSummary is what students see when choosing a preset.
type PresetSummary struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// CreatePreset validates and stores a preset. Its counts are checked
// against the banks the same way Configure does.
func (s *Service) CreatePreset(in PresetInput) (*model.TestPreset, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := s.Validate(in); err != nil {
		return nil, err
	}
	comp, _, problems, err := s.checkComposition(in.Composition)
	if err != nil {
		return nil, err
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	p := model.TestPreset{
		Title:              in.Title,
		Composition:        comp,
		GradingMethod:      in.GradingMethod.OrDefault(),
		AllowStudentChoice: in.AllowStudentChoice,
	}
	id, err := s.store.CreatePreset(p)
	if err != nil {
		return nil, fmt.Errorf("create preset: %w", err)
	}
	return s.store.GetPreset(id)
}

func (s *Service) ListPresets() ([]model.TestPreset, error) {
	return s.store.ListPresets()
}

// GetPreset returns ErrPresetNotFound for an unknown ID.
func (s *Service) GetPreset(id int64) (*model.TestPreset, error) {
	p, err := s.store.GetPreset(id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPresetNotFound
	}
	return p, nil
}

func (s *Service) DeletePreset(id int64) error {
	return s.store.DeletePreset(id)
}

// PublicPresets lists the presets a student may choose from. The list is
// empty unless the current test allows choosing.
func (s *Service) PublicPresets(ctx context.Context) ([]PresetSummary, error) {
	out := []PresetSummary{}
	active, err := s.ActiveConfig(ctx)
	if errors.Is(err, ErrNoTest) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	if !active.AllowStudentChoice {
		return out, nil
	}
	presets, err := s.store.ListPresets()
	if err != nil {
		return nil, err
	}
	for _, p := range presets {
		out = append(out, PresetSummary{ID: p.ID, Title: p.Title})
	}
	return out, nil
}
