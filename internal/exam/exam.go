// Package exam configures tests, draws question papers and takes
// submissions. Scoring itself lives in package grading.
package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/examgrader/internal/cache"
	"github.com/pavelanni/examgrader/internal/grading"
	"github.com/pavelanni/examgrader/internal/model"
	"github.com/pavelanni/examgrader/internal/store"
)

var (
	ErrNoTest           = errors.New("no test is available")
	ErrPresetNotFound   = errors.New("preset not found")
	ErrChoiceNotAllowed = errors.New("the current test does not allow choosing a preset")
)

// ValidationError lists everything wrong with a teacher's input.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid input: " + strings.Join(e.Problems, "; ")
}

// Service is the exam workflow on top of the store and the grading core.
type Service struct {
	store    *store.Store
	grader   *grading.Orchestrator
	reviews  *grading.Reconciler
	cache    *cache.ConfigCache
	validate *validator.Validate
}

type Option func(*Service)

// WithCache keeps the active configuration in Redis.
func WithCache(c *cache.ConfigCache) Option {
	return func(s *Service) { s.cache = c }
}

// New creates the service. g may be nil, in which case short answers are
// always left for manual grading.
func New(st *store.Store, g grading.Grader, opts ...Option) *Service {
	s := &Service{
		store:    st,
		grader:   grading.NewOrchestrator(st, g),
		reviews:  grading.NewReconciler(st),
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the struct tags of v and returns a *ValidationError.
func (s *Service) Validate(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	ve := &ValidationError{}
	for _, fe := range verrs {
		ve.Problems = append(ve.Problems, describe(fe))
	}
	return ve
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min", "gt":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	}
	return fmt.Sprintf("%s failed %q validation", field, fe.Tag())
}

// ApplyReview validates and applies a manual review.
func (s *Service) ApplyReview(ctx context.Context, rev grading.Review) (*grading.ReviewResult, error) {
	if err := s.Validate(rev); err != nil {
		return nil, err
	}
	res, err := s.reviews.ApplyReview(rev)
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "review stored", "submission_id", rev.SubmissionID, "total", res.Total)
	return res, nil
}

// Submit grades and stores a student's answers against cfg.
func (s *Service) Submit(ctx context.Context, cfg model.TestConfiguration, studentID int64, answers map[int64]string, ip string) (*grading.Result, error) {
	if answers == nil {
		answers = map[int64]string{}
	}
	return s.grader.Grade(ctx, grading.Input{
		Config:    cfg,
		StudentID: studentID,
		Answers:   answers,
		IPAddress: ip,
	})
}
