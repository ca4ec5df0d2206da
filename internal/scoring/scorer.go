package scoring

import (
	"fmt"
	"math"

	"github.com/pavelanni/examgrader/internal/model"
)

// Outcome classifies a scored answer.
type Outcome string

const (
	OutcomeCorrect            Outcome = "correct"
	OutcomePartial            Outcome = "partial"
	OutcomeWrong              Outcome = "wrong"
	OutcomeMalformedReference Outcome = "malformed_reference"
)

// Result is the verdict for one objective question.
type Result struct {
	Awarded float64
	Outcome Outcome
	// Flagged marks a data-quality problem with the question itself. The
	// question scores zero and the rest of the submission is unaffected.
	Flagged bool
}

// ConfigurationError reports question data that cannot be scored.
type ConfigurationError struct {
	QuestionID int64
	Type       model.QuestionType
	Reason     string
}

func (e *ConfigurationError) Error() string {
	if e.QuestionID != 0 {
		return fmt.Sprintf("question %d (%s): %s", e.QuestionID, e.Type, e.Reason)
	}
	return fmt.Sprintf("question type %q: %s", e.Type, e.Reason)
}

type strategy func(q model.Question, answer string, points int) Result

var strategies = map[model.QuestionType]strategy{
	model.SingleChoice:   scoreExact,
	model.TrueFalse:      scoreExact,
	model.MultipleChoice: scoreLetterSet,
	model.FillBlank:      scoreFillBlank,
}

// Score awards points for an objective question. The answer is the raw
// student input; normalization happens here. Short-answer and unknown
// types return a ConfigurationError.
func Score(q model.Question, answer string, points int) (Result, error) {
	s, ok := strategies[q.Type]
	if !ok {
		reason := "unknown question type"
		if q.Type == model.ShortAnswer {
			reason = "short answers are not scored locally"
		}
		return Result{}, &ConfigurationError{QuestionID: q.ID, Type: q.Type, Reason: reason}
	}
	if points < 0 {
		points = 0
	}
	return s(q, answer, points), nil
}

func scoreExact(q model.Question, answer string, points int) Result {
	want := NormalizeChoice(q.CorrectAnswer)
	if want == "" {
		return Result{Outcome: OutcomeMalformedReference, Flagged: true}
	}
	if NormalizeChoice(answer) == want {
		return Result{Awarded: float64(points), Outcome: OutcomeCorrect}
	}
	return Result{Outcome: OutcomeWrong}
}

func scoreLetterSet(q model.Question, answer string, points int) Result {
	want := NormalizeLetterSet(q.CorrectAnswer)
	if want == "" {
		return Result{Outcome: OutcomeMalformedReference, Flagged: true}
	}
	if NormalizeLetterSet(answer) == want {
		return Result{Awarded: float64(points), Outcome: OutcomeCorrect}
	}
	return Result{Outcome: OutcomeWrong}
}

func scoreFillBlank(q model.Question, answer string, points int) Result {
	ref := SplitReference(q.CorrectAnswer)
	if len(ref) == 0 {
		return Result{Outcome: OutcomeMalformedReference, Flagged: true}
	}
	got := SplitBlanks(answer)

	var matched int
	if q.UnorderedBlanks {
		matched = matchUnordered(ref, got)
	} else {
		for i, want := range ref {
			if i < len(got) && got[i] == want {
				matched++
			}
		}
	}

	perBlank := float64(points) / float64(len(ref))
	res := Result{Awarded: Round1(perBlank * float64(matched))}
	switch {
	case matched == len(ref):
		res.Outcome = OutcomeCorrect
	case matched == 0:
		res.Outcome = OutcomeWrong
	default:
		res.Outcome = OutcomePartial
	}
	return res
}

// matchUnordered counts submitted blanks that match a reference blank,
// consuming each reference blank at most once.
func matchUnordered(ref, got []string) int {
	remaining := make(map[string]int, len(ref))
	for _, r := range ref {
		remaining[r]++
	}
	matched := 0
	for _, g := range got {
		if remaining[g] > 0 {
			remaining[g]--
			matched++
		}
	}
	return matched
}

// Round1 rounds to one decimal place.
func Round1(x float64) float64 {
	return math.Round(x*10) / 10
}
