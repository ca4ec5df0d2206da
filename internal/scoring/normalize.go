// Package scoring canonicalizes raw answers and scores objective questions.
// Everything here is pure: no I/O, no clocks, no shared state.
package scoring

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/pavelanni/examgrader/internal/model"
)

const (
	// BlankSeparator separates sub-answers of a fill-blank question, both
	// in the reference answer and in the submitted answer.
	BlankSeparator = "、"

	// ShortAnswerLimit caps the text of a short answer sent for external
	// grading, not counting image markup.
	ShortAnswerLimit = 200
)

// imageMarker matches inline images: HTML img tags or markdown images.
var imageMarker = regexp.MustCompile(`(?i)<img\b[^>]*>|!\[[^\]]*\]\([^)]*\)`)

// NormalizeChoice canonicalizes single-choice and true/false answers.
func NormalizeChoice(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// NormalizeLetterSet keeps the option letters A-E found in s, deduplicated
// and sorted. Any other character acts as a separator.
func NormalizeLetterSet(s string) string {
	var seen [5]bool
	for _, r := range strings.ToUpper(s) {
		if r >= 'A' && r <= 'E' {
			seen[r-'A'] = true
		}
	}
	var sb strings.Builder
	for i, ok := range seen {
		if ok {
			sb.WriteByte(byte('A' + i))
		}
	}
	return sb.String()
}

// SplitReference parses a fill-blank reference answer into its expected
// sub-answers. Empty segments are dropped.
func SplitReference(s string) []string {
	var out []string
	for _, part := range strings.Split(s, BlankSeparator) {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SplitBlanks parses a submitted fill-blank answer. Empty segments are kept
// so that every blank stays at its position.
func SplitBlanks(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, BlankSeparator)
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return parts
}

// CapShortAnswer bounds a short answer before it leaves the process. Text
// beyond ShortAnswerLimit runes is cut and only the last image marker is
// kept. Answers already within bounds are returned unchanged.
func CapShortAnswer(s string) string {
	markers := imageMarker.FindAllString(s, -1)
	text := strings.TrimSpace(imageMarker.ReplaceAllString(s, ""))
	if len(markers) <= 1 && utf8.RuneCountInString(text) <= ShortAnswerLimit {
		return s
	}

	if utf8.RuneCountInString(text) > ShortAnswerLimit {
		text = string([]rune(text)[:ShortAnswerLimit])
	}
	if len(markers) == 0 {
		return text
	}
	last := markers[len(markers)-1]
	if text == "" {
		return last
	}
	return text + "\n" + last
}

// Normalize returns the canonical form of a raw answer for question type t.
func Normalize(t model.QuestionType, raw string) (string, error) {
	switch t {
	case model.SingleChoice, model.TrueFalse:
		return NormalizeChoice(raw), nil
	case model.MultipleChoice:
		return NormalizeLetterSet(raw), nil
	case model.FillBlank:
		return strings.Join(SplitBlanks(raw), BlankSeparator), nil
	case model.ShortAnswer:
		return CapShortAnswer(raw), nil
	}
	return "", &ConfigurationError{Type: t, Reason: "unknown question type"}
}
