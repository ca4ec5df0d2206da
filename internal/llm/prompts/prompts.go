package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// Variant represents a grading rubric variant.
type Variant string

const (
	// Strict is a strict grading variant for core courses.
	Strict Variant = "strict"
	// Standard is the default grading variant.
	Standard Variant = "standard"
	// Lenient is a lenient grading variant for electives.
	Lenient Variant = "lenient"
)

// Variants lists every known variant.
var Variants = []Variant{Strict, Standard, Lenient}

// NoReference replaces an empty reference answer in the user prompt.
const NoReference = "No reference answer provided."

const maxAnswerRunes = 10000

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	for _, known := range Variants {
		if Variant(v) == known {
			return true
		}
	}
	return false
}

// GradeData holds template data for a grading request.
type GradeData struct {
	Question        string
	ReferenceAnswer string
	MaxScore        int
	Answer          string
}

// Set is a parsed collection of grading prompts.
type Set struct {
	system map[Variant]string
	user   *template.Template
}

// Load reads templates/system_<variant>.txt for every variant and
// templates/user.txt from fsys.
func Load(fsys fs.FS) (*Set, error) {
	s := &Set{system: make(map[Variant]string, len(Variants))}
	for _, v := range Variants {
		name := "templates/system_" + string(v) + ".txt"
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read prompt file %s: %w", name, err)
		}
		s.system[v] = strings.TrimSpace(string(content))
	}

	content, err := fs.ReadFile(fsys, "templates/user.txt")
	if err != nil {
		return nil, fmt.Errorf("read prompt file templates/user.txt: %w", err)
	}
	s.user, err = template.New("user").Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template templates/user.txt: %w", err)
	}
	return s, nil
}

var (
	defaultOnce sync.Once
	defaultSet  *Set
	defaultErr  error
)

// Default returns the embedded prompt set, loading it once.
func Default() (*Set, error) {
	defaultOnce.Do(func() {
		defaultSet, defaultErr = Load(templateFS)
	})
	return defaultSet, defaultErr
}

// Build renders the system instruction and user turn for one answer.
func (s *Set) Build(v Variant, d GradeData) (string, string, error) {
	if s == nil || s.user == nil {
		return "", "", errors.New("prompt templates not loaded")
	}
	if v == "" {
		v = Standard
	}
	system, ok := s.system[v]
	if !ok {
		return "", "", errors.New("invalid prompt variant: " + string(v))
	}

	if strings.TrimSpace(d.ReferenceAnswer) == "" {
		d.ReferenceAnswer = NoReference
	}
	d.Answer = sanitizeAnswer(d.Answer)

	var buf bytes.Buffer
	if err := s.user.Execute(&buf, d); err != nil {
		return "", "", err
	}
	return system, strings.TrimSpace(buf.String()), nil
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		runes = runes[:maxAnswerRunes]
		answer = string(runes) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
