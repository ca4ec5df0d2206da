package llm

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	// FeedbackLabel prefixes feedback recovered from a non-JSON reply.
	FeedbackLabel = "AI feedback: "
	// DefaultFeedback replaces an empty feedback field.
	DefaultFeedback = "AI feedback: the answer has been scored, compare it with the reference answer."
)

var numberRegex = regexp.MustCompile(`-?\d+`)

// Result is a parsed grade. Score is always within [0, max score].
type Result struct {
	Score    int
	Feedback string
	Raw      string
	// Heuristic is set when the reply was not valid JSON and the score
	// was recovered from free text.
	Heuristic bool
}

type gradePayload struct {
	Score    json.RawMessage `json:"score"`
	Feedback string          `json:"feedback"`
}

// ParseGrade turns the model's reply into a Result. It looks for a fenced
// JSON block, then the outermost {...} span, then tries the whole text;
// if none decodes it falls back to scanning lines that mention a score.
func ParseGrade(content string, maxScore int) Result {
	if maxScore < 0 {
		maxScore = 0
	}

	var payload gradePayload
	if err := json.Unmarshal([]byte(extractJSON(content)), &payload); err == nil {
		if score, ok := coerceScore(payload.Score); ok {
			feedback := strings.TrimSpace(payload.Feedback)
			if feedback == "" {
				feedback = DefaultFeedback
			}
			return Result{
				Score:    clamp(score, maxScore),
				Feedback: feedback,
				Raw:      content,
			}
		}
	}
	return parseText(content, maxScore)
}

func extractJSON(s string) string {
	if i := strings.Index(s, "```json"); i >= 0 {
		rest := s[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return strings.TrimSpace(s)
}

// coerceScore accepts a JSON number or a numeric string. A missing score
// counts as zero.
func coerceScore(raw json.RawMessage) (float64, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, true
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func clamp(score float64, maxScore int) int {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > float64(maxScore) {
		return maxScore
	}
	return int(math.Trunc(score))
}

func parseText(content string, maxScore int) Result {
	res := Result{Raw: content, Heuristic: true}

	found := false
	for _, line := range strings.Split(content, "\n") {
		if !mentionsScore(line) {
			continue
		}
		m := numberRegex.FindString(line)
		if m == "" {
			continue
		}
		if n, err := strconv.Atoi(m); err == nil {
			res.Score = clamp(float64(n), maxScore)
			found = true
			break
		}
	}
	if !found {
		res.Score = maxScore * 6 / 10
	}
	res.Feedback = FeedbackLabel + strings.TrimSpace(content)
	return res
}

func mentionsScore(line string) bool {
	return strings.Contains(strings.ToLower(line), "score") ||
		strings.Contains(line, "分数") ||
		strings.Contains(line, "得分")
}
