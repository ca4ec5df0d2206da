package importer

import (
	"fmt"
	"strings"

	"github.com/pavelanni/examgrader/internal/model"
)

type field string

const (
	fieldStem        field = "stem"
	fieldOptionA     field = "option_a"
	fieldOptionB     field = "option_b"
	fieldOptionC     field = "option_c"
	fieldOptionD     field = "option_d"
	fieldOptionE     field = "option_e"
	fieldAnswer      field = "answer"
	fieldPoints      field = "points"
	fieldExplanation field = "explanation"
	fieldUnordered   field = "unordered"
)

var optionFields = []field{fieldOptionA, fieldOptionB, fieldOptionC, fieldOptionD, fieldOptionE}

// aliases maps every accepted header, normalized by headerKey, to its field.
var aliases = map[string]field{}

func init() {
	add := func(f field, names ...string) {
		for _, n := range names {
			aliases[headerKey(n)] = f
		}
	}
	add(fieldStem, "stem", "question", "content", "题干", "题目", "问题", "题目内容", "内容")
	add(fieldAnswer, "answer", "correct_answer", "reference_answer", "正确答案", "答案", "参考答案", "正确答案选项")
	add(fieldPoints, "points", "score", "分值", "分数")
	add(fieldExplanation, "explanation", "解析", "答案解析", "解释")
	add(fieldUnordered, "unordered", "无序")
	for i, f := range optionFields {
		l := string(rune('A' + i))
		add(f, l, "option_"+l, "option "+l, "选项"+l, l+"选项")
	}
}

// headerKey folds case and inner whitespace of a header cell.
func headerKey(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	return strings.ToLower(strings.Join(strings.Fields(s), "_"))
}

// layout is the columns a question type reads, in export order.
func layout(t model.QuestionType) []field {
	switch t {
	case model.SingleChoice:
		return []field{fieldStem, fieldOptionA, fieldOptionB, fieldOptionC, fieldOptionD, fieldAnswer, fieldPoints, fieldExplanation}
	case model.MultipleChoice:
		return []field{fieldStem, fieldOptionA, fieldOptionB, fieldOptionC, fieldOptionD, fieldOptionE, fieldAnswer, fieldPoints, fieldExplanation}
	case model.FillBlank:
		return []field{fieldStem, fieldAnswer, fieldPoints, fieldExplanation, fieldUnordered}
	}
	return []field{fieldStem, fieldAnswer, fieldPoints, fieldExplanation}
}

func required(t model.QuestionType) []field {
	switch t {
	case model.SingleChoice, model.MultipleChoice:
		return []field{fieldStem, fieldOptionA, fieldOptionB, fieldAnswer}
	case model.ShortAnswer:
		return []field{fieldStem}
	}
	return []field{fieldStem, fieldAnswer}
}

// ColumnError reports required columns missing from the header row.
type ColumnError struct {
	Missing []string
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.Missing, ", "))
}

// mapHeader finds the column index of each field of t. Unknown headers
// and fields t does not use are ignored; the first matching column wins.
func mapHeader(t model.QuestionType, header []string) (map[field]int, error) {
	wanted := make(map[field]bool)
	for _, f := range layout(t) {
		wanted[f] = true
	}
	cols := make(map[field]int)
	for i, h := range header {
		f, ok := aliases[headerKey(h)]
		if !ok || !wanted[f] {
			continue
		}
		if _, dup := cols[f]; !dup {
			cols[f] = i
		}
	}
	var missing []string
	for _, f := range required(t) {
		if _, ok := cols[f]; !ok {
			missing = append(missing, string(f))
		}
	}
	if len(missing) > 0 {
		return nil, &ColumnError{Missing: missing}
	}
	return cols, nil
}
