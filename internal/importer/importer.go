// Package importer loads question banks from CSV or XLSX files and
// exports them back to XLSX.
package importer

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/pavelanni/examgrader/internal/metrics"
	"github.com/pavelanni/examgrader/internal/model"
	"github.com/pavelanni/examgrader/internal/scoring"
	"github.com/pavelanni/examgrader/internal/store"
)

// Format is a supported file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format, use .csv or .xlsx")
	ErrEmptyFile         = errors.New("file has no data rows")
)

// FormatFromName picks the format by file extension.
func FormatFromName(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	}
	return "", ErrUnsupportedFormat
}

// Status summarizes an import.
type Status string

const (
	StatusComplete  Status = "complete"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusDuplicate Status = "duplicate"
)

// RowError is a rejected row. Row numbers count the header as row 1.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// Report is the outcome of one import.
type Report struct {
	BankID   int64              `json:"bank_id,omitempty"`
	BankName string             `json:"bank_name"`
	Type     model.QuestionType `json:"question_type"`
	Rows     int                `json:"rows"`
	Imported int                `json:"imported"`
	Errors   []RowError         `json:"errors,omitempty"`
	Status   Status             `json:"status"`
}

// Request is one uploaded file.
type Request struct {
	BankName string
	Type     model.QuestionType
	Filename string
	Data     []byte
}

type Importer struct {
	store *store.Store
}

func New(st *store.Store) *Importer {
	return &Importer{store: st}
}

// Import parses the file and stores its valid rows in a new bank. Bad
// rows are reported, not fatal. A file identical to the last one
// imported under the same bank name is skipped.
func (im *Importer) Import(req Request) (*Report, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("unknown question type %q", req.Type)
	}
	format, err := FormatFromName(req.Filename)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.BankName)
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(req.Filename), filepath.Ext(req.Filename))
	}
	rep := &Report{BankName: name, Type: req.Type}

	sum := sha256.Sum256(req.Data)
	hash := hex.EncodeToString(sum[:])
	prev, err := im.store.ImportHash(name)
	if err != nil {
		return nil, fmt.Errorf("check import hash: %w", err)
	}
	if prev == hash {
		slog.Info("skipping already imported file", "bank", name, "file", req.Filename)
		rep.Status = StatusDuplicate
		return rep, nil
	}

	rows, err := readRows(format, req.Data)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, ErrEmptyFile
	}
	cols, err := mapHeader(req.Type, rows[0])
	if err != nil {
		return nil, err
	}

	var questions []model.Question
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		rep.Rows++
		q, err := parseRow(req.Type, cols, row)
		if err != nil {
			rep.Errors = append(rep.Errors, RowError{Row: i + 2, Message: err.Error()})
			continue
		}
		questions = append(questions, q)
	}
	metrics.ImportedRows.WithLabelValues("imported").Add(float64(len(questions)))
	metrics.ImportedRows.WithLabelValues("rejected").Add(float64(len(rep.Errors)))

	if len(questions) == 0 {
		rep.Status = StatusFailed
		slog.Warn("import failed, no valid rows", "bank", name, "rows", rep.Rows, "errors", len(rep.Errors))
		return rep, nil
	}

	bankID, err := im.store.CreateBank(name, req.Type)
	if err != nil {
		return nil, fmt.Errorf("create bank: %w", err)
	}
	for i := range questions {
		questions[i].BankID = bankID
	}
	if err := im.store.InsertQuestions(questions); err != nil {
		if derr := im.store.DeleteBank(bankID); derr != nil {
			slog.Error("failed to remove empty bank", "bank_id", bankID, "error", derr)
		}
		return nil, fmt.Errorf("store questions: %w", err)
	}
	if err := im.store.SetImportHash(name, hash); err != nil {
		slog.Error("failed to record import hash", "bank", name, "error", err)
	}

	rep.BankID = bankID
	rep.Imported = len(questions)
	rep.Status = StatusComplete
	if len(rep.Errors) > 0 {
		rep.Status = StatusPartial
	}
	slog.Info("imported questions", "bank", name, "bank_id", bankID, "type", req.Type,
		"imported", rep.Imported, "rejected", len(rep.Errors))
	return rep, nil
}

func readRows(format Format, data []byte) ([][]string, error) {
	if format == FormatXLSX {
		f, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open spreadsheet: %w", err)
		}
		defer f.Close()
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrEmptyFile
		}
		rows, err := f.GetRows(sheets[0])
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
		}
		return rows, nil
	}

	if !utf8.Valid(data) {
		decoded, err := simplifiedchinese.GB18030.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("decode CSV as GB18030: %w", err)
		}
		data = decoded
	}
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read CSV: %w", err)
	}
	return rows, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func cell(row []string, cols map[field]int, f field) string {
	i, ok := cols[f]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseRow(t model.QuestionType, cols map[field]int, row []string) (model.Question, error) {
	q := model.Question{
		Type:            t,
		Content:         cell(row, cols, fieldStem),
		OptionA:         cell(row, cols, fieldOptionA),
		OptionB:         cell(row, cols, fieldOptionB),
		OptionC:         cell(row, cols, fieldOptionC),
		OptionD:         cell(row, cols, fieldOptionD),
		OptionE:         cell(row, cols, fieldOptionE),
		CorrectAnswer:   cell(row, cols, fieldAnswer),
		Explanation:     cell(row, cols, fieldExplanation),
		UnorderedBlanks: truthy(cell(row, cols, fieldUnordered)),
		Points:          1,
	}
	if p := cell(row, cols, fieldPoints); p != "" {
		n, err := parsePoints(p)
		if err != nil {
			return q, err
		}
		q.Points = n
	}
	return CheckQuestion(q)
}

// CheckQuestion validates a question against the rules of its type and
// returns it with the correct answer in stored form.
func CheckQuestion(q model.Question) (model.Question, error) {
	q.Content = strings.TrimSpace(q.Content)
	q.CorrectAnswer = strings.TrimSpace(q.CorrectAnswer)
	if !q.Type.Valid() {
		return q, fmt.Errorf("unknown question type %q", q.Type)
	}
	if q.Content == "" {
		return q, errors.New("question stem is empty")
	}
	if q.Points < 0 {
		return q, fmt.Errorf("points %d is negative", q.Points)
	}
	if q.CorrectAnswer == "" && q.Type != model.ShortAnswer {
		return q, errors.New("correct answer is empty")
	}
	if !q.Type.HasOptions() {
		q.OptionA, q.OptionB, q.OptionC, q.OptionD, q.OptionE = "", "", "", "", ""
	}
	if q.Type != model.FillBlank {
		q.UnorderedBlanks = false
	}

	switch q.Type {
	case model.SingleChoice, model.MultipleChoice:
		opts := q.Options()
		letters, err := optionLetters(q.CorrectAnswer)
		if err != nil {
			return q, err
		}
		if q.Type == model.SingleChoice && len(letters) != 1 {
			return q, fmt.Errorf("single choice answer %q must be one letter", q.CorrectAnswer)
		}
		for _, l := range letters {
			if strings.TrimSpace(opts[l-'A']) == "" {
				return q, fmt.Errorf("answer refers to empty option %c", l)
			}
		}
		q.CorrectAnswer = strings.Join(strings.Split(string(letters), ""), ",")
	case model.TrueFalse:
		q.CorrectAnswer = scoring.NormalizeChoice(q.CorrectAnswer)
	case model.FillBlank:
		if len(scoring.SplitReference(q.CorrectAnswer)) == 0 {
			return q, fmt.Errorf("fill-blank answer %q has no blanks", q.CorrectAnswer)
		}
	}
	return q, nil
}

// optionLetters returns the sorted distinct option letters of an answer.
// Letters past E are rejected; anything that is not a letter separates.
func optionLetters(answer string) ([]byte, error) {
	for _, r := range strings.ToUpper(answer) {
		if unicode.IsLetter(r) && (r < 'A' || r > 'E') {
			return nil, fmt.Errorf("unsupported option letter %q in answer %q", r, answer)
		}
	}
	set := scoring.NormalizeLetterSet(answer)
	if set == "" {
		return nil, fmt.Errorf("answer %q names no option", answer)
	}
	return []byte(set), nil
}

func parsePoints(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 && f == float64(int(f)) {
		return int(f), nil
	}
	return 0, fmt.Errorf("points %q is not a non-negative integer", s)
}

func truthy(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y", "是":
		return true
	}
	return false
}
