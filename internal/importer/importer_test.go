package importer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/pavelanni/examgrader/internal/model"
	"github.com/pavelanni/examgrader/internal/store"
)

func newTestImporter(t *testing.T) (*Importer, *store.Store) {
	t.Helper()
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st), st
}

func TestFormatFromName(t *testing.T) {
	f, err := FormatFromName("Bank.CSV")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = FormatFromName("bank.xlsx")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = FormatFromName("bank.xls")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestImportCSVSingleChoice(t *testing.T) {
	im, st := newTestImporter(t)
	data := "\ufeffQuestion,A,B,C,D,Answer,Points\n" +
		"2+2?,3,4,5,6, b ,2\n" +
		"\n" +
		"Capital of France?,Paris,Rome,,,A,\n"

	rep, err := im.Import(Request{BankName: "arith", Type: model.SingleChoice, Filename: "arith.csv", Data: []byte(data)})
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, rep.Status)
	assert.Equal(t, 2, rep.Rows)
	assert.Equal(t, 2, rep.Imported)
	assert.Empty(t, rep.Errors)

	qs, err := st.ListQuestions(rep.BankID)
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, "2+2?", qs[0].Content)
	assert.Equal(t, "B", qs[0].CorrectAnswer)
	assert.Equal(t, 2, qs[0].Points)
	assert.Equal(t, "Paris", qs[1].OptionA)
	assert.Equal(t, 1, qs[1].Points, "empty points default to one")
}

func TestImportCSVChineseHeadersGB18030(t *testing.T) {
	im, st := newTestImporter(t)
	src := "题干,答案,分值,无序\n中国的首都是____，最大的城市是____,北京、上海,4,是\n"
	data, err := simplifiedchinese.GB18030.NewEncoder().Bytes([]byte(src))
	require.NoError(t, err)

	rep, err := im.Import(Request{BankName: "地理", Type: model.FillBlank, Filename: "geo.csv", Data: data})
	require.NoError(t, err)
	require.Equal(t, StatusComplete, rep.Status)

	qs, err := st.ListQuestions(rep.BankID)
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, "北京、上海", qs[0].CorrectAnswer)
	assert.Equal(t, 4, qs[0].Points)
	assert.True(t, qs[0].UnorderedBlanks)
}

func TestImportRowErrors(t *testing.T) {
	im, st := newTestImporter(t)
	data := "stem,option_a,option_b,option_c,answer,points\n" +
		"good,x,y,z,\"A, C\",2\n" +
		",x,y,z,A,1\n" +
		"no answer,x,y,z,,1\n" +
		"bad letter,x,y,z,AF,1\n" +
		"empty option,x,y,,AC,1\n" +
		"bad points,x,y,z,B,two\n" +
		"float points,x,y,z,B,3.0\n"

	rep, err := im.Import(Request{BankName: "mc", Type: model.MultipleChoice, Filename: "mc.csv", Data: []byte(data)})
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, rep.Status)
	assert.Equal(t, 7, rep.Rows)
	assert.Equal(t, 2, rep.Imported)

	rows := make([]int, len(rep.Errors))
	for i, e := range rep.Errors {
		rows[i] = e.Row
	}
	assert.Equal(t, []int{3, 4, 5, 6, 7}, rows)
	assert.Contains(t, rep.Errors[0].Message, "stem")
	assert.Contains(t, rep.Errors[2].Message, "unsupported option letter")
	assert.Contains(t, rep.Errors[3].Message, "empty option C")

	qs, err := st.ListQuestions(rep.BankID)
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, "A,C", qs[0].CorrectAnswer)
	assert.Equal(t, 3, qs[1].Points)
}

func TestImportFailedCreatesNoBank(t *testing.T) {
	im, st := newTestImporter(t)
	data := "stem,answer\n,A\nq,\n"

	rep, err := im.Import(Request{BankName: "tf", Type: model.TrueFalse, Filename: "tf.csv", Data: []byte(data)})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rep.Status)
	assert.Zero(t, rep.BankID)
	assert.Len(t, rep.Errors, 2)

	banks, err := st.ListBanks("")
	require.NoError(t, err)
	assert.Empty(t, banks)
}

func TestImportMissingColumns(t *testing.T) {
	im, _ := newTestImporter(t)
	_, err := im.Import(Request{BankName: "sc", Type: model.SingleChoice, Filename: "sc.csv", Data: []byte("stem,answer\nq,A\n")})
	var colErr *ColumnError
	require.ErrorAs(t, err, &colErr)
	assert.Equal(t, []string{"option_a", "option_b"}, colErr.Missing)
}

func TestImportEmptyAndUnknownType(t *testing.T) {
	im, _ := newTestImporter(t)
	_, err := im.Import(Request{BankName: "x", Type: model.TrueFalse, Filename: "x.csv", Data: []byte("stem,answer\n")})
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = im.Import(Request{BankName: "x", Type: "essay", Filename: "x.csv", Data: []byte("stem\nq\n")})
	assert.Error(t, err)
}

func TestImportSkipsDuplicateFile(t *testing.T) {
	im, st := newTestImporter(t)
	data := []byte("stem,answer\nThe sky is blue,TRUE\n")
	req := Request{BankName: "facts", Type: model.TrueFalse, Filename: "facts.csv", Data: data}

	first, err := im.Import(req)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, first.Status)

	second, err := im.Import(req)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, second.Status)

	banks, err := st.ListBanks(model.TrueFalse)
	require.NoError(t, err)
	assert.Len(t, banks, 1)

	req.Data = []byte("stem,answer\nThe sky is green,false\n")
	third, err := im.Import(req)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, third.Status)
	qs, err := st.ListQuestions(third.BankID)
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, "FALSE", qs[0].CorrectAnswer)
}

func TestExportRoundTrip(t *testing.T) {
	im, st := newTestImporter(t)
	bankID, err := st.CreateBank("choices", model.MultipleChoice)
	require.NoError(t, err)
	require.NoError(t, st.InsertQuestions([]model.Question{
		{BankID: bankID, Type: model.MultipleChoice, Content: "Primes?", OptionA: "2", OptionB: "4", OptionC: "5", CorrectAnswer: "A,C", Points: 3, Explanation: "4 = 2*2"},
		{BankID: bankID, Type: model.MultipleChoice, Content: "Evens?", OptionA: "1", OptionB: "2", OptionE: "8", CorrectAnswer: "B,E", Points: 2},
	}))

	data, name, err := im.ExportBank(bankID)
	require.NoError(t, err)
	assert.Equal(t, "choices.xlsx", name)

	rep, err := im.Import(Request{BankName: "choices copy", Type: model.MultipleChoice, Filename: name, Data: data})
	require.NoError(t, err)
	require.Equal(t, StatusComplete, rep.Status, "errors: %v", rep.Errors)

	orig, err := st.ListQuestions(bankID)
	require.NoError(t, err)
	copied, err := st.ListQuestions(rep.BankID)
	require.NoError(t, err)
	require.Len(t, copied, len(orig))
	for i := range orig {
		assert.Equal(t, orig[i].Content, copied[i].Content)
		assert.Equal(t, orig[i].Options(), copied[i].Options())
		assert.Equal(t, orig[i].CorrectAnswer, copied[i].CorrectAnswer)
		assert.Equal(t, orig[i].Points, copied[i].Points)
		assert.Equal(t, orig[i].Explanation, copied[i].Explanation)
	}
}

func TestExportUnknownBank(t *testing.T) {
	im, _ := newTestImporter(t)
	_, _, err := im.ExportBank(42)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not found"))
}

func TestCheckQuestion(t *testing.T) {
	tests := []struct {
		name    string
		in      model.Question
		want    string
		wantErr string
	}{
		{"mc canonical", model.Question{Type: model.MultipleChoice, Content: "q", OptionA: "a", OptionB: "b", CorrectAnswer: "ba"}, "A,B", ""},
		{"sc lowercase", model.Question{Type: model.SingleChoice, Content: "q", OptionA: "a", OptionB: "b", CorrectAnswer: " b"}, "B", ""},
		{"sc two letters", model.Question{Type: model.SingleChoice, Content: "q", OptionA: "a", OptionB: "b", CorrectAnswer: "AB"}, "", "one letter"},
		{"tf", model.Question{Type: model.TrueFalse, Content: "q", CorrectAnswer: "true"}, "TRUE", ""},
		{"fill separators only", model.Question{Type: model.FillBlank, Content: "q", CorrectAnswer: "、、"}, "", "no blanks"},
		{"short answer without reference", model.Question{Type: model.ShortAnswer, Content: "q"}, "", ""},
		{"negative points", model.Question{Type: model.TrueFalse, Content: "q", CorrectAnswer: "T", Points: -1}, "", "negative"},
		{"unknown type", model.Question{Type: "essay", Content: "q", CorrectAnswer: "x"}, "", "unknown question type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CheckQuestion(tt.in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.CorrectAnswer)
		})
	}
}
