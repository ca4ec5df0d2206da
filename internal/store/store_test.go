package store

import (
	"database/sql"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/pavelanni/examgrader/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestBank(t *testing.T, s *Store, typ model.QuestionType, n int) int64 {
	t.Helper()
	bankID, err := s.CreateBank("bank "+string(typ), typ)
	if err != nil {
		t.Fatalf("CreateBank: %v", err)
	}
	for i := 0; i < n; i++ {
		_, err := s.InsertQuestion(model.Question{
			BankID:        bankID,
			Type:          typ,
			Content:       "question " + string(rune('A'+i)),
			OptionA:       "a",
			OptionB:       "b",
			CorrectAnswer: "A",
			Points:        2,
		})
		if err != nil {
			t.Fatalf("InsertQuestion: %v", err)
		}
	}
	return bankID
}

func createTestStudent(t *testing.T, s *Store, name, class string) *model.User {
	t.Helper()
	u, err := s.GetOrCreateStudent(name, class)
	if err != nil || u == nil {
		t.Fatalf("GetOrCreateStudent: %v", err)
	}
	return u
}

func intp(n int) *int { return &n }

func TestBankAndQuestionCRUD(t *testing.T) {
	s := newTestStore(t)

	bankID := createTestBank(t, s, model.SingleChoice, 3)
	bank, err := s.GetBank(bankID)
	if err != nil {
		t.Fatalf("GetBank: %v", err)
	}
	if bank == nil || bank.QuestionCount != 3 || bank.Type != model.SingleChoice {
		t.Fatalf("unexpected bank: %+v", bank)
	}

	if err := s.RenameBank(bankID, "Chapter 1"); err != nil {
		t.Fatalf("RenameBank: %v", err)
	}
	banks, err := s.ListBanks(model.SingleChoice)
	if err != nil {
		t.Fatalf("ListBanks: %v", err)
	}
	if len(banks) != 1 || banks[0].Name != "Chapter 1" {
		t.Fatalf("unexpected banks: %+v", banks)
	}
	if banks, _ := s.ListBanks(model.FillBlank); len(banks) != 0 {
		t.Errorf("expected no fill-blank banks, got %d", len(banks))
	}

	questions, err := s.ListQuestions(bankID)
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	q := questions[0]
	q.Content = "edited"
	q.UnorderedBlanks = true
	if err := s.UpdateQuestion(q); err != nil {
		t.Fatalf("UpdateQuestion: %v", err)
	}
	got, err := s.GetQuestion(q.ID)
	if err != nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	if got.Content != "edited" || !got.UnorderedBlanks {
		t.Errorf("update not persisted: %+v", got)
	}

	if _, err := s.GetQuestion(9999); err != sql.ErrNoRows {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
	if err := s.DeleteQuestion(9999); err != sql.ErrNoRows {
		t.Errorf("expected ErrNoRows deleting missing question, got %v", err)
	}

	// Deleting the bank cascades to its questions.
	if err := s.DeleteBank(bankID); err != nil {
		t.Fatalf("DeleteBank: %v", err)
	}
	if _, err := s.GetQuestion(q.ID); err != sql.ErrNoRows {
		t.Errorf("expected question to be deleted with bank, got %v", err)
	}
}

func TestInsertQuestionsAndClear(t *testing.T) {
	s := newTestStore(t)
	bankID, _ := s.CreateBank("tf", model.TrueFalse)

	batch := []model.Question{
		{BankID: bankID, Type: model.TrueFalse, Content: "Go has generics", CorrectAnswer: "TRUE", Points: 1},
		{BankID: bankID, Type: model.TrueFalse, Content: "Go has exceptions", CorrectAnswer: "FALSE", Points: 1},
	}
	if err := s.InsertQuestions(batch); err != nil {
		t.Fatalf("InsertQuestions: %v", err)
	}
	n, err := s.CountQuestions(bankID, model.TrueFalse)
	if err != nil || n != 2 {
		t.Fatalf("CountQuestions = %d, %v; want 2", n, err)
	}

	removed, err := s.ClearQuestions(model.TrueFalse)
	if err != nil {
		t.Fatalf("ClearQuestions: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
}

func TestRandomQuestions(t *testing.T) {
	s := newTestStore(t)
	bankID := createTestBank(t, s, model.SingleChoice, 5)

	tests := []struct {
		name string
		n    int
		want int
	}{
		{"fewer than available", 3, 3},
		{"exactly available", 5, 5},
		{"more than available", 8, 5},
		{"zero", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs, err := s.RandomQuestions(bankID, model.SingleChoice, tt.n)
			if err != nil {
				t.Fatalf("RandomQuestions: %v", err)
			}
			if len(qs) != tt.want {
				t.Fatalf("got %d questions, want %d", len(qs), tt.want)
			}
			seen := make(map[int64]bool)
			for _, q := range qs {
				if seen[q.ID] {
					t.Errorf("question %d drawn twice", q.ID)
				}
				seen[q.ID] = true
			}
		})
	}

	// Wrong type yields nothing.
	qs, err := s.RandomQuestions(bankID, model.FillBlank, 3)
	if err != nil || len(qs) != 0 {
		t.Errorf("expected no fill-blank questions, got %d (%v)", len(qs), err)
	}

	// Zero bank draws across all banks of the type.
	createTestBank(t, s, model.SingleChoice, 2)
	qs, err = s.RandomQuestions(0, model.SingleChoice, 10)
	if err != nil || len(qs) != 7 {
		t.Errorf("expected 7 questions from all banks, got %d (%v)", len(qs), err)
	}
	if n, err := s.CountQuestions(0, model.SingleChoice); err != nil || n != 7 {
		t.Errorf("CountQuestions(0) = %d, %v; want 7", n, err)
	}
}

func TestPresetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	bankID := createTestBank(t, s, model.SingleChoice, 5)
	saBank := createTestBank(t, s, model.ShortAnswer, 1)

	want := model.TestPreset{
		Title: "Midterm",
		Composition: model.Composition{
			SingleChoice: model.TypeRule{Count: 5, Points: 4, BankID: &bankID},
			ShortAnswer:  model.TypeRule{Count: 1, Points: 10, BankID: &saBank},
		},
		GradingMethod:      model.GradingAI,
		AllowStudentChoice: true,
	}
	id, err := s.CreatePreset(want)
	if err != nil {
		t.Fatalf("CreatePreset: %v", err)
	}

	got, err := s.GetPreset(id)
	if err != nil || got == nil {
		t.Fatalf("GetPreset: %v", err)
	}
	if !reflect.DeepEqual(got.Composition, want.Composition) {
		t.Errorf("composition mismatch:\n got %+v\nwant %+v", got.Composition, want.Composition)
	}
	if got.Title != want.Title || got.GradingMethod != want.GradingMethod || got.AllowStudentChoice != want.AllowStudentChoice {
		t.Errorf("preset fields mismatch: %+v", got)
	}

	presets, err := s.ListPresets()
	if err != nil || len(presets) != 1 {
		t.Fatalf("ListPresets = %d, %v", len(presets), err)
	}

	if err := s.DeletePreset(id); err != nil {
		t.Fatalf("DeletePreset: %v", err)
	}
	if p, _ := s.GetPreset(id); p != nil {
		t.Error("preset should be gone")
	}
}

func TestActivateTestKeepsOneActive(t *testing.T) {
	s := newTestStore(t)
	bankID := createTestBank(t, s, model.SingleChoice, 3)
	comp := model.Composition{SingleChoice: model.TypeRule{Count: 2, Points: 5, BankID: &bankID}}

	first, _, err := s.ActivateTest(model.Test{Title: "First", Composition: comp}, false)
	if err != nil {
		t.Fatalf("ActivateTest: %v", err)
	}
	second, presetID, err := s.ActivateTest(model.Test{Title: "Second", Composition: comp, GradingMethod: model.GradingAI}, true)
	if err != nil {
		t.Fatalf("ActivateTest: %v", err)
	}
	if presetID == 0 {
		t.Fatal("expected a preset to be saved")
	}

	active, err := s.GetActiveTest()
	if err != nil || active == nil {
		t.Fatalf("GetActiveTest: %v", err)
	}
	if active.ID != second {
		t.Errorf("active test = %d, want %d", active.ID, second)
	}
	if active.TotalScore != 10 {
		t.Errorf("total score = %d, want 10", active.TotalScore)
	}
	if active.PresetID == nil || *active.PresetID != presetID {
		t.Errorf("active test should reference preset %d, got %v", presetID, active.PresetID)
	}

	old, err := s.GetTest(first)
	if err != nil {
		t.Fatalf("GetTest: %v", err)
	}
	if old.Active {
		t.Error("first test should be inactive")
	}

	tests, err := s.ListTests()
	if err != nil {
		t.Fatalf("ListTests: %v", err)
	}
	activeCount := 0
	for _, tt := range tests {
		if tt.Active {
			activeCount++
		}
	}
	if activeCount != 1 {
		t.Errorf("expected exactly one active test, got %d", activeCount)
	}
}

func TestGetActiveTestEmpty(t *testing.T) {
	s := newTestStore(t)
	active, err := s.GetActiveTest()
	if err != nil || active != nil {
		t.Errorf("expected nil active test, got %+v (%v)", active, err)
	}
	latest, err := s.GetLatestTest()
	if err != nil || latest != nil {
		t.Errorf("expected nil latest test, got %+v (%v)", latest, err)
	}
}

func TestSaveSubmissionMaterializesPreset(t *testing.T) {
	s := newTestStore(t)
	student := createTestStudent(t, s, "Li Lei", "3")

	presetID, err := s.CreatePreset(model.TestPreset{
		Title:       "Quiz",
		Composition: model.Composition{ShortAnswer: model.TypeRule{Count: 1, Points: 10}},
	})
	if err != nil {
		t.Fatalf("CreatePreset: %v", err)
	}
	preset, _ := s.GetPreset(presetID)
	cfg := model.FromPreset(*preset)

	sub, err := s.SaveSubmission(cfg, model.Submission{
		Ref:       "ref-1",
		StudentID: student.ID,
		Answers:   map[int64]string{42: "an answer"},
		Score:     0,
		IPAddress: "10.0.0.1",
	}, []model.ShortAnswerRecord{{QuestionID: 42, StudentAnswer: "an answer", Method: model.GradingManual}})
	if err != nil {
		t.Fatalf("SaveSubmission: %v", err)
	}
	if sub.ID == 0 || sub.TestID == 0 {
		t.Fatalf("expected IDs to be set, got %+v", sub)
	}

	test, err := s.GetTest(sub.TestID)
	if err != nil {
		t.Fatalf("GetTest: %v", err)
	}
	if test.Active {
		t.Error("materialized preset test must be inactive")
	}
	if test.Title != "Preset: Quiz" {
		t.Errorf("title = %q", test.Title)
	}
	if test.PresetID == nil || *test.PresetID != presetID {
		t.Errorf("preset id = %v, want %d", test.PresetID, presetID)
	}

	got, err := s.GetSubmission(sub.ID)
	if err != nil || got == nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if got.Answers[42] != "an answer" || got.StudentName != "Li Lei" || got.ClassNumber != "3" {
		t.Errorf("unexpected submission: %+v", got)
	}
}

func TestPendingQueueAndReview(t *testing.T) {
	s := newTestStore(t)
	student := createTestStudent(t, s, "Han Meimei", "1")
	saBank := createTestBank(t, s, model.ShortAnswer, 2)
	questions, _ := s.ListQuestions(saBank)

	testID, _, err := s.ActivateTest(model.Test{
		Title:       "Essay",
		Composition: model.Composition{ShortAnswer: model.TypeRule{Count: 2, Points: 10, BankID: &saBank}},
	}, false)
	if err != nil {
		t.Fatalf("ActivateTest: %v", err)
	}
	test, _ := s.GetTest(testID)
	cfg := model.FromActiveTest(test)

	records := []model.ShortAnswerRecord{
		{QuestionID: questions[0].ID, StudentAnswer: "first", Method: model.GradingManual},
		{QuestionID: questions[1].ID, StudentAnswer: "second", Method: model.GradingAI, Graded: true,
			Score: intp(7), AIScore: intp(7), AIFeedback: "ok"},
	}
	sub, err := s.SaveSubmission(cfg, model.Submission{StudentID: student.ID, Answers: map[int64]string{
		questions[0].ID: "first", questions[1].ID: "second",
	}, Score: 7}, records)
	if err != nil {
		t.Fatalf("SaveSubmission: %v", err)
	}

	pending, err := s.ListPendingShortAnswers()
	if err != nil {
		t.Fatalf("ListPendingShortAnswers: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending record, got %d", len(pending))
	}
	if pending[0].Record.QuestionID != questions[0].ID || pending[0].StudentName != "Han Meimei" {
		t.Errorf("unexpected pending item: %+v", pending[0])
	}
	if pending[0].QuestionContent != questions[0].Content {
		t.Errorf("question content = %q", pending[0].QuestionContent)
	}

	aiItems, err := s.ListReviewItems(ReviewAIGraded)
	if err != nil || len(aiItems) != 1 {
		t.Fatalf("ListReviewItems(ai) = %d, %v", len(aiItems), err)
	}

	rec := pending[0].Record
	rec.Score = intp(9)
	rec.Graded = true
	rec.Comment = "good"
	if err := s.SaveReview(rec, 16); err != nil {
		t.Fatalf("SaveReview: %v", err)
	}

	got, err := s.GetShortAnswerRecord(sub.ID, questions[0].ID)
	if err != nil || got == nil {
		t.Fatalf("GetShortAnswerRecord: %v", err)
	}
	if got.Score == nil || *got.Score != 9 || !got.Graded || got.Comment != "good" {
		t.Errorf("review not persisted: %+v", got)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("created_at changed on review: %v -> %v", rec.CreatedAt, got.CreatedAt)
	}
	updated, _ := s.GetSubmission(sub.ID)
	if updated.Score != 16 {
		t.Errorf("submission score = %v, want 16", updated.Score)
	}

	if pending, _ := s.ListPendingShortAnswers(); len(pending) != 0 {
		t.Errorf("expected empty pending queue, got %d", len(pending))
	}

	view, err := s.GetSubmissionView(sub.ID)
	if err != nil || view == nil {
		t.Fatalf("GetSubmissionView: %v", err)
	}
	if len(view.Questions) != 2 || len(view.Records) != 2 || view.Test.ID != testID {
		t.Errorf("unexpected view: %d questions, %d records, test %d", len(view.Questions), len(view.Records), view.Test.ID)
	}
}

func TestSaveReviewMissingSubmission(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveReview(model.ShortAnswerRecord{SubmissionID: 999, QuestionID: 1, Score: intp(1), Graded: true}, 1)
	if err == nil {
		t.Fatal("expected an error for a missing submission")
	}
}

func TestStudentHistory(t *testing.T) {
	s := newTestStore(t)
	student := createTestStudent(t, s, "Wang", "2")
	testID, _, err := s.ActivateTest(model.Test{Title: "T"}, false)
	if err != nil {
		t.Fatalf("ActivateTest: %v", err)
	}
	test, _ := s.GetTest(testID)
	cfg := model.FromActiveTest(test)

	if h, _ := s.GetStudentHistory(student.ID); h != nil {
		t.Fatal("expected no history before any submission")
	}

	for _, score := range []float64{60, 90, 75} {
		if _, err := s.SaveSubmission(cfg, model.Submission{StudentID: student.ID, Score: score}, nil); err != nil {
			t.Fatalf("SaveSubmission: %v", err)
		}
	}
	if err := s.RecomputeStudentHistory(student.ID); err != nil {
		t.Fatalf("RecomputeStudentHistory: %v", err)
	}

	h, err := s.GetStudentHistory(student.ID)
	if err != nil || h == nil {
		t.Fatalf("GetStudentHistory: %v", err)
	}
	want := model.StudentHistory{
		StudentID:    student.ID,
		StudentName:  "Wang",
		ClassNumber:  "2",
		TestCount:    3,
		TotalScore:   225,
		AverageScore: 75,
		HighestScore: 90,
		LowestScore:  60,
	}
	h.UpdatedAt = time.Time{}
	if *h != want {
		t.Errorf("history mismatch:\n got %+v\nwant %+v", *h, want)
	}

	// Deleting the test removes its submissions and the history row.
	if err := s.DeleteTest(testID); err != nil {
		t.Fatalf("DeleteTest: %v", err)
	}
	if h, _ := s.GetStudentHistory(student.ID); h != nil {
		t.Errorf("expected history to be cleared, got %+v", h)
	}
	subs, _ := s.ListStudentSubmissions(student.ID)
	if len(subs) != 0 {
		t.Errorf("expected submissions to be deleted, got %d", len(subs))
	}
}

func TestGetOrCreateStudent(t *testing.T) {
	s := newTestStore(t)

	first := createTestStudent(t, s, " Zhang San ", "5")
	if first.Username != "Zhang San_5" || first.Role != model.UserRoleStudent {
		t.Errorf("unexpected student: %+v", first)
	}
	again := createTestStudent(t, s, "Zhang San", "5")
	if again.ID != first.ID {
		t.Errorf("expected the same student, got %d and %d", first.ID, again.ID)
	}
	other := createTestStudent(t, s, "Zhang San", "6")
	if other.ID == first.ID {
		t.Error("different class should be a different student")
	}

	count, err := s.UserCount()
	if err != nil || count != 2 {
		t.Errorf("UserCount = %d, %v; want 2", count, err)
	}
}

func TestImportHash(t *testing.T) {
	s := newTestStore(t)

	h, err := s.ImportHash("Chapter 1")
	if err != nil || h != "" {
		t.Fatalf("ImportHash on empty store = %q, %v", h, err)
	}
	if err := s.SetImportHash("Chapter 1", "abc"); err != nil {
		t.Fatalf("SetImportHash: %v", err)
	}
	if err := s.SetImportHash("Chapter 1", "def"); err != nil {
		t.Fatalf("SetImportHash: %v", err)
	}
	if h, _ := s.ImportHash("Chapter 1"); h != "def" {
		t.Errorf("ImportHash = %q, want def", h)
	}
}

func TestAuthSessions(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateUser(model.User{Username: "teacher", Role: model.UserRoleTeacher, Active: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	teacher, _ := s.GetUserByID(id)

	token, err := s.CreateAuthSession(teacher)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	sess, err := s.GetAuthSession(token)
	if err != nil || sess == nil || sess.UserID != id {
		t.Fatalf("GetAuthSession = %+v, %v", sess, err)
	}
	if sess.Role != model.UserRoleTeacher {
		t.Errorf("Role = %q, want teacher", sess.Role)
	}

	if err := s.DeleteAuthSession(token); err != nil {
		t.Fatalf("DeleteAuthSession: %v", err)
	}
	if sess, _ := s.GetAuthSession(token); sess != nil {
		t.Error("session should be gone after delete")
	}

	s.SetSessionTTL(time.Nanosecond)
	token, _ = s.CreateAuthSession(teacher)
	time.Sleep(time.Millisecond)
	if sess, _ := s.GetAuthSession(token); sess != nil {
		t.Error("expired session should not be returned")
	}
}

func TestStudentSessionLifetime(t *testing.T) {
	s := newTestStore(t)
	s.SetSessionTTL(48 * time.Hour)
	s.SetStudentSessionTTL(2 * time.Hour)
	student := createTestStudent(t, s, "Li", "1")

	token, err := s.CreateAuthSession(student)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	sess, err := s.GetAuthSession(token)
	if err != nil || sess == nil {
		t.Fatalf("GetAuthSession = %+v, %v", sess, err)
	}
	if sess.Role != model.UserRoleStudent {
		t.Errorf("Role = %q, want student", sess.Role)
	}
	if got := sess.ExpiresAt.Sub(sess.CreatedAt); got != 2*time.Hour {
		t.Errorf("student session lifetime = %v, want 2h", got)
	}
}

func TestSessionsEndWithUser(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateUser(model.User{Username: "teacher", Role: model.UserRoleTeacher, Active: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	teacher, _ := s.GetUserByID(id)

	token, _ := s.CreateAuthSession(teacher)
	if err := s.UpdatePassword(id, "new-hash"); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	if sess, _ := s.GetAuthSession(token); sess != nil {
		t.Error("password change should end existing sessions")
	}

	token, _ = s.CreateAuthSession(teacher)
	if err := s.ToggleUserActive(id); err != nil {
		t.Fatalf("ToggleUserActive: %v", err)
	}
	if sess, _ := s.GetAuthSession(token); sess != nil {
		t.Error("disabling a user should end their sessions")
	}
	disabled, _ := s.GetUserByID(id)
	if _, err := s.CreateAuthSession(disabled); !errors.Is(err, ErrUserDisabled) {
		t.Errorf("CreateAuthSession(disabled) error = %v, want ErrUserDisabled", err)
	}

	if err := s.ToggleUserActive(id); err != nil {
		t.Fatalf("ToggleUserActive: %v", err)
	}
	enabled, _ := s.GetUserByID(id)
	token, err = s.CreateAuthSession(enabled)
	if err != nil {
		t.Fatalf("CreateAuthSession after enabling: %v", err)
	}
	if n, err := s.RevokeUserSessions(id); err != nil || n != 1 {
		t.Errorf("RevokeUserSessions = %d, %v, want 1", n, err)
	}
	if n, err := s.CleanupExpiredSessions(); err != nil || n != 0 {
		t.Errorf("CleanupExpiredSessions = %d, %v, want 0", n, err)
	}
}

func TestExportResults(t *testing.T) {
	s := newTestStore(t)
	student := createTestStudent(t, s, "Li", "1")
	saBank := createTestBank(t, s, model.ShortAnswer, 1)
	qs, _ := s.ListQuestions(saBank)

	testID, _, _ := s.ActivateTest(model.Test{
		Title:       "Final",
		Composition: model.Composition{ShortAnswer: model.TypeRule{Count: 1, Points: 10, BankID: &saBank}},
	}, false)
	test, _ := s.GetTest(testID)
	cfg := model.FromActiveTest(test)

	for i := 0; i < 2; i++ {
		_, err := s.SaveSubmission(cfg, model.Submission{StudentID: student.ID, Score: 4},
			[]model.ShortAnswerRecord{{QuestionID: qs[0].ID, StudentAnswer: "x", Graded: true, Score: intp(4), Method: model.GradingAI, AIScore: intp(4)}})
		if err != nil {
			t.Fatalf("SaveSubmission: %v", err)
		}
	}

	export, err := s.ExportResults()
	if err != nil {
		t.Fatalf("ExportResults: %v", err)
	}
	if export.Count != 2 {
		t.Fatalf("count = %d, want 2", export.Count)
	}
	for i, r := range export.Results {
		if r.AttemptNumber != i+1 {
			t.Errorf("result %d attempt = %d", i, r.AttemptNumber)
		}
		if r.MaxScore != 10 || r.TestTitle != "Final" {
			t.Errorf("unexpected result: %+v", r)
		}
		if len(r.ShortAnswers) != 1 || r.ShortAnswers[0].Question != qs[0].Content {
			t.Errorf("unexpected short answers: %+v", r.ShortAnswers)
		}
	}
}
