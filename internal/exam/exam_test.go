package exam

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/examgrader/internal/cache"
	"github.com/pavelanni/examgrader/internal/grading"
	"github.com/pavelanni/examgrader/internal/model"
	"github.com/pavelanni/examgrader/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// seedBank creates a bank of n questions of type typ whose correct answer
// is "A".
func seedBank(t *testing.T, st *store.Store, typ model.QuestionType, n int) int64 {
	t.Helper()
	bankID, err := st.CreateBank("bank "+string(typ), typ)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err := st.InsertQuestion(model.Question{
			BankID:        bankID,
			Type:          typ,
			Content:       fmt.Sprintf("%s question %d", typ, i+1),
			OptionA:       "right",
			OptionB:       "wrong",
			CorrectAnswer: "A",
			Explanation:   "because",
			Points:        1,
		})
		require.NoError(t, err)
	}
	return bankID
}

func ptr(id int64) *int64 { return &id }

func TestConfigureRejectsBadInput(t *testing.T) {
	st := newTestStore(t)
	svc := New(st, nil)
	scBank := seedBank(t, st, model.SingleChoice, 3)

	tests := []struct {
		name string
		in   Settings
		want string
	}{
		{
			name: "missing title",
			in:   Settings{Composition: model.Composition{SingleChoice: model.TypeRule{Count: 1, Points: 1, BankID: ptr(scBank)}}},
			want: "title is required",
		},
		{
			name: "negative count",
			in:   Settings{Title: "T", Composition: model.Composition{SingleChoice: model.TypeRule{Count: -1, Points: 1}}},
			want: "composition.single_choice.count must be at least 0",
		},
		{
			name: "unknown grading method",
			in:   Settings{Title: "T", GradingMethod: "robots", Composition: model.Composition{SingleChoice: model.TypeRule{Count: 1, Points: 1}}},
			want: "grading_method must be one of",
		},
		{
			name: "bank of another type",
			in:   Settings{Title: "T", Composition: model.Composition{TrueFalse: model.TypeRule{Count: 1, Points: 1, BankID: ptr(scBank)}}},
			want: "holds single_choice questions",
		},
		{
			name: "missing bank",
			in:   Settings{Title: "T", Composition: model.Composition{SingleChoice: model.TypeRule{Count: 1, Points: 1, BankID: ptr(999)}}},
			want: "bank 999 does not exist",
		},
		{
			name: "no questions of type",
			in:   Settings{Title: "T", Composition: model.Composition{FillBlank: model.TypeRule{Count: 2, Points: 1}}},
			want: "fill_blank: no questions available",
		},
		{
			name: "nothing to score",
			in:   Settings{Title: "T", Composition: model.Composition{SingleChoice: model.TypeRule{Count: 2, Points: 0}}},
			want: "no questions worth any points",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Configure(context.Background(), tt.in)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, ve.Error(), tt.want)
		})
	}

	active, err := st.GetActiveTest()
	require.NoError(t, err)
	assert.Nil(t, active, "rejected settings must not activate anything")
}

func TestConfigureClampsCountsAndActivates(t *testing.T) {
	st := newTestStore(t)
	svc := New(st, nil)
	scBank := seedBank(t, st, model.SingleChoice, 5)
	saBank := seedBank(t, st, model.ShortAnswer, 2)
	ctx := context.Background()

	first, err := svc.Configure(ctx, Settings{
		Title:       "First",
		Composition: model.Composition{SingleChoice: model.TypeRule{Count: 2, Points: 5, BankID: ptr(scBank)}},
	})
	require.NoError(t, err)

	second, err := svc.Configure(ctx, Settings{
		Title: "  Second  ",
		Composition: model.Composition{
			SingleChoice: model.TypeRule{Count: 8, Points: 4, BankID: ptr(scBank)},
			ShortAnswer:  model.TypeRule{Count: 1, Points: 10, BankID: ptr(saBank)},
		},
		GradingMethod: model.GradingAI,
		SavePreset:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, []Adjustment{{Type: model.SingleChoice, Requested: 8, Available: 5}}, second.Adjustments)
	assert.Equal(t, 5, second.Composition.SingleChoice.Count)
	assert.Equal(t, 30, second.TotalScore)
	assert.NotZero(t, second.PresetID)

	cfg, err := svc.ActiveConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.TestID, cfg.TestID)
	assert.Equal(t, "Second", cfg.Title)
	assert.Equal(t, model.GradingAI, cfg.GradingMethod)

	old, err := st.GetTest(first.TestID)
	require.NoError(t, err)
	assert.False(t, old.Active)

	preset, err := svc.GetPreset(second.PresetID)
	require.NoError(t, err)
	assert.Equal(t, second.Composition, preset.Composition)
}

func TestResolveConfig(t *testing.T) {
	st := newTestStore(t)
	svc := New(st, nil)
	ctx := context.Background()
	scBank := seedBank(t, st, model.SingleChoice, 4)

	_, err := svc.ResolveConfig(ctx, 0)
	assert.ErrorIs(t, err, ErrNoTest)

	preset, err := svc.CreatePreset(PresetInput{
		Title:       "Practice",
		Composition: model.Composition{SingleChoice: model.TypeRule{Count: 1, Points: 10, BankID: ptr(scBank)}},
	})
	require.NoError(t, err)

	_, err = svc.Configure(ctx, Settings{
		Title:       "Closed",
		Composition: model.Composition{SingleChoice: model.TypeRule{Count: 2, Points: 5, BankID: ptr(scBank)}},
	})
	require.NoError(t, err)

	cfg, err := svc.ResolveConfig(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "Closed", cfg.Title)
	assert.True(t, cfg.Materialized())

	_, err = svc.ResolveConfig(ctx, preset.ID)
	assert.ErrorIs(t, err, ErrChoiceNotAllowed)
	public, err := svc.PublicPresets(ctx)
	require.NoError(t, err)
	assert.Empty(t, public)

	_, err = svc.Configure(ctx, Settings{
		Title:              "Open",
		Composition:        model.Composition{SingleChoice: model.TypeRule{Count: 2, Points: 5, BankID: ptr(scBank)}},
		AllowStudentChoice: true,
	})
	require.NoError(t, err)

	cfg, err = svc.ResolveConfig(ctx, preset.ID)
	require.NoError(t, err)
	assert.False(t, cfg.Materialized())
	assert.Equal(t, preset.ID, cfg.PresetID)
	assert.Equal(t, 10, cfg.TotalScore())

	_, err = svc.ResolveConfig(ctx, 999)
	assert.ErrorIs(t, err, ErrPresetNotFound)

	public, err = svc.PublicPresets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []PresetSummary{{ID: preset.ID, Title: "Practice"}}, public)
}

func TestActiveConfigFallsBackToLatestTest(t *testing.T) {
	st := newTestStore(t)
	svc := New(st, nil)
	ctx := context.Background()
	scBank := seedBank(t, st, model.SingleChoice, 2)
	student, err := st.GetOrCreateStudent("Han Meimei", "2")
	require.NoError(t, err)

	preset, err := svc.CreatePreset(PresetInput{
		Title:       "Drill",
		Composition: model.Composition{SingleChoice: model.TypeRule{Count: 1, Points: 10, BankID: ptr(scBank)}},
	})
	require.NoError(t, err)
	active, err := svc.Configure(ctx, Settings{
		Title:              "Main",
		Composition:        model.Composition{SingleChoice: model.TypeRule{Count: 2, Points: 5, BankID: ptr(scBank)}},
		AllowStudentChoice: true,
	})
	require.NoError(t, err)

	cfg, err := svc.ResolveConfig(ctx, preset.ID)
	require.NoError(t, err)
	res, err := svc.Submit(ctx, cfg, student.ID, map[int64]string{1: "A"}, "")
	require.NoError(t, err)
	assert.NotEqual(t, active.TestID, res.Submission.TestID)

	require.NoError(t, svc.DeleteTest(ctx, active.TestID))

	fallback, err := svc.ActiveConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Submission.TestID, fallback.TestID)
	assert.Equal(t, "Preset: Drill", fallback.Title)
}

func TestDrawWithholdsAnswers(t *testing.T) {
	st := newTestStore(t)
	svc := New(st, nil)
	scBank := seedBank(t, st, model.SingleChoice, 6)
	seedBank(t, st, model.TrueFalse, 2)
	seedBank(t, st, model.TrueFalse, 2)

	cfg := model.TestConfiguration{
		Title: "Draw",
		Composition: model.Composition{
			SingleChoice: model.TypeRule{Count: 4, Points: 2, BankID: ptr(scBank)},
			TrueFalse:    model.TypeRule{Count: 3, Points: 1},
		},
	}
	paper, err := svc.Draw(cfg)
	require.NoError(t, err)
	assert.Equal(t, 11, paper.TotalScore)
	require.Len(t, paper.Sections, 2)
	assert.Equal(t, model.SingleChoice, paper.Sections[0].Type)
	assert.Len(t, paper.Sections[0].Questions, 4)
	assert.Equal(t, model.TrueFalse, paper.Sections[1].Type)
	assert.Len(t, paper.Sections[1].Questions, 3)

	seen := make(map[int64]bool)
	for _, sec := range paper.Sections {
		for _, q := range sec.Questions {
			assert.False(t, seen[q.ID], "question %d drawn twice", q.ID)
			seen[q.ID] = true
			assert.Empty(t, q.CorrectAnswer)
			assert.Empty(t, q.Explanation)
			assert.Equal(t, sec.Type, q.Type)
		}
	}
	for _, q := range paper.Sections[0].Questions {
		assert.Equal(t, scBank, q.BankID)
	}
}

func TestApplyReviewValidates(t *testing.T) {
	svc := New(newTestStore(t), nil)
	_, err := svc.ApplyReview(context.Background(), grading.Review{QuestionID: 1, Score: 1})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Error(), "submission_id is required")
}

func TestTestStatistics(t *testing.T) {
	st := newTestStore(t)
	svc := New(st, nil)
	ctx := context.Background()
	scBank := seedBank(t, st, model.SingleChoice, 2)

	conf, err := svc.Configure(ctx, Settings{
		Title:       "Stats",
		Composition: model.Composition{SingleChoice: model.TypeRule{Count: 2, Points: 50, BankID: ptr(scBank)}},
	})
	require.NoError(t, err)
	cfg, err := svc.ActiveConfig(ctx)
	require.NoError(t, err)

	qs, err := st.ListQuestions(scBank)
	require.NoError(t, err)
	q1, q2 := qs[0].ID, qs[1].ID

	submit := func(name, class string, answers map[int64]string) {
		u, err := st.GetOrCreateStudent(name, class)
		require.NoError(t, err)
		_, err = svc.Submit(ctx, cfg, u.ID, answers, "")
		require.NoError(t, err)
	}
	submit("Ann", "1", map[int64]string{q1: "A", q2: "A"}) // 100
	submit("Bob", "1", map[int64]string{q1: "A", q2: "B"}) // 50
	submit("Cai", "2", map[int64]string{q1: "B", q2: "B"}) // 0

	stats, err := svc.TestStatistics(conf.TestID)
	require.NoError(t, err)
	assert.Len(t, stats.Submissions, 3)
	require.Len(t, stats.Classes, 2)
	assert.Equal(t, ClassStats{ClassNumber: "1", StudentCount: 2, AverageScore: 75, MaxScore: 100, MinScore: 50, PassRate: 0.5}, stats.Classes[0])
	assert.Equal(t, ClassStats{ClassNumber: "2", StudentCount: 1, AverageScore: 0, MaxScore: 0, MinScore: 0, PassRate: 0}, stats.Classes[1])

	require.Len(t, stats.TopErrors, 2)
	assert.Equal(t, q2, stats.TopErrors[0].QuestionID)
	assert.Equal(t, 2, stats.TopErrors[0].Wrong)
	assert.Equal(t, 3, stats.TopErrors[0].Total)
	assert.Equal(t, q1, stats.TopErrors[1].QuestionID)
	assert.InDelta(t, 1.0/3, stats.TopErrors[1].ErrorRate, 1e-9)
}

func TestActiveConfigUsesCache(t *testing.T) {
	st := newTestStore(t)
	db, mock := redismock.NewClientMock()
	svc := New(st, nil, WithCache(cache.New(db, time.Minute)))
	ctx := context.Background()
	scBank := seedBank(t, st, model.SingleChoice, 2)

	mock.ExpectDel(cache.ActiveTestKey).SetVal(0)
	conf, err := svc.Configure(ctx, Settings{
		Title:       "Cached",
		Composition: model.Composition{SingleChoice: model.TypeRule{Count: 2, Points: 5, BankID: ptr(scBank)}},
	})
	require.NoError(t, err)

	test, err := st.GetTest(conf.TestID)
	require.NoError(t, err)
	want := model.FromActiveTest(test)
	encoded, err := json.Marshal(want)
	require.NoError(t, err)

	mock.ExpectGet(cache.ActiveTestKey).RedisNil()
	mock.ExpectSet(cache.ActiveTestKey, string(encoded), time.Minute).SetVal("OK")
	got, err := svc.ActiveConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	mock.ExpectGet(cache.ActiveTestKey).SetVal(string(encoded))
	got, err = svc.ActiveConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.NoError(t, mock.ExpectationsWereMet())
}
