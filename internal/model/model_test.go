package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleComposition() Composition {
	var c Composition
	c.SetRule(SingleChoice, TypeRule{Count: 10, Points: 2})
	c.SetRule(MultipleChoice, TypeRule{Count: 5, Points: 4})
	c.SetRule(ShortAnswer, TypeRule{Count: 2, Points: 10})
	return c
}

func TestCompositionTotalScore(t *testing.T) {
	c := sampleComposition()
	assert.Equal(t, 60, c.TotalScore())
	assert.Equal(t, TypeRule{}, c.Rule("essay"))

	c.SetRule("essay", TypeRule{Count: 100, Points: 100})
	assert.Equal(t, 60, c.TotalScore())
}

func TestQuestionTypePredicates(t *testing.T) {
	for _, qt := range QuestionTypes {
		assert.True(t, qt.Valid(), qt)
	}
	assert.False(t, QuestionType("essay").Valid())
	assert.False(t, QuestionType("essay").Objective())
	assert.False(t, ShortAnswer.Objective())
	assert.True(t, FillBlank.Objective())
	assert.True(t, MultipleChoice.HasOptions())
	assert.False(t, TrueFalse.HasOptions())
}

func TestGradingMethodOrDefault(t *testing.T) {
	assert.Equal(t, GradingAI, GradingAI.OrDefault())
	assert.Equal(t, GradingManual, GradingMethod("").OrDefault())
	assert.Equal(t, GradingManual, GradingMethod("robot").OrDefault())
}

func TestFromActiveTest(t *testing.T) {
	presetID := int64(4)
	cfg := FromActiveTest(Test{ID: 7, Composition: sampleComposition(), PresetID: &presetID})

	assert.True(t, cfg.Materialized())
	assert.Equal(t, "Test", cfg.Title)
	assert.Equal(t, int64(4), cfg.PresetID)
	assert.Equal(t, GradingManual, cfg.GradingMethod)
	assert.Equal(t, 4, cfg.PointValue(MultipleChoice))
	assert.Equal(t, 0, cfg.PointValue(TrueFalse))
	assert.Equal(t, 60, cfg.TotalScore())

	test := cfg.AsTest()
	assert.Equal(t, int64(7), test.ID)
	assert.Equal(t, "Test", test.Title)
	assert.Nil(t, test.PresetID)
}

func TestFromPresetMaterializesAsInactiveTest(t *testing.T) {
	cfg := FromPreset(TestPreset{ID: 3, Title: "Drill", Composition: sampleComposition(), GradingMethod: GradingAI})

	assert.False(t, cfg.Materialized())
	assert.Equal(t, GradingAI, cfg.GradingMethod)

	test := cfg.AsTest()
	assert.Zero(t, test.ID)
	assert.False(t, test.Active)
	assert.Equal(t, "Preset: Drill", test.Title)
	if assert.NotNil(t, test.PresetID) {
		assert.Equal(t, int64(3), *test.PresetID)
	}
	assert.Equal(t, 60, test.TotalScore)
}

func TestQuestionForStudent(t *testing.T) {
	q := Question{Content: "2+2?", OptionA: "4", CorrectAnswer: "A", Explanation: "arithmetic"}
	s := q.ForStudent()
	assert.Empty(t, s.CorrectAnswer)
	assert.Empty(t, s.Explanation)
	assert.Equal(t, "4", s.OptionA)
	assert.Equal(t, "A", q.CorrectAnswer, "original is not modified")
}

func TestShortAnswerRecordPoints(t *testing.T) {
	assert.Equal(t, 0, ShortAnswerRecord{}.Points())
	score := 7
	assert.Equal(t, 7, ShortAnswerRecord{Score: &score}.Points())
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, UserFromContext(ctx))
	assert.Empty(t, BasePathFromContext(ctx))
	assert.Empty(t, CSRFTokenFromContext(ctx))

	u := &User{ID: 1, Username: "admin"}
	ctx = ContextWithUser(ctx, u)
	ctx = ContextWithBasePath(ctx, "/exam")
	ctx = ContextWithCSRFToken(ctx, "tok")
	assert.Same(t, u, UserFromContext(ctx))
	assert.Equal(t, "/exam", BasePathFromContext(ctx))
	assert.Equal(t, "tok", CSRFTokenFromContext(ctx))
}
