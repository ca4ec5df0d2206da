package model

import "fmt"

// TestConfiguration is the scoring policy a submission is graded against.
// It is built from either the active test or a saved preset and is passed
// around by value.
type TestConfiguration struct {
	TestID             int64
	PresetID           int64
	Title              string
	Composition        Composition
	GradingMethod      GradingMethod
	AllowStudentChoice bool
}

// FromActiveTest builds a configuration backed by an existing test record.
func FromActiveTest(t Test) TestConfiguration {
	title := t.Title
	if title == "" {
		title = "Test"
	}
	var presetID int64
	if t.PresetID != nil {
		presetID = *t.PresetID
	}
	return TestConfiguration{
		TestID:             t.ID,
		PresetID:           presetID,
		Title:              title,
		Composition:        t.Composition,
		GradingMethod:      t.GradingMethod.OrDefault(),
		AllowStudentChoice: t.AllowStudentChoice,
	}
}

// FromPreset builds a configuration from a saved preset. It has no test
// record until it is materialized with AsTest.
func FromPreset(p TestPreset) TestConfiguration {
	return TestConfiguration{
		PresetID:           p.ID,
		Title:              p.Title,
		Composition:        p.Composition,
		GradingMethod:      p.GradingMethod.OrDefault(),
		AllowStudentChoice: p.AllowStudentChoice,
	}
}

// Materialized reports whether the configuration refers to a stored test.
func (c TestConfiguration) Materialized() bool {
	return c.TestID != 0
}

// PointValue returns the per-question points for type t.
func (c TestConfiguration) PointValue(t QuestionType) int {
	return c.Composition.Rule(t).Points
}

// TotalScore returns the maximum attainable score.
func (c TestConfiguration) TotalScore() int {
	return c.Composition.TotalScore()
}

// AsTest returns the inactive test record that stands in for a preset so
// submissions keep a stable test reference.
func (c TestConfiguration) AsTest() Test {
	t := Test{
		ID:                 c.TestID,
		Title:              c.Title,
		Composition:        c.Composition,
		TotalScore:         c.TotalScore(),
		GradingMethod:      c.GradingMethod.OrDefault(),
		AllowStudentChoice: c.AllowStudentChoice,
	}
	if c.PresetID != 0 && !c.Materialized() {
		id := c.PresetID
		t.PresetID = &id
		t.Title = fmt.Sprintf("Preset: %s", c.Title)
	}
	return t
}
