package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/examgrader/internal/model"
)

const testColumns = `id, title, composition, total_score, grading_method, allow_student_choice, active, preset_id, created_at`

func scanTest(row interface{ Scan(...any) error }) (model.Test, error) {
	var (
		t        model.Test
		comp     string
		presetID sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.Title, &comp, &t.TotalScore, &t.GradingMethod, &t.AllowStudentChoice, &t.Active, &presetID, &t.CreatedAt)
	if err != nil {
		return t, err
	}
	if err := json.Unmarshal([]byte(comp), &t.Composition); err != nil {
		return t, fmt.Errorf("decode composition of test %d: %w", t.ID, err)
	}
	t.PresetID = int64Ptr(presetID)
	return t, nil
}

func insertTest(tx *sql.Tx, t model.Test) (int64, error) {
	comp, err := encodeJSON(t.Composition)
	if err != nil {
		return 0, err
	}
	res, err := tx.Exec(
		`INSERT INTO tests (title, composition, total_score, grading_method, allow_student_choice, active, preset_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Title, comp, t.Composition.TotalScore(), t.GradingMethod.OrDefault(), t.AllowStudentChoice, t.Active,
		nullInt64(t.PresetID), time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func insertPreset(tx *sql.Tx, p model.TestPreset) (int64, error) {
	comp, err := encodeJSON(p.Composition)
	if err != nil {
		return 0, err
	}
	res, err := tx.Exec(
		`INSERT INTO test_presets (title, composition, grading_method, allow_student_choice, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		p.Title, comp, p.GradingMethod.OrDefault(), p.AllowStudentChoice, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ActivateTest makes t the only active test. When savePreset is true the
// same configuration is also stored as a preset. Everything happens in
// one transaction. It returns the new test ID and the preset ID (0 when
// no preset was saved).
func (s *Store) ActivateTest(t model.Test, savePreset bool) (int64, int64, error) {
	var testID, presetID int64
	err := s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE tests SET active = 0 WHERE active = 1`); err != nil {
			return fmt.Errorf("deactivate tests: %w", err)
		}
		if savePreset {
			var err error
			presetID, err = insertPreset(tx, model.TestPreset{
				Title:              t.Title,
				Composition:        t.Composition,
				GradingMethod:      t.GradingMethod,
				AllowStudentChoice: t.AllowStudentChoice,
			})
			if err != nil {
				return fmt.Errorf("save preset: %w", err)
			}
			t.PresetID = &presetID
		}
		t.Active = true
		var err error
		testID, err = insertTest(tx, t)
		if err != nil {
			return fmt.Errorf("insert test: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return testID, presetID, nil
}

// GetTest returns a test by ID.
func (s *Store) GetTest(id int64) (model.Test, error) {
	return scanTest(s.db.QueryRow(`SELECT `+testColumns+` FROM tests WHERE id = ?`, id))
}

// GetActiveTest returns the active test, or nil if there is none.
func (s *Store) GetActiveTest() (*model.Test, error) {
	t, err := scanTest(s.db.QueryRow(`SELECT ` + testColumns + ` FROM tests WHERE active = 1 ORDER BY id DESC LIMIT 1`))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetLatestTest returns the most recently created test, or nil.
func (s *Store) GetLatestTest() (*model.Test, error) {
	t, err := scanTest(s.db.QueryRow(`SELECT ` + testColumns + ` FROM tests ORDER BY created_at DESC, id DESC LIMIT 1`))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTests returns all tests, newest first.
func (s *Store) ListTests() ([]model.Test, error) {
	rows, err := s.db.Query(`SELECT ` + testColumns + ` FROM tests ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tests []model.Test
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

// DeleteTest removes a test together with its submissions and their
// short-answer records, then recomputes the history of every affected
// student.
func (s *Store) DeleteTest(id int64) error {
	rows, err := s.db.Query(`SELECT DISTINCT student_id FROM submissions WHERE test_id = ?`, id)
	if err != nil {
		return err
	}
	var students []int64
	for rows.Next() {
		var sid int64
		if err := rows.Scan(&sid); err != nil {
			rows.Close()
			return err
		}
		students = append(students, sid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	res, err := s.db.Exec(`DELETE FROM tests WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := expectOne(res); err != nil {
		return err
	}
	for _, sid := range students {
		if err := s.RecomputeStudentHistory(sid); err != nil {
			return fmt.Errorf("recompute history of student %d: %w", sid, err)
		}
	}
	return nil
}

const presetColumns = `id, title, composition, grading_method, allow_student_choice, created_at`

func scanPreset(row interface{ Scan(...any) error }) (model.TestPreset, error) {
	var (
		p    model.TestPreset
		comp string
	)
	err := row.Scan(&p.ID, &p.Title, &comp, &p.GradingMethod, &p.AllowStudentChoice, &p.CreatedAt)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(comp), &p.Composition); err != nil {
		return p, fmt.Errorf("decode composition of preset %d: %w", p.ID, err)
	}
	return p, nil
}

// CreatePreset stores a preset.
func (s *Store) CreatePreset(p model.TestPreset) (int64, error) {
	var id int64
	err := s.withTx(func(tx *sql.Tx) error {
		var err error
		id, err = insertPreset(tx, p)
		return err
	})
	return id, err
}

// GetPreset returns a preset by ID, or nil if not found.
func (s *Store) GetPreset(id int64) (*model.TestPreset, error) {
	p, err := scanPreset(s.db.QueryRow(`SELECT `+presetColumns+` FROM test_presets WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPresets returns all presets, newest first.
func (s *Store) ListPresets() ([]model.TestPreset, error) {
	rows, err := s.db.Query(`SELECT ` + presetColumns + ` FROM test_presets ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var presets []model.TestPreset
	for rows.Next() {
		p, err := scanPreset(rows)
		if err != nil {
			return nil, err
		}
		presets = append(presets, p)
	}
	return presets, rows.Err()
}

// DeletePreset removes a preset. Tests materialized from it keep their
// own copy of the configuration.
func (s *Store) DeletePreset(id int64) error {
	res, err := s.db.Exec(`DELETE FROM test_presets WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}
