package store

import (
	"database/sql"
	"time"

	"github.com/pavelanni/examgrader/internal/model"
)

// RecomputeStudentHistory rebuilds a student's aggregate from all of
// their submissions. A student with no submissions has no history row.
func (s *Store) RecomputeStudentHistory(studentID int64) error {
	var (
		count            int
		total, high, low float64
	)
	err := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(score), 0), COALESCE(MAX(score), 0), COALESCE(MIN(score), 0)
		 FROM submissions WHERE student_id = ?`, studentID,
	).Scan(&count, &total, &high, &low)
	if err != nil {
		return err
	}
	if count == 0 {
		_, err := s.db.Exec(`DELETE FROM student_history WHERE student_id = ?`, studentID)
		return err
	}

	avg := total / float64(count)
	_, err = s.db.Exec(
		`INSERT INTO student_history (student_id, test_count, total_score, average_score, highest_score, lowest_score, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(student_id) DO UPDATE SET
		   test_count = excluded.test_count,
		   total_score = excluded.total_score,
		   average_score = excluded.average_score,
		   highest_score = excluded.highest_score,
		   lowest_score = excluded.lowest_score,
		   updated_at = excluded.updated_at`,
		studentID, count, total, avg, high, low, time.Now(),
	)
	return err
}

const historySelect = `SELECT h.student_id, u.display_name, u.class_number, h.test_count, h.total_score,
	h.average_score, h.highest_score, h.lowest_score, h.updated_at
	FROM student_history h JOIN users u ON u.id = h.student_id`

func scanHistory(row interface{ Scan(...any) error }) (model.StudentHistory, error) {
	var h model.StudentHistory
	err := row.Scan(&h.StudentID, &h.StudentName, &h.ClassNumber, &h.TestCount, &h.TotalScore,
		&h.AverageScore, &h.HighestScore, &h.LowestScore, &h.UpdatedAt)
	return h, err
}

// GetStudentHistory returns a student's aggregate, or nil if the student
// has not submitted anything.
func (s *Store) GetStudentHistory(studentID int64) (*model.StudentHistory, error) {
	h, err := scanHistory(s.db.QueryRow(historySelect+` WHERE h.student_id = ?`, studentID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// ListStudentHistory returns all aggregates ordered by class and name.
func (s *Store) ListStudentHistory() ([]model.StudentHistory, error) {
	rows, err := s.db.Query(historySelect + ` ORDER BY u.class_number, u.display_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.StudentHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
