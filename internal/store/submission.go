package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pavelanni/examgrader/internal/model"
)

const submissionSelect = `SELECT s.id, s.ref, s.test_id, s.student_id, u.display_name, u.class_number,
	s.answers, s.score, s.ip_address, s.created_at
	FROM submissions s JOIN users u ON u.id = s.student_id`

func scanSubmission(row interface{ Scan(...any) error }) (model.Submission, error) {
	var (
		sub     model.Submission
		answers string
	)
	err := row.Scan(&sub.ID, &sub.Ref, &sub.TestID, &sub.StudentID, &sub.StudentName, &sub.ClassNumber,
		&answers, &sub.Score, &sub.IPAddress, &sub.CreatedAt)
	if err != nil {
		return sub, err
	}
	if err := json.Unmarshal([]byte(answers), &sub.Answers); err != nil {
		return sub, fmt.Errorf("decode answers of submission %d: %w", sub.ID, err)
	}
	return sub, nil
}

func collectSubmissions(rows *sql.Rows) ([]model.Submission, error) {
	defer rows.Close()
	var subs []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func upsertRecord(tx *sql.Tx, r model.ShortAnswerRecord, now time.Time) error {
	created := r.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := tx.Exec(
		`INSERT INTO short_answer_records (submission_id, question_id, student_answer, score, comment, graded, method,
		   ai_score, ai_feedback, human_reviewed, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(submission_id, question_id) DO UPDATE SET
		   student_answer = excluded.student_answer,
		   score = excluded.score,
		   comment = excluded.comment,
		   graded = excluded.graded,
		   method = excluded.method,
		   ai_score = excluded.ai_score,
		   ai_feedback = excluded.ai_feedback,
		   human_reviewed = excluded.human_reviewed,
		   updated_at = excluded.updated_at`,
		r.SubmissionID, r.QuestionID, r.StudentAnswer, nullInt(r.Score), r.Comment, r.Graded, r.Method.OrDefault(),
		nullInt(r.AIScore), r.AIFeedback, r.HumanReviewed, created, now,
	)
	return err
}

// SaveSubmission stores a graded submission and its short-answer records
// in one transaction. A configuration that came from a preset is first
// materialized as an inactive test so the submission has a stable test
// reference. The returned submission carries the new IDs.
func (s *Store) SaveSubmission(cfg model.TestConfiguration, sub model.Submission, records []model.ShortAnswerRecord) (model.Submission, error) {
	answers, err := encodeJSON(sub.Answers)
	if err != nil {
		return sub, fmt.Errorf("encode answers: %w", err)
	}
	now := time.Now()

	err = s.withTx(func(tx *sql.Tx) error {
		var err error
		testID := cfg.TestID
		if !cfg.Materialized() {
			testID, err = insertTest(tx, cfg.AsTest())
			if err != nil {
				return fmt.Errorf("materialize test: %w", err)
			}
		}

		res, err := tx.Exec(
			`INSERT INTO submissions (ref, test_id, student_id, answers, score, ip_address, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sub.Ref, testID, sub.StudentID, answers, sub.Score, sub.IPAddress, now,
		)
		if err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}
		subID, err := res.LastInsertId()
		if err != nil {
			return err
		}

		for _, r := range records {
			r.SubmissionID = subID
			if err := upsertRecord(tx, r, now); err != nil {
				return fmt.Errorf("insert short answer for question %d: %w", r.QuestionID, err)
			}
		}
		sub.ID = subID
		sub.TestID = testID
		return nil
	})
	if err != nil {
		return sub, err
	}
	sub.CreatedAt = now
	return sub, nil
}

// SaveReview stores a reviewed short-answer record and the submission's
// new total in one transaction.
func (s *Store) SaveReview(r model.ShortAnswerRecord, total float64) error {
	return s.withTx(func(tx *sql.Tx) error {
		if err := upsertRecord(tx, r, time.Now()); err != nil {
			return fmt.Errorf("save short answer: %w", err)
		}
		res, err := tx.Exec(`UPDATE submissions SET score = ? WHERE id = ?`, total, r.SubmissionID)
		if err != nil {
			return fmt.Errorf("update submission score: %w", err)
		}
		return expectOne(res)
	})
}

// GetSubmission returns a submission by ID, or nil if not found.
func (s *Store) GetSubmission(id int64) (*model.Submission, error) {
	sub, err := scanSubmission(s.db.QueryRow(submissionSelect+` WHERE s.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListSubmissions returns all submissions in submission order.
func (s *Store) ListSubmissions() ([]model.Submission, error) {
	rows, err := s.db.Query(submissionSelect + ` ORDER BY s.created_at, s.id`)
	if err != nil {
		return nil, err
	}
	return collectSubmissions(rows)
}

// ListStudentSubmissions returns a student's submissions, newest first.
func (s *Store) ListStudentSubmissions(studentID int64) ([]model.Submission, error) {
	rows, err := s.db.Query(submissionSelect+` WHERE s.student_id = ? ORDER BY s.created_at DESC, s.id DESC`, studentID)
	if err != nil {
		return nil, err
	}
	return collectSubmissions(rows)
}

// ListTestSubmissions returns the submissions against one test, ordered
// by class, student name and time.
func (s *Store) ListTestSubmissions(testID int64) ([]model.Submission, error) {
	rows, err := s.db.Query(submissionSelect+` WHERE s.test_id = ? ORDER BY u.class_number, u.display_name, s.created_at, s.id`, testID)
	if err != nil {
		return nil, err
	}
	return collectSubmissions(rows)
}

const recordColumns = `id, submission_id, question_id, student_answer, score, comment, graded, method,
	ai_score, ai_feedback, human_reviewed, created_at, updated_at`

func scanRecord(row interface{ Scan(...any) error }, extra ...any) (model.ShortAnswerRecord, error) {
	var (
		r       model.ShortAnswerRecord
		score   sql.NullInt64
		aiScore sql.NullInt64
	)
	dest := []any{&r.ID, &r.SubmissionID, &r.QuestionID, &r.StudentAnswer, &score, &r.Comment, &r.Graded, &r.Method,
		&aiScore, &r.AIFeedback, &r.HumanReviewed, &r.CreatedAt, &r.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return r, err
	}
	r.Score = intPtr(score)
	r.AIScore = intPtr(aiScore)
	return r, nil
}

// ShortAnswerRecords returns the short-answer records of a submission.
func (s *Store) ShortAnswerRecords(submissionID int64) ([]model.ShortAnswerRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+recordColumns+` FROM short_answer_records WHERE submission_id = ? ORDER BY id`, submissionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []model.ShortAnswerRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetShortAnswerRecord returns the record for a submission and question,
// or nil if it does not exist.
func (s *Store) GetShortAnswerRecord(submissionID, questionID int64) (*model.ShortAnswerRecord, error) {
	r, err := scanRecord(s.db.QueryRow(
		`SELECT `+recordColumns+` FROM short_answer_records WHERE submission_id = ? AND question_id = ?`,
		submissionID, questionID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ReviewFilter selects short-answer records for the review queue.
type ReviewFilter string

const (
	// ReviewPending selects records nobody has scored yet.
	ReviewPending ReviewFilter = "pending"
	// ReviewAIGraded selects AI-scored records not yet seen by a human.
	ReviewAIGraded ReviewFilter = "ai"
	// ReviewAll selects every record.
	ReviewAll ReviewFilter = "all"
)

// ListReviewItems returns short-answer records with their question and
// student, oldest first.
func (s *Store) ListReviewItems(f ReviewFilter) ([]model.ReviewItem, error) {
	query := `SELECT r.id, r.submission_id, r.question_id, r.student_answer, r.score, r.comment, r.graded, r.method,
	                 r.ai_score, r.ai_feedback, r.human_reviewed, r.created_at, r.updated_at,
	                 COALESCE(q.content, ''), COALESCE(q.correct_answer, ''),
	                 u.display_name, u.class_number, s.created_at
	          FROM short_answer_records r
	          JOIN submissions s ON s.id = r.submission_id
	          JOIN users u ON u.id = s.student_id
	          LEFT JOIN questions q ON q.id = r.question_id`
	switch f {
	case ReviewPending:
		query += ` WHERE r.graded = 0`
	case ReviewAIGraded:
		query += ` WHERE r.method = 'ai' AND r.human_reviewed = 0`
	}
	query += ` ORDER BY r.created_at, r.id`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.ReviewItem
	for rows.Next() {
		var it model.ReviewItem
		rec, err := scanRecord(rows, &it.QuestionContent, &it.ReferenceAnswer, &it.StudentName, &it.ClassNumber, &it.SubmittedAt)
		if err != nil {
			return nil, err
		}
		it.Record = rec
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListPendingShortAnswers returns every ungraded short-answer record,
// oldest first.
func (s *Store) ListPendingShortAnswers() ([]model.ReviewItem, error) {
	return s.ListReviewItems(ReviewPending)
}

// GetSubmissionView assembles a submission with its test, the questions it
// answered and its short-answer records. Returns nil if not found.
func (s *Store) GetSubmissionView(id int64) (*model.SubmissionView, error) {
	sub, err := s.GetSubmission(id)
	if err != nil || sub == nil {
		return nil, err
	}
	test, err := s.GetTest(sub.TestID)
	if err != nil {
		return nil, fmt.Errorf("get test %d: %w", sub.TestID, err)
	}
	records, err := s.ShortAnswerRecords(id)
	if err != nil {
		return nil, fmt.Errorf("get short answers: %w", err)
	}

	seen := make(map[int64]bool)
	var ids []int64
	for qid := range sub.Answers {
		seen[qid] = true
		ids = append(ids, qid)
	}
	for _, r := range records {
		if !seen[r.QuestionID] {
			seen[r.QuestionID] = true
			ids = append(ids, r.QuestionID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	byID, err := s.GetQuestionsByIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("get questions: %w", err)
	}
	questions := make([]model.Question, 0, len(byID))
	for _, qid := range ids {
		if q, ok := byID[qid]; ok {
			questions = append(questions, q)
		}
	}

	return &model.SubmissionView{
		Submission: *sub,
		Test:       test,
		Questions:  questions,
		Records:    records,
	}, nil
}
