package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/pavelanni/examgrader/internal/model"
)

// CreateBank inserts a question bank.
func (s *Store) CreateBank(name string, t model.QuestionType) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO question_banks (name, question_type, created_at) VALUES (?, ?, ?)`,
		name, t, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetBank returns a bank with its question count, or nil if not found.
func (s *Store) GetBank(id int64) (*model.QuestionBank, error) {
	var b model.QuestionBank
	err := s.db.QueryRow(
		`SELECT b.id, b.name, b.question_type, b.created_at,
		        (SELECT COUNT(*) FROM questions q WHERE q.bank_id = b.id)
		 FROM question_banks b WHERE b.id = ?`, id,
	).Scan(&b.ID, &b.Name, &b.Type, &b.CreatedAt, &b.QuestionCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBanks returns all banks, optionally of one type. An empty type
// means all banks.
func (s *Store) ListBanks(t model.QuestionType) ([]model.QuestionBank, error) {
	query := `SELECT b.id, b.name, b.question_type, b.created_at,
	                 (SELECT COUNT(*) FROM questions q WHERE q.bank_id = b.id)
	          FROM question_banks b`
	var args []any
	if t != "" {
		query += ` WHERE b.question_type = ?`
		args = append(args, t)
	}
	query += ` ORDER BY b.created_at DESC, b.id DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var banks []model.QuestionBank
	for rows.Next() {
		var b model.QuestionBank
		if err := rows.Scan(&b.ID, &b.Name, &b.Type, &b.CreatedAt, &b.QuestionCount); err != nil {
			return nil, err
		}
		banks = append(banks, b)
	}
	return banks, rows.Err()
}

// RenameBank changes a bank's name.
func (s *Store) RenameBank(id int64, name string) error {
	res, err := s.db.Exec(`UPDATE question_banks SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// DeleteBank removes a bank and, by cascade, its questions.
func (s *Store) DeleteBank(id int64) error {
	res, err := s.db.Exec(`DELETE FROM question_banks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

const questionColumns = `id, bank_id, question_type, content, option_a, option_b, option_c, option_d, option_e,
	correct_answer, points, explanation, unordered, created_at`

func scanQuestion(row interface{ Scan(...any) error }) (model.Question, error) {
	var q model.Question
	err := row.Scan(&q.ID, &q.BankID, &q.Type, &q.Content,
		&q.OptionA, &q.OptionB, &q.OptionC, &q.OptionD, &q.OptionE,
		&q.CorrectAnswer, &q.Points, &q.Explanation, &q.UnorderedBlanks, &q.CreatedAt)
	return q, err
}

func collectQuestions(rows *sql.Rows) ([]model.Question, error) {
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func insertQuestion(exec interface {
	Exec(string, ...any) (sql.Result, error)
}, q model.Question) (int64, error) {
	res, err := exec.Exec(
		`INSERT INTO questions (bank_id, question_type, content, option_a, option_b, option_c, option_d, option_e,
		   correct_answer, points, explanation, unordered, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.BankID, q.Type, q.Content, q.OptionA, q.OptionB, q.OptionC, q.OptionD, q.OptionE,
		q.CorrectAnswer, q.Points, q.Explanation, q.UnorderedBlanks, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InsertQuestion stores a question.
func (s *Store) InsertQuestion(q model.Question) (int64, error) {
	return insertQuestion(s.db, q)
}

// InsertQuestions stores questions in one transaction.
func (s *Store) InsertQuestions(questions []model.Question) error {
	return s.withTx(func(tx *sql.Tx) error {
		for _, q := range questions {
			if _, err := insertQuestion(tx, q); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetQuestion returns a question by ID.
func (s *Store) GetQuestion(id int64) (model.Question, error) {
	return scanQuestion(s.db.QueryRow(`SELECT `+questionColumns+` FROM questions WHERE id = ?`, id))
}

// GetQuestionsByIDs returns the questions that exist among ids, keyed by ID.
func (s *Store) GetQuestionsByIDs(ids []int64) (map[int64]model.Question, error) {
	out := make(map[int64]model.Question, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.Query(`SELECT `+questionColumns+` FROM questions WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	questions, err := collectQuestions(rows)
	if err != nil {
		return nil, err
	}
	for _, q := range questions {
		out[q.ID] = q
	}
	return out, nil
}

// ListQuestions returns the questions of a bank.
func (s *Store) ListQuestions(bankID int64) ([]model.Question, error) {
	rows, err := s.db.Query(`SELECT `+questionColumns+` FROM questions WHERE bank_id = ? ORDER BY id`, bankID)
	if err != nil {
		return nil, err
	}
	return collectQuestions(rows)
}

// CountQuestions returns how many questions of type t a bank holds. A
// zero bankID counts across all banks.
func (s *Store) CountQuestions(bankID int64, t model.QuestionType) (int, error) {
	query, args := `SELECT COUNT(*) FROM questions WHERE question_type = ?`, []any{t}
	if bankID != 0 {
		query += ` AND bank_id = ?`
		args = append(args, bankID)
	}
	var count int
	err := s.db.QueryRow(query, args...).Scan(&count)
	return count, err
}

// RandomQuestions draws up to n distinct questions of type t from a bank,
// or from every bank of that type when bankID is zero.
func (s *Store) RandomQuestions(bankID int64, t model.QuestionType, n int) ([]model.Question, error) {
	if n <= 0 {
		return nil, nil
	}
	query, args := `SELECT `+questionColumns+` FROM questions WHERE question_type = ?`, []any{t}
	if bankID != 0 {
		query += ` AND bank_id = ?`
		args = append(args, bankID)
	}
	rows, err := s.db.Query(query+` ORDER BY RANDOM() LIMIT ?`, append(args, n)...)
	if err != nil {
		return nil, err
	}
	return collectQuestions(rows)
}

// UpdateQuestion replaces the editable fields of a question.
func (s *Store) UpdateQuestion(q model.Question) error {
	res, err := s.db.Exec(
		`UPDATE questions SET content = ?, option_a = ?, option_b = ?, option_c = ?, option_d = ?, option_e = ?,
		   correct_answer = ?, points = ?, explanation = ?, unordered = ?
		 WHERE id = ?`,
		q.Content, q.OptionA, q.OptionB, q.OptionC, q.OptionD, q.OptionE,
		q.CorrectAnswer, q.Points, q.Explanation, q.UnorderedBlanks, q.ID,
	)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// DeleteQuestion removes a question.
func (s *Store) DeleteQuestion(id int64) error {
	res, err := s.db.Exec(`DELETE FROM questions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// ClearQuestions deletes every question of type t and returns how many
// were removed.
func (s *Store) ClearQuestions(t model.QuestionType) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM questions WHERE question_type = ?`, t)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
