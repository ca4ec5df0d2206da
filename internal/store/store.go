package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const (
	defaultSessionTTL        = 24 * time.Hour
	defaultStudentSessionTTL = 4 * time.Hour
)

type Store struct {
	db                *sql.DB
	sessionTTL        time.Duration
	studentSessionTTL time.Duration
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := NewFromDB(db)
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewFromDB wraps an already opened database without migrating it.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db, sessionTTL: defaultSessionTTL, studentSessionTTL: defaultStudentSessionTTL}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SetSessionTTL sets the lifetime of new teacher and admin sessions.
func (s *Store) SetSessionTTL(d time.Duration) {
	if d > 0 {
		s.sessionTTL = d
	}
}

// SetStudentSessionTTL sets the lifetime of new student sessions.
func (s *Store) SetStudentSessionTTL(d time.Duration) {
	if d > 0 {
		s.studentSessionTTL = d
	}
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		class_number TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS question_banks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		question_type TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bank_id INTEGER NOT NULL,
		question_type TEXT NOT NULL,
		content TEXT NOT NULL,
		option_a TEXT NOT NULL DEFAULT '',
		option_b TEXT NOT NULL DEFAULT '',
		option_c TEXT NOT NULL DEFAULT '',
		option_d TEXT NOT NULL DEFAULT '',
		option_e TEXT NOT NULL DEFAULT '',
		correct_answer TEXT NOT NULL DEFAULT '',
		points INTEGER NOT NULL DEFAULT 1,
		explanation TEXT NOT NULL DEFAULT '',
		unordered INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (bank_id) REFERENCES question_banks(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_questions_bank ON questions(bank_id, question_type);

	CREATE TABLE IF NOT EXISTS tests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		composition TEXT NOT NULL,
		total_score INTEGER NOT NULL DEFAULT 0,
		grading_method TEXT NOT NULL DEFAULT 'manual',
		allow_student_choice INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 0,
		preset_id INTEGER,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS test_presets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		composition TEXT NOT NULL,
		grading_method TEXT NOT NULL DEFAULT 'manual',
		allow_student_choice INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ref TEXT NOT NULL DEFAULT '',
		test_id INTEGER NOT NULL,
		student_id INTEGER NOT NULL,
		answers TEXT NOT NULL DEFAULT '{}',
		score REAL NOT NULL DEFAULT 0,
		ip_address TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (test_id) REFERENCES tests(id) ON DELETE CASCADE,
		FOREIGN KEY (student_id) REFERENCES users(id)
	);
	CREATE INDEX IF NOT EXISTS idx_submissions_student ON submissions(student_id);

	CREATE TABLE IF NOT EXISTS short_answer_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		submission_id INTEGER NOT NULL,
		question_id INTEGER NOT NULL,
		student_answer TEXT NOT NULL DEFAULT '',
		score INTEGER,
		comment TEXT NOT NULL DEFAULT '',
		graded INTEGER NOT NULL DEFAULT 0,
		method TEXT NOT NULL DEFAULT 'manual',
		ai_score INTEGER,
		ai_feedback TEXT NOT NULL DEFAULT '',
		human_reviewed INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (submission_id, question_id),
		FOREIGN KEY (submission_id) REFERENCES submissions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_records_pending ON short_answer_records(graded, created_at);

	CREATE TABLE IF NOT EXISTS student_history (
		student_id INTEGER PRIMARY KEY,
		test_count INTEGER NOT NULL DEFAULT 0,
		total_score REAL NOT NULL DEFAULT 0,
		average_score REAL NOT NULL DEFAULT 0,
		highest_score REAL NOT NULL DEFAULT 0,
		lowest_score REAL NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (student_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// withTx runs fn in a transaction. fn must use only tx.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
