package store

import (
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/examgrader/internal/model"
)

const userColumns = `id, username, display_name, class_number, password_hash, role, active, created_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.ClassNumber, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user.
func (s *Store) CreateUser(u model.User) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO users (username, display_name, class_number, password_hash, role, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.DisplayName, u.ClassNumber, u.PasswordHash, u.Role, u.Active, time.Now(),
	)
	if err != nil {
		slog.Error("failed to create user", "username", u.Username, "error", err)
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	slog.Info("created user", "id", id, "username", u.Username, "role", u.Role)
	return id, nil
}

// GetUserByUsername returns a user by username.
func (s *Store) GetUserByUsername(username string) (*model.User, error) {
	u, err := scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// GetUserByID returns a user by ID.
func (s *Store) GetUserByID(id int64) (*model.User, error) {
	u, err := scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// StudentUsername is the username of a student identified by name and class.
func StudentUsername(name, classNumber string) string {
	return strings.TrimSpace(name) + "_" + strings.TrimSpace(classNumber)
}

// GetOrCreateStudent returns the student with the given name and class,
// creating the account on first visit. Students have no password.
func (s *Store) GetOrCreateStudent(name, classNumber string) (*model.User, error) {
	username := StudentUsername(name, classNumber)
	u, err := s.GetUserByUsername(username)
	if err != nil || u != nil {
		return u, err
	}
	id, err := s.CreateUser(model.User{
		Username:    username,
		DisplayName: strings.TrimSpace(name),
		ClassNumber: strings.TrimSpace(classNumber),
		Role:        model.UserRoleStudent,
		Active:      true,
	})
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(id)
}

// ListUsers returns all users.
func (s *Store) ListUsers() ([]model.User, error) {
	rows, err := s.db.Query(`SELECT ` + userColumns + ` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdatePassword replaces a user's password hash and signs the user out
// everywhere.
func (s *Store) UpdatePassword(id int64, hash string) error {
	if _, err := s.db.Exec(`UPDATE users SET password_hash = ? WHERE id = ?`, hash, id); err != nil {
		return err
	}
	_, err := s.RevokeUserSessions(id)
	return err
}

// ToggleUserActive flips the active flag on a user. Disabling a user ends
// their sessions.
func (s *Store) ToggleUserActive(id int64) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE users SET active = NOT active WHERE id = ?`, id); err != nil {
			return err
		}
		_, err := tx.Exec(
			`DELETE FROM auth_sessions WHERE user_id = ? AND (SELECT active FROM users WHERE id = ?) = 0`, id, id)
		return err
	})
}

// UserCount returns the total number of users.
func (s *Store) UserCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}
