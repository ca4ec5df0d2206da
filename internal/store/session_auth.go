package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/pavelanni/examgrader/internal/model"
)

// ErrUserDisabled is returned when a session is requested for an inactive user.
var ErrUserDisabled = errors.New("user is disabled")

func (s *Store) sessionTTLFor(role model.UserRole) time.Duration {
	if role == model.UserRoleStudent {
		return s.studentSessionTTL
	}
	return s.sessionTTL
}

// CreateAuthSession opens a session for u. Student sessions last for one
// sitting; staff sessions use the longer login lifetime. The role is kept on
// the session so a later role change invalidates it.
func (s *Store) CreateAuthSession(u *model.User) (string, error) {
	if !u.Active {
		return "", ErrUserDisabled
	}
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	now := time.Now()
	_, err = s.db.Exec(
		`INSERT INTO auth_sessions (id, user_id, role, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		token, u.ID, u.Role, now, now.Add(s.sessionTTLFor(u.Role)),
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

// GetAuthSession returns the live session for token, or nil if it is
// unknown, expired, or belongs to a disabled user.
func (s *Store) GetAuthSession(token string) (*model.AuthSession, error) {
	var (
		sess   model.AuthSession
		active bool
	)
	err := s.db.QueryRow(
		`SELECT a.id, a.user_id, a.role, a.created_at, a.expires_at, u.active
		 FROM auth_sessions a JOIN users u ON u.id = a.user_id
		 WHERE a.id = ?`, token,
	).Scan(&sess.ID, &sess.UserID, &sess.Role, &sess.CreatedAt, &sess.ExpiresAt, &active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !active || time.Now().After(sess.ExpiresAt) {
		_ = s.DeleteAuthSession(token)
		return nil, nil
	}
	return &sess, nil
}

// DeleteAuthSession removes a session token.
func (s *Store) DeleteAuthSession(token string) error {
	_, err := s.db.Exec(`DELETE FROM auth_sessions WHERE id = ?`, token)
	return err
}

// RevokeUserSessions ends every session of a user.
func (s *Store) RevokeUserSessions(userID int64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM auth_sessions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CleanupExpiredSessions removes expired sessions and reports how many.
func (s *Store) CleanupExpiredSessions() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM auth_sessions WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
