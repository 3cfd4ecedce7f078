package db

import (
	"database/sql"
	"fmt"
	"time"
)

func (s *Store) CreateSession(sess Session) error {
	_, err := s.db.Exec(`INSERT INTO sessions(token, user_id, ip, user_agent, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		sess.Token, sess.UserID, sess.IP, sess.UserAgent, sess.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(token string) (Session, error) {
	var sess Session
	err := s.db.QueryRow(`SELECT token, user_id, ip, user_agent, expires_at, created_at
		FROM sessions WHERE token = ?`, token).
		Scan(&sess.Token, &sess.UserID, &sess.IP, &sess.UserAgent, &sess.ExpiresAt, &sess.CreatedAt)
	if err != nil {
		return Session{}, err
	}
	if time.Now().After(sess.ExpiresAt) {
		_ = s.DeleteSession(token)
		return Session{}, sql.ErrNoRows
	}
	return sess, nil
}

func (s *Store) DeleteSession(token string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) PurgeExpiredSessions(asOf time.Time) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at < ?`, asOf.UTC())
	if err != nil {
		return fmt.Errorf("purge sessions: %w", err)
	}
	return nil
}
