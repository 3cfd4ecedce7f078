package db

import (
	"database/sql"
	"fmt"
	"strings"
)

func (s *Store) CreateUser(username, passwordHash, role string) (int64, error) {
	username = strings.TrimSpace(username)
	res, err := s.db.Exec(`INSERT INTO users(username, password_hash, role) VALUES (?, ?, ?)`, username, passwordHash, role)
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("user id: %w", err)
	}
	return id, nil
}

func (s *Store) GetUserByUsername(username string) (User, error) {
	var u User
	err := s.db.QueryRow(`SELECT id, username, password_hash, role, created_at FROM users WHERE username = ?`, strings.TrimSpace(username)).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *Store) GetUserByID(id int64) (User, error) {
	var u User
	err := s.db.QueryRow(`SELECT id, username, password_hash, role, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *Store) ListUsers() ([]User, error) {
	rows, err := s.db.Query(`SELECT id, username, password_hash, role, created_at FROM users ORDER BY username ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// DeleteUser removes the user row. Owned files and audit entries are
// detached (user_id set to NULL) by the foreign keys, not deleted.
func (s *Store) DeleteUser(id int64) error {
	res, err := s.db.Exec(`DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) SetUserPassword(id int64, passwordHash string) error {
	res, err := s.db.Exec(`UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, id)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Bootstrap performs the one-time setup transaction: base domain, the
// is_setup flag and the first Admin user land together or not at all.
func (s *Store) Bootstrap(baseDomain, username, passwordHash string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin bootstrap: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO settings(key, value) VALUES (?, ?)`, SettingBaseDomain, baseDomain); err != nil {
		return fmt.Errorf("bootstrap base domain: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO settings(key, value) VALUES (?, ?)`, SettingIsSetup, "true"); err != nil {
		return fmt.Errorf("bootstrap setup flag: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO users(username, password_hash, role) VALUES (?, ?, 'Admin')`, strings.TrimSpace(username), passwordHash); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	return tx.Commit()
}
