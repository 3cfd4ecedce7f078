package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// Recognized settings keys. Absence means unset; callers pass defaults.
const (
	SettingIsSetup       = "is_setup"
	SettingBaseDomain    = "base_domain"
	SettingMaintenance   = "maintenance_mode"
	SettingMaxUploadSize = "max_upload_size"
)

const DefaultMaxUploadMB = 100

func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}

// GetString returns the setting value or def when the key is unset.
func (s *Store) GetString(key, def string) string {
	v, err := s.GetSetting(key)
	if err != nil {
		return def
	}
	return v
}

func (s *Store) GetBool(key string, def bool) bool {
	v, err := s.GetSetting(key)
	if err != nil {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func (s *Store) GetInt(key string, def int64) int64 {
	v, err := s.GetSetting(key)
	if err != nil {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO settings(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// UpdateSettings writes several keys in one transaction so a partial
// settings update is never observable.
func (s *Store) UpdateSettings(values map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin settings update: %w", err)
	}
	defer tx.Rollback()
	for k, v := range values {
		if _, err := tx.Exec(`INSERT INTO settings(key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return fmt.Errorf("set setting %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (s *Store) IsSetup() bool {
	v, err := s.GetSetting(SettingIsSetup)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return false
		}
		return false
	}
	b, _ := strconv.ParseBool(v)
	return b
}
