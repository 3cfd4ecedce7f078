package db

import "fmt"

func (s *Store) RecordAudit(action, details string, userID *int64, ip string) error {
	_, err := s.db.Exec(`INSERT INTO audit_logs(action, details, user_id, ip_address) VALUES (?, ?, ?, ?)`,
		action, details, userID, ip)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func (s *Store) ListAudit(limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT a.id, a.action, a.details, a.user_id, a.ip_address, a.timestamp, u.username
		FROM audit_logs a
		LEFT JOIN users u ON u.id = a.user_id
		ORDER BY a.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()
	entries := make([]AuditEntry, 0, limit)
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.Details, &e.UserID, &e.IPAddress, &e.Timestamp, &e.Username); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
