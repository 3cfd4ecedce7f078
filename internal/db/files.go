package db

import (
	"database/sql"
	"fmt"
	"time"
)

const fileColumns = `f.id, f.original_name, f.filename, f.slug, f.user_id, f.downloads, f.checksum, f.expires_at, f.uploaded_at`

func (s *Store) scanFile(scan func(dest ...any) error, withUploader bool) (FileRecord, error) {
	var f FileRecord
	var expires sqlNullTime
	dest := []any{&f.ID, &f.OriginalName, &f.StorageName, &f.Slug, &f.OwnerID, &f.Downloads, &f.Checksum, &expires, &f.UploadedAt}
	if withUploader {
		dest = append(dest, &f.Uploader)
	}
	if err := scan(dest...); err != nil {
		return FileRecord{}, err
	}
	if expires.Valid {
		t := expires.Time
		f.ExpiresAt = &t
	}
	return f, nil
}

func (s *Store) CreateFile(f FileRecord) (int64, error) {
	var expires any
	if f.ExpiresAt != nil {
		expires = f.ExpiresAt.UTC()
	}
	res, err := s.db.Exec(`INSERT INTO files(original_name, filename, slug, user_id, checksum, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.OriginalName, f.StorageName, f.Slug, f.OwnerID, f.Checksum, expires)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("file id: %w", err)
	}
	return id, nil
}

func (s *Store) GetFileByID(id int64) (FileRecord, error) {
	row := s.db.QueryRow(`SELECT `+fileColumns+` FROM files f WHERE f.id = ?`, id)
	return s.scanFile(row.Scan, false)
}

func (s *Store) GetFileBySlug(slug string) (FileRecord, error) {
	row := s.db.QueryRow(`SELECT `+fileColumns+` FROM files f WHERE f.slug = ?`, slug)
	return s.scanFile(row.Scan, false)
}

func (s *Store) UpdateFileSlug(id int64, slug string) error {
	res, err := s.db.Exec(`UPDATE files SET slug = ? WHERE id = ?`, slug, id)
	if err != nil {
		return fmt.Errorf("update slug: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteFile removes the record and reports whether a row was present, so
// callers can treat a second delete as a no-op.
func (s *Store) DeleteFile(id int64) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete file: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// IncrementDownloads bumps the counter in a single statement; the store's
// row-level atomicity is the only guarantee (best effort, never exact-once).
func (s *Store) IncrementDownloads(id int64) error {
	_, err := s.db.Exec(`UPDATE files SET downloads = downloads + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("increment downloads: %w", err)
	}
	return nil
}

func (s *Store) listFiles(query string, args ...any) ([]FileRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	out := make([]FileRecord, 0)
	for rows.Next() {
		f, err := s.scanFile(rows.Scan, true)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) ListFiles() ([]FileRecord, error) {
	return s.listFiles(`SELECT ` + fileColumns + `, u.username FROM files f
		LEFT JOIN users u ON u.id = f.user_id ORDER BY f.id DESC`)
}

func (s *Store) ListFilesByOwner(ownerID int64) ([]FileRecord, error) {
	return s.listFiles(`SELECT `+fileColumns+`, u.username FROM files f
		LEFT JOIN users u ON u.id = f.user_id WHERE f.user_id = ? ORDER BY f.id DESC`, ownerID)
}

// ListExpiredFiles returns records whose expiry is at or before asOf. The
// sweeper passes one clock read per cycle so every record in a pass is
// judged against the same instant.
func (s *Store) ListExpiredFiles(asOf time.Time) ([]FileRecord, error) {
	rows, err := s.db.Query(`SELECT `+fileColumns+` FROM files f
		WHERE f.expires_at IS NOT NULL AND f.expires_at <= ? ORDER BY f.id ASC`, asOf.UTC())
	if err != nil {
		return nil, fmt.Errorf("list expired files: %w", err)
	}
	defer rows.Close()

	out := make([]FileRecord, 0)
	for rows.Next() {
		f, err := s.scanFile(rows.Scan, false)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
