// Package registry is the file lifecycle engine: it owns the mapping from
// stored blobs to metadata and gates every mutation through the access
// control policy. Record and blob removal always travel together.
package registry

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ademmoe/jads/internal/auth"
	"github.com/ademmoe/jads/internal/blob"
	"github.com/ademmoe/jads/internal/db"
)

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("file not found")
	ErrSlugConflict        = errors.New("slug already in use")
	ErrStorageNameConflict = errors.New("storage name already in use")
	ErrValidation          = errors.New("invalid input")
)

type Registry struct {
	store  *db.Store
	blobs  blob.Store
	logger *slog.Logger
}

func New(store *db.Store, blobs blob.Store, logger *slog.Logger) *Registry {
	return &Registry{store: store, blobs: blobs, logger: logger}
}

// NewStorageName builds a collision-free internal name for a fresh blob:
// millisecond timestamp plus a uuid fragment, with the display name
// reduced to a safe suffix.
func NewStorageName(originalName string) string {
	id := uuid.New().String()
	return fmt.Sprintf("%d-%s-%s", time.Now().UnixMilli(), id[:8], sanitizeName(originalName))
}

func sanitizeName(name string) string {
	if i := strings.LastIndexAny(name, "/\\"); i >= 0 {
		name = name[i+1:]
	}
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	mapped = strings.Trim(mapped, ".")
	if mapped == "" {
		mapped = "file"
	}
	return mapped
}

// Register creates the metadata record for an already-stored blob. The slug
// starts out as the original display name. Storage names are expected to be
// pre-disambiguated by the caller, so ErrStorageNameConflict is rare but
// must be handled.
func (r *Registry) Register(originalName, storageName string, ownerID *int64, checksum string, expiresAt *time.Time) (db.FileRecord, error) {
	if strings.TrimSpace(originalName) == "" {
		return db.FileRecord{}, fmt.Errorf("%w: empty file name", ErrValidation)
	}
	rec := db.FileRecord{
		OriginalName: originalName,
		StorageName:  storageName,
		Slug:         originalName,
		OwnerID:      ownerID,
		Checksum:     checksum,
		ExpiresAt:    expiresAt,
	}
	id, err := r.store.CreateFile(rec)
	if err != nil {
		if db.IsUniqueViolationOn(err, "files.slug") {
			return db.FileRecord{}, fmt.Errorf("slug %q: %w", rec.Slug, ErrSlugConflict)
		}
		if db.IsUniqueViolationOn(err, "files.filename") {
			return db.FileRecord{}, fmt.Errorf("storage name %q: %w", storageName, ErrStorageNameConflict)
		}
		return db.FileRecord{}, err
	}
	return r.store.GetFileByID(id)
}

// Upload streams src into the blob store under a fresh storage name,
// checksums the bytes on the way through, and registers the record. A
// failed registration removes the blob again so no partial upload is ever
// observable.
func (r *Registry) Upload(ctx context.Context, originalName string, ownerID *int64, expiresAt *time.Time, src io.Reader) (db.FileRecord, error) {
	storageName := NewStorageName(originalName)
	h := sha256.New()
	if _, err := r.blobs.Put(ctx, storageName, io.TeeReader(src, h)); err != nil {
		return db.FileRecord{}, fmt.Errorf("store upload: %w", err)
	}
	checksum := hex.EncodeToString(h.Sum(nil))

	rec, err := r.Register(originalName, storageName, ownerID, checksum, expiresAt)
	if err != nil {
		if derr := r.blobs.Delete(ctx, storageName); derr != nil {
			r.logger.Warn("orphan blob left after failed registration", "storage_name", storageName, "error", derr)
		}
		return db.FileRecord{}, err
	}
	return rec, nil
}

// RenameSlug updates the public retrieval key. On conflict the old slug is
// retained and ErrSlugConflict surfaces to the caller.
func (r *Registry) RenameSlug(fileID int64, newSlug string, actor auth.Actor) (db.FileRecord, error) {
	newSlug = strings.TrimSpace(newSlug)
	if newSlug == "" {
		return db.FileRecord{}, fmt.Errorf("%w: empty slug", ErrValidation)
	}
	rec, err := r.store.GetFileByID(fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.FileRecord{}, ErrNotFound
		}
		return db.FileRecord{}, err
	}
	if !auth.CanModify(actor, rec.OwnerID) {
		return db.FileRecord{}, ErrUnauthorized
	}
	if err := r.store.UpdateFileSlug(fileID, newSlug); err != nil {
		if db.IsUniqueViolationOn(err, "files.slug") {
			return db.FileRecord{}, fmt.Errorf("slug %q: %w", newSlug, ErrSlugConflict)
		}
		if errors.Is(err, sql.ErrNoRows) {
			return db.FileRecord{}, ErrNotFound
		}
		return db.FileRecord{}, err
	}
	return rec, nil
}

// Delete removes blob and record for a file the actor may modify. Returns
// the record as it was for the caller's audit trail.
func (r *Registry) Delete(ctx context.Context, fileID int64, actor auth.Actor) (db.FileRecord, error) {
	rec, err := r.store.GetFileByID(fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.FileRecord{}, ErrNotFound
		}
		return db.FileRecord{}, err
	}
	if !auth.CanModify(actor, rec.OwnerID) {
		return db.FileRecord{}, ErrUnauthorized
	}
	if err := r.remove(ctx, rec); err != nil {
		return db.FileRecord{}, err
	}
	return rec, nil
}

// remove is the single teardown path shared by manual deletes and the
// expiry sweep. Missing blobs and already-deleted records are no-ops.
func (r *Registry) remove(ctx context.Context, rec db.FileRecord) error {
	if err := r.blobs.Delete(ctx, rec.StorageName); err != nil {
		// Best effort: the record removal below keeps the registry
		// consistent even when the blob lingers.
		r.logger.Warn("blob delete failed", "storage_name", rec.StorageName, "error", err)
	}
	if _, err := r.store.DeleteFile(rec.ID); err != nil {
		return err
	}
	return nil
}

// ResolveBySlug is the public, unauthenticated lookup behind short links.
func (r *Registry) ResolveBySlug(slug string) (db.FileRecord, error) {
	rec, err := r.store.GetFileBySlug(slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.FileRecord{}, ErrNotFound
		}
		return db.FileRecord{}, err
	}
	return rec, nil
}

// Open returns the stored bytes for a resolved record.
func (r *Registry) Open(ctx context.Context, rec db.FileRecord) (io.ReadCloser, error) {
	rc, err := r.blobs.Open(ctx, rec.StorageName)
	if err != nil {
		if errors.Is(err, blob.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rc, nil
}

// IncrementDownloads is best effort; failures never reach the caller.
func (r *Registry) IncrementDownloads(fileID int64) {
	if err := r.store.IncrementDownloads(fileID); err != nil {
		r.logger.Warn("download counter bump failed", "file_id", fileID, "error", err)
	}
}

// ListVisible returns every record for Admin/Manager actors and only the
// actor's own files otherwise.
func (r *Registry) ListVisible(actor auth.Actor) ([]db.FileRecord, error) {
	if actor.Role == auth.RoleAdmin || actor.Role == auth.RoleManager {
		return r.store.ListFiles()
	}
	return r.store.ListFilesByOwner(actor.ID)
}

// SweepExpired retires every record whose expiry is at or before asOf,
// acting with system authority. Per-item failures are logged and skipped;
// each successful removal appends one "Expired" audit entry with no actor.
func (r *Registry) SweepExpired(ctx context.Context, asOf time.Time) int {
	expired, err := r.store.ListExpiredFiles(asOf)
	if err != nil {
		r.logger.Error("expiry scan failed", "error", err)
		return 0
	}
	removed := 0
	for _, rec := range expired {
		if err := r.remove(ctx, rec); err != nil {
			r.logger.Error("expired file removal failed", "file_id", rec.ID, "error", err)
			continue
		}
		removed++
		r.logger.Info("deleted expired file", "file_id", rec.ID, "name", rec.OriginalName)
		if err := r.store.RecordAudit("Expired", fmt.Sprintf("Deleted expired file: %s", rec.OriginalName), nil, ""); err != nil {
			r.logger.Warn("audit write failed", "action", "Expired", "error", err)
		}
	}
	return removed
}
