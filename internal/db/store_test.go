package db

import (
	"database/sql"
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSettingsTypedAccessors(t *testing.T) {
	s := openTestStore(t)

	if got := s.GetBool(SettingMaintenance, false); got {
		t.Fatalf("unset maintenance_mode should default to false")
	}
	if got := s.GetInt(SettingMaxUploadSize, DefaultMaxUploadMB); got != DefaultMaxUploadMB {
		t.Fatalf("unset max_upload_size should default to %d, got %d", DefaultMaxUploadMB, got)
	}

	if err := s.UpdateSettings(map[string]string{
		SettingMaintenance:   "true",
		SettingMaxUploadSize: "250",
	}); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	if !s.GetBool(SettingMaintenance, false) {
		t.Fatalf("maintenance_mode should read back true")
	}
	if got := s.GetInt(SettingMaxUploadSize, DefaultMaxUploadMB); got != 250 {
		t.Fatalf("max_upload_size = %d, want 250", got)
	}
	if got := s.GetInt(SettingBaseDomain, 7); got != 7 {
		t.Fatalf("unparseable int should fall back to default")
	}
}

func TestBootstrapTransaction(t *testing.T) {
	s := openTestStore(t)
	if s.IsSetup() {
		t.Fatalf("fresh store must not be setup")
	}
	if err := s.Bootstrap("https://drop.example.com", "root", "hash"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if !s.IsSetup() {
		t.Fatalf("store should be setup after bootstrap")
	}
	u, err := s.GetUserByUsername("root")
	if err != nil {
		t.Fatalf("admin user missing after bootstrap: %v", err)
	}
	if u.Role != "Admin" {
		t.Fatalf("bootstrap user role = %q, want Admin", u.Role)
	}

	// Second bootstrap hits the settings primary key and must leave no
	// stray user behind.
	if err := s.Bootstrap("https://other.example.com", "second", "hash"); err == nil {
		t.Fatalf("second bootstrap should fail")
	}
	if _, err := s.GetUserByUsername("second"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("failed bootstrap must not create a user, got %v", err)
	}
}

func TestFileUniqueConstraints(t *testing.T) {
	s := openTestStore(t)
	base := FileRecord{OriginalName: "report.pdf", StorageName: "1-aaa-report.pdf", Slug: "report.pdf", Checksum: "c1"}
	if _, err := s.CreateFile(base); err != nil {
		t.Fatalf("create file: %v", err)
	}

	dupSlug := FileRecord{OriginalName: "report.pdf", StorageName: "2-bbb-report.pdf", Slug: "report.pdf", Checksum: "c2"}
	_, err := s.CreateFile(dupSlug)
	if !IsUniqueViolationOn(err, "files.slug") {
		t.Fatalf("expected slug unique violation, got %v", err)
	}

	dupStorage := FileRecord{OriginalName: "other.pdf", StorageName: "1-aaa-report.pdf", Slug: "other.pdf", Checksum: "c3"}
	_, err = s.CreateFile(dupStorage)
	if !IsUniqueViolationOn(err, "files.filename") {
		t.Fatalf("expected filename unique violation, got %v", err)
	}
}

func TestUpdateFileSlugConflictKeepsOld(t *testing.T) {
	s := openTestStore(t)
	id1, err := s.CreateFile(FileRecord{OriginalName: "a.txt", StorageName: "sa", Slug: "a.txt", Checksum: "c"})
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := s.CreateFile(FileRecord{OriginalName: "b.txt", StorageName: "sb", Slug: "b.txt", Checksum: "c"}); err != nil {
		t.Fatalf("create b: %v", err)
	}

	err = s.UpdateFileSlug(id1, "b.txt")
	if !IsUniqueViolationOn(err, "files.slug") {
		t.Fatalf("expected slug conflict, got %v", err)
	}
	f, err := s.GetFileByID(id1)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if f.Slug != "a.txt" {
		t.Fatalf("slug changed on conflict: %q", f.Slug)
	}

	if err := s.UpdateFileSlug(id1, "fresh"); err != nil {
		t.Fatalf("rename to free slug: %v", err)
	}
	if _, err := s.GetFileBySlug("a.txt"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("old slug should no longer resolve")
	}
	if _, err := s.GetFileBySlug("fresh"); err != nil {
		t.Fatalf("new slug should resolve: %v", err)
	}
}

func TestDeleteFileIdempotent(t *testing.T) {
	s := openTestStore(t)
	id, err := s.CreateFile(FileRecord{OriginalName: "x", StorageName: "sx", Slug: "x", Checksum: "c"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	removed, err := s.DeleteFile(id)
	if err != nil || !removed {
		t.Fatalf("first delete: removed=%v err=%v", removed, err)
	}
	removed, err = s.DeleteFile(id)
	if err != nil {
		t.Fatalf("second delete errored: %v", err)
	}
	if removed {
		t.Fatalf("second delete should be a no-op")
	}
}

func TestListExpiredFiles(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	if _, err := s.CreateFile(FileRecord{OriginalName: "old", StorageName: "s-old", Slug: "old", Checksum: "c", ExpiresAt: &past}); err != nil {
		t.Fatalf("create old: %v", err)
	}
	if _, err := s.CreateFile(FileRecord{OriginalName: "new", StorageName: "s-new", Slug: "new", Checksum: "c", ExpiresAt: &future}); err != nil {
		t.Fatalf("create new: %v", err)
	}
	if _, err := s.CreateFile(FileRecord{OriginalName: "keep", StorageName: "s-keep", Slug: "keep", Checksum: "c"}); err != nil {
		t.Fatalf("create keep: %v", err)
	}

	expired, err := s.ListExpiredFiles(now)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 || expired[0].Slug != "old" {
		t.Fatalf("expected only the past-expiry record, got %+v", expired)
	}
}

func TestDeleteUserDetachesFilesAndAudit(t *testing.T) {
	s := openTestStore(t)
	uid, err := s.CreateUser("alice", "hash", "User")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	fid, err := s.CreateFile(FileRecord{OriginalName: "f", StorageName: "sf", Slug: "f", Checksum: "c", OwnerID: &uid})
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	if err := s.RecordAudit("File Upload", "Uploaded file: f", &uid, "127.0.0.1"); err != nil {
		t.Fatalf("record audit: %v", err)
	}

	if err := s.DeleteUser(uid); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	f, err := s.GetFileByID(fid)
	if err != nil {
		t.Fatalf("file should survive owner deletion: %v", err)
	}
	if f.OwnerID != nil {
		t.Fatalf("owner reference should be detached, got %v", *f.OwnerID)
	}
	entries, err := s.ListAudit(10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("audit entries should survive: %v (%d)", err, len(entries))
	}
	if entries[0].UserID != nil {
		t.Fatalf("audit actor should be detached")
	}
}

func TestIncrementDownloads(t *testing.T) {
	s := openTestStore(t)
	id, err := s.CreateFile(FileRecord{OriginalName: "d", StorageName: "sd", Slug: "d", Checksum: "c"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.IncrementDownloads(id); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	f, err := s.GetFileByID(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if f.Downloads != 3 {
		t.Fatalf("downloads = %d, want 3", f.Downloads)
	}
}
