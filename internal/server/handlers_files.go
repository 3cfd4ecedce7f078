package server

import (
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ademmoe/jads/internal/auth"
	"github.com/ademmoe/jads/internal/db"
	"github.com/ademmoe/jads/internal/health"
)

// handleDashboard returns the role-scoped file list plus, for admins, the
// user roster, the audit trail, settings and host telemetry.
func (a *App) handleDashboard(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	records, err := a.reg.ListVisible(actor)
	if err != nil {
		a.writeRegistryError(w, err)
		return
	}
	files := make([]fileView, 0, len(records))
	for _, rec := range records {
		files = append(files, a.fileViewOf(rec))
	}

	payload := map[string]any{
		"user": map[string]any{
			"id":       actor.ID,
			"username": actor.Username,
			"role":     string(actor.Role),
		},
		"files": files,
	}

	if auth.IsAdmin(actor.Role) {
		users, err := a.store.ListUsers()
		if err != nil {
			a.writeRegistryError(w, err)
			return
		}
		uviews := make([]userView, 0, len(users))
		for _, u := range users {
			uviews = append(uviews, userView{ID: u.ID, Username: u.Username, Role: u.Role, CreatedAt: u.CreatedAt})
		}
		entries, err := a.store.ListAudit(50)
		if err != nil {
			a.writeRegistryError(w, err)
			return
		}
		aviews := make([]auditView, 0, len(entries))
		for _, e := range entries {
			v := auditView{ID: e.ID, Action: e.Action, Details: e.Details, IP: e.IPAddress, Timestamp: e.Timestamp}
			if e.Username != nil {
				v.Username = *e.Username
			}
			aviews = append(aviews, v)
		}
		payload["users"] = uviews
		payload["audit"] = aviews
		payload["settings"] = settingsView{
			BaseDomain:      a.store.GetString(db.SettingBaseDomain, ""),
			MaintenanceMode: a.store.GetBool(db.SettingMaintenance, false),
			MaxUploadSizeMB: a.store.GetInt(db.SettingMaxUploadSize, db.DefaultMaxUploadMB),
		}
		payload["health"] = health.Sample(a.opts.DataDir)
	}

	a.writeJSON(w, http.StatusOK, payload)
}

func (a *App) fileViewOf(rec db.FileRecord) fileView {
	v := fileView{
		ID:           rec.ID,
		OriginalName: rec.OriginalName,
		Slug:         rec.Slug,
		ShareURL:     a.shareURL(rec.Slug),
		Downloads:    rec.Downloads,
		Checksum:     rec.Checksum,
		ExpiresAt:    rec.ExpiresAt,
		UploadedAt:   rec.UploadedAt,
	}
	if rec.Uploader != nil {
		v.Uploader = *rec.Uploader
	}
	return v
}

// handleUpload stores one multipart file. The optional expiry_hours field
// is validated before any bytes are persisted.
func (a *App) handleUpload(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes())

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			a.writeError(w, http.StatusRequestEntityTooLarge, "file exceeds the upload size limit")
			return
		}
		a.writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	var expiresAt *time.Time
	raw := strings.TrimSpace(r.FormValue("expiry"))
	if raw == "" {
		raw = strings.TrimSpace(r.FormValue("expiry_hours"))
	}
	if raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			a.writeError(w, http.StatusBadRequest, "expiry must be a positive number of hours")
			return
		}
		t := time.Now().UTC().Add(time.Duration(hours) * time.Hour)
		expiresAt = &t
	}

	rec, err := a.reg.Upload(r.Context(), header.Filename, &actor.ID, expiresAt, file)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			a.writeError(w, http.StatusRequestEntityTooLarge, "file exceeds the upload size limit")
			return
		}
		a.writeRegistryError(w, err)
		return
	}
	a.audit(r, "File Upload", "Uploaded file: "+rec.OriginalName, &actor.ID)
	a.writeJSON(w, http.StatusCreated, a.fileViewOf(rec))
}

func (a *App) handleUpdateSlug(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid file id")
		return
	}
	if err := r.ParseForm(); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	newSlug := r.FormValue("slug")

	rec, err := a.reg.RenameSlug(id, newSlug, actor)
	if err != nil {
		a.writeRegistryError(w, err)
		return
	}
	a.audit(r, "Update Slug", "Updated slug for "+rec.OriginalName+" to "+strings.TrimSpace(newSlug), &actor.ID)
	a.writeJSON(w, http.StatusOK, map[string]any{
		"id":        rec.ID,
		"slug":      strings.TrimSpace(newSlug),
		"share_url": a.shareURL(strings.TrimSpace(newSlug)),
	})
}

func (a *App) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid file id")
		return
	}
	rec, err := a.reg.Delete(r.Context(), id, actor)
	if err != nil {
		a.writeRegistryError(w, err)
		return
	}
	a.audit(r, "Delete File", "Deleted file: "+rec.OriginalName, &actor.ID)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func contentDisposition(originalName string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": originalName})
}
