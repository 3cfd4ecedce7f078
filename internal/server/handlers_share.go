package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/ademmoe/jads/internal/registry"
)

// handleShare serves a public short-link download. No authentication: the
// slug is the capability. The download counter is bumped only once the
// blob is actually open.
func (a *App) handleShare(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	rec, err := a.reg.ResolveBySlug(slug)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			a.writeError(w, http.StatusNotFound, "not found")
			return
		}
		a.writeRegistryError(w, err)
		return
	}
	rc, err := a.reg.Open(r.Context(), rec)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			// Record exists but the blob is gone; same 404 as an
			// unknown slug.
			a.logger.Warn("blob missing for registered file", "file_id", rec.ID, "slug", slug)
			a.writeError(w, http.StatusNotFound, "not found")
			return
		}
		a.writeRegistryError(w, err)
		return
	}
	defer rc.Close()

	a.reg.IncrementDownloads(rec.ID)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", contentDisposition(rec.OriginalName))
	if _, err := io.Copy(w, rc); err != nil {
		a.logger.Debug("download aborted", "file_id", rec.ID, "error", err)
	}
}
