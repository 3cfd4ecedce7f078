package server

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ademmoe/jads/internal/auth"
	"github.com/ademmoe/jads/internal/db"
)

func (a *App) handleAddUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireAdmin(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	if username == "" || password == "" {
		a.writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	rawRole := strings.TrimSpace(r.FormValue("role"))
	role := auth.RoleUser
	if rawRole != "" {
		role = auth.Role(rawRole)
		if !auth.ValidRole(role) {
			a.writeError(w, http.StatusBadRequest, "role must be Admin, Manager or User")
			return
		}
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := a.store.CreateUser(username, hash, string(role))
	if err != nil {
		if db.IsUniqueViolation(err) {
			a.writeError(w, http.StatusConflict, "username already exists")
			return
		}
		a.writeRegistryError(w, err)
		return
	}
	a.audit(r, "Add User", "Added user: "+username+" ("+string(role)+")", &actor.ID)
	a.writeJSON(w, http.StatusCreated, userView{ID: id, Username: username, Role: string(role)})
}

// handleDeleteUser removes an account. Self-deletion is rejected outright;
// owned files stay behind with no owner.
func (a *App) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if id == actor.ID {
		a.writeError(w, http.StatusBadRequest, "cannot delete your own account")
		return
	}
	if !auth.CanDeleteUser(actor, id) {
		a.writeError(w, http.StatusForbidden, "admin access required")
		return
	}
	target, err := a.store.GetUserByID(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			a.writeError(w, http.StatusNotFound, "user not found")
			return
		}
		a.writeRegistryError(w, err)
		return
	}
	if err := a.store.DeleteUser(id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			a.writeError(w, http.StatusNotFound, "user not found")
			return
		}
		a.writeRegistryError(w, err)
		return
	}
	a.audit(r, "Delete User", "Deleted user: "+target.Username, &actor.ID)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// handleUpdateSettings applies the submitted keys in one transaction.
// Unknown keys are rejected before anything is written.
func (a *App) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireAdmin(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid form")
		return
	}

	values := map[string]string{}
	if r.Form.Has("base_domain") {
		base := strings.TrimRight(strings.TrimSpace(r.FormValue("base_domain")), "/")
		if base == "" {
			a.writeError(w, http.StatusBadRequest, "base_domain cannot be empty")
			return
		}
		values[db.SettingBaseDomain] = base
	}
	if r.Form.Has("maintenance_mode") {
		b, err := strconv.ParseBool(r.FormValue("maintenance_mode"))
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "maintenance_mode must be true or false")
			return
		}
		values[db.SettingMaintenance] = strconv.FormatBool(b)
	}
	if r.Form.Has("max_upload_size") {
		mb, err := strconv.ParseInt(r.FormValue("max_upload_size"), 10, 64)
		if err != nil || mb <= 0 {
			a.writeError(w, http.StatusBadRequest, "max_upload_size must be a positive integer (MB)")
			return
		}
		values[db.SettingMaxUploadSize] = strconv.FormatInt(mb, 10)
	}
	if len(values) == 0 {
		a.writeError(w, http.StatusBadRequest, "no settings submitted")
		return
	}

	if err := a.store.UpdateSettings(values); err != nil {
		a.writeRegistryError(w, err)
		return
	}
	a.audit(r, "Update Settings", "Updated settings: "+strings.Join(settingKeys(values), ", "), &actor.ID)
	a.writeJSON(w, http.StatusOK, settingsView{
		BaseDomain:      a.store.GetString(db.SettingBaseDomain, ""),
		MaintenanceMode: a.store.GetBool(db.SettingMaintenance, false),
		MaxUploadSizeMB: a.store.GetInt(db.SettingMaxUploadSize, db.DefaultMaxUploadMB),
	})
}

func settingKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	return keys
}
