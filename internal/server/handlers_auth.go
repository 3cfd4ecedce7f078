package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/ademmoe/jads/internal/auth"
	"github.com/ademmoe/jads/internal/db"
	"github.com/ademmoe/jads/internal/util"
)

func (a *App) handleSetupStatus(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{"setup_required": !a.store.IsSetup()})
}

// handleSetup bootstraps the instance: base domain, setup flag and the
// first Admin account land in one transaction. The setup gate blocks this
// endpoint once is_setup is true.
func (a *App) handleSetup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	baseDomain := strings.TrimRight(strings.TrimSpace(r.FormValue("base_domain")), "/")
	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	if baseDomain == "" || username == "" || password == "" {
		a.writeError(w, http.StatusBadRequest, "base_domain, username and password are required")
		return
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.store.Bootstrap(baseDomain, username, hash); err != nil {
		a.logger.Error("bootstrap failed", "error", err)
		a.writeError(w, http.StatusInternalServerError, "setup failed")
		return
	}
	a.logger.Info("instance set up", "admin", username, "base_domain", baseDomain)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (a *App) handleLoginStatus(w http.ResponseWriter, r *http.Request) {
	if a.currentUser(r) != nil {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
}

// handleLogin verifies credentials and issues a session cookie. Wrong
// username and wrong password are indistinguishable to the caller.
func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
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

	user, err := a.store.GetUserByUsername(username)
	if err != nil {
		a.failLogin(w, r, username)
		return
	}
	ok, err := auth.VerifyPassword(user.PasswordHash, password)
	if err != nil || !ok {
		a.failLogin(w, r, username)
		return
	}

	token, err := util.RandomToken(32)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "session failure")
		return
	}
	sess := db.Session{
		Token:     token,
		UserID:    user.ID,
		IP:        remoteIP(r),
		UserAgent: r.UserAgent(),
		ExpiresAt: time.Now().UTC().Add(a.opts.SessionTTL),
	}
	if err := a.store.CreateSession(sess); err != nil {
		a.writeError(w, http.StatusInternalServerError, "session failure")
		return
	}
	a.setSessionCookie(w, sess)
	a.audit(r, "Login", "User logged in: "+user.Username, &user.ID)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (a *App) failLogin(w http.ResponseWriter, r *http.Request, username string) {
	a.audit(r, "Login Failed", "Failed login attempt for: "+username, nil)
	a.writeError(w, http.StatusUnauthorized, "invalid credentials")
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, _ := r.Cookie(sessionCookieName); cookie != nil && cookie.Value != "" {
		_ = a.store.DeleteSession(cookie.Value)
	}
	a.clearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
