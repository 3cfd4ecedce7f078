// Package server is the HTTP surface: session auth, the setup and
// maintenance gates, the dashboard API and the public short-link
// downloads.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ademmoe/jads/internal/auth"
	"github.com/ademmoe/jads/internal/blob"
	"github.com/ademmoe/jads/internal/config"
	"github.com/ademmoe/jads/internal/db"
	"github.com/ademmoe/jads/internal/registry"
)

const sessionCookieName = "jads_session"

const defaultSessionTTL = 24 * time.Hour

type ctxKey string

const ctxUserKey ctxKey = "user"

// maintenanceAllowed are the paths that stay reachable while maintenance
// mode is on, so an admin can still log in and turn it back off.
var maintenanceAllowed = map[string]struct{}{
	"/dashboard": {},
	"/login":     {},
	"/setup":     {},
	"/logout":    {},
	"/upload":    {},
	"/add-user":  {},
}

type App struct {
	opts   Options
	store  *db.Store
	reg    *registry.Registry
	logger *slog.Logger
}

// Run opens the store and blob backend, starts the expiry sweeper and
// serves HTTP until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	store, err := db.Open(opts.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	handlerLevel := new(slog.LevelVar)
	handlerLevel.Set(parseLogLevel(opts.LogLevel))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: handlerLevel}))

	blobs, err := openBlobStore(ctx, opts)
	if err != nil {
		return err
	}

	reg := registry.New(store, blobs, logger)
	app := newApp(opts, store, reg, logger)

	sweeper := registry.NewSweeper(reg, store, opts.SweepInterval, logger)
	go sweeper.Run(ctx)

	if !store.IsSetup() {
		logger.Info("instance not yet set up; first visit will be redirected to /setup")
	}

	addr := net.JoinHostPort(opts.Bind, strconv.Itoa(opts.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           app.handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func openBlobStore(ctx context.Context, opts Options) (blob.Store, error) {
	switch opts.Storage {
	case "", config.StorageDisk:
		return blob.NewDiskStore(uploadsDir(opts.DataDir))
	case config.StorageMinio:
		return blob.NewMinioStore(ctx, blob.MinioOptions{
			Endpoint:  opts.Minio.Endpoint,
			AccessKey: opts.Minio.AccessKey,
			SecretKey: opts.Minio.SecretKey,
			Bucket:    opts.Minio.Bucket,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Storage)
	}
}

func uploadsDir(dataDir string) string {
	return filepath.Join(dataDir, "uploads")
}

func newApp(opts Options, store *db.Store, reg *registry.Registry, logger *slog.Logger) *App {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = defaultSessionTTL
	}
	return &App{opts: opts, store: store, reg: reg, logger: logger}
}

func (a *App) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", a.handleRoot)
	mux.HandleFunc("GET /setup", a.handleSetupStatus)
	mux.HandleFunc("POST /setup", a.handleSetup)
	mux.HandleFunc("GET /login", a.handleLoginStatus)
	mux.HandleFunc("POST /login", a.handleLogin)
	mux.HandleFunc("GET /logout", a.handleLogout)

	mux.HandleFunc("GET /dashboard", a.handleDashboard)
	mux.HandleFunc("POST /upload", a.handleUpload)
	mux.HandleFunc("POST /update-slug/{id}", a.handleUpdateSlug)
	mux.HandleFunc("GET /delete-file/{id}", a.handleDeleteFile)

	mux.HandleFunc("POST /add-user", a.handleAddUser)
	mux.HandleFunc("GET /delete-user/{id}", a.handleDeleteUser)
	mux.HandleFunc("POST /update-settings", a.handleUpdateSettings)

	mux.HandleFunc("GET /{slug}", a.handleShare)

	return a.recoverer(a.securityHeaders(a.requestLogger(a.sessionMiddleware(a.setupGate(a.maintenanceGate(mux))))))
}

func (a *App) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func (a *App) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.logger.Error("panic recovered", "panic", rec, "path", r.URL.Path)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (a *App) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"ip", remoteIP(r),
			"duration", time.Since(start).String())
	})
}

// sessionMiddleware resolves the cookie to a user on every request. Role
// and existence are re-read from the store, so a deleted user's session
// dies immediately and role changes take effect on the next request.
func (a *App) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, _ := r.Cookie(sessionCookieName)
		if cookie == nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		sess, err := a.store.GetSession(cookie.Value)
		if err != nil {
			a.clearSessionCookie(w)
			next.ServeHTTP(w, r)
			return
		}
		user, err := a.store.GetUserByID(sess.UserID)
		if err != nil {
			_ = a.store.DeleteSession(sess.Token)
			a.clearSessionCookie(w)
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// setupGate forces every request to /setup until the instance is
// bootstrapped, and keeps /setup closed afterwards.
func (a *App) setupGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		isSetup := a.store.IsSetup()
		if !isSetup && r.URL.Path != "/setup" {
			http.Redirect(w, r, "/setup", http.StatusSeeOther)
			return
		}
		if isSetup && r.URL.Path == "/setup" && r.Method == http.MethodPost {
			a.writeError(w, http.StatusForbidden, "instance already set up")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// maintenanceGate returns 503 for everything outside the allow-list while
// maintenance mode is on. Authenticated users pass through.
func (a *App) maintenanceGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.store.GetBool(db.SettingMaintenance, false) {
			next.ServeHTTP(w, r)
			return
		}
		path := r.URL.Path
		if i := strings.Index(path[1:], "/"); i >= 0 {
			path = path[:i+1]
		}
		if _, ok := maintenanceAllowed[path]; ok || a.currentUser(r) != nil || r.URL.Path == "/" {
			next.ServeHTTP(w, r)
			return
		}
		a.writeError(w, http.StatusServiceUnavailable, "temporarily unavailable for maintenance")
	})
}

func (a *App) handleRoot(w http.ResponseWriter, r *http.Request) {
	if a.currentUser(r) != nil {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (a *App) currentUser(r *http.Request) *db.User {
	v := r.Context().Value(ctxUserKey)
	if v == nil {
		return nil
	}
	u, ok := v.(db.User)
	if !ok {
		return nil
	}
	return &u
}

func (a *App) currentActor(r *http.Request) (auth.Actor, bool) {
	u := a.currentUser(r)
	if u == nil {
		return auth.Actor{}, false
	}
	return auth.Actor{ID: u.ID, Username: u.Username, Role: auth.Role(u.Role)}, true
}

// requireUser gates authenticated endpoints. Browsers get a redirect to
// /login, API clients a 401.
func (a *App) requireUser(w http.ResponseWriter, r *http.Request) (auth.Actor, bool) {
	actor, ok := a.currentActor(r)
	if ok {
		return actor, true
	}
	if r.Method == http.MethodGet && !strings.Contains(r.Header.Get("Accept"), "application/json") {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	} else {
		a.writeError(w, http.StatusUnauthorized, "authentication required")
	}
	return auth.Actor{}, false
}

func (a *App) requireAdmin(w http.ResponseWriter, r *http.Request) (auth.Actor, bool) {
	actor, ok := a.requireUser(w, r)
	if !ok {
		return auth.Actor{}, false
	}
	if !auth.IsAdmin(actor.Role) {
		a.writeError(w, http.StatusForbidden, "admin access required")
		return auth.Actor{}, false
	}
	return actor, true
}

func (a *App) setSessionCookie(w http.ResponseWriter, sess db.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *App) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// audit appends a trail entry; a failed write is logged, never surfaced.
func (a *App) audit(r *http.Request, action, details string, userID *int64) {
	if err := a.store.RecordAudit(action, details, userID, remoteIP(r)); err != nil {
		a.logger.Warn("audit write failed", "action", action, "error", err)
	}
}

func (a *App) shareURL(slug string) string {
	base := strings.TrimRight(a.store.GetString(db.SettingBaseDomain, ""), "/")
	return base + "/" + url.PathEscape(slug)
}

func (a *App) maxUploadBytes() int64 {
	mb := a.store.GetInt(db.SettingMaxUploadSize, db.DefaultMaxUploadMB)
	if mb <= 0 {
		mb = db.DefaultMaxUploadMB
	}
	return mb << 20
}

func remoteIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseLogLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (a *App) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (a *App) writeError(w http.ResponseWriter, status int, message string) {
	a.writeJSON(w, status, map[string]any{"error": message})
}

// writeRegistryError maps registry sentinels onto HTTP statuses.
func (a *App) writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrValidation):
		a.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, registry.ErrUnauthorized):
		a.writeError(w, http.StatusForbidden, "not allowed")
	case errors.Is(err, registry.ErrNotFound):
		a.writeError(w, http.StatusNotFound, "file not found")
	case errors.Is(err, registry.ErrSlugConflict):
		a.writeError(w, http.StatusConflict, "slug already in use")
	case errors.Is(err, registry.ErrStorageNameConflict):
		a.writeError(w, http.StatusConflict, "storage name already in use")
	default:
		a.logger.Error("request failed", "error", err)
		a.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
