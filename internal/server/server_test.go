package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ademmoe/jads/internal/auth"
	"github.com/ademmoe/jads/internal/blob"
	"github.com/ademmoe/jads/internal/db"
	"github.com/ademmoe/jads/internal/registry"
)

func newTestApp(t *testing.T) (*App, *db.Store, http.Handler) {
	t.Helper()
	store, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	blobs, err := blob.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("open blob store: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(store, blobs, logger)
	app := newApp(Options{DataDir: t.TempDir(), SessionTTL: time.Hour}, store, reg, logger)
	return app, store, app.handler()
}

func bootstrap(t *testing.T, store *db.Store) {
	t.Helper()
	hash, err := auth.HashPassword("admin-pass-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Bootstrap("https://files.example.com", "root", hash); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
}

func postForm(h http.Handler, path string, form url.Values, cookie string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func get(h http.Handler, path, cookie string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func login(t *testing.T, h http.Handler, username, password string) string {
	t.Helper()
	rr := postForm(h, "/login", url.Values{"username": {username}, "password": {password}}, "")
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("login %s: status %d, body %s", username, rr.Code, rr.Body.String())
	}
	for _, c := range rr.Result().Cookies() {
		if c.Name == sessionCookieName && c.Value != "" {
			return c.Name + "=" + c.Value
		}
	}
	t.Fatalf("login %s: no session cookie", username)
	return ""
}

func uploadFile(h http.Handler, cookie, filename, content, expiryHours string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", filename)
	_, _ = fw.Write([]byte(content))
	if expiryHours != "" {
		_ = mw.WriteField("expiry_hours", expiryHours)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func addUser(t *testing.T, h http.Handler, adminCookie, username, password, role string) {
	t.Helper()
	rr := postForm(h, "/add-user", url.Values{
		"username": {username}, "password": {password}, "role": {role},
	}, adminCookie)
	if rr.Code != http.StatusCreated {
		t.Fatalf("add user %s: status %d, body %s", username, rr.Code, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return m
}

func TestSetupGate(t *testing.T) {
	_, store, h := newTestApp(t)

	rr := get(h, "/dashboard", "")
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/setup" {
		t.Fatalf("pre-setup dashboard: %d -> %q", rr.Code, rr.Header().Get("Location"))
	}

	rr = get(h, "/setup", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("setup status: %d", rr.Code)
	}
	if m := decodeJSON(t, rr); m["setup_required"] != true {
		t.Fatalf("setup_required = %v", m["setup_required"])
	}

	rr = postForm(h, "/setup", url.Values{
		"base_domain": {"https://files.example.com/"},
		"username":    {"root"},
		"password":    {"admin-pass-1"},
	}, "")
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/login" {
		t.Fatalf("setup: %d, body %s", rr.Code, rr.Body.String())
	}
	if !store.IsSetup() {
		t.Fatal("is_setup not persisted")
	}
	if got := store.GetString(db.SettingBaseDomain, ""); got != "https://files.example.com" {
		t.Fatalf("base domain = %q", got)
	}

	rr = postForm(h, "/setup", url.Values{
		"base_domain": {"https://other.example.com"},
		"username":    {"root2"},
		"password":    {"admin-pass-2"},
	}, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("second setup: %d", rr.Code)
	}
}

func TestLoginFlowAndAudit(t *testing.T) {
	_, store, h := newTestApp(t)
	bootstrap(t, store)

	rr := postForm(h, "/login", url.Values{"username": {"root"}, "password": {"wrong"}}, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: %d", rr.Code)
	}
	rr = postForm(h, "/login", url.Values{"username": {"ghost"}, "password": {"wrong"}}, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user must look identical: %d", rr.Code)
	}

	cookie := login(t, h, "root", "admin-pass-1")

	entries, err := store.ListAudit(10)
	if err != nil {
		t.Fatal(err)
	}
	var sawFail, sawLogin bool
	for _, e := range entries {
		switch e.Action {
		case "Login Failed":
			sawFail = true
			if e.UserID != nil {
				t.Fatalf("failed login audit carries a user id: %+v", e)
			}
		case "Login":
			sawLogin = true
		}
	}
	if !sawFail || !sawLogin {
		t.Fatalf("audit trail incomplete: fail=%v login=%v", sawFail, sawLogin)
	}

	rr = get(h, "/dashboard", cookie)
	if rr.Code != http.StatusOK {
		t.Fatalf("dashboard: %d", rr.Code)
	}
	m := decodeJSON(t, rr)
	for _, key := range []string{"files", "users", "audit", "settings", "health"} {
		if _, ok := m[key]; !ok {
			t.Fatalf("admin dashboard missing %q", key)
		}
	}

	rr = get(h, "/logout", cookie)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("logout: %d", rr.Code)
	}
	rr = get(h, "/dashboard", cookie)
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/login" {
		t.Fatalf("dashboard after logout: %d -> %q", rr.Code, rr.Header().Get("Location"))
	}
}

func TestUploadAndPublicDownload(t *testing.T) {
	_, store, h := newTestApp(t)
	bootstrap(t, store)
	cookie := login(t, h, "root", "admin-pass-1")

	if rr := uploadFile(h, cookie, "notes.txt", "x", "soon"); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad expiry accepted: %d", rr.Code)
	}
	if rr := uploadFile(h, "", "notes.txt", "x", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous upload: %d", rr.Code)
	}

	rr := uploadFile(h, cookie, "notes.txt", "meeting notes", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload: %d, body %s", rr.Code, rr.Body.String())
	}
	m := decodeJSON(t, rr)
	if m["slug"] != "notes.txt" {
		t.Fatalf("initial slug = %v", m["slug"])
	}
	if su, _ := m["share_url"].(string); su != "https://files.example.com/notes.txt" {
		t.Fatalf("share url = %q", su)
	}

	rr = get(h, "/notes.txt", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("public download: %d", rr.Code)
	}
	if rr.Body.String() != "meeting notes" {
		t.Fatalf("download body = %q", rr.Body.String())
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "notes.txt") {
		t.Fatalf("content disposition = %q", cd)
	}

	get(h, "/notes.txt", "")
	rec, err := store.GetFileBySlug("notes.txt")
	if err != nil || rec.Downloads != 2 {
		t.Fatalf("downloads = %d, %v", rec.Downloads, err)
	}

	if rr := get(h, "/no-such-slug", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown slug: %d", rr.Code)
	}
}

func TestSlugRenameOverHTTP(t *testing.T) {
	_, store, h := newTestApp(t)
	bootstrap(t, store)
	cookie := login(t, h, "root", "admin-pass-1")

	uploadFile(h, cookie, "a.txt", "a", "")
	uploadFile(h, cookie, "b.txt", "b", "")
	recB, err := store.GetFileBySlug("b.txt")
	if err != nil {
		t.Fatal(err)
	}

	rr := postForm(h, "/update-slug/"+itoa(recB.ID), url.Values{"slug": {"a.txt"}}, cookie)
	if rr.Code != http.StatusConflict {
		t.Fatalf("conflicting rename: %d", rr.Code)
	}
	if rr := get(h, "/b.txt", ""); rr.Code != http.StatusOK {
		t.Fatalf("old slug broken after failed rename: %d", rr.Code)
	}

	rr = postForm(h, "/update-slug/"+itoa(recB.ID), url.Values{"slug": {"fresh"}}, cookie)
	if rr.Code != http.StatusOK {
		t.Fatalf("rename: %d, body %s", rr.Code, rr.Body.String())
	}
	if rr := get(h, "/fresh", ""); rr.Code != http.StatusOK {
		t.Fatalf("new slug: %d", rr.Code)
	}
	if rr := get(h, "/b.txt", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("stale slug still live: %d", rr.Code)
	}
}

func TestRoleScopedVisibilityAndDeletes(t *testing.T) {
	_, store, h := newTestApp(t)
	bootstrap(t, store)
	adminCookie := login(t, h, "root", "admin-pass-1")
	addUser(t, h, adminCookie, "alice", "alice-pass-1", "User")
	addUser(t, h, adminCookie, "bob", "bob-pass-11", "User")
	aliceCookie := login(t, h, "alice", "alice-pass-1")
	bobCookie := login(t, h, "bob", "bob-pass-11")

	uploadFile(h, aliceCookie, "mine.txt", "a", "")
	uploadFile(h, bobCookie, "theirs.txt", "b", "")

	rr := get(h, "/dashboard", aliceCookie)
	m := decodeJSON(t, rr)
	files, _ := m["files"].([]any)
	if len(files) != 1 {
		t.Fatalf("alice sees %d files", len(files))
	}
	if _, ok := m["users"]; ok {
		t.Fatal("non-admin dashboard leaks the user roster")
	}

	rec, err := store.GetFileBySlug("theirs.txt")
	if err != nil {
		t.Fatal(err)
	}
	if rr := get(h, "/delete-file/"+itoa(rec.ID), aliceCookie); rr.Code != http.StatusForbidden {
		t.Fatalf("cross-owner delete: %d", rr.Code)
	}
	if rr := get(h, "/delete-file/"+itoa(rec.ID), adminCookie); rr.Code != http.StatusSeeOther {
		t.Fatalf("admin delete: %d", rr.Code)
	}
	if rr := get(h, "/theirs.txt", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("deleted file still downloadable: %d", rr.Code)
	}
	if rr := get(h, "/delete-file/"+itoa(rec.ID), adminCookie); rr.Code != http.StatusNotFound {
		t.Fatalf("double delete: %d", rr.Code)
	}
}

func TestUserManagementRules(t *testing.T) {
	_, store, h := newTestApp(t)
	bootstrap(t, store)
	adminCookie := login(t, h, "root", "admin-pass-1")
	addUser(t, h, adminCookie, "alice", "alice-pass-1", "User")
	aliceCookie := login(t, h, "alice", "alice-pass-1")

	uploadFile(h, aliceCookie, "orphan.txt", "x", "")

	rr := postForm(h, "/add-user", url.Values{
		"username": {"alice"}, "password": {"whatever-1"}, "role": {"User"},
	}, adminCookie)
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate username: %d", rr.Code)
	}
	rr = postForm(h, "/add-user", url.Values{
		"username": {"eve"}, "password": {"whatever-1"}, "role": {"Root"},
	}, adminCookie)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bogus role: %d", rr.Code)
	}
	if rr := postForm(h, "/add-user", url.Values{"username": {"eve"}, "password": {"whatever-1"}}, aliceCookie); rr.Code != http.StatusForbidden {
		t.Fatalf("non-admin add-user: %d", rr.Code)
	}

	admin, err := store.GetUserByUsername("root")
	if err != nil {
		t.Fatal(err)
	}
	alice, err := store.GetUserByUsername("alice")
	if err != nil {
		t.Fatal(err)
	}

	if rr := get(h, "/delete-user/"+itoa(admin.ID), adminCookie); rr.Code != http.StatusBadRequest {
		t.Fatalf("self delete: %d", rr.Code)
	}
	if rr := get(h, "/delete-user/"+itoa(admin.ID), aliceCookie); rr.Code != http.StatusForbidden {
		t.Fatalf("non-admin delete: %d", rr.Code)
	}
	if rr := get(h, "/delete-user/"+itoa(alice.ID), adminCookie); rr.Code != http.StatusSeeOther {
		t.Fatalf("admin delete user: %d", rr.Code)
	}

	// Deleted user's session dies on the next request.
	rr = get(h, "/dashboard", aliceCookie)
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/login" {
		t.Fatalf("deleted user's session survived: %d", rr.Code)
	}

	// The file stays behind, detached, and still downloads.
	rec, err := store.GetFileBySlug("orphan.txt")
	if err != nil {
		t.Fatal(err)
	}
	if rec.OwnerID != nil {
		t.Fatalf("file not detached: owner %v", *rec.OwnerID)
	}
	if rr := get(h, "/orphan.txt", ""); rr.Code != http.StatusOK {
		t.Fatalf("detached file download: %d", rr.Code)
	}
}

func TestUpdateSettingsAndMaintenance(t *testing.T) {
	_, store, h := newTestApp(t)
	bootstrap(t, store)
	adminCookie := login(t, h, "root", "admin-pass-1")
	addUser(t, h, adminCookie, "alice", "alice-pass-1", "User")
	aliceCookie := login(t, h, "alice", "alice-pass-1")
	uploadFile(h, adminCookie, "pub.txt", "x", "")

	if rr := postForm(h, "/update-settings", url.Values{"maintenance_mode": {"true"}}, aliceCookie); rr.Code != http.StatusForbidden {
		t.Fatalf("non-admin settings: %d", rr.Code)
	}
	if rr := postForm(h, "/update-settings", url.Values{"max_upload_size": {"-5"}}, adminCookie); rr.Code != http.StatusBadRequest {
		t.Fatalf("negative upload cap: %d", rr.Code)
	}
	if rr := postForm(h, "/update-settings", url.Values{}, adminCookie); rr.Code != http.StatusBadRequest {
		t.Fatalf("empty settings update: %d", rr.Code)
	}

	rr := postForm(h, "/update-settings", url.Values{
		"maintenance_mode": {"true"},
		"max_upload_size":  {"250"},
	}, adminCookie)
	if rr.Code != http.StatusOK {
		t.Fatalf("settings update: %d, body %s", rr.Code, rr.Body.String())
	}
	if !store.GetBool(db.SettingMaintenance, false) {
		t.Fatal("maintenance flag not persisted")
	}
	if store.GetInt(db.SettingMaxUploadSize, 0) != 250 {
		t.Fatal("upload cap not persisted")
	}

	// Maintenance blocks public downloads but not the allow-listed paths
	// or signed-in users.
	if rr := get(h, "/pub.txt", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("public download during maintenance: %d", rr.Code)
	}
	if rr := get(h, "/dashboard", adminCookie); rr.Code != http.StatusOK {
		t.Fatalf("admin dashboard during maintenance: %d", rr.Code)
	}
	if _, err := store.GetUserByUsername("alice"); err != nil {
		t.Fatal(err)
	}
	bobLogin := postForm(h, "/login", url.Values{"username": {"alice"}, "password": {"alice-pass-1"}}, "")
	if bobLogin.Code != http.StatusSeeOther {
		t.Fatalf("login during maintenance: %d", bobLogin.Code)
	}

	rr = postForm(h, "/update-settings", url.Values{"maintenance_mode": {"false"}}, adminCookie)
	if rr.Code != http.StatusOK {
		t.Fatalf("settings update: %d", rr.Code)
	}
	if rr := get(h, "/pub.txt", ""); rr.Code != http.StatusOK {
		t.Fatalf("public download after maintenance: %d", rr.Code)
	}
}

func TestUploadSizeLimit(t *testing.T) {
	_, store, h := newTestApp(t)
	bootstrap(t, store)
	cookie := login(t, h, "root", "admin-pass-1")

	if err := store.SetSetting(db.SettingMaxUploadSize, "1"); err != nil {
		t.Fatal(err)
	}
	big := strings.Repeat("x", 2<<20)
	if rr := uploadFile(h, cookie, "big.bin", big, ""); rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized upload: %d", rr.Code)
	}
	if rr := uploadFile(h, cookie, "small.bin", "tiny", ""); rr.Code != http.StatusCreated {
		t.Fatalf("small upload: %d", rr.Code)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
