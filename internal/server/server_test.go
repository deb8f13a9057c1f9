package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/filevault/internal/audit"
	"github.com/tonimelisma/filevault/internal/auth"
	"github.com/tonimelisma/filevault/internal/events"
	"github.com/tonimelisma/filevault/internal/session"
	"github.com/tonimelisma/filevault/internal/transfer"
	"github.com/tonimelisma/filevault/internal/vault"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *fakeRecorder) Record(_ context.Context, e audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.entries = append(f.entries, e)

	return nil
}

func (f *fakeRecorder) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Action)
	}

	return out
}

type testEnv struct {
	srv      *Server
	vault    *vault.Vault
	sessions *session.Store
	cookies  *auth.CookieCodec
	clock    *fakeClock
	audit    *fakeRecorder
	hub      *events.Hub
}

func newTestEnv(t *testing.T, mutate ...func(*Options)) *testEnv {
	t.Helper()

	logger := testLogger(t)
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	sessions := session.NewStore(30*time.Minute, logger, session.WithClock(clock.Now))

	v, err := vault.New(filepath.Join(t.TempDir(), "files"), transfer.NewEngine(sessions, nil, logger), logger)
	require.NoError(t, err)

	env := &testEnv{
		vault:    v,
		sessions: sessions,
		cookies:  auth.NewCookieCodec(testSecret, false),
		clock:    clock,
		audit:    &fakeRecorder{},
		hub:      events.NewHub(logger),
	}

	opts := Options{
		Vault:       v,
		Sessions:    sessions,
		Credentials: auth.NewCredentials(map[string]string{"admin": "hunter2"}),
		Cookies:     env.cookies,
		Audit:       env.audit,
		Hub:         env.hub,
		Logger:      logger,
	}

	for _, m := range mutate {
		m(&opts)
	}

	env.srv, err = New(opts)
	require.NoError(t, err)

	return env
}

// login creates a session directly and returns its signed cookie.
func (e *testEnv) login(t *testing.T) *http.Cookie {
	t.Helper()

	id := e.sessions.Create("admin")
	value, err := e.cookies.Encode(id, "admin")
	require.NoError(t, err)

	return &http.Cookie{Name: auth.CookieName, Value: value}
}

func (e *testEnv) do(t *testing.T, req *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	if cookie != nil {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)

	return rec
}

func (e *testEnv) put(t *testing.T, name, content string) {
	t.Helper()

	_, err := e.vault.Save(context.Background(), name, strings.NewReader(content), transfer.Options{})
	require.NoError(t, err)
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "body: %s", rec.Body.String())

	return body
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))

	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)

	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	return &buf, mw.FormDataContentType()
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Options{})
	require.Error(t, err)
}

func TestLogin_Success(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	form := url.Values{"username": {"admin"}, "password": {"hunter2"}, "next": {"/upload"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := env.do(t, req, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/upload", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, auth.CookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, "/", cookies[0].Path)
	assert.Equal(t, 1, env.sessions.Len())

	// The issued cookie authorizes API calls.
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/files", nil), cookies[0])
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{audit.ActionLogin}, env.audit.actions())
}

func TestLogin_Failure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	form := url.Values{"username": {"admin"}, "password": {"wrong"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := env.do(t, req, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/login?error=1"))
	assert.Empty(t, rec.Result().Cookies())
	assert.Equal(t, 0, env.sessions.Len())
	assert.Equal(t, []string{audit.ActionLoginFailed}, env.audit.actions())
}

func TestLoginPage(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/login?error=1", nil), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid username or password")

	// Already signed in: straight to the listing.
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/login", nil), env.login(t))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestUnauthenticated_PageRedirectsAPIForbids(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	for _, path := range []string{"/", "/upload"} {
		rec := env.do(t, httptest.NewRequest(http.MethodGet, path, nil), nil)
		require.Equal(t, http.StatusFound, rec.Code, path)
		assert.Equal(t, "/login?next="+url.QueryEscape(path), rec.Header().Get("Location"))
	}

	apiRequests := []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/files", nil),
		httptest.NewRequest(http.MethodGet, "/files/a.txt", nil),
		httptest.NewRequest(http.MethodPost, "/upload", nil),
		httptest.NewRequest(http.MethodPost, "/delete/a.txt", nil),
		httptest.NewRequest(http.MethodPost, "/rename/a.txt", strings.NewReader(`{"new_filename":"b.txt"}`)),
		httptest.NewRequest(http.MethodGet, "/api/events", nil),
	}

	for _, req := range apiRequests {
		rec := env.do(t, req, nil)
		require.Equal(t, http.StatusForbidden, rec.Code, req.URL.Path)
		assert.Equal(t, "authentication required", decodeJSON(t, rec)["error"])
	}
}

func TestForgedCookieForbidden(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	id := env.sessions.Create("admin")

	// A raw session id without a valid signature is not accepted.
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/files", nil),
		&http.Cookie{Name: auth.CookieName, Value: string(id)})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSessionExpiry(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	cookie := env.login(t)

	env.clock.Advance(20 * time.Minute)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/files", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code, "request within timeout refreshes activity")

	env.clock.Advance(20 * time.Minute)
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/files", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	env.clock.Advance(31 * time.Minute)
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/files", nil), cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 0, env.sessions.Len())
}

func TestLogout(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	cookie := env.login(t)

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/logout", nil), cookie)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Less(t, cleared[0].MaxAge, 0)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/files", nil), cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, env.audit.actions(), audit.ActionLogout)
}

func TestList(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.put(t, "beta.txt", "bb")
	env.put(t, "Alpha.txt", "a")

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/files", nil), env.login(t))
	require.Equal(t, http.StatusOK, rec.Code)

	var body listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Files, 2)
	assert.Equal(t, "Alpha.txt", body.Files[0].Name)
	assert.Equal(t, int64(2), body.Files[1].Size)

	_, err := time.ParseInLocation(listTimeFormat, body.Files[0].Modified, time.Local)
	assert.NoError(t, err)
}

func TestList_EmptyIsArray(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/files", nil), env.login(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"files":[]}`, rec.Body.String())
}

func TestUpload(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	cookie := env.login(t)

	for _, want := range []string{"report.pdf", "report_1.pdf"} {
		body, contentType := multipartBody(t, "file", "report.pdf", "%PDF-1.4")
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", contentType)

		rec := env.do(t, req, cookie)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		resp := decodeJSON(t, rec)
		assert.Equal(t, true, resp["success"])
		assert.Equal(t, want, resp["filename"])
		assert.InDelta(t, 8, resp["size"], 0)
	}

	data, err := os.ReadFile(filepath.Join(env.vault.Root(), "report_1.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))
	assert.Equal(t, []string{audit.ActionUpload, audit.ActionUpload}, env.audit.actions())
}

func TestUpload_BadRequests(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	cookie := env.login(t)

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("plain"))
	req.Header.Set("Content-Type", "text/plain")
	rec := env.do(t, req, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, contentType := multipartBody(t, "attachment", "a.txt", "x")
	req = httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec = env.do(t, req, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeJSON(t, rec)["error"], `no "file" field`)

	body, contentType = multipartBody(t, "file", "..", "x")
	req = httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec = env.do(t, req, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_TooLarge(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(o *Options) { o.MaxUploadSize = 1024 })
	body, contentType := multipartBody(t, "file", "huge.bin", strings.Repeat("x", 4096))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := env.do(t, req, env.login(t))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	files, err := env.vault.List()
	require.NoError(t, err)
	assert.Empty(t, files, "oversized partial upload is discarded")
}

func TestDownload(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.put(t, "notes.txt", "hello vault")

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/files/notes.txt", nil), env.login(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello vault", rec.Body.String())
	assert.Equal(t, "11", rec.Header().Get("Content-Length"))
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, `attachment; filename=notes.txt`, rec.Header().Get("Content-Disposition"))
	assert.True(t, rec.Flushed)
	assert.Equal(t, []string{audit.ActionDownload}, env.audit.actions())
}

func TestDownload_NotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/files/missing.txt", nil), env.login(t))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, decodeJSON(t, rec)["success"])
}

func TestDownload_TouchesSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.put(t, "big.bin", strings.Repeat("z", 3*transfer.ChunkSize))
	cookie := env.login(t)

	id, err := env.cookies.Decode(cookie.Value)
	require.NoError(t, err)

	env.clock.Advance(10 * time.Minute)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/files/big.bin", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	sess, found := env.sessions.Get(id)
	require.True(t, found)
	assert.Equal(t, env.clock.Now(), sess.LastActivity)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.put(t, "old.log", "x")
	cookie := env.login(t)

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/delete/old.log", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeJSON(t, rec)["success"])

	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/delete/old.log", nil), cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRename(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.put(t, "a.txt", "a")
	env.put(t, "b.txt", "b")
	cookie := env.login(t)

	rename := func(old, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/rename/"+old, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		return env.do(t, req, cookie)
	}

	assert.Equal(t, http.StatusBadRequest, rename("a.txt", `not json`).Code)
	assert.Equal(t, http.StatusBadRequest, rename("a.txt", `{"new_filename": ""}`).Code)
	assert.Equal(t, http.StatusNotFound, rename("missing.txt", `{"new_filename": "c.txt"}`).Code)
	assert.Equal(t, http.StatusConflict, rename("a.txt", `{"new_filename": "b.txt"}`).Code)

	rec := rename("a.txt", `{"new_filename": "renamed file.txt"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "renamed_file.txt", decodeJSON(t, rec)["filename"])
	assert.FileExists(t, filepath.Join(env.vault.Root(), "renamed_file.txt"))
}

func TestIndexAndUploadPages(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.put(t, "shown.txt", "abc")
	cookie := env.login(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "shown.txt")
	assert.Contains(t, rec.Body.String(), "3 B")
	assert.Contains(t, rec.Body.String(), `data-events="/api/events"`)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/upload", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `name="file"`)
}

func TestStatic(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/static/app.js", nil), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "watchEvents")

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/static/", nil), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatic_FromDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.css"), []byte("body{}"), 0o600))

	env := newTestEnv(t, func(o *Options) { o.StaticDir = dir })

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/static/custom.css", nil), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body{}", rec.Body.String())
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/nope", nil), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, decodeJSON(t, rec)["success"])

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/delete/a.txt", nil), env.login(t))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestServe_GracefulShutdown(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- env.srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, getErr := http.Get("http://" + ln.Addr().String() + "/healthz")
		if getErr != nil {
			return false
		}
		resp.Body.Close()

		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
