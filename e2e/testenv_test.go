//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/filevault/testutil"
)

const (
	testUser     = "e2e"
	testPassword = "correct horse battery staple"
	testSecret   = "e2e-secret-key-0123456789abcdef"
)

// vaultServer is one running "filevault serve" process with its own config
// and vault directory.
type vaultServer struct {
	configPath string
	vaultDir   string
	baseURL    string
	stderr     *bytes.Buffer
}

// startServer writes a config under a temp dir and runs the binary until
// the test ends. extra is merged into the config.
func startServer(t *testing.T, extra map[string]any) *vaultServer {
	t.Helper()

	dir := t.TempDir()
	port, err := testutil.FreePort()
	require.NoError(t, err)

	cfg := map[string]any{
		"UPLOAD_DIR":        filepath.Join(dir, "files"),
		"HOST":              "127.0.0.1",
		"PORT":              port,
		"SESSION_TIMEOUT":   600,
		"VALID_CREDENTIALS": map[string]string{testUser: testPassword},
		"SECRET_KEY":        testSecret,
		"AUDIT_DB":          filepath.Join(dir, "audit.db"),
		"LOG_FORMAT":        "json",
	}
	for k, v := range extra {
		cfg[k] = v
	}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	s := &vaultServer{
		configPath: filepath.Join(dir, "config.json"),
		vaultDir:   cfg["UPLOAD_DIR"].(string),
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", port),
		stderr:     &bytes.Buffer{},
	}
	require.NoError(t, os.WriteFile(s.configPath, data, 0o600))

	cmd := exec.Command(binaryPath, "--config", s.configPath, "serve")
	cmd.Stderr = s.stderr
	require.NoError(t, cmd.Start())

	t.Cleanup(func() {
		_ = cmd.Process.Signal(syscall.SIGTERM)

		done := make(chan struct{})
		go func() { _ = cmd.Wait(); close(done) }()

		select {
		case <-done:
		case <-time.After(10 * time.Second):
			_ = cmd.Process.Kill()
		}

		if t.Failed() {
			t.Logf("server stderr:\n%s", s.stderr.String())
		}
	})

	require.NoError(t, testutil.WaitForHTTP(s.baseURL+"/healthz", 10*time.Second), s.stderr.String())

	return s
}

// runCLI runs a non-serving subcommand against the server's config.
func (s *vaultServer) runCLI(t *testing.T, args ...string) string {
	t.Helper()

	cmd := exec.Command(binaryPath, append([]string{"--config", s.configPath}, args...)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		t.Fatalf("CLI command %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout.String(), stderr.String())
	}

	return stdout.String()
}

// client is a browser-like HTTP client with a cookie jar that does not
// follow redirects, so tests can assert on them.
type client struct {
	base string
	http *http.Client
}

func newClient(t *testing.T, base string) *client {
	t.Helper()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &client{
		base: base,
		http: &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (c *client) login(t *testing.T, user, password string) *http.Response {
	t.Helper()

	resp, err := c.http.PostForm(c.base+"/login", url.Values{"username": {user}, "password": {password}})
	require.NoError(t, err)
	resp.Body.Close()

	return resp
}

func (c *client) do(t *testing.T, method, path string, body io.Reader, contentType string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, c.base+path, body)
	require.NoError(t, err)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func (c *client) upload(t *testing.T, filename string, content []byte) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, data := c.do(t, http.MethodPost, "/upload", &buf, mw.FormDataContentType())

	return resp, decode(t, data)
}

func (c *client) rename(t *testing.T, oldName, newName string) (*http.Response, map[string]any) {
	t.Helper()

	body, err := json.Marshal(map[string]string{"new_filename": newName})
	require.NoError(t, err)

	resp, data := c.do(t, http.MethodPost, "/rename/"+url.PathEscape(oldName), bytes.NewReader(body), "application/json")

	return resp, decode(t, data)
}

func (c *client) listNames(t *testing.T) []string {
	t.Helper()

	resp, data := c.do(t, http.MethodGet, "/api/files", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var list struct {
		Files []struct {
			Name string `json:"name"`
		} `json:"files"`
	}
	require.NoError(t, json.Unmarshal(data, &list))

	names := make([]string, 0, len(list.Files))
	for _, f := range list.Files {
		names = append(names, f.Name)
	}

	return names
}

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out), strings.TrimSpace(string(data)))

	return out
}

// uploadRaw is upload without testing.T, for use off the test goroutine.
func uploadRaw(c *client, filename, content string) (string, error) {
	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}

	if _, err := io.WriteString(fw, content); err != nil {
		return "", err
	}

	if err := mw.Close(); err != nil {
		return "", err
	}

	resp, err := c.http.Post(c.base+"/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body struct {
		Filename string `json:"filename"`
		Error    string `json:"error"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("upload %s: status %d: %s", filename, resp.StatusCode, body.Error)
	}

	return body.Filename, nil
}
