package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/filevault/internal/auth"
	"github.com/tonimelisma/filevault/internal/config"
)

func TestRunSetup_WritesConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	vaultDir := filepath.Join(dir, "vault")
	answers := strings.Join([]string{"alice", "s3cret", "9000", "15", vaultDir}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, runSetup(strings.NewReader(answers), &out, path, false))
	assert.Contains(t, out.String(), "Admin username [admin]: ")
	assert.Contains(t, out.String(), "Wrote "+path)

	cfg, err := config.Load(path, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 15*60, cfg.SessionTimeout)
	assert.Equal(t, vaultDir, cfg.UploadDir)
	assert.Len(t, cfg.SecretKey, 2*secretKeyBytes)
	require.Contains(t, cfg.Credentials, "alice")
	assert.True(t, auth.IsHashed(cfg.Credentials["alice"]), "password stored as a hash")
	assert.True(t, auth.NewCredentials(cfg.Credentials).Verify("alice", "s3cret"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestRunSetup_Defaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")

	// Only the password is answered; the rest keep their defaults.
	require.NoError(t, runSetup(strings.NewReader("\npw\n\n\n\n"), &bytes.Buffer{}, path, false))

	cfg, err := config.Load(path, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.NoError(t, err)
	assert.Contains(t, cfg.Credentials, defaultAdmin)
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, defaultTimeoutMinutes*60, cfg.SessionTimeout)
}

func TestRunSetup_RefusesOverwrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

	err := runSetup(strings.NewReader("admin\npw\n\n\n\n"), &bytes.Buffer{}, path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	require.NoError(t, runSetup(strings.NewReader("admin\npw\n\n\n\n"), &bytes.Buffer{}, path, true))
}

func TestRunSetup_RejectsBadAnswers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		answers string
		wantErr string
	}{
		{"empty password", "admin\n\n", "password must not be empty"},
		{"non-numeric port", "admin\npw\neighty\n", "not a number"},
		{"port out of range", "admin\npw\n70000\n\n\n", "PORT"},
		{"zero timeout", "admin\npw\n\n0\n\n", "SESSION_TIMEOUT"},
		{"input ends early", "admin\n", "reading"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "config.json")

			err := runSetup(strings.NewReader(tt.answers), &bytes.Buffer{}, path, false)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.NoFileExists(t, path)
		})
	}
}

func TestGenerateSecret_Unique(t *testing.T) {
	t.Parallel()

	a, err := generateSecret()
	require.NoError(t, err)

	b, err := generateSecret()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, a, 2*secretKeyBytes)
}
