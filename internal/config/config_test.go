package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/songmopx/planeveryday.org/internal/platform/auth"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TASKTRACK_CONFIG", "")
	t.Setenv("TASKTRACK_DATA_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.RemoteStore != RemoteNone || cfg.Auth.Mode != auth.ModeNoop {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Location() != time.UTC {
		t.Fatalf("expected UTC, got %v", cfg.Location())
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracker.yaml")
	body := []byte(`
port: "9090"
timezone: Asia/Shanghai
dataDir: ` + dir + `
remoteStore: gcs
remoteTimeout: 3s
storage:
  bucket: from-file
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("TASKTRACK_CONFIG", path)
	t.Setenv("TASKTRACK_BUCKET", "from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" || cfg.RemoteStore != RemoteGCS || cfg.RemoteTimeout != 3*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Storage.Bucket != "from-env" {
		t.Fatalf("expected env to override file, got %q", cfg.Storage.Bucket)
	}
	if cfg.DatabasePath() != filepath.Join(dir, "tasks.db") {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath())
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown remote":     {"REMOTE_STORE": "dropbox"},
		"firestore project":  {"REMOTE_STORE": "firestore", "GCP_PROJECT_ID": ""},
		"gcs bucket":         {"REMOTE_STORE": "gcs", "TASKTRACK_BUCKET": ""},
		"clerk without jwks": {"AUTH_MODE": "clerk", "CLERK_JWKS_URL": ""},
		"bad timezone":       {"TASKTRACK_TIMEZONE": "Mars/Olympus"},
		"bad duration":       {"REMOTE_TIMEOUT": "soon"},
		"bad port":           {"PORT": "http"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("TASKTRACK_CONFIG", "")
			t.Setenv("TASKTRACK_DATA_DIR", t.TempDir())
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoad_UnknownFileField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("prot: 1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("TASKTRACK_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}
