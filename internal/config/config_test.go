package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KBHISTORY_CONFIG", "")
	t.Setenv("KBHISTORY_MAX_VERSIONS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxVersions != 50 {
		t.Fatalf("expected default max versions 50, got %d", cfg.MaxVersions)
	}
	if cfg.IndexBackend != "json" {
		t.Fatalf("expected json index backend, got %q", cfg.IndexBackend)
	}
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kbhistory.yaml")
	contents := "data_dir: /srv/kb\nmax_versions: 20\nindex_backend: badger\nminio_use_ssl: true\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("KBHISTORY_CONFIG", path)
	t.Setenv("KBHISTORY_MAX_VERSIONS", "7")
	t.Setenv("KBHISTORY_INDEX_BACKEND", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DataDir != "/srv/kb" {
		t.Fatalf("expected data dir from file, got %q", cfg.DataDir)
	}
	if cfg.MaxVersions != 7 {
		t.Fatalf("expected env override 7, got %d", cfg.MaxVersions)
	}
	if cfg.IndexBackend != "badger" {
		t.Fatalf("expected badger backend, got %q", cfg.IndexBackend)
	}
	if !cfg.MinioUseSSL {
		t.Fatal("expected minio_use_ssl from file")
	}
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("max_versions: [oops"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("KBHISTORY_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to fail for malformed YAML")
	}
}

func TestGetenvIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("KBHISTORY_TEST_INT", "abc")
	if got := getenvInt("KBHISTORY_TEST_INT", 3); got != 3 {
		t.Fatalf("getenvInt() = %d, want 3", got)
	}
}
