package commands

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"festpage/internal/auth"
	"festpage/internal/config"
)

func pipeInput(t *testing.T, s string) *os.File {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.WriteString(s); err != nil {
		t.Fatal(err)
	}
	w.Close()
	t.Cleanup(func() { r.Close() })
	return r
}

func TestReadPasswordFromPipe(t *testing.T) {
	pw, err := readPassword(pipeInput(t, "ganpati-bappa\n"), io.Discard)
	if err != nil {
		t.Fatalf("readPassword() error = %v", err)
	}
	if pw != "ganpati-bappa" {
		t.Errorf("readPassword() = %q", pw)
	}

	if _, err := readPassword(pipeInput(t, "\n"), io.Discard); err == nil {
		t.Error("expected error for empty password")
	}
}

func TestStoreCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	hash, err := auth.HashPassword("secret")
	if err != nil {
		t.Fatal(err)
	}

	if err := storeCredentials(path, "volunteer", hash); err != nil {
		t.Fatalf("storeCredentials() error = %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BasicAuth == nil || cfg.BasicAuth.Username != "volunteer" || cfg.BasicAuth.PasswordHash != hash {
		t.Fatalf("BasicAuth = %+v", cfg.BasicAuth)
	}
	if cfg.BasicAuth.Password != "" {
		t.Error("plain password must not be stored")
	}

	if err := storeCredentials(path, "", hash); err == nil {
		t.Error("expected error for empty username")
	}
}
