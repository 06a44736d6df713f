package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("expected path %s, got %s", path, resolved)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config to be written: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.PhotoMaxDimension != 300 || cfg.PhotoJPEGQuality != 70 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("addr: \":9090\"\njwt_ttl: 2h\noidc:\n  issuer: https://accounts.example.com\n  client_id: web\n  redirect_url: http://localhost/cb\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PAIRCHAT_DATABASE_PATH", "/tmp/env.db")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("expected addr from file, got %s", cfg.Addr)
	}
	if cfg.JWTTTL != 2*time.Hour {
		t.Fatalf("expected jwt ttl 2h, got %s", cfg.JWTTTL)
	}
	if cfg.DatabasePath != "/tmp/env.db" {
		t.Fatalf("expected database path from env, got %s", cfg.DatabasePath)
	}
	if !cfg.OIDC.Enabled() {
		t.Fatalf("expected oidc to be enabled: %+v", cfg.OIDC)
	}
}

func TestValidateRejectsBadPhotoQuality(t *testing.T) {
	cfg := Default()
	cfg.PhotoJPEGQuality = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestUpdateFromKeepsZeroValues(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Addr: ":1234"})
	if cfg.Addr != ":1234" {
		t.Fatalf("expected addr override, got %s", cfg.Addr)
	}
	if cfg.DatabasePath != "pairchat.db" {
		t.Fatalf("expected database path to stay default, got %s", cfg.DatabasePath)
	}
}
