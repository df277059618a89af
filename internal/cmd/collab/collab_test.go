package collab

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("collab", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":1234" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.MaxConnectionsPerNote != 25 {
		t.Fatalf("expected default connection cap, got %d", cfg.MaxConnectionsPerNote)
	}
	if cfg.StoragePath != "collab.db" {
		t.Fatalf("expected default storage path, got %q", cfg.StoragePath)
	}
	if cfg.SaveInterval != 30*time.Second {
		t.Fatalf("expected default save interval, got %s", cfg.SaveInterval)
	}
	if cfg.TokenSecret != "" {
		t.Fatalf("expected empty token secret by default, got %q", cfg.TokenSecret)
	}
}

func TestParseConfigEnvOverrides(t *testing.T) {
	t.Setenv("COLLAB_HTTP_ADDR", ":9999")
	t.Setenv("COLLAB_TOKEN_SECRET", "env-secret")
	t.Setenv("COLLAB_MAX_CONNECTIONS_PER_NOTE", "3")
	t.Setenv("COLLAB_SAVE_INTERVAL", "5s")

	fs := flag.NewFlagSet("collab", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Fatalf("expected env http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.TokenSecret != "env-secret" {
		t.Fatalf("expected env token secret, got %q", cfg.TokenSecret)
	}
	if cfg.MaxConnectionsPerNote != 3 {
		t.Fatalf("expected env connection cap, got %d", cfg.MaxConnectionsPerNote)
	}
	if cfg.SaveInterval != 5*time.Second {
		t.Fatalf("expected env save interval, got %s", cfg.SaveInterval)
	}
}

func TestParseConfigFlagOverrides(t *testing.T) {
	t.Setenv("COLLAB_HTTP_ADDR", ":9999")

	fs := flag.NewFlagSet("collab", flag.ContinueOnError)
	args := []string{
		"-http-addr", ":8888",
		"-token-secret", "flag-secret",
		"-max-connections-per-note", "7",
		"-storage-path", "",
		"-save-interval", "10s",
	}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8888" {
		t.Fatalf("expected flag http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.TokenSecret != "flag-secret" {
		t.Fatalf("expected flag token secret, got %q", cfg.TokenSecret)
	}
	if cfg.MaxConnectionsPerNote != 7 {
		t.Fatalf("expected flag connection cap, got %d", cfg.MaxConnectionsPerNote)
	}
	if cfg.StoragePath != "" {
		t.Fatalf("expected persistence disabled, got %q", cfg.StoragePath)
	}
	if cfg.SaveInterval != 10*time.Second {
		t.Fatalf("expected flag save interval, got %s", cfg.SaveInterval)
	}
}
