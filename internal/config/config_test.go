package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("THREADLINE_API_URL", "https://comments.example.com/")
	t.Setenv("THREADLINE_WS_URL", "")
	t.Setenv("THREADLINE_HTTP_TIMEOUT", "")
	t.Setenv("THREADLINE_REFRESH_BUFFER", "")

	cfg := Load()
	if cfg.APIURL != "https://comments.example.com" {
		t.Fatalf("unexpected api url: %s", cfg.APIURL)
	}
	if cfg.WSURL != "wss://comments.example.com" {
		t.Fatalf("unexpected ws url: %s", cfg.WSURL)
	}
	if cfg.RefreshBuffer != 60*time.Second {
		t.Fatalf("expected 60s refresh buffer, got %s", cfg.RefreshBuffer)
	}
	if cfg.HTTPTimeout != 30*time.Second {
		t.Fatalf("expected 30s timeout, got %s", cfg.HTTPTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("THREADLINE_API_URL", "http://localhost:9000")
	t.Setenv("THREADLINE_WS_URL", "ws://push.local:9001")
	t.Setenv("THREADLINE_CREDENTIALS_DB", "")
	t.Setenv("THREADLINE_REFRESH_BUFFER", "2m")
	t.Setenv("THREADLINE_RECONNECTS_PER_MIN", "not-a-number")

	cfg := Load()
	if cfg.WSURL != "ws://push.local:9001" {
		t.Fatalf("unexpected ws url: %s", cfg.WSURL)
	}
	if cfg.CredentialsDB != "" {
		t.Fatalf("expected empty credentials db, got %q", cfg.CredentialsDB)
	}
	if cfg.RefreshBuffer != 2*time.Minute {
		t.Fatalf("expected 2m, got %s", cfg.RefreshBuffer)
	}
	if cfg.Reconnects.PerMinute != 5 {
		t.Fatalf("expected fallback of 5 reconnects, got %d", cfg.Reconnects.PerMinute)
	}
}
