package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
gateway:
  url: ws://localhost:9000/ws
  rate_limit: 10
engine:
  url: http://localhost:9100
country_code: "1"
session_timeout_minutes: 45
log_level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.URL != "ws://localhost:9000/ws" {
		t.Errorf("gateway url = %q", cfg.Gateway.URL)
	}
	if cfg.Gateway.RateLimit != 10 {
		t.Errorf("rate limit = %d", cfg.Gateway.RateLimit)
	}
	if got := cfg.SessionTimeout(); got != 45*time.Minute {
		t.Errorf("session timeout = %v, want 45m", got)
	}
	if cfg.Events.Exchange != "prestabot" {
		t.Errorf("default exchange = %q", cfg.Events.Exchange)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("PRESTABOT_GATEWAY_TOKEN", "secret-token")
	path := writeConfig(t, `
gateway:
  url: ws://localhost:9000/ws
  token: ${PRESTABOT_GATEWAY_TOKEN}
engine:
  url: http://localhost:9100
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Token != "secret-token" {
		t.Errorf("token = %q, want expanded env value", cfg.Gateway.Token)
	}
}

func TestLoadRejectsIncomplete(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing gateway", "engine:\n  url: http://localhost:9100\n"},
		{"missing engine", "gateway:\n  url: ws://localhost:9000/ws\n"},
		{"events without url", `
gateway:
  url: ws://localhost:9000/ws
engine:
  url: http://localhost:9100
events:
  enabled: true
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSessionTimeoutDefault(t *testing.T) {
	cfg := Default()
	if got := cfg.SessionTimeout(); got != defaultSessionTimeout {
		t.Errorf("default timeout = %v", got)
	}
}

func TestDatabasePath(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/var/lib/prestabot"
	if got := cfg.DatabasePath(); got != "/var/lib/prestabot/prestabot.db" {
		t.Errorf("derived path = %q", got)
	}
	cfg.DBPath = "/tmp/other.db"
	if got := cfg.DatabasePath(); got != "/tmp/other.db" {
		t.Errorf("explicit path = %q", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{"debug", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFindConfigExplicit(t *testing.T) {
	path := writeConfig(t, "gateway:\n  url: ws://x\nengine:\n  url: http://y\n")

	found, err := FindConfig(path)
	if err != nil || found != path {
		t.Fatalf("FindConfig(%q) = %q, %v", path, found, err)
	}

	if _, err := FindConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("explicit missing path must error")
	}
}
