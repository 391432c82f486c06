package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_BOT_TOKEN", "token")
	t.Setenv("DISCORD_CLIENT_ID", "client")
	t.Setenv("DISCORD_CLIENT_SECRET", "secret")
	t.Setenv("SESSION_SECRET", "session")
	for _, key := range []string{"PUERTO", "DASHBOARD_ADDR", "LOG_LEVEL", "STATS_COOLDOWN_SECONDS", "HISTORY_LIMIT"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dashboard.Addr != ":3000" {
		t.Fatalf("expected default addr, got %q", cfg.Dashboard.Addr)
	}
	if cfg.Stats.Cooldown() != time.Minute {
		t.Fatalf("expected 1m cooldown, got %s", cfg.Stats.Cooldown())
	}
	if cfg.Welcome.FallbackText != "¡Bienvenido {nombre} al servidor!" {
		t.Fatalf("unexpected fallback text %q", cfg.Welcome.FallbackText)
	}
	if cfg.Dashboard.HistoryLimit != 50 {
		t.Fatalf("expected history limit 50, got %d", cfg.Dashboard.HistoryLimit)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	setRequiredEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
log_level: debug
time_zone: UTC
stats:
  cooldown_seconds: 30
dashboard:
  addr: ":8080"
  history_limit: 20
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("PUERTO", "4000")
	t.Setenv("STATS_COOLDOWN_SECONDS", "90")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected yaml log level, got %q", cfg.LogLevel)
	}
	if cfg.Dashboard.Addr != ":4000" {
		t.Fatalf("expected PUERTO to win, got %q", cfg.Dashboard.Addr)
	}
	if cfg.Stats.Cooldown() != 90*time.Second {
		t.Fatalf("expected env cooldown, got %s", cfg.Stats.Cooldown())
	}
	if cfg.Dashboard.HistoryLimit != 20 {
		t.Fatalf("expected yaml history limit, got %d", cfg.Dashboard.HistoryLimit)
	}
	if cfg.Location() != time.UTC {
		t.Fatalf("expected UTC location")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "complete", mutate: func(*Config) {}},
		{name: "no token", mutate: func(c *Config) { c.DiscordToken = "" }, wantErr: true},
		{name: "no database", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: true},
		{name: "no oauth client", mutate: func(c *Config) { c.OAuth.ClientSecret = "" }, wantErr: true},
		{name: "no session secret", mutate: func(c *Config) { c.Dashboard.SessionSecret = "" }, wantErr: true},
		{name: "dashboard off", mutate: func(c *Config) {
			c.Dashboard.Enabled = false
			c.OAuth.ClientID = ""
			c.Dashboard.SessionSecret = ""
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.DiscordToken = "token"
			cfg.OAuth.ClientID = "client"
			cfg.OAuth.ClientSecret = "secret"
			cfg.Dashboard.SessionSecret = "session"
			tc.mutate(&cfg)

			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDurationFallbacks(t *testing.T) {
	var stats StatsConfig
	if stats.Warmup() != 5*time.Second || stats.EventDelay() != 2*time.Second {
		t.Fatalf("unexpected stats fallbacks")
	}
	if (WelcomeConfig{}).Timeout() != 30*time.Second {
		t.Fatalf("unexpected welcome timeout fallback")
	}
	if (DashboardConfig{}).SessionTTL() != 24*time.Hour {
		t.Fatalf("unexpected session ttl fallback")
	}
	if (Config{TimeZone: "Nowhere/Special"}).Location() != time.UTC {
		t.Fatalf("unknown zone should fall back to UTC")
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("debug").String() != "debug" || parseLevel("bogus").String() != "info" {
		t.Fatalf("unexpected level parsing")
	}
}
