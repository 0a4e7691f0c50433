package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, `
env: prod
provider:
  apiKey: foo
  symbol: ETH
monitor:
  longThreshold: 1000000
  shortThreshold: 2500000
  pollIntervalSec: 30
server:
  port: 8080
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Env != "prod" || cfg.Provider.APIKey != "foo" || cfg.Provider.Symbol != "ETH" {
		t.Fatalf("unexpected cfg values: %+v", cfg)
	}
	if cfg.Monitor.PollInterval() != 30*time.Second {
		t.Fatalf("poll interval = %v", cfg.Monitor.PollInterval())
	}
	// 未覆盖的字段保持默认
	if cfg.Provider.TimeoutSeconds != 5 || cfg.Monitor.MaxRetries != 3 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if cfg.Server.ListenAddr() != ":8080" {
		t.Fatalf("listen addr = %s", cfg.Server.ListenAddr())
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider.APIKey != PlaceholderAPIKey || cfg.Server.Port != DefaultPort {
		t.Fatalf("expected placeholder defaults, got %+v", cfg)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeTempConfig(t, "monitor: [")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
provider:
  apiKey: foo
telegram:
  botToken: bar
  chatId: "1"
`)
	t.Setenv("COINGLASS_API_KEY", "env-key")
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("TELEGRAM_CHAT_ID", "-100200")
	t.Setenv("PORT", "4000")
	cfg, err := LoadWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider.APIKey != "env-key" || cfg.Telegram.BotToken != "env-token" || cfg.Telegram.ChatID != "-100200" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.Server.Port != 4000 {
		t.Fatalf("port override not applied: %d", cfg.Server.Port)
	}
}

func TestLoadWithEnvOverridesBadPort(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	if _, err := LoadWithEnvOverrides(""); err == nil {
		t.Fatalf("expected error for bad PORT")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(AppConfig{}); err == nil {
		t.Fatalf("expected error for empty config")
	}
	cfg := Default()
	cfg.Monitor.PollIntervalSec = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for zero poll interval")
	}
	if err := Validate(Default()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load("../configs/config.example.yaml")
	if err != nil {
		t.Fatalf("example config: %v", err)
	}
	if cfg.Monitor.PollInterval() != 60*time.Second {
		t.Fatalf("poll interval = %v", cfg.Monitor.PollInterval())
	}
	if cfg.Provider.APIKey != PlaceholderAPIKey {
		t.Fatalf("api key should stay placeholder, got %q", cfg.Provider.APIKey)
	}
}

func TestValidateParamsPollIntervalRange(t *testing.T) {
	cases := []struct {
		secs float64
		ok   bool
	}{
		{60, true},
		{0.25, true},
		{1e-12, false},
		{1e300, false},
		{-1, false},
	}
	for _, tc := range cases {
		m := Default().Monitor
		m.PollIntervalSec = tc.secs
		err := ValidateParams(m)
		if tc.ok && err != nil {
			t.Fatalf("pollIntervalSec=%v: unexpected error %v", tc.secs, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("pollIntervalSec=%v: expected error", tc.secs)
		}
	}
	if got := Default().Monitor; got.PollInterval() <= 0 {
		t.Fatalf("default poll interval = %v", got.PollInterval())
	}
}
