package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reverie.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
version: "1"
conversations:
  idle_threshold: 20m
  platform_idle_thresholds:
    voice: 5m
delivery:
  max_retries: 5
gateway:
  bind: "0.0.0.0:9090"
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Version != "1" {
		t.Errorf("version = %q", cfg.Version)
	}
	if cfg.Conversations.IdleThreshold != 20*time.Minute {
		t.Errorf("idle_threshold = %v", cfg.Conversations.IdleThreshold)
	}
	if cfg.Conversations.PlatformIdleThresholds["voice"] != 5*time.Minute {
		t.Errorf("voice threshold = %v", cfg.Conversations.PlatformIdleThresholds["voice"])
	}
	if cfg.Delivery.MaxRetries != 5 {
		t.Errorf("max_retries = %d", cfg.Delivery.MaxRetries)
	}
	if cfg.Gateway.Bind != "0.0.0.0:9090" {
		t.Errorf("bind = %q", cfg.Gateway.Bind)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load(writeConfig(t, `version: "1"`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.WAL == nil || !*cfg.Storage.WAL {
		t.Error("wal default not applied")
	}
	if cfg.Storage.BusyTimeout != 5000 {
		t.Errorf("busy_timeout = %d", cfg.Storage.BusyTimeout)
	}
	if cfg.Conversations.IdleThreshold != 15*time.Minute {
		t.Errorf("idle_threshold = %v", cfg.Conversations.IdleThreshold)
	}
	if cfg.Conversations.StuckThreshold != 30*time.Minute {
		t.Errorf("stuck_threshold = %v", cfg.Conversations.StuckThreshold)
	}
	if cfg.Delivery.BackoffBase != time.Minute {
		t.Errorf("backoff_base = %v", cfg.Delivery.BackoffBase)
	}
	if cfg.Delivery.Telegram.BaseURL != "https://api.telegram.org" {
		t.Errorf("telegram base_url = %q", cfg.Delivery.Telegram.BaseURL)
	}
	if cfg.Jobs.Cooldown != 50*time.Minute {
		t.Errorf("cooldown = %v", cfg.Jobs.Cooldown)
	}
	if cfg.Jobs.DecayFactor != 0.98 {
		t.Errorf("decay_factor = %v", cfg.Jobs.DecayFactor)
	}
	if cfg.Pipeline.BatchCap != 20 {
		t.Errorf("batch_cap = %d", cfg.Pipeline.BatchCap)
	}
	if cfg.Gateway.Bind != "127.0.0.1:8080" {
		t.Errorf("bind = %q", cfg.Gateway.Bind)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("REVERIE_TEST_TOKEN", "s3cret")

	cfg, err := Load(writeConfig(t, `
version: "1"
gateway:
  auth_token: ${REVERIE_TEST_TOKEN}
delivery:
  telegram:
    token: ${REVERIE_TEST_UNSET:-fallback}
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.AuthToken != "s3cret" {
		t.Errorf("auth_token = %q, want env value", cfg.Gateway.AuthToken)
	}
	if cfg.Delivery.Telegram.Token != "fallback" {
		t.Errorf("telegram token = %q, want default", cfg.Delivery.Telegram.Token)
	}
}

func TestLoad_EnvValueBeatsDefault(t *testing.T) {
	t.Setenv("REVERIE_TEST_SET", "from-env")

	cfg, err := Load(writeConfig(t, `
version: "1"
gateway:
  auth_token: ${REVERIE_TEST_SET:-ignored}
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.AuthToken != "from-env" {
		t.Errorf("auth_token = %q, want env value over default", cfg.Gateway.AuthToken)
	}
}

func TestLoad_UnresolvedVariable(t *testing.T) {
	_, err := Load(writeConfig(t, `
version: "1"
gateway:
  auth_token: ${REVERIE_TEST_MISSING_VAR}
`))
	if err == nil {
		t.Fatal("expected error for unresolved variable")
	}
	if !strings.Contains(err.Error(), "REVERIE_TEST_MISSING_VAR") {
		t.Errorf("err = %v, want the variable named", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load("/nonexistent/reverie.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "version: [unclosed")); err == nil {
		t.Fatal("expected parse error")
	}
}
