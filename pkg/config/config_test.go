package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("default log level = %q", cfg.Logging.Level)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("default shutdown timeout = %v", cfg.ShutdownTimeout)
	}
	if cfg.ControlPlane.Port != 8080 {
		t.Errorf("default API port = %d", cfg.ControlPlane.Port)
	}
	if cfg.Engine.MaxParticipants != 50 {
		t.Errorf("default participant cap = %d", cfg.Engine.MaxParticipants)
	}
	if cfg.WebSocket.RateLimit != 20 {
		t.Errorf("default ws rate limit = %v", cfg.WebSocket.RateLimit)
	}
	if cfg.Cleanup.Interval != 60*time.Second || cfg.Cleanup.Retention != 24*time.Hour {
		t.Errorf("unexpected cleanup defaults: %+v", cfg.Cleanup)
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	data := `
logging:
  level: debug
  format: json
engine:
  max_participants: 10
  idle_grace: 2m
controlplane:
  port: 9000
cleanup:
  retention: 1h
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("level not normalized: %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("format = %q", cfg.Logging.Format)
	}
	if cfg.Engine.MaxParticipants != 10 {
		t.Errorf("max_participants = %d", cfg.Engine.MaxParticipants)
	}
	if cfg.Engine.IdleGrace != 2*time.Minute {
		t.Errorf("idle_grace = %v", cfg.Engine.IdleGrace)
	}
	// Unset engine fields still get defaults.
	if cfg.Engine.MailboxSize != 4096 {
		t.Errorf("mailbox_size default not applied: %d", cfg.Engine.MailboxSize)
	}
	if cfg.ControlPlane.Port != 9000 {
		t.Errorf("port = %d", cfg.ControlPlane.Port)
	}
	if cfg.Cleanup.Retention != time.Hour {
		t.Errorf("retention = %v", cfg.Cleanup.Retention)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ControlPlane.Port != 8080 {
		t.Errorf("expected defaults, got port %d", cfg.ControlPlane.Port)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Run("bad log level", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = "LOUD"
		if err := Validate(cfg); err == nil {
			t.Error("expected validation error")
		}
	})

	t.Run("short JWT secret", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.ControlPlane.JWT.Secret = "short"
		err := Validate(cfg)
		if err == nil || !strings.Contains(err.Error(), "32 characters") {
			t.Errorf("expected secret length error, got %v", err)
		}
	})

	t.Run("bad sample rate", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Telemetry.SampleRate = 3.0
		if err := Validate(cfg); err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestSaveAndReloadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")

	cfg := GetDefaultConfig()
	cfg.ControlPlane.Port = 9999
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if loaded.ControlPlane.Port != 9999 {
		t.Errorf("round trip lost port: %d", loaded.ControlPlane.Port)
	}
}
