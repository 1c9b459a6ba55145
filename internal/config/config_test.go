package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "bridge:\n  machine: afm\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bridge.Machine != "afm" {
		t.Fatalf("expected machine afm, got %q", cfg.Bridge.Machine)
	}
	if cfg.Bridge.TickInterval != 16*time.Millisecond || cfg.Bridge.StopTimeout != 5*time.Second {
		t.Fatalf("unexpected bridge defaults %+v", cfg.Bridge)
	}
	if !cfg.Bridge.MechsEnabled || !cfg.Bridge.AudioEnabled || cfg.Bridge.StopMode != "async" {
		t.Fatalf("unexpected bridge defaults %+v", cfg.Bridge)
	}
	if cfg.Audio.QueueFrames != 10 || cfg.Audio.Output != "none" {
		t.Fatalf("unexpected audio defaults %+v", cfg.Audio)
	}
	if cfg.Runtime.Driver != "loopback" || cfg.Server.HTTPPort != 8080 {
		t.Fatal("unexpected server defaults")
	}
}

func TestLoadSolenoidDelayAndUsers(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
bridge:
  solenoid_delay_ms: 1500
auth:
  enabled: true
  users:
    - username: op
      role: operator
      password_hash: "$argon2id$x"
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bridge.SolenoidDelay() != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s, got %v", cfg.Bridge.SolenoidDelay())
	}
	if len(cfg.Auth.Users) != 1 || cfg.Auth.Users[0].Username != "op" {
		t.Fatalf("unexpected users %+v", cfg.Auth.Users)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("PINBRIDGE_BRIDGE_MACHINE", "tz")
	cfg, err := Load(writeConfig(t, "bridge:\n  machine: afm\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bridge.Machine != "tz" {
		t.Fatalf("expected env override, got %q", cfg.Bridge.Machine)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"stop mode", "bridge:\n  stop_mode: later\n"},
		{"audio output", "audio:\n  output: speakers\n"},
		{"driver", "runtime:\n  driver: pinmame\n"},
		{"negative delay", "bridge:\n  solenoid_delay_ms: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestJWTSecretFallback(t *testing.T) {
	a := AuthConfig{JWTSecretEnv: "PINBRIDGE_TEST_SECRET"}
	if a.IsProductionReady() {
		t.Fatal("dev secret must not be production ready")
	}
	t.Setenv("PINBRIDGE_TEST_SECRET", "0123456789abcdef0123456789abcdef")
	if !a.IsProductionReady() {
		t.Fatal("expected configured secret to be production ready")
	}
}
