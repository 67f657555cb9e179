package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatehouse.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":9000"
database:
  dsn: "postgres://gatehouse@localhost/gatehouse"
auth:
  secret: "`+testSecret+`"
  access_ttl: 10m
  max_login_attempts: 3
mqtt:
  enabled: true
  broker: "tcp://broker:1883"
cors:
  allowed_origins: ["https://admin.example.com"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPAddr != ":9000" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Auth.AccessTTL != 10*time.Minute || cfg.Auth.MaxLoginAttempts != 3 {
		t.Errorf("auth overrides not applied: %+v", cfg.Auth)
	}
	if cfg.Auth.RefreshTTL != 7*24*time.Hour || cfg.Auth.LockoutDuration != 15*time.Minute || cfg.Auth.HashCost != 12 {
		t.Errorf("auth defaults lost: %+v", cfg.Auth)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.TopicPrefix != "gatehouse/events" {
		t.Errorf("unexpected mqtt config: %+v", cfg.MQTT)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 {
		t.Errorf("unexpected cors config: %+v", cfg.CORS)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/gatehouse.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GATEHOUSE_JWT_SECRET", testSecret)
	t.Setenv("GATEHOUSE_PG_DSN", "postgres://env")
	t.Setenv("GATEHOUSE_LOCKOUT_DURATION", "30m")
	t.Setenv("GATEHOUSE_MAX_LOGIN_ATTEMPTS", "7")
	t.Setenv("GATEHOUSE_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.DSN != "postgres://env" {
		t.Errorf("DSN = %q", cfg.Database.DSN)
	}
	if cfg.Auth.LockoutDuration != 30*time.Minute || cfg.Auth.MaxLoginAttempts != 7 {
		t.Errorf("env overrides not applied: %+v", cfg.Auth)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("origins = %v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("GATEHOUSE_JWT_SECRET", testSecret)
	t.Setenv("GATEHOUSE_ACCESS_TTL", "soon")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "GATEHOUSE_ACCESS_TTL") {
		t.Fatalf("expected access ttl error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := defaultConfig()
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "auth.secret") {
		t.Fatalf("expected secret error, got %v", err)
	}

	cfg.Auth.Secret = testSecret
	cfg.Auth.AccessTTL = 8 * 24 * time.Hour
	cfg.Auth.MaxLoginAttempts = 0
	cfg.MQTT.Enabled = true
	cfg.MQTT.QoS = 3
	err = cfg.Validate()
	for _, want := range []string{"access_ttl", "max_login_attempts", "mqtt.qos"} {
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("expected %s in %v", want, err)
		}
	}

	ok := defaultConfig()
	ok.Auth.Secret = testSecret
	if err := ok.Validate(); err != nil {
		t.Fatalf("defaults with secret should validate: %v", err)
	}
}
