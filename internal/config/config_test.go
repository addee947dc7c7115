package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoadWithDefaults_Succeeds(t *testing.T) {
	// Ensure envs are clean to use defaults
	os.Unsetenv("DB_PATH")
	os.Unsetenv("GRPC_ADDRESS")
	os.Unsetenv("JWT_SECRET")
	os.Unsetenv("SESSION_IDLE_TIMEOUT")
	cfg, err := LoadWithDefaults()
	if err != nil {
		t.Fatalf("LoadWithDefaults: %v", err)
	}
	if cfg.GRPC.Address == "" || cfg.Database.Path == "" || cfg.Auth.JWTSecret == "" {
		t.Fatalf("unexpected empty defaults: %+v", cfg)
	}
	if cfg.Menu.MaxPolls != 30 || cfg.Menu.PollEvery != time.Second {
		t.Fatalf("unexpected menu poll defaults: %+v", cfg.Menu)
	}
	if cfg.Game.SessionIdleTimeout != 15*time.Minute {
		t.Fatalf("unexpected idle timeout: %s", cfg.Game.SessionIdleTimeout)
	}
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	// Clear JWT_SECRET ensures error
	os.Unsetenv("JWT_SECRET")
	t.Setenv("DB_PATH", "test.db")
	t.Setenv("GRPC_ADDRESS", ":1234")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error when JWT_SECRET is not set")
	}
	// When set, it should succeed
	t.Setenv("JWT_SECRET", "x")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with secret set: %v", err)
	}
	if cfg.GRPC.Address != ":1234" || cfg.Database.Path != "test.db" {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("SESSION_IDLE_TIMEOUT", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error for SESSION_IDLE_TIMEOUT")
	}
}

func TestLoad_RejectsInvalidPushEndpoint(t *testing.T) {
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("PUSH_ENDPOINT", "not a url")
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error for PUSH_ENDPOINT")
	}
}

func TestString_MasksSecrets(t *testing.T) {
	cfg := &Config{}
	cfg.Auth.JWTSecret = "topsecret"
	cfg.Menu.APIKey = "sk-abc"
	s := cfg.String()
	if strings.Contains(s, "topsecret") || strings.Contains(s, "sk-abc") {
		t.Fatalf("secret leaked: %s", s)
	}
}
