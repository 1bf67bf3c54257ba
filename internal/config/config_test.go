package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Throttle.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, expected 5", cfg.Throttle.MaxAttempts)
	}
	if cfg.Auth.RemoteUserHeader != "X-Remote-User" {
		t.Errorf("RemoteUserHeader = %q, expected %q", cfg.Auth.RemoteUserHeader, "X-Remote-User")
	}
	if cfg.TwoFactor.Skew != 1 {
		t.Errorf("Skew = %d, expected 1", cfg.TwoFactor.Skew)
	}
}

func TestLoad_FileKeepsUnsetDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("throttle:\n  max_attempts: 3\nserver:\n  port: \"9090\"\n")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Throttle.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, expected 3", cfg.Throttle.MaxAttempts)
	}
	if cfg.Throttle.LockoutSeconds != 900 {
		t.Errorf("LockoutSeconds = %d, expected default 900", cfg.Throttle.LockoutSeconds)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("Port = %q, expected %q", cfg.Server.Port, "9090")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOGIN_MAX_ATTEMPTS", "7")
	t.Setenv("LOGIN_LOCKOUT_DURATION", "120")
	t.Setenv("THROTTLE_STORE", "redis")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Throttle.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d, expected 7", cfg.Throttle.MaxAttempts)
	}
	if cfg.Throttle.LockoutDuration() != 2*time.Minute {
		t.Errorf("LockoutDuration = %v, expected 2m", cfg.Throttle.LockoutDuration())
	}
	if cfg.Throttle.Store != "redis" {
		t.Errorf("Store = %q, expected %q", cfg.Throttle.Store, "redis")
	}
}

func TestParseRedisURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		addr     string
		password string
		db       int
	}{
		{"host only", "redis://localhost:6379", "localhost:6379", "", 0},
		{"with db", "redis://cache:6380/2", "cache:6380", "", 2},
		{"with password", "redis://:s3cret@cache:6379/1", "cache:6379", "s3cret", 1},
		{"user and password", "redis://user:pw@cache:6379", "cache:6379", "pw", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Redis.DB = 0
			cfg.parseRedisURL(tt.url)

			if cfg.Redis.Addr != tt.addr {
				t.Errorf("Addr = %q, expected %q", cfg.Redis.Addr, tt.addr)
			}
			if cfg.Redis.Password != tt.password {
				t.Errorf("Password = %q, expected %q", cfg.Redis.Password, tt.password)
			}
			if cfg.Redis.DB != tt.db {
				t.Errorf("DB = %d, expected %d", cfg.Redis.DB, tt.db)
			}
		})
	}
}

func TestSessionTTL(t *testing.T) {
	s := SessionConfig{ExpireHours: 12, RememberDays: 30}

	if got := s.TTL(false); got != 12*time.Hour {
		t.Errorf("TTL(false) = %v, expected 12h", got)
	}
	if got := s.TTL(true); got != 30*24*time.Hour {
		t.Errorf("TTL(true) = %v, expected 720h", got)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Throttle.MaxAttempts = 9

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Throttle.MaxAttempts != 9 {
		t.Errorf("MaxAttempts = %d, expected 9", loaded.Throttle.MaxAttempts)
	}
}

func TestLoad_ListEnv(t *testing.T) {
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.1")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example.com" {
		t.Errorf("CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
	if len(cfg.Server.TrustedProxies) != 1 {
		t.Errorf("TrustedProxies = %v", cfg.Server.TrustedProxies)
	}
}

func TestDefaultConfig_HasNoSecret(t *testing.T) {
	if s := DefaultConfig().Session.Secret; s != "" {
		t.Errorf("default session secret = %q, expected none", s)
	}
}

func TestSessionCheckSecret(t *testing.T) {
	tests := []struct {
		secret string
		ok     bool
	}{
		{"", false},
		{"gatehouse-secret-key-change-in-production", false},
		{"CHANGE-ME", false},
		{"short-but-not-a-placeholder", false},
		{"0123456789abcdef0123456789abcdef", true},
	}

	for _, tt := range tests {
		err := SessionConfig{Secret: tt.secret}.CheckSecret()
		if (err == nil) != tt.ok {
			t.Errorf("CheckSecret(%q) error = %v, expected ok=%v", tt.secret, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrWeakSecret) {
			t.Errorf("CheckSecret(%q) error = %v, expected ErrWeakSecret", tt.secret, err)
		}
	}
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}
	b, _ := GenerateSecret()

	if a == b {
		t.Error("two generated secrets are equal")
	}
	if err := (SessionConfig{Secret: a}).CheckSecret(); err != nil {
		t.Errorf("generated secret rejected: %v", err)
	}
}
