package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Session   SessionConfig   `yaml:"session"`
	LDAP      LDAPConfig      `yaml:"ldap"`
	Redis     RedisConfig     `yaml:"redis"`
	Throttle  ThrottleConfig  `yaml:"throttle"`
	TwoFactor TwoFactorConfig `yaml:"two_factor"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
	// CORSOrigins lists origins allowed to call the API with credentials
	CORSOrigins []string `yaml:"cors_origins"`
	// TrustedProxies are the addresses allowed to set X-Forwarded-For and the remote user header
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

type SessionConfig struct {
	Secret       string `yaml:"secret"`
	CookieName   string `yaml:"cookie_name"`
	ExpireHours  int    `yaml:"expire_hours"`
	RememberDays int    `yaml:"remember_days"`
	Secure       bool   `yaml:"secure"`
}

// MinSecretLength is the shortest accepted session signing key.
const MinSecretLength = 32

// placeholderSecrets are keys that appear in docs and old config files.
var placeholderSecrets = map[string]bool{
	"gatehouse-secret-key-change-in-production": true,
	"change-me":   true,
	"changeme":    true,
	"secret":      true,
	"your-secret": true,
}

var ErrWeakSecret = errors.New("session secret is missing or insecure")

// CheckSecret rejects an empty, short or placeholder signing key. Anyone who
// knows the key can mint a session for any user.
func (s SessionConfig) CheckSecret() error {
	switch {
	case s.Secret == "":
		return fmt.Errorf("%w: set session.secret or SESSION_SECRET (gatehouse config init generates one)", ErrWeakSecret)
	case placeholderSecrets[strings.ToLower(s.Secret)]:
		return fmt.Errorf("%w: %q is a published placeholder", ErrWeakSecret, s.Secret)
	case len(s.Secret) < MinSecretLength:
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakSecret, MinSecretLength)
	}
	return nil
}

// GenerateSecret returns a random 256-bit key, hex encoded.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// TTL returns the session lifetime, extended when the user asked to be remembered.
func (s SessionConfig) TTL(remember bool) time.Duration {
	if remember {
		return time.Duration(s.RememberDays) * 24 * time.Hour
	}
	return time.Duration(s.ExpireHours) * time.Hour
}

// LDAPConfig holds process-level directory knobs. Server, base DN and bind
// account live in system_configs so they can be changed without a restart.
type LDAPConfig struct {
	TimeoutSeconds     int  `yaml:"timeout_seconds"`
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

func (l LDAPConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// RedisConfig for the shared throttle store and the async event queue
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ThrottleConfig struct {
	Store          string `yaml:"store"` // memory, redis, database
	MaxAttempts    int    `yaml:"max_attempts"`
	LockoutSeconds int    `yaml:"lockout_seconds"`
}

func (t ThrottleConfig) LockoutDuration() time.Duration {
	return time.Duration(t.LockoutSeconds) * time.Second
}

type TwoFactorConfig struct {
	Issuer string `yaml:"issuer"`
	Skew   uint   `yaml:"skew"`
}

type AuthConfig struct {
	RemoteUserHeader string  `yaml:"remote_user_header"`
	LoginRateLimit   float64 `yaml:"login_rate_limit"`
	LoginBurst       int     `yaml:"login_burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console, json; empty follows the level
	// CleanupSchedule is the cron spec for purging old auth events and expired attempts
	CleanupSchedule string `yaml:"cleanup_schedule"`
}

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	// A missing .env is the normal case outside development.
	_ = godotenv.Load()

	var cfg *Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = DefaultConfig()
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}

		fileCfg := DefaultConfig()
		if err := yaml.Unmarshal(data, fileCfg); err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	cfg.overrideFromEnv()
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "gatehouse.db",
		},
		Session: SessionConfig{
			CookieName:   "gatehouse_session",
			ExpireHours:  12,
			RememberDays: 30,
		},
		LDAP: LDAPConfig{
			TimeoutSeconds: 5,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Throttle: ThrottleConfig{
			Store:          "memory",
			MaxAttempts:    5,
			LockoutSeconds: 900,
		},
		TwoFactor: TwoFactorConfig{
			Issuer: "Gatehouse",
			Skew:   1,
		},
		Auth: AuthConfig{
			RemoteUserHeader: "X-Remote-User",
			LoginRateLimit:   5,
			LoginBurst:       10,
		},
		Log: LogConfig{
			Level:           "info",
			CleanupSchedule: "30 3 * * *",
		},
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		c.Server.CORSOrigins = splitList(origins)
	}
	if proxies := os.Getenv("TRUSTED_PROXIES"); proxies != "" {
		c.Server.TrustedProxies = splitList(proxies)
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("SESSION_SECRET"); secret != "" {
		c.Session.Secret = secret
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}
	if store := os.Getenv("THROTTLE_STORE"); store != "" {
		c.Throttle.Store = store
	}
	if v, err := strconv.Atoi(os.Getenv("LOGIN_MAX_ATTEMPTS")); err == nil && v > 0 {
		c.Throttle.MaxAttempts = v
	}
	if v, err := strconv.Atoi(os.Getenv("LOGIN_LOCKOUT_DURATION")); err == nil && v > 0 {
		c.Throttle.LockoutSeconds = v
	}
	if header := os.Getenv("REMOTE_USER_HEADER"); header != "" {
		c.Auth.RemoteUserHeader = header
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// Password format: :password or user:password
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600)
}
