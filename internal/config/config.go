package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment names recognised in APP_ENV / NODE_ENV
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Config holds all configuration for the portal
type Config struct {
	// Environment is one of development, production, test
	Environment string `yaml:"environment"`

	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Auth     AuthConfig     `yaml:"auth"`
	CSRF     CSRFConfig     `yaml:"csrf"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// HTTPConfig holds listener and client-facing URL settings
type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	APIBaseURL     string   `yaml:"api_base_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Address string `yaml:"address"` // host:port
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// AuthConfig holds session and sign-in settings
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`

	// MockAuth lets MockAdminToken authenticate as a synthetic admin outside production
	MockAuth       bool   `yaml:"mock_auth"`
	MockAdminToken string `yaml:"mock_admin_token"`

	// External provider credentials; only their presence is reported by the debug route
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// CSRFConfig controls anti-forgery enforcement
type CSRFConfig struct {
	// Strict rejects mutating cookie-session requests that carry no token at all.
	// When false such requests pass through.
	Strict bool `yaml:"strict"`
}

// WorkerConfig holds background job settings
type WorkerConfig struct {
	PurgeSchedule string `yaml:"purge_schedule"` // cron expression
}

// IsProduction reports whether the portal runs in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// MockAuthEnabled reports whether the mock admin token may be honoured
func (c *Config) MockAuthEnabled() bool {
	return c.Auth.MockAuth && c.Auth.MockAdminToken != "" && !c.IsProduction()
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Environment: EnvDevelopment,
		HTTP: HTTPConfig{
			Addr:           ":8080",
			APIBaseURL:     "http://localhost:8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Database: DatabaseConfig{URL: "ngdi.sqlite"},
		Redis:    RedisConfig{Address: "localhost:6379"},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
		Auth:     AuthConfig{SessionTTL: 24 * time.Hour},
		Worker:   WorkerConfig{PurgeSchedule: "*/15 * * * *"},
	}
}

// Load loads configuration from an optional YAML file and environment variables.
// Environment variables take precedence over the file.
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	cfg := Default()

	if path := os.Getenv("NGDI_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := getenv(key); v != "" {
				*dst = v
				return
			}
		}
	}
	setBool := func(dst *bool, key string) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = b
		return nil
	}

	// NODE_ENV is honoured for deployments carried over from the old portal
	setString(&c.Environment, "APP_ENV", "NODE_ENV")
	c.Environment = strings.ToLower(c.Environment)

	setString(&c.HTTP.Addr, "HTTP_ADDR")
	setString(&c.HTTP.APIBaseURL, "API_BASE_URL")
	if v := getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.HTTP.AllowedOrigins = splitList(v)
	}

	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Redis.Address, "REDIS_ADDRESS")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.Format, "LOG_FORMAT")

	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Auth.MockAdminToken, "MOCK_ADMIN_TOKEN")
	setString(&c.Auth.ClientID, "AUTH_CLIENT_ID")
	setString(&c.Auth.ClientSecret, "AUTH_CLIENT_SECRET")
	if err := setBool(&c.Auth.MockAuth, "MOCK_AUTH"); err != nil {
		return err
	}
	if v := getenv("SESSION_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SESSION_TTL: %w", err)
		}
		c.Auth.SessionTTL = ttl
	}

	if err := setBool(&c.CSRF.Strict, "CSRF_STRICT"); err != nil {
		return err
	}

	setString(&c.Worker.PurgeSchedule, "SESSION_PURGE_SCHEDULE")
	return nil
}

// Validate checks invariants that would otherwise surface as confusing runtime failures
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return fmt.Errorf("unknown environment %q", c.Environment)
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive, got %s", c.Auth.SessionTTL)
	}
	if c.IsProduction() && c.Auth.MockAuth {
		return fmt.Errorf("MOCK_AUTH cannot be enabled in production")
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
