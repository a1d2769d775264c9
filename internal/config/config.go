package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	APIBase        string        `mapstructure:"API_BASE"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	LogFile        string        `mapstructure:"LOG_FILE"`
	HistoryFile    string        `mapstructure:"HISTORY_FILE"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	SandboxPort     string        `mapstructure:"SANDBOX_PORT"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	BodyLimit       string        `mapstructure:"BODY_LIMIT"`
	UploadLimit     string        `mapstructure:"UPLOAD_LIMIT"`
	AuthRateRPS     float64       `mapstructure:"AUTH_RATE_LIMIT_RPS"`
	AuthRateBurst   int           `mapstructure:"AUTH_RATE_LIMIT_BURST"`
	SeedDemo        bool          `mapstructure:"SANDBOX_SEED"`
	SeedPatients    int           `mapstructure:"SANDBOX_SEED_PATIENTS"`
	HandlerTimeout  time.Duration `mapstructure:"HANDLER_TIMEOUT"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

var keys = []string{
	"API_BASE", "ENV", "LOG_LEVEL", "LOG_FILE", "HISTORY_FILE", "REQUEST_TIMEOUT",
	"SANDBOX_PORT", "CORS_ORIGINS", "BODY_LIMIT", "UPLOAD_LIMIT",
	"AUTH_RATE_LIMIT_RPS", "AUTH_RATE_LIMIT_BURST",
	"SANDBOX_SEED", "SANDBOX_SEED_PATIENTS", "HANDLER_TIMEOUT", "SHUTDOWN_TIMEOUT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("API_BASE", "http://localhost:8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("HISTORY_FILE", "")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("SANDBOX_PORT", "8000")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("UPLOAD_LIMIT", "20M")
	v.SetDefault("AUTH_RATE_LIMIT_RPS", 1)
	v.SetDefault("AUTH_RATE_LIMIT_BURST", 10)
	v.SetDefault("SANDBOX_SEED", true)
	v.SetDefault("SANDBOX_SEED_PATIENTS", 8)
	v.SetDefault("HANDLER_TIMEOUT", "30s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}
	cfg.APIBase = strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when running against a production backend.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Level parses LOG_LEVEL. An empty value is info.
func (c *Config) Level() (zerolog.Level, error) {
	if strings.TrimSpace(c.LogLevel) == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.LogLevel)))
}

// Validate checks that the configuration is usable. API_BASE must be an
// absolute http(s) URL, and production must not talk to the backend in the
// clear.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIBase)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("API_BASE must be an http(s) URL, got %q", c.APIBase)
	}
	if c.IsProduction() && u.Scheme != "https" {
		return fmt.Errorf("API_BASE must use https when ENV=production")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("LOG_LEVEL is not a valid level: %w", err)
	}
	if c.SeedPatients < 0 {
		return fmt.Errorf("SANDBOX_SEED_PATIENTS must not be negative, got %d", c.SeedPatients)
	}
	if c.HandlerTimeout < 0 {
		return fmt.Errorf("HANDLER_TIMEOUT must not be negative, got %s", c.HandlerTimeout)
	}
	if c.AuthRateRPS < 0 || c.AuthRateBurst < 0 {
		return fmt.Errorf("AUTH_RATE_LIMIT_RPS and AUTH_RATE_LIMIT_BURST must not be negative")
	}
	return nil
}
