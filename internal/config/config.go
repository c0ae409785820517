package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	LogLevel       string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string   `mapstructure:"REDIS_URL"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	DefaultTenant  string   `mapstructure:"DEFAULT_TENANT"`
	BaseDomain     string   `mapstructure:"BASE_DOMAIN"`
	FacilityTZ     string   `mapstructure:"FACILITY_TIMEZONE"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
	OTLPEndpoint   string   `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure   bool     `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	Features `mapstructure:",squash"`
}

// Features are the deployment-wide defaults. An organization's own
// feature_flags override them.
type Features struct {
	Queue  bool `mapstructure:"FEATURE_QUEUE_ENABLED"`
	Triage bool `mapstructure:"FEATURE_TRIAGE_ENABLED"`
	Board  bool `mapstructure:"FEATURE_BOARD_ENABLED"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"DEFAULT_TENANT", "BASE_DOMAIN", "FACILITY_TIMEZONE", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE",
	"FEATURE_QUEUE_ENABLED", "FEATURE_TRIAGE_ENABLED", "FEATURE_BOARD_ENABLED",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("FACILITY_TIMEZONE", "UTC")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("FEATURE_QUEUE_ENABLED", true)
	v.SetDefault("FEATURE_TRIAGE_ENABLED", true)
	v.SetDefault("FEATURE_BOARD_ENABLED", true)

	// Unmarshal only sees env vars that are bound explicitly.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location returns the facility time zone used for day-scoped numbering.
func (c *Config) Location() (*time.Location, error) {
	if c.FacilityTZ == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.FacilityTZ)
}

// Validate checks that the configuration is safe to run. Outside development a
// signing key is required so bearer tokens are actually verified.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("invalid pool size: min=%d max=%d", c.DBMinConns, c.DBMaxConns)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("FACILITY_TIMEZONE %q: %w", c.FacilityTZ, err)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	return nil
}
