package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Auth modes.
const (
	AuthDevelopment = "development"
	AuthJWT         = "jwt"
	AuthNone        = "none"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	StoreDriver string `mapstructure:"STORE_DRIVER"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AuthMode         string `mapstructure:"AUTH_MODE"`
	AuthIssuer       string `mapstructure:"AUTH_ISSUER"`
	AuthAudience     string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL      string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey   string `mapstructure:"AUTH_SIGNING_KEY"`
	FallbackIdentity string `mapstructure:"FALLBACK_IDENTITY"`
	RequireIdentity  bool   `mapstructure:"REQUIRE_IDENTITY"`

	EntitiesFile   string `mapstructure:"ENTITIES_FILE"`
	BulkMaxRecords int    `mapstructure:"BULK_MAX_RECORDS"`
	BodyLimit      string `mapstructure:"BODY_LIMIT"`
	BulkBodyLimit  string `mapstructure:"BULK_BODY_LIMIT"`

	AuditTable  string `mapstructure:"AUDIT_TABLE"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	AuditStream string `mapstructure:"AUDIT_STREAM"`

	UploadDir     string `mapstructure:"UPLOAD_DIR"`
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "STORE_DRIVER",
	"CORS_ORIGINS",
	"AUTH_MODE", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"FALLBACK_IDENTITY", "REQUIRE_IDENTITY",
	"ENTITIES_FILE", "BULK_MAX_RECORDS", "BODY_LIMIT", "BULK_BODY_LIMIT",
	"AUDIT_TABLE", "REDIS_URL", "AUDIT_STREAM",
	"UPLOAD_DIR", "PUBLIC_BASE_URL",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("STORE_DRIVER", StorePostgres)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("AUTH_MODE", "") // inferred, see ResolvedAuthMode
	v.SetDefault("FALLBACK_IDENTITY", "system")
	v.SetDefault("BULK_MAX_RECORDS", 1000)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("BULK_BODY_LIMIT", "20M")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "30s")

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

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}
	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)

	if cfg.StoreDriver == StorePostgres && cfg.DatabaseURL == "" {
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

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise, the mode is inferred:
//   - ENV=development → "development" (static developer identity)
//   - any token setting present → "jwt"
//   - Otherwise → "none"
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return strings.ToLower(c.AuthMode)
	}
	if c.IsDev() {
		return AuthDevelopment
	}
	if c.AuthIssuer != "" || c.AuthJWKSURL != "" || c.AuthSigningKey != "" {
		return AuthJWT
	}
	return AuthNone
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StorePostgres, StoreMemory, c.StoreDriver)
	}
	if c.IsProduction() && c.StoreDriver == StoreMemory {
		return fmt.Errorf("STORE_DRIVER=memory is not allowed in production")
	}

	mode := c.ResolvedAuthMode()
	switch mode {
	case AuthDevelopment, AuthNone:
	case AuthJWT:
		if c.AuthJWKSURL == "" && c.AuthSigningKey == "" && c.AuthIssuer == "" {
			return fmt.Errorf("AUTH_JWKS_URL, AUTH_ISSUER or AUTH_SIGNING_KEY must be set when AUTH_MODE is %q", AuthJWT)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be %q, %q, or %q, got %q", AuthDevelopment, AuthJWT, AuthNone, mode)
	}
	if c.IsProduction() && mode == AuthDevelopment {
		return fmt.Errorf("AUTH_MODE=development is not allowed in production")
	}

	if strings.TrimSpace(c.FallbackIdentity) == "" && !c.RequireIdentity {
		return fmt.Errorf("FALLBACK_IDENTITY must be set unless REQUIRE_IDENTITY is true")
	}
	if c.BulkMaxRecords <= 0 {
		return fmt.Errorf("BULK_MAX_RECORDS must be positive, got %d", c.BulkMaxRecords)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative")
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
