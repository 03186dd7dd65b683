// Package config loads service configuration from a YAML file and
// environment variables with a predictable priority: an explicit --config
// path wins, then CONFIG_PATH, then config.yaml in the working directory,
// then environment variables alone.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the root configuration of the service.
type Config struct {
	Env       string          `yaml:"env" env:"GATEHOUSE_ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	DB        DBConfig        `yaml:"db"`
	Auth      AuthConfig      `yaml:"auth"`
	Directory DirectoryConfig `yaml:"directory"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// HTTPConfig holds the listen address of the HTTP server.
type HTTPConfig struct {
	Host        string   `yaml:"host" env:"GATEHOUSE_HTTP_HOST" env-default:"0.0.0.0"`
	Port        string   `yaml:"port" env:"GATEHOUSE_HTTP_PORT" env-default:"8080"`
	CORSOrigins []string `yaml:"cors_origins" env:"GATEHOUSE_CORS_ORIGINS" env-separator:","`
}

// Addr returns the address in host:port form.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// DBConfig holds the PostgreSQL connection settings.
type DBConfig struct {
	DSN string `yaml:"dsn" env:"GATEHOUSE_PG_DSN" env-required:"true"`
}

// AuthConfig holds token issuance and session lifecycle parameters.
type AuthConfig struct {
	SigningSecret   string        `yaml:"signing_secret" env:"GATEHOUSE_SIGNING_SECRET" env-required:"true"`
	Issuer          string        `yaml:"issuer" env:"GATEHOUSE_ISSUER" env-default:"gatehouse"`
	EntityCode      string        `yaml:"entity_code" env:"GATEHOUSE_ENTITY_CODE" env-default:""`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env:"GATEHOUSE_ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env:"GATEHOUSE_REFRESH_TOKEN_TTL" env-default:"168h"`
	MaxSessions     int           `yaml:"max_sessions" env:"GATEHOUSE_MAX_SESSIONS" env-default:"5"`
}

// DirectoryConfig holds the optional LDAP authenticator settings. When
// Enabled is false the service authenticates against the local credential
// store only.
type DirectoryConfig struct {
	Enabled     bool          `yaml:"enabled" env:"GATEHOUSE_DIRECTORY_ENABLED" env-default:"false"`
	URL         string        `yaml:"url" env:"GATEHOUSE_DIRECTORY_URL" env-default:""`
	UserDNTmpl  string        `yaml:"user_dn_template" env:"GATEHOUSE_DIRECTORY_USER_DN" env-default:""`
	DialTimeout time.Duration `yaml:"dial_timeout" env:"GATEHOUSE_DIRECTORY_TIMEOUT" env-default:"5s"`
}

// CleanupConfig holds the sweep intervals of the background cleanup jobs.
type CleanupConfig struct {
	ExpiredInterval  time.Duration `yaml:"expired_interval" env:"GATEHOUSE_CLEANUP_EXPIRED_INTERVAL" env-default:"1h"`
	RevokedInterval  time.Duration `yaml:"revoked_interval" env:"GATEHOUSE_CLEANUP_REVOKED_INTERVAL" env-default:"168h"`
	RevokedRetention time.Duration `yaml:"revoked_retention" env:"GATEHOUSE_CLEANUP_REVOKED_RETENTION" env-default:"720h"`
}

// RateLimitConfig holds the per-client token bucket parameters applied to
// the authentication endpoints.
type RateLimitConfig struct {
	Burst     int `yaml:"burst" env:"GATEHOUSE_RATE_BURST" env-default:"20"`
	PerSecond int `yaml:"per_second" env:"GATEHOUSE_RATE_PER_SECOND" env-default:"10"`
}

// Load reads configuration from the given path, falling back to CONFIG_PATH
// and then config.yaml. An empty path with no file present loads from
// environment variables only.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}

	var cfg Config
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config: file %q: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		return &cfg, nil
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	return &cfg, nil
}

// MustLoad is Load that terminates the process on error. Intended for main.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return cfg
}
