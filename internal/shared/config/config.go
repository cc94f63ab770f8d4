package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	KurrentDB KurrentDBConfig
	Auth      AuthConfig
	Store     StoreConfig
	Roster    RosterConfig
	Audit     AuditConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
	// AllowedOrigins lists the browser origins accepted by CORS.
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB).
type KurrentDBConfig struct {
	// Host is the KurrentDB server hostname
	Host string
	// Port is the gRPC/HTTP port (default 2113)
	Port int
	// Insecure disables TLS (for development)
	Insecure bool
	// Username for authentication (optional)
	Username string
	// Password for authentication (optional)
	Password string
}

// AuthConfig configures the token identity provider.
type AuthConfig struct {
	JWTSecret  string
	Issuer     string
	SessionTTL time.Duration
	// EmailDomain is appended to bare usernames when issuing tokens.
	EmailDomain string
	// IdleTimeout ends a request session after this long without use.
	IdleTimeout time.Duration
	// MaxSessionsPerUser caps open sessions per identity; the oldest is
	// ended first.
	MaxSessionsPerUser int
}

// StoreConfig selects the document store backend: "memory" or "postgres".
type StoreConfig struct {
	Backend string
}

type RosterConfig struct {
	Collection      string
	RolesCollection string
	// ResubscribeInterval paces reconnect attempts after a dropped subscription.
	ResubscribeInterval time.Duration
	ResubscribeBurst    int
}

// AuditConfig selects the audit backend: "memory", "postgres" or "kurrentdb".
type AuditConfig struct {
	Backend   string
	Stream    string
	ListLimit int
	Timezone  string
}

type RateLimitConfig struct {
	RPS   int
	Burst int
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvInt("SERVER_PORT", 8080),
			Env:            getEnv("ENV", "development"),
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "hub"),
			Password: getEnv("DB_PASSWORD", "hub"),
			Database: getEnv("DB_NAME", "hub"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		KurrentDB: KurrentDBConfig{
			Host:     getEnv("KURRENTDB_HOST", "localhost"),
			Port:     getEnvInt("KURRENTDB_PORT", 2113),
			Insecure: getEnvBool("KURRENTDB_INSECURE", true),
			Username: getEnv("KURRENTDB_USERNAME", ""),
			Password: getEnv("KURRENTDB_PASSWORD", ""),
		},
		Auth: AuthConfig{
			JWTSecret:          getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
			Issuer:             getEnv("JWT_ISSUER", "psp-hub"),
			SessionTTL:         getEnvDuration("SESSION_TTL", 8*time.Hour),
			EmailDomain:        getEnv("AUTH_EMAIL_DOMAIN", "psp.com"),
			IdleTimeout:        getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
			MaxSessionsPerUser: getEnvInt("SESSION_MAX_PER_USER", 5),
		},
		Store: StoreConfig{
			Backend: getEnv("STORE_BACKEND", "memory"),
		},
		Roster: RosterConfig{
			Collection:          getEnv("ROSTER_COLLECTION", "members"),
			RolesCollection:     getEnv("ROLES_COLLECTION", "roles"),
			ResubscribeInterval: getEnvDuration("ROSTER_RESUBSCRIBE_INTERVAL", 2*time.Second),
			ResubscribeBurst:    getEnvInt("ROSTER_RESUBSCRIBE_BURST", 3),
		},
		Audit: AuditConfig{
			Backend:   getEnv("AUDIT_BACKEND", "memory"),
			Stream:    getEnv("AUDIT_STREAM", "hub-audit"),
			ListLimit: getEnvInt("AUDIT_LIST_LIMIT", 100),
			Timezone:  getEnv("AUDIT_TIMEZONE", "Europe/Lisbon"),
		},
		RateLimit: RateLimitConfig{
			RPS:   getEnvInt("RATE_LIMIT_RPS", 20),
			Burst: getEnvInt("RATE_LIMIT_BURST", 40),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	switch c.Audit.Backend {
	case "memory", "postgres", "kurrentdb":
	default:
		return fmt.Errorf("unknown AUDIT_BACKEND %q", c.Audit.Backend)
	}
	if c.Audit.Backend == "postgres" && c.Store.Backend != "postgres" {
		return fmt.Errorf("AUDIT_BACKEND=postgres requires STORE_BACKEND=postgres")
	}
	if c.IsProduction() && c.Auth.JWTSecret == "dev-secret-change-in-prod" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	if c.IsProduction() {
		for _, o := range c.Server.AllowedOrigins {
			if o == "*" {
				return fmt.Errorf("CORS_ALLOWED_ORIGINS must not contain * in production")
			}
		}
	}
	if c.Audit.ListLimit <= 0 || c.Audit.ListLimit > 100 {
		c.Audit.ListLimit = 100
	}
	return nil
}

// Location returns the zone used for audit local date/time fields.
func (a AuditConfig) Location() *time.Location {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
