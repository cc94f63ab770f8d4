package kurrentdb

import (
	"fmt"

	"github.com/psp-hub/platform/internal/shared/config"
)

// Config holds KurrentDB connection configuration.
type Config struct {
	// Host is the KurrentDB server hostname
	Host string
	// Port is the KurrentDB gRPC/HTTP port (default 2113)
	Port int
	// Insecure disables TLS (for development)
	Insecure bool
	Username string
	Password string
}

// FromConfig maps the shared configuration section onto a client Config.
func FromConfig(cfg config.KurrentDBConfig) *Config {
	port := cfg.Port
	if port == 0 {
		port = 2113
	}
	return &Config{
		Host:     cfg.Host,
		Port:     port,
		Insecure: cfg.Insecure,
		Username: cfg.Username,
		Password: cfg.Password,
	}
}

// ConnectionString returns the esdb:// connection string for the client.
func (c *Config) ConnectionString() string {
	var auth string
	if c.Username != "" && c.Password != "" {
		auth = fmt.Sprintf("%s:%s@", c.Username, c.Password)
	}

	var tls string
	if c.Insecure {
		tls = "?tls=false"
	}

	return fmt.Sprintf("esdb://%s%s:%d%s", auth, c.Host, c.Port, tls)
}
