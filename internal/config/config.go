package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	LogLevel     string `mapstructure:"log_level" yaml:"log_level"`

	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`

	// EmailDomain restricts registration to one organization domain.
	// Empty allows any address.
	EmailDomain string `mapstructure:"email_domain" yaml:"email_domain"`

	// RedisAddr enables the status update mirror when non-empty.
	RedisAddr string `mapstructure:"redis_addr" yaml:"redis_addr"`

	// StatusSweepInterval is how often expired statuses are reset to AVAILABLE.
	StatusSweepInterval time.Duration `mapstructure:"status_sweep_interval" yaml:"status_sweep_interval"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:                ":8080",
		ReadHeaderTimeout:   5 * time.Second,
		ShutdownTimeout:     5 * time.Second,
		DatabasePath:        "crewdeck.db",
		LogLevel:            "info",
		JWTSecret:           "dev-secret-change-me",
		JWTIssuer:           "crewdeck",
		JWTAudience:         "crewdeck-clients",
		EmailDomain:         "",
		RedisAddr:           "",
		StatusSweepInterval: 30 * time.Second,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.EmailDomain != "" {
		c.EmailDomain = other.EmailDomain
	}
	if other.RedisAddr != "" {
		c.RedisAddr = other.RedisAddr
	}
	if other.StatusSweepInterval != 0 {
		c.StatusSweepInterval = other.StatusSweepInterval
	}
}
