// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

// Package config loads and validates the accountd configuration.
//
// Configuration is layered: compiled-in defaults, then an optional YAML
// file, then command-line flags. The YAML file is checked against a
// generated JSON Schema before it is decoded, so typos surface as
// validation errors instead of silently-ignored keys.
package config

import (
	"os"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/gobwas/glob"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/accountd/accountd/internal/credential"
	"github.com/accountd/accountd/internal/fault"
)

// Config is the full accountd configuration tree.
type Config struct {
	Database     DatabaseConfig     `koanf:"database" json:"database"`
	Listen       ListenConfig       `koanf:"listen" json:"listen"`
	Session      SessionConfig      `koanf:"session" json:"session"`
	Login        LoginConfig        `koanf:"login" json:"login"`
	Verification VerificationConfig `koanf:"verification" json:"verification"`
	Password     PasswordConfig     `koanf:"password" json:"password"`
	Events       EventsConfig       `koanf:"events" json:"events"`
	Logging      LoggingConfig      `koanf:"logging" json:"logging"`
}

// DatabaseConfig selects the PostgreSQL backend.
type DatabaseConfig struct {
	// URL is a postgres:// connection string. Falls back to the
	// DATABASE_URL environment variable when empty.
	URL string `koanf:"url" json:"url,omitempty"`
}

// ListenConfig holds the listen addresses.
type ListenConfig struct {
	// API is the address of the command endpoint.
	API string `koanf:"api" json:"api,omitempty"`

	// Observability is the address of the metrics/health endpoint.
	Observability string `koanf:"observability" json:"observability,omitempty"`
}

// SessionConfig tunes session lifetime.
type SessionConfig struct {
	// IdleTTL is the sliding inactivity window, e.g. "24h".
	IdleTTL time.Duration `koanf:"idle_ttl" json:"idle_ttl,omitempty" jsonschema:"type=string"`

	// SweepInterval is how often expired sessions are purged.
	SweepInterval time.Duration `koanf:"sweep_interval" json:"sweep_interval,omitempty" jsonschema:"type=string"`
}

// LoginConfig tunes the login service.
type LoginConfig struct {
	// RateLimitWindow is the per-host cooldown between attempts.
	RateLimitWindow time.Duration `koanf:"rate_limit_window" json:"rate_limit_window,omitempty" jsonschema:"type=string"`

	// MaxHistoryEntries bounds the per-account login history.
	MaxHistoryEntries int `koanf:"max_history_entries" json:"max_history_entries,omitempty" jsonschema:"minimum=1"`
}

// VerificationConfig tunes the email verification service.
type VerificationConfig struct {
	// Cooldown is the per-user gap between verification requests.
	Cooldown time.Duration `koanf:"cooldown" json:"cooldown,omitempty" jsonschema:"type=string"`

	// TTL is how long a pending verification stays redeemable.
	TTL time.Duration `koanf:"ttl" json:"ttl,omitempty" jsonschema:"type=string"`

	// BaseURL prefixes the permit/deny links in notification mail.
	BaseURL string `koanf:"base_url" json:"base_url,omitempty" jsonschema:"format=uri"`
}

// PasswordConfig selects the hashing algorithm for new credentials.
type PasswordConfig struct {
	// Iterations is the PBKDF2 iteration count.
	Iterations int `koanf:"iterations" json:"iterations,omitempty" jsonschema:"minimum=1"`
}

// EventsConfig filters which event topics are emitted.
type EventsConfig struct {
	// Topics is a list of dot-separated glob patterns; an event is
	// emitted when any pattern matches its topic.
	Topics []string `koanf:"topics" json:"topics,omitempty"`
}

// LoggingConfig tunes log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`

	// Format is json or text.
	Format string `koanf:"format" json:"format,omitempty" jsonschema:"enum=json,enum=text"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		Database: DatabaseConfig{},
		Listen: ListenConfig{
			API:           ":8415",
			Observability: ":9090",
		},
		Session: SessionConfig{
			IdleTTL:       24 * time.Hour,
			SweepInterval: time.Hour,
		},
		Login: LoginConfig{
			RateLimitWindow:   time.Second,
			MaxHistoryEntries: 100,
		},
		Verification: VerificationConfig{
			Cooldown: time.Minute,
			TTL:      24 * time.Hour,
			BaseURL:  "http://localhost:8415",
		},
		Password: PasswordConfig{
			Iterations: credential.DefaultIterations,
		},
		Events: EventsConfig{
			Topics: []string{"**"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load layers an optional YAML file and an optional flag set over the
// defaults. The file is schema-validated before decoding; flags use
// dotted names matching the koanf key paths (e.g. --database.url).
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fault.New(fault.CodeIOError).
				With("path", path).
				Wrapf(err, "read config file")
		}
		if err := ValidateSchema(raw); err != nil {
			return nil, fault.New(fault.CodeIOError).
				With("path", path).
				Wrapf(err, "config file rejected by schema")
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fault.New(fault.CodeIOError).
				With("path", path).
				Wrapf(err, "parse config file")
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, fault.New(fault.CodeIOError).
				Wrapf(err, "apply config flags")
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, fault.New(fault.CodeIOError).
			Wrapf(err, "decode config")
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the constraints the schema cannot express.
func (c *Config) Validate() error {
	if c.Session.IdleTTL <= 0 {
		return fault.New(fault.CodeAPIMisuse).
			With("session.idle_ttl", c.Session.IdleTTL.String()).
			Errorf("session idle TTL must be positive")
	}
	if c.Login.RateLimitWindow < 0 {
		return fault.New(fault.CodeAPIMisuse).
			With("login.rate_limit_window", c.Login.RateLimitWindow.String()).
			Errorf("login rate limit window cannot be negative")
	}
	if c.Login.MaxHistoryEntries <= 0 {
		return fault.New(fault.CodeAPIMisuse).
			With("login.max_history_entries", c.Login.MaxHistoryEntries).
			Errorf("login history cap must be positive")
	}
	if c.Verification.TTL <= 0 {
		return fault.New(fault.CodeAPIMisuse).
			With("verification.ttl", c.Verification.TTL.String()).
			Errorf("verification TTL must be positive")
	}
	if _, err := credential.NewPBKDF2(c.Password.Iterations); err != nil {
		return err
	}
	for _, pattern := range c.Events.Topics {
		if _, err := glob.Compile(pattern, '.'); err != nil {
			return fault.New(fault.CodeAPIMisuse).
				With("pattern", pattern).
				Wrapf(err, "invalid event topic pattern")
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fault.New(fault.CodeAPIMisuse).
			With("logging.level", c.Logging.Level).
			Errorf("unknown log level")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fault.New(fault.CodeAPIMisuse).
			With("logging.format", c.Logging.Format).
			Errorf("unknown log format")
	}
	return nil
}

// Algorithm builds the configured password hashing algorithm.
func (c *Config) Algorithm() (credential.Algorithm, error) {
	return credential.NewPBKDF2(c.Password.Iterations)
}
