// Package config loads engine configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for askdb-engine.
// Everything is environment-driven with sensible defaults; absence of a
// variable is never fatal. Secrets (store URI, LLM key, JWT secret) are
// env-only and must never be logged.
type Config struct {
	// Server
	BindAddr string `env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `env:"PORT" env-default:"8080"`
	Env      string `env:"ENVIRONMENT" env-default:"local"`
	Version  string `env:"-"` // Set at load time, not from env

	// System store (sessions, messages, memory, schema registry)
	StoreURI      string `env:"STORE_URI" env-default:"mongodb://localhost:27017"`
	StoreDatabase string `env:"STORE_DATABASE" env-default:"askdb"`

	// Agent behavior
	SchemaTTLMs        int64 `env:"SCHEMA_TTL_MS" env-default:"86400000"`
	DefaultRowCap      int   `env:"DEFAULT_ROW_CAP" env-default:"1000"`
	QueryTimeoutMs     int64 `env:"QUERY_TIMEOUT_MS" env-default:"15000"`
	PreflightTimeoutMs int64 `env:"PREFLIGHT_TIMEOUT_MS" env-default:"5000"`
	RedactSQL          bool  `env:"REDACT_SQL" env-default:"false"`

	// Target database pooling
	PoolMaxConns int32 `env:"POOL_MAX_CONNS" env-default:"10"`

	// Sessions
	SessionIdleTimeoutMin int `env:"SESSION_IDLE_TIMEOUT_MIN" env-default:"60"`
	SessionSweepMin       int `env:"SESSION_SWEEP_MIN" env-default:"30"`
	SessionExpiryDays     int `env:"SESSION_EXPIRY_DAYS" env-default:"30"`
	MaxSessionsPerUser    int `env:"MAX_SESSIONS_PER_USER" env-default:"20"`

	// LLM oracle. Empty endpoint means "no LLM": the engine falls back to
	// deterministic heuristics instead of failing.
	LLMEndpoint  string `env:"LLM_ENDPOINT" env-default:""`
	LLMModel     string `env:"LLM_MODEL" env-default:""`
	LLMAPIKey    string `env:"LLM_API_KEY" env-default:""`
	LLMTimeoutMs int64  `env:"LLM_TIMEOUT_MS" env-default:"30000"`

	// Auth for the WebSocket handshake. HTTP callers are assumed to arrive
	// with a verified user identity attached by the outer layer.
	JWTSecret string `env:"JWT_SECRET" env-default:""`

	// Logging
	LogDir string `env:"LOG_DIR" env-default:""`
}

// Load reads configuration from the environment. The version parameter is
// injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return cfg, nil
}

// SchemaTTL returns the schema snapshot freshness window.
func (c *Config) SchemaTTL() time.Duration {
	return time.Duration(c.SchemaTTLMs) * time.Millisecond
}

// QueryTimeout returns the per-statement wall-clock deadline.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutMs) * time.Millisecond
}

// PreflightTimeout returns the connection liveness probe deadline.
func (c *Config) PreflightTimeout() time.Duration {
	return time.Duration(c.PreflightTimeoutMs) * time.Millisecond
}

// LLMTimeout returns the deadline applied to LLM calls.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutMs) * time.Millisecond
}

// SessionIdleTimeout returns how long a session may sit without activity
// before the housekeeping sweep marks it inactive.
func (c *Config) SessionIdleTimeout() time.Duration {
	return time.Duration(c.SessionIdleTimeoutMin) * time.Minute
}

// SessionSweepInterval returns how often the housekeeping sweep runs.
func (c *Config) SessionSweepInterval() time.Duration {
	return time.Duration(c.SessionSweepMin) * time.Minute
}

// HasLLM reports whether an LLM oracle is configured.
func (c *Config) HasLLM() bool {
	return c.LLMEndpoint != "" && c.LLMModel != ""
}
