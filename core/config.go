package core

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the pipeline. It supports three-layer
// priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := core.NewConfig(
//	    core.WithRedisURL("redis://localhost:6379"),
//	    core.WithOrchestrationTimeout(2*time.Hour),
//	)
type Config struct {
	// Storage
	RedisURL  string `json:"redis_url" env:"ACTUATOR_REDIS_URL,REDIS_URL"`
	Namespace string `json:"namespace" env:"ACTUATOR_NAMESPACE" default:"actuator"`

	// Execution
	OrchestrationTimeout time.Duration `json:"orchestration_timeout" env:"ACTUATOR_ORCHESTRATION_TIMEOUT_HOURS" default:"1h"`
	AttemptTTLBuffer     time.Duration `json:"attempt_ttl_buffer" default:"15m"`
	OutcomeRetention     time.Duration `json:"outcome_retention" default:"2160h"` // 90 days
	DedupeRetention      time.Duration `json:"dedupe_retention" default:"168h"`   // 7 days
	EmergencyStop        bool          `json:"emergency_stop" env:"ACTUATOR_EMERGENCY_STOP" default:"false"`

	// Tool gateway
	GatewayURL string `json:"gateway_url" env:"ACTUATOR_GATEWAY_URL"`

	// Resilience
	Breaker     BreakerConfig     `json:"breaker"`
	Concurrency ConcurrencyConfig `json:"concurrency"`

	// Telemetry
	SLOSampleRate float64 `json:"slo_sample_rate" env:"ACTUATOR_SLO_SAMPLE_RATE" default:"0.01"`

	// Status API
	HTTP HTTPConfig `json:"http"`
	Auth AuthConfig `json:"auth"`
}

// BreakerConfig contains circuit-breaker thresholds. State is persisted per
// connector with a 14-day retention.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold" env:"ACTUATOR_BREAKER_FAILURES" default:"5"`
	Window           time.Duration `json:"window" env:"ACTUATOR_BREAKER_WINDOW" default:"60s"`
	Cooldown         time.Duration `json:"cooldown" env:"ACTUATOR_BREAKER_COOLDOWN" default:"30s"`
	StateRetention   time.Duration `json:"state_retention" default:"336h"` // 14 days
}

// ConcurrencyConfig contains the per-connector admission limits. Connectors
// absent from PerConnector use DefaultCapacity.
type ConcurrencyConfig struct {
	DefaultCapacity   int            `json:"default_capacity" env:"ACTUATOR_CONCURRENCY_DEFAULT" default:"8"`
	PerConnector      map[string]int `json:"per_connector"`
	DefaultRetryAfter time.Duration  `json:"default_retry_after" default:"30s"`
}

// HTTPConfig contains the status API server settings.
type HTTPConfig struct {
	Port            int           `json:"port" env:"ACTUATOR_PORT" default:"8080"`
	ReadTimeout     time.Duration `json:"read_timeout" default:"30s"`
	WriteTimeout    time.Duration `json:"write_timeout" default:"30s"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" default:"10s"`
}

// AuthConfig contains bearer-token verification settings for the status API.
type AuthConfig struct {
	Issuer   string `json:"issuer" env:"ACTUATOR_AUTH_ISSUER,OKTA_ISSUER"`
	Audience string `json:"audience" env:"ACTUATOR_AUTH_AUDIENCE" default:"api://default"`
	ClientID string `json:"client_id" env:"ACTUATOR_AUTH_CLIENT_ID,OKTA_CLIENT_ID"`
}

// Option is a functional option for Config.
type Option func(*Config)

// NewConfig builds a Config from defaults, then environment, then options.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := defaultConfig()
	cfg.applyEnv()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Namespace:            "actuator",
		OrchestrationTimeout: time.Hour,
		AttemptTTLBuffer:     15 * time.Minute,
		OutcomeRetention:     90 * 24 * time.Hour,
		DedupeRetention:      7 * 24 * time.Hour,
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Window:           60 * time.Second,
			Cooldown:         30 * time.Second,
			StateRetention:   14 * 24 * time.Hour,
		},
		Concurrency: ConcurrencyConfig{
			DefaultCapacity:   8,
			PerConnector:      map[string]int{},
			DefaultRetryAfter: 30 * time.Second,
		},
		SLOSampleRate: 0.01,
		HTTP: HTTPConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			Audience: "api://default",
		},
	}
}

func (c *Config) applyEnv() {
	if v := firstEnv("ACTUATOR_REDIS_URL", "REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("ACTUATOR_NAMESPACE"); v != "" {
		c.Namespace = v
	}
	if v := os.Getenv("ACTUATOR_ORCHESTRATION_TIMEOUT_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
			c.OrchestrationTimeout = time.Duration(hours) * time.Hour
		}
	}
	if v := os.Getenv("ACTUATOR_EMERGENCY_STOP"); v != "" {
		c.EmergencyStop = v == "true" || v == "1"
	}
	if v := os.Getenv("ACTUATOR_GATEWAY_URL"); v != "" {
		c.GatewayURL = v
	}
	if v := os.Getenv("ACTUATOR_SLO_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil && rate >= 0 && rate <= 1 {
			c.SLOSampleRate = rate
		}
	}
	if v := os.Getenv("ACTUATOR_BREAKER_FAILURES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Breaker.FailureThreshold = n
		}
	}
	if v := os.Getenv("ACTUATOR_BREAKER_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Breaker.Window = d
		}
	}
	if v := os.Getenv("ACTUATOR_BREAKER_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Breaker.Cooldown = d
		}
	}
	if v := os.Getenv("ACTUATOR_CONCURRENCY_DEFAULT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Concurrency.DefaultCapacity = n
		}
	}
	if v := os.Getenv("ACTUATOR_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p < 65536 {
			c.HTTP.Port = p
		}
	}
	if v := firstEnv("ACTUATOR_AUTH_ISSUER", "OKTA_ISSUER"); v != "" {
		c.Auth.Issuer = v
	}
	if v := os.Getenv("ACTUATOR_AUTH_AUDIENCE"); v != "" {
		c.Auth.Audience = v
	}
	if v := firstEnv("ACTUATOR_AUTH_CLIENT_ID", "OKTA_CLIENT_ID"); v != "" {
		c.Auth.ClientID = v
	}
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks invariants that would otherwise surface as runtime faults.
func (c *Config) Validate() error {
	if c.OrchestrationTimeout <= 0 {
		return fmt.Errorf("orchestration timeout must be positive: %w", ErrInvalidConfiguration)
	}
	if c.AttemptTTLBuffer < 15*time.Minute {
		return fmt.Errorf("attempt TTL buffer must be at least 15 minutes: %w", ErrInvalidConfiguration)
	}
	if c.SLOSampleRate < 0 || c.SLOSampleRate > 1 {
		return fmt.Errorf("SLO sample rate must be within [0,1]: %w", ErrInvalidConfiguration)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be positive: %w", ErrInvalidConfiguration)
	}
	if c.Concurrency.DefaultCapacity <= 0 {
		return fmt.Errorf("concurrency capacity must be positive: %w", ErrInvalidConfiguration)
	}
	return nil
}

// WithRedisURL sets the Redis connection URL.
func WithRedisURL(url string) Option {
	return func(c *Config) { c.RedisURL = url }
}

// WithNamespace sets the key namespace for all stores.
func WithNamespace(ns string) Option {
	return func(c *Config) { c.Namespace = ns }
}

// WithOrchestrationTimeout sets the per-execution orchestration timeout.
// The attempt lock TTL is this value plus the TTL buffer.
func WithOrchestrationTimeout(d time.Duration) Option {
	return func(c *Config) { c.OrchestrationTimeout = d }
}

// WithEmergencyStop toggles the process-wide execution kill switch.
func WithEmergencyStop(on bool) Option {
	return func(c *Config) { c.EmergencyStop = on }
}

// WithGatewayURL sets the downstream tool gateway endpoint.
func WithGatewayURL(url string) Option {
	return func(c *Config) { c.GatewayURL = url }
}

// WithBreakerThresholds overrides the circuit-breaker trip policy.
func WithBreakerThresholds(failures int, window, cooldown time.Duration) Option {
	return func(c *Config) {
		c.Breaker.FailureThreshold = failures
		c.Breaker.Window = window
		c.Breaker.Cooldown = cooldown
	}
}

// WithConnectorCapacity sets the concurrency capacity for one connector.
func WithConnectorCapacity(connector string, capacity int) Option {
	return func(c *Config) {
		if c.Concurrency.PerConnector == nil {
			c.Concurrency.PerConnector = map[string]int{}
		}
		c.Concurrency.PerConnector[connector] = capacity
	}
}

// WithSLOSampleRate sets the tenant-dimension sampling rate for success
// metrics.
func WithSLOSampleRate(rate float64) Option {
	return func(c *Config) { c.SLOSampleRate = rate }
}
