package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable for the engine. Three-layer precedence, lowest
// to highest: DefaultConfig() values, environment variables, functional
// options passed to NewConfig.
type Config struct {
	Planning   PlanningConfig   `json:"planning"`
	Execution  ExecutionConfig  `json:"execution"`
	Session    SessionConfig    `json:"session"`
	Catalog    CatalogConfig    `json:"catalog"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
	Logging    LoggingConfig    `json:"logging"`
	RateLimit  RateLimitConfig  `json:"rate_limit"`
	Development DevelopmentConfig `json:"development"`

	logger Logger `json:"-"`
}

// PlanningConfig tunes the strategic LM call that produces a meta-plan.
type PlanningConfig struct {
	StrategicModel       string        `json:"strategic_model" env:"TURNENGINE_PLANNING_MODEL" default:"gpt-4"`
	Temperature          float32       `json:"temperature" env:"TURNENGINE_PLANNING_TEMPERATURE" default:"0.2"`
	MaxTokens            int           `json:"max_tokens" env:"TURNENGINE_PLANNING_MAX_TOKENS" default:"2000"`
	Timeout              time.Duration `json:"timeout" env:"TURNENGINE_PLANNING_TIMEOUT" default:"30s"`
	MaxParseRetries      int           `json:"max_parse_retries" env:"TURNENGINE_PLANNING_MAX_PARSE_RETRIES" default:"2"`
	MaxHallucinationRetries int        `json:"max_hallucination_retries" env:"TURNENGINE_PLANNING_MAX_HALLUCINATION_RETRIES" default:"1"`
	TieredCapabilityThreshold int      `json:"tiered_capability_threshold" env:"TURNENGINE_PLANNING_TIERED_THRESHOLD" default:"25"`
}

// ExecutionConfig tunes phase execution: the tactical LM calls and tool
// retries. MaxConcurrency is validated but not read by the executor, which
// runs a turn's phases one at a time.
type ExecutionConfig struct {
	TacticalModel   string        `json:"tactical_model" env:"TURNENGINE_EXECUTION_MODEL" default:"gpt-4"`
	Temperature     float32       `json:"temperature" env:"TURNENGINE_EXECUTION_TEMPERATURE" default:"0.3"`
	MaxTokens       int           `json:"max_tokens" env:"TURNENGINE_EXECUTION_MAX_TOKENS" default:"1500"`
	ToolTimeout     time.Duration `json:"tool_timeout" env:"TURNENGINE_EXECUTION_TOOL_TIMEOUT" default:"20s"`
	MaxToolAttempts int           `json:"max_tool_attempts" env:"TURNENGINE_EXECUTION_MAX_TOOL_ATTEMPTS" default:"3"`
	MaxConcurrency  int           `json:"max_concurrency" env:"TURNENGINE_EXECUTION_MAX_CONCURRENCY" default:"4"`
	SynthesisTemperature float32  `json:"synthesis_temperature" env:"TURNENGINE_SYNTHESIS_TEMPERATURE" default:"0.5"`
	SynthesisMaxTokens   int      `json:"synthesis_max_tokens" env:"TURNENGINE_SYNTHESIS_MAX_TOKENS" default:"1500"`
}

// SessionConfig selects and configures the session/turn store backend.
type SessionConfig struct {
	Provider   string        `json:"provider" env:"TURNENGINE_SESSION_PROVIDER" default:"memory"`
	RedisURL   string        `json:"redis_url" env:"TURNENGINE_SESSION_REDIS_URL,REDIS_URL"`
	RedisDB    int           `json:"redis_db" env:"TURNENGINE_SESSION_REDIS_DB" default:"2"`
	TurnTTL    time.Duration `json:"turn_ttl" env:"TURNENGINE_SESSION_TURN_TTL" default:"168h"`
}

// CatalogConfig tunes tool/prompt catalog refresh and the debug/execution
// stores that persist per-turn audit data.
type CatalogConfig struct {
	RefreshInterval     time.Duration `json:"refresh_interval" env:"TURNENGINE_CATALOG_REFRESH_INTERVAL" default:"30s"`
	DebugStoreEnabled   bool          `json:"debug_store_enabled" env:"TURNENGINE_DEBUG_STORE_ENABLED" default:"false"`
	DebugStoreRedisURL  string        `json:"debug_store_redis_url" env:"TURNENGINE_DEBUG_STORE_REDIS_URL"`
	ExecutionStoreEnabled bool        `json:"execution_store_enabled" env:"TURNENGINE_EXECUTION_STORE_ENABLED" default:"true"`
}

// TelemetryConfig mirrors the OpenTelemetry wiring an operator expects:
// disabled by default, one env var turns it on end to end.
type TelemetryConfig struct {
	Enabled      bool    `json:"enabled" env:"TURNENGINE_TELEMETRY_ENABLED" default:"false"`
	Endpoint     string  `json:"endpoint" env:"TURNENGINE_TELEMETRY_ENDPOINT,OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string  `json:"service_name" env:"TURNENGINE_TELEMETRY_SERVICE_NAME,OTEL_SERVICE_NAME"`
	SamplingRate float64 `json:"sampling_rate" env:"TURNENGINE_TELEMETRY_SAMPLING_RATE" default:"1.0"`
	Insecure     bool    `json:"insecure" env:"TURNENGINE_TELEMETRY_INSECURE" default:"true"`
}

// LoggingConfig controls the production logger's output shape.
type LoggingConfig struct {
	Level  string `json:"level" env:"TURNENGINE_LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"TURNENGINE_LOG_FORMAT" default:"json"`
	Output string `json:"output" env:"TURNENGINE_LOG_OUTPUT" default:"stdout"`
}

// RateLimitConfig bounds how many turns a session may start in a window,
// enforced at turn entry before planning begins.
type RateLimitConfig struct {
	Enabled           bool          `json:"enabled" env:"TURNENGINE_RATE_LIMIT_ENABLED" default:"false"`
	TurnsPerWindow    int           `json:"turns_per_window" env:"TURNENGINE_RATE_LIMIT_TURNS" default:"30"`
	Window            time.Duration `json:"window" env:"TURNENGINE_RATE_LIMIT_WINDOW" default:"1m"`
}

// DevelopmentConfig switches in fakes for local iteration.
type DevelopmentConfig struct {
	Enabled     bool `json:"enabled" env:"TURNENGINE_DEV_MODE" default:"false"`
	MockAI      bool `json:"mock_ai" env:"TURNENGINE_MOCK_AI" default:"false"`
	MockToolAPI bool `json:"mock_tool_api" env:"TURNENGINE_MOCK_TOOL_API" default:"false"`
	DebugLogging bool `json:"debug_logging" env:"TURNENGINE_DEBUG" default:"false"`
}

// Option is a functional option applied after env loading, highest priority.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults for local use.
func DefaultConfig() *Config {
	return &Config{
		Planning: PlanningConfig{
			StrategicModel:            "gpt-4",
			Temperature:               0.2,
			MaxTokens:                 2000,
			Timeout:                   30 * time.Second,
			MaxParseRetries:           2,
			MaxHallucinationRetries:   1,
			TieredCapabilityThreshold: 25,
		},
		Execution: ExecutionConfig{
			TacticalModel:        "gpt-4",
			Temperature:          0.3,
			MaxTokens:            1500,
			ToolTimeout:          20 * time.Second,
			MaxToolAttempts:      3,
			MaxConcurrency:       4,
			SynthesisTemperature: 0.5,
			SynthesisMaxTokens:   1500,
		},
		Session: SessionConfig{
			Provider: "memory",
			RedisDB:  2,
			TurnTTL:  7 * 24 * time.Hour,
		},
		Catalog: CatalogConfig{
			RefreshInterval:       30 * time.Second,
			ExecutionStoreEnabled: true,
		},
		Telemetry: TelemetryConfig{
			SamplingRate: 1.0,
			Insecure:     true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		RateLimit: RateLimitConfig{
			TurnsPerWindow: 30,
			Window:         time.Minute,
		},
	}
}

// LoadFromEnv overlays environment variables onto the current values. Only
// the variables checked below are read; the env names in the struct tags
// of other fields (temperatures, max tokens, timeouts, Redis DB, TTLs,
// refresh interval, sampling, log output, rate-limit window) are not.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("TURNENGINE_PLANNING_MODEL"); v != "" {
		c.Planning.StrategicModel = v
	}
	if v := os.Getenv("TURNENGINE_PLANNING_MAX_PARSE_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Planning.MaxParseRetries = n
		}
	}
	if v := os.Getenv("TURNENGINE_PLANNING_TIERED_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Planning.TieredCapabilityThreshold = n
		}
	}
	if v := os.Getenv("TURNENGINE_EXECUTION_MODEL"); v != "" {
		c.Execution.TacticalModel = v
	}
	if v := os.Getenv("TURNENGINE_EXECUTION_MAX_TOOL_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Execution.MaxToolAttempts = n
		}
	}
	if v := os.Getenv("TURNENGINE_EXECUTION_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Execution.MaxConcurrency = n
		}
	}
	if v := os.Getenv("TURNENGINE_SESSION_PROVIDER"); v != "" {
		c.Session.Provider = v
	}
	if v := os.Getenv("TURNENGINE_SESSION_REDIS_URL"); v != "" {
		c.Session.RedisURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.Session.RedisURL = v
	}
	if v := os.Getenv("TURNENGINE_DEBUG_STORE_ENABLED"); v != "" {
		c.Catalog.DebugStoreEnabled = parseBool(v)
	}
	if v := os.Getenv("TURNENGINE_DEBUG_STORE_REDIS_URL"); v != "" {
		c.Catalog.DebugStoreRedisURL = v
	}
	if v := os.Getenv("TURNENGINE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("TURNENGINE_TELEMETRY_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	} else if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
	if v := os.Getenv("TURNENGINE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TURNENGINE_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("TURNENGINE_RATE_LIMIT_ENABLED"); v != "" {
		c.RateLimit.Enabled = parseBool(v)
	}
	if v := os.Getenv("TURNENGINE_RATE_LIMIT_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.TurnsPerWindow = n
		}
	}
	if v := os.Getenv("TURNENGINE_DEV_MODE"); v != "" {
		c.Development.Enabled = parseBool(v)
		if c.Development.Enabled {
			c.Logging.Format = "text"
			c.Logging.Level = "debug"
		}
	}
	if v := os.Getenv("TURNENGINE_MOCK_AI"); v != "" {
		c.Development.MockAI = parseBool(v)
	}
	if v := os.Getenv("TURNENGINE_MOCK_TOOL_API"); v != "" {
		c.Development.MockToolAPI = parseBool(v)
	}
	if v := os.Getenv("TURNENGINE_DEBUG"); v != "" {
		c.Development.DebugLogging = parseBool(v)
		if c.Development.DebugLogging {
			c.Logging.Level = "debug"
		}
	}

	return c.Validate()
}

// Validate rejects a configuration that would misbehave at runtime rather
// than failing later inside a turn.
func (c *Config) Validate() error {
	if c.Execution.MaxConcurrency < 1 {
		return &FrameworkError{Op: "Config.Validate", Kind: "config",
			Message: fmt.Sprintf("invalid max_concurrency: %d", c.Execution.MaxConcurrency), Err: ErrInvalidConfig}
	}
	if c.Execution.MaxToolAttempts < 1 {
		return &FrameworkError{Op: "Config.Validate", Kind: "config",
			Message: "max_tool_attempts must be at least 1", Err: ErrInvalidConfig}
	}
	if c.Session.Provider == "redis" && c.Session.RedisURL == "" {
		return &FrameworkError{Op: "Config.Validate", Kind: "config",
			Message: "redis URL is required when session provider is redis", Err: ErrMissingConfig}
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return &FrameworkError{Op: "Config.Validate", Kind: "config",
			Message: "telemetry endpoint is required when telemetry is enabled", Err: ErrMissingConfig}
	}
	return nil
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// WithSessionProvider selects the session store backend ("memory" or "redis").
func WithSessionProvider(provider string) Option {
	return func(c *Config) error {
		c.Session.Provider = provider
		return nil
	}
}

// WithRedisURL configures the Redis URL used by the session store and,
// unless overridden separately, the debug/execution stores.
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.Session.RedisURL = url
		c.Session.Provider = "redis"
		if c.Catalog.DebugStoreRedisURL == "" {
			c.Catalog.DebugStoreRedisURL = url
		}
		return nil
	}
}

// WithTelemetry enables telemetry export to endpoint.
func WithTelemetry(endpoint, serviceName string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = true
		c.Telemetry.Endpoint = endpoint
		c.Telemetry.ServiceName = serviceName
		return nil
	}
}

// WithMaxConcurrency sets Execution.MaxConcurrency, rejecting values below
// 1. The executor does not read it: a turn's phases run one at a time.
func WithMaxConcurrency(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return &FrameworkError{Op: "WithMaxConcurrency", Kind: "config",
				Message: fmt.Sprintf("invalid max_concurrency: %d", n), Err: ErrInvalidConfig}
		}
		c.Execution.MaxConcurrency = n
		return nil
	}
}

// WithLogLevel sets the minimum logging level.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithLogger attaches a logger used during config loading itself.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// WithRateLimit enables the turn-entry rate limiter.
func WithRateLimit(turnsPerWindow int, window time.Duration) Option {
	return func(c *Config) error {
		c.RateLimit.Enabled = true
		c.RateLimit.TurnsPerWindow = turnsPerWindow
		c.RateLimit.Window = window
		return nil
	}
}

// WithDevelopmentMode flips on developer-friendly defaults: text logs,
// debug level.
func WithDevelopmentMode(enabled bool) Option {
	return func(c *Config) error {
		c.Development.Enabled = enabled
		if enabled {
			c.Logging.Format = "text"
			c.Logging.Level = "debug"
		}
		return nil
	}
}

// NewConfig builds a Config: defaults, then environment, then opts, then
// validation.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
