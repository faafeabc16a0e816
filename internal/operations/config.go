package operations

import (
	"time"
)

// DefaultStageTimeout bounds a stage when nothing more specific is configured
const DefaultStageTimeout = 5 * time.Minute

// RetryConfig defines retry behavior for stages. Only collaborator errors
// marked with Retryable are retried; the default makes a single attempt.
type RetryConfig struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
}

// NewRetryConfig returns the default retry configuration
func NewRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  1,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// delay returns the wait before the attempt following the given one
func (c RetryConfig) delay(attempt int) time.Duration {
	delay := c.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.Multiplier)
		if delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// Config represents the executor configuration
type Config struct {
	// Timeout applied when neither the stage nor the operation sets one
	DefaultStageTimeout time.Duration `json:"default_stage_timeout"`

	// Per-operation overrides
	OperationTimeouts map[string]time.Duration `json:"operation_timeouts"`

	// Retry configuration for stages
	RetryConfig RetryConfig `json:"retry_config"`
}

// NewConfig returns the default executor configuration
func NewConfig() *Config {
	return &Config{
		DefaultStageTimeout: DefaultStageTimeout,
		OperationTimeouts:   make(map[string]time.Duration),
		RetryConfig:         NewRetryConfig(),
	}
}

// StageTimeout resolves the timeout for a stage: the stage's own value, then
// the configured operation override, then the operation's preference, then
// the default. A non-positive default falls back to DefaultStageTimeout.
func (c *Config) StageTimeout(stage Stage, op Operation) time.Duration {
	if stage.Timeout > 0 {
		return stage.Timeout
	}
	if timeout, ok := c.OperationTimeouts[op.Name()]; ok && timeout > 0 {
		return timeout
	}
	if op.Timeout() > 0 {
		return op.Timeout()
	}
	if c.DefaultStageTimeout > 0 {
		return c.DefaultStageTimeout
	}
	return DefaultStageTimeout
}

// ConfigBuilder provides a fluent interface for building executor configurations
type ConfigBuilder struct {
	config *Config
}

// NewConfigBuilder creates a new configuration builder
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		config: NewConfig(),
	}
}

// WithDefaultStageTimeout sets the default stage timeout
func (b *ConfigBuilder) WithDefaultStageTimeout(timeout time.Duration) *ConfigBuilder {
	b.config.DefaultStageTimeout = timeout
	return b
}

// WithOperationTimeout overrides the timeout of one operation
func (b *ConfigBuilder) WithOperationTimeout(operation string, timeout time.Duration) *ConfigBuilder {
	b.config.OperationTimeouts[operation] = timeout
	return b
}

// WithRetryConfig sets the retry configuration
func (b *ConfigBuilder) WithRetryConfig(config RetryConfig) *ConfigBuilder {
	b.config.RetryConfig = config
	return b
}

// Build returns the built configuration
func (b *ConfigBuilder) Build() *Config {
	return b.config
}
