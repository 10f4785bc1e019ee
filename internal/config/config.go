package config

import (
	"fmt"
	"time"

	"github.com/harun/balatrollm/internal/logger"
	"github.com/harun/balatrollm/pkg/bot"
	"github.com/harun/balatrollm/pkg/executor"
	"github.com/harun/balatrollm/pkg/llm"
	"github.com/harun/balatrollm/pkg/pool"
	"github.com/harun/balatrollm/pkg/task"
	"gopkg.in/yaml.v3"
)

// Config represents the effective BalatroLLM configuration. It is built once
// at startup and not mutated afterwards.
type Config struct {
	// Task parameters; the run expands their cartesian product
	Model    []string `json:"model" yaml:"model" mapstructure:"model"`
	Seed     []string `json:"seed" yaml:"seed" mapstructure:"seed"`
	Deck     []string `json:"deck" yaml:"deck" mapstructure:"deck"`
	Stake    []string `json:"stake" yaml:"stake" mapstructure:"stake"`
	Strategy []string `json:"strategy" yaml:"strategy" mapstructure:"strategy"`

	// Execution
	Parallel int `json:"parallel" yaml:"parallel" mapstructure:"parallel"`

	// Game instances
	Host       string `json:"host" yaml:"host" mapstructure:"host"`
	Port       int    `json:"port" yaml:"port" mapstructure:"port"`
	PortStride int    `json:"port_stride" yaml:"port_stride" mapstructure:"port_stride"`

	// Decision endpoint
	Provider    string         `json:"provider" yaml:"provider" mapstructure:"provider"`
	BaseURL     string         `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	APIKey      string         `json:"api_key" yaml:"api_key" mapstructure:"api_key"`
	ModelConfig map[string]any `json:"model_config" yaml:"model_config" mapstructure:"model_config"`

	// Paths
	OutputDir     string `json:"output_dir" yaml:"output_dir" mapstructure:"output_dir"`
	StrategiesDir string `json:"strategies_dir" yaml:"strategies_dir" mapstructure:"strategies_dir"`

	Retry    RetryConfig    `json:"retry" yaml:"retry" mapstructure:"retry"`
	Session  SessionConfig  `json:"session" yaml:"session" mapstructure:"session"`
	Instance InstanceConfig `json:"instance" yaml:"instance" mapstructure:"instance"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging" mapstructure:"logging"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
	Tracing  TracingConfig  `json:"tracing" yaml:"tracing" mapstructure:"tracing"`
}

// RetryConfig holds decision call retry settings
type RetryConfig struct {
	MaxAttempts            int           `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay              time.Duration `json:"base_delay" yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay               time.Duration `json:"max_delay" yaml:"max_delay" mapstructure:"max_delay"`
	PerAttemptTimeout      time.Duration `json:"per_attempt_timeout" yaml:"per_attempt_timeout" mapstructure:"per_attempt_timeout"`
	MaxConsecutiveTimeouts int           `json:"max_consecutive_timeouts" yaml:"max_consecutive_timeouts" mapstructure:"max_consecutive_timeouts"`
	ParseRetries           int           `json:"parse_retries" yaml:"parse_retries" mapstructure:"parse_retries"`
}

// SessionConfig holds per-session limits
type SessionConfig struct {
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold" mapstructure:"failure_threshold"`
	HistoryWindow    int           `json:"history_window" yaml:"history_window" mapstructure:"history_window"`
	MaxSteps         int           `json:"max_steps" yaml:"max_steps" mapstructure:"max_steps"`
	PollInterval     time.Duration `json:"poll_interval" yaml:"poll_interval" mapstructure:"poll_interval"`
	MaxStalls        int           `json:"max_stalls" yaml:"max_stalls" mapstructure:"max_stalls"`
}

// InstanceConfig holds game instance lifecycle settings
type InstanceConfig struct {
	Command        string        `json:"command" yaml:"command" mapstructure:"command"` // empty: instances are managed externally
	Args           []string      `json:"args" yaml:"args" mapstructure:"args"`
	LogDir         string        `json:"log_dir" yaml:"log_dir" mapstructure:"log_dir"`
	StartTimeout   time.Duration `json:"start_timeout" yaml:"start_timeout" mapstructure:"start_timeout"`
	ResetTimeout   time.Duration `json:"reset_timeout" yaml:"reset_timeout" mapstructure:"reset_timeout"`
	SettleDelay    time.Duration `json:"settle_delay" yaml:"settle_delay" mapstructure:"settle_delay"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" mapstructure:"request_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" yaml:"level" mapstructure:"level"`
	File      string `json:"file" yaml:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" yaml:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" yaml:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" yaml:"max_age" mapstructure:"max_age"`    // days
	Compress  bool   `json:"compress" yaml:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" yaml:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" yaml:"audit_file" mapstructure:"audit_file"`
}

// MetricsConfig holds the metrics/health server settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" yaml:"addr" mapstructure:"addr"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	SampleRatio float64 `json:"sample_ratio" yaml:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	retry := llm.DefaultRetryPolicy()
	session := bot.DefaultConfig()
	p := pool.DefaultConfig()

	return &Config{
		Model:       []string{},
		Seed:        []string{"AAAAAAA"},
		Deck:        []string{"RED"},
		Stake:       []string{"WHITE"},
		Strategy:    []string{"default"},
		Parallel:    1,
		Host:        p.Host,
		Port:        p.BasePort,
		PortStride:  p.Stride,
		Provider:    "openai",
		BaseURL:     "https://openrouter.ai/api/v1",
		ModelConfig: llm.DefaultModelConfig(),
		OutputDir:   ".",
		Retry: RetryConfig{
			MaxAttempts:            retry.MaxAttempts,
			BaseDelay:              retry.BaseDelay,
			MaxDelay:               retry.MaxDelay,
			PerAttemptTimeout:      retry.PerAttemptTimeout,
			MaxConsecutiveTimeouts: retry.MaxConsecutiveTimeouts,
			ParseRetries:           retry.ParseRetries,
		},
		Session: SessionConfig{
			FailureThreshold: session.FailureThreshold,
			HistoryWindow:    session.HistoryWindow,
			MaxSteps:         session.MaxSteps,
			PollInterval:     session.PollInterval,
			MaxStalls:        session.MaxStalls,
		},
		Instance: InstanceConfig{
			Args:           []string{},
			StartTimeout:   60 * time.Second,
			ResetTimeout:   p.ResetTimeout,
			SettleDelay:    p.SettleDelay,
			RequestTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			SampleRatio: 1,
		},
	}
}

// TaskParams returns the task parameter lists.
func (c *Config) TaskParams() task.Params {
	return task.Params{
		Models:     c.Model,
		Seeds:      c.Seed,
		Decks:      c.Deck,
		Stakes:     c.Stake,
		Strategies: c.Strategy,
	}
}

// Tasks expands the task parameter lists.
func (c *Config) Tasks() []task.Task {
	return task.Expand(c.TaskParams())
}

// RetryPolicy converts the retry section.
func (c *Config) RetryPolicy() llm.RetryPolicy {
	return llm.RetryPolicy{
		MaxAttempts:            c.Retry.MaxAttempts,
		BaseDelay:              c.Retry.BaseDelay,
		MaxDelay:               c.Retry.MaxDelay,
		PerAttemptTimeout:      c.Retry.PerAttemptTimeout,
		MaxConsecutiveTimeouts: c.Retry.MaxConsecutiveTimeouts,
		ParseRetries:           c.Retry.ParseRetries,
	}
}

// SessionConfig converts the session section.
func (c *Config) SessionConfig() bot.Config {
	return bot.Config{
		FailureThreshold: c.Session.FailureThreshold,
		HistoryWindow:    c.Session.HistoryWindow,
		MaxSteps:         c.Session.MaxSteps,
		PollInterval:     c.Session.PollInterval,
		MaxStalls:        c.Session.MaxStalls,
	}
}

// PoolConfig derives the instance pool settings. Pool size is Parallel.
func (c *Config) PoolConfig() pool.Config {
	return pool.Config{
		Host:         c.Host,
		BasePort:     c.Port,
		Stride:       c.PortStride,
		Size:         c.Parallel,
		ResetTimeout: c.Instance.ResetTimeout,
		SettleDelay:  c.Instance.SettleDelay,
	}
}

// ExecutorConfig derives the executor settings.
func (c *Config) ExecutorConfig() executor.Config {
	cfg := executor.DefaultConfig()
	cfg.Parallelism = c.Parallel
	cfg.StartTimeout = c.Instance.StartTimeout
	cfg.ReleaseTimeout = c.Instance.ResetTimeout + c.Instance.SettleDelay + 5*time.Second
	cfg.Session = c.SessionConfig()
	cfg.Retry = c.RetryPolicy()
	return cfg
}

// ProviderConfig derives the decision provider settings.
func (c *Config) ProviderConfig() llm.ProviderConfig {
	return llm.ProviderConfig{
		Kind:        c.Provider,
		BaseURL:     c.BaseURL,
		APIKey:      c.APIKey,
		ModelConfig: c.ModelConfig,
	}
}

// LoggerConfig derives the logger settings.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:     c.Logging.Level,
		File:      c.Logging.File,
		Console:   true,
		Pretty:    c.Logging.Pretty,
		Redaction: c.Logging.Redaction,
		MaxSize:   c.Logging.MaxSize,
		MaxAge:    c.Logging.MaxAge,
		Compress:  c.Logging.Compress,
	}
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.APIKey != "" {
		cp.APIKey = "[REDACTED]"
	}
	return &cp
}

// String returns a YAML representation of the config with secrets redacted
func (c *Config) String() string {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}
