package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validator validates configuration values
type Validator struct {
	// RequireAPIKey is false for commands that never reach the decision endpoint.
	RequireAPIKey bool
}

// NewValidator creates a new validator
func NewValidator(requireAPIKey bool) *Validator {
	return &Validator{RequireAPIKey: requireAPIKey}
}

// ValidateAPIKey validates an API key for a provider
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		if v.RequireAPIKey {
			return fmt.Errorf("api_key is required (set %s_API_KEY, api_key in the config file, or --api-key)", EnvPrefix)
		}
		return nil
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	}

	return nil
}

// ValidateProvider validates the provider kind
func (v *Validator) ValidateProvider(provider string) error {
	switch provider {
	case "", "openai", "anthropic":
		return nil
	}
	return fmt.Errorf("invalid provider: %s (must be one of: openai, anthropic)", provider)
}

// ValidatePorts validates the instance port range
func (v *Validator) ValidatePorts(port, stride, parallel int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	if stride < 1 {
		return fmt.Errorf("port_stride must be at least 1, got %d", stride)
	}
	if parallel >= 1 {
		if last := port + (parallel-1)*stride; last > 65535 {
			return fmt.Errorf("port range %d..%d exceeds 65535", port, last)
		}
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := cfg.TaskParams().Validate(); err != nil {
		errs = append(errs, err)
	}

	if cfg.Parallel < 1 {
		errs = append(errs, fmt.Errorf("parallel must be at least 1, got %d", cfg.Parallel))
	}
	if err := v.ValidatePorts(cfg.Port, cfg.PortStride, cfg.Parallel); err != nil {
		errs = append(errs, err)
	}
	if cfg.Host == "" {
		errs = append(errs, fmt.Errorf("host is required"))
	}

	if err := v.ValidateProvider(cfg.Provider); err != nil {
		errs = append(errs, err)
	}
	if cfg.BaseURL == "" && cfg.Provider != "anthropic" {
		errs = append(errs, fmt.Errorf("base_url is required"))
	}
	if err := v.ValidateAPIKey(cfg.APIKey, cfg.Provider); err != nil {
		errs = append(errs, err)
	}

	if err := cfg.RetryPolicy().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := cfg.SessionConfig().Validate(); err != nil {
		errs = append(errs, err)
	}

	if cfg.Instance.StartTimeout <= 0 {
		errs = append(errs, fmt.Errorf("instance.start_timeout must be positive"))
	}
	if cfg.Instance.ResetTimeout <= 0 {
		errs = append(errs, fmt.Errorf("instance.reset_timeout must be positive"))
	}
	if cfg.Instance.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("instance.settle_delay must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, fmt.Errorf("metrics.addr is required when metrics are enabled"))
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be between 0 and 1"))
	}

	return errs
}

// Validate checks the configuration, requiring an API key unless requireAPIKey is false.
func (c *Config) Validate(requireAPIKey bool) error {
	return errors.Join(NewValidator(requireAPIKey).ValidateConfig(c)...)
}
