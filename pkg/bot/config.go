package bot

import (
	"fmt"
	"time"
)

// Config tunes a session.
type Config struct {
	Model            string        `json:"model" mapstructure:"model"`
	FailureThreshold int           `json:"failure_threshold" mapstructure:"failure_threshold"`
	HistoryWindow    int           `json:"history_window" mapstructure:"history_window"`
	MaxSteps         int           `json:"max_steps" mapstructure:"max_steps"`
	PollInterval     time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
	MaxStalls        int           `json:"max_stalls" mapstructure:"max_stalls"`
}

// DefaultConfig returns the stock session settings.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: DefaultFailureThreshold,
		HistoryWindow:    DefaultHistoryWindow,
		MaxSteps:         10000,
		PollInterval:     time.Second,
		MaxStalls:        30,
	}
}

func (c Config) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("session failure_threshold must be at least 1")
	}
	if c.HistoryWindow < 1 {
		return fmt.Errorf("session history_window must be at least 1")
	}
	if c.MaxSteps < 1 {
		return fmt.Errorf("session max_steps must be at least 1")
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("session poll_interval must not be negative")
	}
	if c.MaxStalls < 1 {
		return fmt.Errorf("session max_stalls must be at least 1")
	}
	return nil
}
