package pool

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrClosed is returned by Acquire once the pool is stopped.
	ErrClosed = errors.New("instance pool closed")
	// ErrNotAcquired is returned when releasing an instance the caller does not hold.
	ErrNotAcquired = errors.New("instance is not acquired")
	// ErrForeignInstance is returned when releasing an instance from another pool.
	ErrForeignInstance = errors.New("instance does not belong to this pool")
)

// Status is an instance lifecycle state.
type Status int

const (
	StatusIdle Status = iota
	StatusAcquired
	StatusResetting
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusAcquired:
		return "acquired"
	case StatusResetting:
		return "resetting"
	default:
		return "unknown"
	}
}

// Instance is one pooled game endpoint. Slot and port never change.
type Instance struct {
	Slot int
	Host string
	Port int

	status        Status
	acquiredAt    time.Time
	acquisitions  int
	resetFailures int
	lastResetErr  error
}

// Addr returns host:port.
func (i *Instance) Addr() string {
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}

func (i *Instance) String() string {
	return fmt.Sprintf("instance[%d]@%s", i.Slot, i.Addr())
}

// Resetter returns a released instance to a neutral state.
type Resetter interface {
	Reset(ctx context.Context, inst *Instance) error
}

// ResetFunc adapts a function to Resetter.
type ResetFunc func(ctx context.Context, inst *Instance) error

func (f ResetFunc) Reset(ctx context.Context, inst *Instance) error {
	return f(ctx, inst)
}

// ResetError reports a failed reset. The instance was still returned to the pool.
type ResetError struct {
	Instance string
	Err      error
}

func (e *ResetError) Error() string {
	return fmt.Sprintf("reset %s: %v", e.Instance, e.Err)
}

func (e *ResetError) Unwrap() error {
	return e.Err
}

// Config sizes the pool and assigns ports: slot i listens on BasePort + i*Stride.
type Config struct {
	Host         string        `json:"host" mapstructure:"host"`
	BasePort     int           `json:"port" mapstructure:"port"`
	Stride       int           `json:"port_stride" mapstructure:"port_stride"`
	Size         int           `json:"size" mapstructure:"size"`
	ResetTimeout time.Duration `json:"reset_timeout" mapstructure:"reset_timeout"`
	SettleDelay  time.Duration `json:"settle_delay" mapstructure:"settle_delay"`
}

// DefaultConfig returns a single-instance pool on the default game port.
func DefaultConfig() Config {
	return Config{
		Host:         "127.0.0.1",
		BasePort:     12346,
		Stride:       1,
		Size:         1,
		ResetTimeout: 30 * time.Second,
		SettleDelay:  500 * time.Millisecond,
	}
}

func (c Config) Validate() error {
	if c.Size < 1 {
		return fmt.Errorf("pool size must be at least 1")
	}
	if c.Stride < 1 {
		return fmt.Errorf("port stride must be at least 1")
	}
	if c.BasePort < 1 || c.BasePort > 65535 {
		return fmt.Errorf("port %d out of range", c.BasePort)
	}
	if last := c.BasePort + (c.Size-1)*c.Stride; last > 65535 {
		return fmt.Errorf("port range ends at %d, beyond 65535", last)
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

// Ports lists the ports assigned to each slot.
func (c Config) Ports() []int {
	ports := make([]int, c.Size)
	for i := range ports {
		ports[i] = c.BasePort + i*c.Stride
	}
	return ports
}

// Stats is a snapshot of the pool.
type Stats struct {
	Size          int `json:"size"`
	Idle          int `json:"idle"`
	Acquired      int `json:"acquired"`
	Resetting     int `json:"resetting"`
	Acquisitions  int `json:"acquisitions"`
	ResetFailures int `json:"reset_failures"`
	StartFailures int `json:"start_failures"`
}

// Map renders stats for health endpoints.
func (s Stats) Map() map[string]any {
	return map[string]any{
		"size":           s.Size,
		"idle":           s.Idle,
		"acquired":       s.Acquired,
		"resetting":      s.Resetting,
		"acquisitions":   s.Acquisitions,
		"reset_failures": s.ResetFailures,
		"start_failures": s.StartFailures,
	}
}
