package pool

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/harun/balatrollm/internal/observability"
	"github.com/rs/zerolog"
)

// Pool hands out game instances exclusively. Idle instances wait in a buffered
// channel that acts as a counting semaphore; Acquire blocks on it.
//
// Instances are never removed: a failed reset or launch is logged and the slot
// returns to Idle, so a broken endpoint fails fast on its next task instead of
// starving the other workers.
type Pool struct {
	cfg      Config
	resetter Resetter
	launcher Launcher
	logger   zerolog.Logger

	mu            sync.Mutex
	instances     []*Instance
	idle          chan *Instance
	done          chan struct{}
	closeOnce     sync.Once
	startFailures int
}

// New creates a pool with one Idle instance per slot. launcher may be nil.
func New(cfg Config, resetter Resetter, launcher Launcher, logger zerolog.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if resetter == nil {
		return nil, fmt.Errorf("resetter is required")
	}
	if launcher == nil {
		launcher = NopLauncher{}
	}

	p := &Pool{
		cfg:       cfg,
		resetter:  resetter,
		launcher:  launcher,
		logger:    logger.With().Str("component", "pool").Logger(),
		instances: make([]*Instance, cfg.Size),
		idle:      make(chan *Instance, cfg.Size),
		done:      make(chan struct{}),
	}
	for i, port := range cfg.Ports() {
		inst := &Instance{Slot: i, Host: cfg.Host, Port: port, status: StatusIdle}
		p.instances[i] = inst
		p.idle <- inst
	}
	p.publish()
	return p, nil
}

// Size returns the number of instances.
func (p *Pool) Size() int {
	return len(p.instances)
}

// Instances returns the instances in slot order.
func (p *Pool) Instances() []*Instance {
	out := make([]*Instance, len(p.instances))
	copy(out, p.instances)
	return out
}

// Start launches every instance concurrently. Failures are logged and
// returned joined; the slots stay in the pool.
func (p *Pool) Start(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, inst := range p.instances {
		wg.Add(1)
		go func(inst *Instance) {
			defer wg.Done()
			if err := p.launcher.Start(ctx, inst); err != nil {
				p.logger.Error().Err(err).Int("port", inst.Port).Msg("Failed to start instance")
				observability.RecordPoolAudit(ctx, inst.Addr(), "instance_start", "failure", map[string]any{"error": err.Error()})
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", inst, err))
				mu.Unlock()
				return
			}
			p.logger.Info().Int("port", inst.Port).Msg("Instance started")
		}(inst)
	}
	wg.Wait()

	p.mu.Lock()
	p.startFailures += len(errs)
	p.mu.Unlock()
	return errors.Join(errs...)
}

// Acquire blocks until an instance is Idle, then hands it to the caller.
func (p *Pool) Acquire(ctx context.Context) (*Instance, error) {
	select {
	case <-p.done:
		return nil, ErrClosed
	default:
	}

	start := time.Now()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrClosed
	case inst := <-p.idle:
		p.mu.Lock()
		if inst.status != StatusIdle {
			p.mu.Unlock()
			return nil, fmt.Errorf("%s: found %s in idle queue", inst, inst.status)
		}
		inst.status = StatusAcquired
		inst.acquiredAt = time.Now()
		inst.acquisitions++
		p.mu.Unlock()

		observability.RecordPoolAcquire(time.Since(start))
		p.publish()
		p.logger.Debug().Int("port", inst.Port).Msg("Instance acquired")
		return inst, nil
	}
}

// Release resets inst and returns it to the pool. The instance becomes Idle
// even when the reset fails; that failure is returned as a *ResetError.
func (p *Pool) Release(ctx context.Context, inst *Instance) error {
	if inst == nil || inst.Slot < 0 || inst.Slot >= len(p.instances) || p.instances[inst.Slot] != inst {
		return ErrForeignInstance
	}

	p.mu.Lock()
	if inst.status != StatusAcquired {
		p.mu.Unlock()
		return fmt.Errorf("%s: %w", inst, ErrNotAcquired)
	}
	inst.status = StatusResetting
	p.mu.Unlock()
	p.publish()

	resetErr := p.reset(ctx, inst)

	p.mu.Lock()
	inst.status = StatusIdle
	inst.lastResetErr = resetErr
	if resetErr != nil {
		inst.resetFailures++
	}
	p.mu.Unlock()

	p.idle <- inst
	p.publish()

	if resetErr != nil {
		observability.RecordPoolResetFailure()
		observability.RecordPoolAudit(ctx, inst.Addr(), "instance_reset", "failure", map[string]any{"error": resetErr.Error()})
		p.logger.Warn().Err(resetErr).Int("port", inst.Port).Msg("Instance reset failed, returned to pool anyway")
		return &ResetError{Instance: inst.String(), Err: resetErr}
	}
	p.logger.Debug().Int("port", inst.Port).Msg("Instance released")
	return nil
}

func (p *Pool) reset(ctx context.Context, inst *Instance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reset panicked: %v", r)
		}
	}()

	resetCtx := ctx
	if p.cfg.ResetTimeout > 0 {
		var cancel context.CancelFunc
		resetCtx, cancel = context.WithTimeout(ctx, p.cfg.ResetTimeout)
		defer cancel()
	}
	if err := p.resetter.Reset(resetCtx, inst); err != nil {
		return err
	}
	if p.cfg.SettleDelay > 0 {
		timer := time.NewTimer(p.cfg.SettleDelay)
		defer timer.Stop()
		select {
		case <-resetCtx.Done():
		case <-timer.C:
		}
	}
	return nil
}

// Stop closes the pool and stops every instance. Pending and later Acquire
// calls return ErrClosed.
func (p *Pool) Stop(ctx context.Context) error {
	p.closeOnce.Do(func() { close(p.done) })

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, inst := range p.instances {
		wg.Add(1)
		go func(inst *Instance) {
			defer wg.Done()
			if err := p.launcher.Stop(ctx, inst); err != nil {
				p.logger.Error().Err(err).Int("port", inst.Port).Msg("Failed to stop instance")
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", inst, err))
				mu.Unlock()
			}
		}(inst)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Status returns the current status of inst.
func (p *Pool) Status(inst *Instance) Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return inst.status
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Size: len(p.instances), StartFailures: p.startFailures}
	for _, inst := range p.instances {
		switch inst.status {
		case StatusIdle:
			s.Idle++
		case StatusAcquired:
			s.Acquired++
		case StatusResetting:
			s.Resetting++
		}
		s.Acquisitions += inst.acquisitions
		s.ResetFailures += inst.resetFailures
	}
	return s
}

// GetStats returns per-instance details keyed by port.
func (p *Pool) GetStats() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]any, len(p.instances))
	for _, inst := range p.instances {
		entry := map[string]any{
			"status":         inst.status.String(),
			"acquisitions":   inst.acquisitions,
			"reset_failures": inst.resetFailures,
		}
		if inst.lastResetErr != nil {
			entry["last_reset_error"] = inst.lastResetErr.Error()
		}
		out[strconv.Itoa(inst.Port)] = entry
	}
	return out
}

func (p *Pool) publish() {
	s := p.Stats()
	observability.SetPoolInstances(s.Idle, s.Acquired, s.Resetting)
}
