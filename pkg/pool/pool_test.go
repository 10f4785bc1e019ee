package pool

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(size int) Config {
	cfg := DefaultConfig()
	cfg.Size = size
	cfg.SettleDelay = 0
	cfg.ResetTimeout = time.Second
	return cfg
}

func okReset() Resetter {
	return ResetFunc(func(context.Context, *Instance) error { return nil })
}

func TestConfigPorts(t *testing.T) {
	cfg := testConfig(3)
	cfg.BasePort = 12000
	cfg.Stride = 2
	assert.Equal(t, []int{12000, 12002, 12004}, cfg.Ports())

	cfg.BasePort = 65535
	assert.Error(t, cfg.Validate())

	cfg = testConfig(0)
	assert.Error(t, cfg.Validate())
}

func TestNewAssignsSlots(t *testing.T) {
	p, err := New(testConfig(3), okReset(), nil, zerolog.Nop())
	require.NoError(t, err)

	for i, inst := range p.Instances() {
		assert.Equal(t, i, inst.Slot)
		assert.Equal(t, 12346+i, inst.Port)
		assert.Equal(t, StatusIdle, p.Status(inst))
	}
	assert.Equal(t, Stats{Size: 3, Idle: 3}, p.Stats())
}

func TestAcquireIsExclusive(t *testing.T) {
	const (
		size    = 3
		workers = 12
		rounds  = 40
	)
	p, err := New(testConfig(size), okReset(), nil, zerolog.Nop())
	require.NoError(t, err)

	var holders [size]int32
	var violations int32
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				inst, err := p.Acquire(context.Background())
				if err != nil {
					atomic.AddInt32(&violations, 1)
					return
				}
				if atomic.AddInt32(&holders[inst.Slot], 1) != 1 {
					atomic.AddInt32(&violations, 1)
				}
				time.Sleep(time.Microsecond)
				atomic.AddInt32(&holders[inst.Slot], -1)
				if err := p.Release(context.Background(), inst); err != nil {
					atomic.AddInt32(&violations, 1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, violations)
	stats := p.Stats()
	assert.Equal(t, size, stats.Idle)
	assert.Equal(t, workers*rounds, stats.Acquisitions)
}

func TestReleaseFailedResetStillIdle(t *testing.T) {
	boom := errors.New("menu refused")
	var resets int32
	reset := ResetFunc(func(context.Context, *Instance) error {
		atomic.AddInt32(&resets, 1)
		return boom
	})
	p, err := New(testConfig(1), reset, nil, zerolog.Nop())
	require.NoError(t, err)

	inst, err := p.Acquire(context.Background())
	require.NoError(t, err)

	err = p.Release(context.Background(), inst)
	var resetErr *ResetError
	require.ErrorAs(t, err, &resetErr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatusIdle, p.Status(inst))

	again, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, inst, again)
	assert.Equal(t, int32(1), atomic.LoadInt32(&resets))
	assert.Equal(t, 1, p.Stats().ResetFailures)

	details := p.GetStats()["12346"].(map[string]any)
	assert.Equal(t, "menu refused", details["last_reset_error"])
}

func TestReleaseResetPanicRecovered(t *testing.T) {
	reset := ResetFunc(func(context.Context, *Instance) error { panic("bad") })
	p, err := New(testConfig(1), reset, nil, zerolog.Nop())
	require.NoError(t, err)

	inst, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Error(t, p.Release(context.Background(), inst))
	assert.Equal(t, StatusIdle, p.Status(inst))
}

func TestReleaseRejectsIdleInstance(t *testing.T) {
	p, err := New(testConfig(1), okReset(), nil, zerolog.Nop())
	require.NoError(t, err)

	inst := p.Instances()[0]
	assert.ErrorIs(t, p.Release(context.Background(), inst), ErrNotAcquired)
	assert.ErrorIs(t, p.Release(context.Background(), &Instance{Slot: 0}), ErrForeignInstance)
	assert.Equal(t, 1, p.Stats().Idle)
}

func TestAcquireHonoursContext(t *testing.T) {
	p, err := New(testConfig(1), okReset(), nil, zerolog.Nop())
	require.NoError(t, err)

	_, err = p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireWaitsForRelease(t *testing.T) {
	p, err := New(testConfig(1), okReset(), nil, zerolog.Nop())
	require.NoError(t, err)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	got := make(chan *Instance, 1)
	go func() {
		inst, err := p.Acquire(context.Background())
		if err == nil {
			got <- inst
		}
	}()

	select {
	case <-got:
		t.Fatal("acquired while instance was held")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, p.Release(context.Background(), held))
	select {
	case inst := <-got:
		assert.Same(t, held, inst)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by release")
	}
}

func TestStopUnblocksAcquire(t *testing.T) {
	p, err := New(testConfig(1), okReset(), nil, zerolog.Nop())
	require.NoError(t, err)

	_, err = p.Acquire(context.Background())
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, p.Stop(context.Background()))
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("acquire not released by stop")
	}

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

type fakeLauncher struct {
	mu      sync.Mutex
	started []int
	stopped []int
	failOn  int
}

func (f *fakeLauncher) Start(_ context.Context, inst *Instance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inst.Port == f.failOn {
		return errors.New("no binary")
	}
	f.started = append(f.started, inst.Port)
	return nil
}

func (f *fakeLauncher) Stop(_ context.Context, inst *Instance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, inst.Port)
	return nil
}

func TestStartKeepsFailedSlots(t *testing.T) {
	launcher := &fakeLauncher{failOn: 12347}
	p, err := New(testConfig(3), okReset(), launcher, zerolog.Nop())
	require.NoError(t, err)

	err = p.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no binary")
	assert.ElementsMatch(t, []int{12346, 12348}, launcher.started)

	stats := p.Stats()
	assert.Equal(t, 3, stats.Idle)
	assert.Equal(t, 1, stats.StartFailures)

	require.NoError(t, p.Stop(context.Background()))
	assert.ElementsMatch(t, []int{12346, 12347, 12348}, launcher.stopped)
}

func TestWaitForPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	assert.NoError(t, waitForPort(context.Background(), ln.Addr().String(), time.Second, nil))

	addr := ln.Addr().String()
	ln.Close()
	exited := make(chan error, 1)
	exited <- errors.New("exit status 1")
	err = waitForPort(context.Background(), addr, time.Second, exited)
	assert.ErrorContains(t, err, "process exited")
}
