package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/balatrollm/pkg/balatro"
	"github.com/harun/balatrollm/pkg/bot"
	"github.com/harun/balatrollm/pkg/game"
	"github.com/harun/balatrollm/pkg/llm"
	"github.com/harun/balatrollm/pkg/pool"
	"github.com/harun/balatrollm/pkg/strategy"
	"github.com/harun/balatrollm/pkg/task"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGame simulates one game process per port.
type fakeGame struct {
	mu         sync.Mutex
	phases     []game.Phase
	busy       map[int]bool
	fetches    map[int]int
	violations int
	starts     int
	failStarts int
	failResets int
	resets     int
}

func newFakeGame(phases ...game.Phase) *fakeGame {
	return &fakeGame{phases: phases, busy: map[int]bool{}, fetches: map[int]int{}}
}

func (g *fakeGame) reset(_ context.Context, inst *pool.Instance) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.busy[inst.Port] = false
	g.resets++
	if g.failResets > 0 {
		g.failResets--
		return errors.New("menu did not load")
	}
	return nil
}

func (g *fakeGame) client(inst *pool.Instance) GameClient {
	return &fakeClient{game: g, port: inst.Port}
}

func snapshot(p game.Phase) *game.Gamestate {
	raw, _ := json.Marshal(map[string]any{"state": p.String(), "won": false, "ante_num": 1, "round_num": 1})
	gs, _ := game.DecodeGamestate(raw)
	return gs
}

type fakeClient struct {
	game *fakeGame
	port int
}

func (c *fakeClient) Start(ctx context.Context, p balatro.StartParams) (*game.Gamestate, error) {
	g := c.game
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy[c.port] {
		g.violations++
	}
	g.busy[c.port] = true
	g.starts++
	g.fetches[c.port] = 0
	if g.failStarts > 0 {
		g.failStarts--
		return nil, errors.New("connection refused")
	}
	return snapshot(game.PhaseBlindSelect), nil
}

func (c *fakeClient) FetchState(ctx context.Context) (*game.Gamestate, error) {
	g := c.game
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.fetches[c.port]
	if i >= len(g.phases) {
		i = len(g.phases) - 1
	}
	g.fetches[c.port]++
	return snapshot(g.phases[i]), nil
}

func (c *fakeClient) ApplyAction(ctx context.Context, phase game.Phase, action game.Action) (*game.Gamestate, error) {
	return nil, nil
}

// silentProvider never returns a tool call.
type silentProvider struct {
	calls atomic.Int32
}

func (p *silentProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.calls.Add(1)
	return &llm.Response{ID: "r", Text: "thinking"}, nil
}

func (p *silentProvider) Name() string { return "silent" }

type progress struct {
	mu       sync.Mutex
	started  []int
	finished []int
	onStart  func(index int)
}

func (p *progress) TaskStarted(index, total int, t task.Task) {
	p.mu.Lock()
	p.started = append(p.started, index)
	p.mu.Unlock()
	if p.onStart != nil {
		p.onStart(index)
	}
}

func (p *progress) TaskFinished(index, total int, r Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished = append(p.finished, index)
}

type fakeRecorder struct {
	mu         sync.Mutex
	attempts   int
	steps      int
	gamestates int
	log        bytes.Buffer
	final      *bot.Report
}

func (r *fakeRecorder) ObserveAttempt(context.Context, llm.Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
}

func (r *fakeRecorder) RecordStep(context.Context, bot.Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps++
}

func (r *fakeRecorder) RecordGamestate(*game.Gamestate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gamestates++
}

func (r *fakeRecorder) LogWriter() io.Writer { return &r.log }
func (r *fakeRecorder) Dir() string          { return "runs/test" }

func makeTasks(n int) []task.Task {
	tasks := make([]task.Task, n)
	for i := range tasks {
		tasks[i] = task.Task{
			Model:    "openai/gpt-4o",
			Seed:     fmt.Sprintf("SEED%03d", i),
			Deck:     "RED",
			Stake:    "WHITE",
			Strategy: "default",
		}
	}
	return tasks
}

func testConfig(parallel int) Config {
	cfg := DefaultConfig()
	cfg.Parallelism = parallel
	cfg.StartTimeout = time.Second
	cfg.ReleaseTimeout = time.Second
	cfg.Session.PollInterval = time.Millisecond
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = time.Millisecond
	cfg.Retry.PerAttemptTimeout = time.Second
	return cfg
}

func newTestExecutor(t *testing.T, parallel int, g *fakeGame, mutate func(*Deps)) (*Executor, *pool.Pool) {
	t.Helper()
	pcfg := pool.DefaultConfig()
	pcfg.Size = parallel
	pcfg.SettleDelay = 0
	p, err := pool.New(pcfg, pool.ResetFunc(g.reset), nil, zerolog.Nop())
	require.NoError(t, err)

	deps := Deps{
		Pool:      p,
		Clients:   g.client,
		Providers: func(task.Task) (llm.Provider, error) { return &silentProvider{}, nil },
		Strategies: StrategyFunc(func(name string) (bot.Strategy, error) {
			s, err := strategy.Builtin(name)
			if err != nil {
				return nil, err
			}
			return s, nil
		}),
		Logger: zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	e, err := New(testConfig(parallel), deps)
	require.NoError(t, err)
	return e, p
}

func TestRunEveryTaskExactlyOnce(t *testing.T) {
	for _, parallel := range []int{1, 3, 8} {
		t.Run(fmt.Sprintf("parallel=%d", parallel), func(t *testing.T) {
			g := newFakeGame(game.PhaseGameOver)
			var (
				mu   sync.Mutex
				sunk = map[int]int{}
			)
			obs := &progress{}
			e, p := newTestExecutor(t, parallel, g, func(d *Deps) {
				d.Observer = obs
				d.Sink = SinkFunc(func(_ context.Context, r Result) error {
					mu.Lock()
					defer mu.Unlock()
					sunk[r.Index]++
					return nil
				})
			})

			tasks := makeTasks(11)
			results, err := e.Run(context.Background(), tasks)
			require.NoError(t, err)
			require.Len(t, results, len(tasks))

			for i, r := range results {
				assert.Equal(t, i, r.Index)
				assert.Equal(t, tasks[i], r.Task)
				assert.Equal(t, bot.OutcomeCompleted, r.Outcome())
				assert.Equal(t, 1, sunk[i], "task %d sunk", i)
			}
			assert.Len(t, obs.started, len(tasks))
			assert.Len(t, obs.finished, len(tasks))
			assert.Zero(t, g.violations)
			assert.Equal(t, len(tasks), g.resets)
			assert.Equal(t, parallel, p.Stats().Idle)
			assert.Zero(t, e.Active())
		})
	}
}

func TestRunEmptyTaskList(t *testing.T) {
	e, _ := newTestExecutor(t, 2, newFakeGame(game.PhaseGameOver), nil)
	results, err := e.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestUnreachableInstanceReturnsToPool(t *testing.T) {
	g := newFakeGame(game.PhaseGameOver)
	g.failStarts = 1
	e, p := newTestExecutor(t, 1, g, nil)

	results, err := e.Run(context.Background(), makeTasks(2))
	require.NoError(t, err)

	assert.Equal(t, bot.OutcomeUnreachable, results[0].Outcome())
	assert.Contains(t, results[0].Report.Reason, "connection refused")
	assert.Equal(t, bot.OutcomeCompleted, results[1].Outcome())
	assert.Equal(t, results[0].Instance, results[1].Instance)
	assert.Equal(t, 1, p.Stats().Idle)
	assert.True(t, Summarize(results).Failed())
}

func TestResetFailureIsReported(t *testing.T) {
	g := newFakeGame(game.PhaseGameOver)
	g.failResets = 1
	var (
		mu   sync.Mutex
		sunk []Result
	)
	e, p := newTestExecutor(t, 1, g, func(d *Deps) {
		d.Sink = SinkFunc(func(_ context.Context, r Result) error {
			mu.Lock()
			defer mu.Unlock()
			sunk = append(sunk, r)
			return nil
		})
	})

	results, err := e.Run(context.Background(), makeTasks(2))
	require.NoError(t, err)

	assert.Equal(t, bot.OutcomeCompleted, results[0].Outcome())
	assert.Contains(t, results[0].ResetError, "menu did not load")
	assert.Contains(t, results[0].ResetError, results[0].Instance)
	assert.Empty(t, results[1].ResetError)
	assert.Equal(t, bot.OutcomeCompleted, results[1].Outcome())
	assert.Equal(t, 1, p.Stats().Idle)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sunk, 2)
	for _, r := range sunk {
		if r.Index == 0 {
			assert.NotEmpty(t, r.ResetError)
		}
	}
}

func TestAbortedSessionDoesNotStopOthers(t *testing.T) {
	g := newFakeGame(game.PhaseSelectingHand)
	provider := &silentProvider{}
	rec := &fakeRecorder{}
	var finished []bot.Report
	e, _ := newTestExecutor(t, 2, g, func(d *Deps) {
		d.Providers = func(task.Task) (llm.Provider, error) { return provider, nil }
		d.Recorders = func(task.Task) (RunRecorder, func(bot.Report) error, error) {
			return rec, func(r bot.Report) error {
				rec.mu.Lock()
				defer rec.mu.Unlock()
				finished = append(finished, r)
				return nil
			}, nil
		}
	})

	results, err := e.Run(context.Background(), makeTasks(3))
	require.NoError(t, err)

	threshold := testConfig(2).Session.FailureThreshold
	for _, r := range results {
		assert.Equal(t, bot.OutcomeAborted, r.Outcome())
		assert.Equal(t, threshold, r.Report.InvalidResponses)
		assert.Equal(t, "runs/test", r.RunDir)
	}
	assert.Equal(t, int32(3*threshold), provider.calls.Load())
	assert.Equal(t, 3*threshold, rec.attempts)
	assert.Equal(t, 3, rec.gamestates)
	assert.Len(t, finished, 3)
}

func TestShutdownStopsDequeuing(t *testing.T) {
	g := newFakeGame(game.PhaseGameOver)
	var (
		e    *Executor
		once sync.Once
	)
	obs := &progress{onStart: func(int) { once.Do(e.Shutdown) }}
	e, _ = newTestExecutor(t, 1, g, func(d *Deps) { d.Observer = obs })

	results, err := e.Run(context.Background(), makeTasks(4))
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, bot.OutcomeCompleted, results[0].Outcome())
	for _, r := range results[1:] {
		assert.Equal(t, bot.OutcomeSkipped, r.Outcome())
	}
	assert.Equal(t, 3, Summarize(results).Skipped)

	// A new Run after Shutdown takes every task again.
	results, err = e.Run(context.Background(), makeTasks(2))
	require.NoError(t, err)
	assert.Equal(t, 2, Summarize(results).Completed)
	assert.Zero(t, Summarize(results).Skipped)
}

func TestCancelAbortsInFlight(t *testing.T) {
	g := newFakeGame(game.PhaseGameOver)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	obs := &progress{onStart: func(int) { cancel() }}
	e, p := newTestExecutor(t, 1, g, func(d *Deps) { d.Observer = obs })

	results, err := e.Run(ctx, makeTasks(3))
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 3)
	assert.Equal(t, bot.OutcomeCancelled, results[0].Outcome())
	assert.Equal(t, bot.OutcomeSkipped, results[1].Outcome())
	assert.Equal(t, bot.OutcomeSkipped, results[2].Outcome())
	assert.Equal(t, 1, p.Stats().Idle)
}

func TestStrategyFailureIsAborted(t *testing.T) {
	e, _ := newTestExecutor(t, 1, newFakeGame(game.PhaseGameOver), nil)
	tasks := makeTasks(1)
	tasks[0].Strategy = "missing"

	results, err := e.Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, bot.OutcomeAborted, results[0].Outcome())
	assert.Contains(t, results[0].Report.Reason, "strategy unavailable")
	assert.Empty(t, results[0].Instance)
}

func TestNewRejectsPoolMismatch(t *testing.T) {
	g := newFakeGame(game.PhaseGameOver)
	p, err := pool.New(pool.DefaultConfig(), pool.ResetFunc(g.reset), nil, zerolog.Nop())
	require.NoError(t, err)

	_, err = New(testConfig(2), Deps{
		Pool:       p,
		Clients:    g.client,
		Providers:  func(task.Task) (llm.Provider, error) { return &silentProvider{}, nil },
		Strategies: StrategyFunc(func(string) (bot.Strategy, error) { return nil, errors.New("none") }),
	})
	assert.ErrorContains(t, err, "does not match")
}
