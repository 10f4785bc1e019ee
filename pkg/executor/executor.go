package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/balatrollm/internal/observability"
	"github.com/harun/balatrollm/internal/tracing"
	"github.com/harun/balatrollm/pkg/balatro"
	"github.com/harun/balatrollm/pkg/bot"
	"github.com/harun/balatrollm/pkg/llm"
	"github.com/harun/balatrollm/pkg/pool"
	"github.com/harun/balatrollm/pkg/task"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ErrRunning is returned when Run is called while another Run is active.
var ErrRunning = errors.New("executor is already running")

// Deps are the collaborators of an Executor. Pool, Clients, Providers and
// Strategies are required.
type Deps struct {
	Pool       InstancePool
	Clients    ClientFactory
	Providers  ProviderFactory
	Strategies StrategySource
	Recorders  RecorderFactory
	Sink       Sink
	Observer   Observer
	// LogTee returns a logger that also writes to w. Defaults to the base logger.
	LogTee func(w io.Writer) zerolog.Logger
	Logger zerolog.Logger
}

// Executor runs tasks on a fixed set of workers, one pooled instance per worker.
type Executor struct {
	cfg  Config
	deps Deps

	running  atomic.Bool
	mu       sync.Mutex
	stop     chan struct{}
	stopOnce *sync.Once
	active   atomic.Int32
}

type job struct {
	index int
	task  task.Task
}

// New validates cfg and deps. Parallelism must match the pool size.
func New(cfg Config, deps Deps) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Pool == nil:
		return nil, fmt.Errorf("instance pool is required")
	case deps.Clients == nil:
		return nil, fmt.Errorf("client factory is required")
	case deps.Providers == nil:
		return nil, fmt.Errorf("provider factory is required")
	case deps.Strategies == nil:
		return nil, fmt.Errorf("strategy source is required")
	}
	if deps.Pool.Size() != cfg.Parallelism {
		return nil, fmt.Errorf("pool size %d does not match parallel %d", deps.Pool.Size(), cfg.Parallelism)
	}
	if deps.LogTee == nil {
		base := deps.Logger
		deps.LogTee = func(io.Writer) zerolog.Logger { return base }
	}
	deps.Logger = deps.Logger.With().Str("component", "executor").Logger()

	return &Executor{
		cfg:      cfg,
		deps:     deps,
		stop:     make(chan struct{}),
		stopOnce: &sync.Once{},
	}, nil
}

// Shutdown stops workers from taking new tasks. In-flight sessions run to
// completion; cancel Run's context to abort them.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	stop, once := e.stop, e.stopOnce
	e.mu.Unlock()
	once.Do(func() {
		e.deps.Logger.Info().Msg("Shutdown requested, no new tasks will start")
		close(stop)
	})
}

// Active returns the number of sessions in flight.
func (e *Executor) Active() int {
	return int(e.active.Load())
}

// Run executes tasks and returns one result per task in input order. Tasks
// never started because of Shutdown or cancellation are reported as skipped.
// The error is the context error when ctx was cancelled.
func (e *Executor) Run(ctx context.Context, tasks []task.Task) ([]Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrRunning
	}
	defer e.running.Store(false)

	e.mu.Lock()
	stop := e.stop
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.stop = make(chan struct{})
		e.stopOnce = &sync.Once{}
		e.mu.Unlock()
	}()

	if tracing.GetRunID(ctx) == "" {
		ctx = tracing.NewRunContext(ctx)
	}
	logger := tracing.LoggerFromContext(ctx, e.deps.Logger)

	total := len(tasks)
	results := make([]Result, total)
	done := make([]bool, total)

	queue := make(chan job, total)
	for i, t := range tasks {
		queue <- job{index: i, task: t}
	}
	close(queue)
	observability.SetQueueDepth(len(queue))

	sinkCh := make(chan Result, max(total, 1))
	sinkDone := make(chan struct{})
	go e.dispatch(ctx, sinkCh, sinkDone)

	workers := min(e.cfg.Parallelism, total)
	logger.Info().Int("tasks", total).Int("workers", workers).Msg("Executor starting")

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-stop:
					return
				default:
				}
				j, ok := <-queue
				if !ok {
					return
				}
				observability.SetQueueDepth(len(queue))

				r := e.runTask(ctx, worker, j, total)
				results[j.index] = r
				done[j.index] = true
				sinkCh <- r
			}
		}(w)
	}
	wg.Wait()
	close(sinkCh)
	<-sinkDone

	for i := range results {
		if !done[i] {
			results[i] = Result{
				Index:  i,
				Task:   tasks[i],
				Report: bot.Report{Outcome: bot.OutcomeSkipped, Reason: "not started"},
			}
		}
	}
	observability.SetQueueDepth(0)

	summary := Summarize(results)
	logger.Info().
		Int("completed", summary.Completed).
		Int("won", summary.Won).
		Int("aborted", summary.Aborted).
		Int("unreachable", summary.Unreachable).
		Int("cancelled", summary.Cancelled).
		Int("skipped", summary.Skipped).
		Msg("Executor finished")

	return results, ctx.Err()
}

func (e *Executor) dispatch(ctx context.Context, in <-chan Result, done chan<- struct{}) {
	defer close(done)
	sinkCtx := context.WithoutCancel(ctx)
	for r := range in {
		if e.deps.Sink == nil {
			continue
		}
		if err := e.deps.Sink.Accept(sinkCtx, r); err != nil {
			e.deps.Logger.Error().Err(err).Str("task", r.Task.String()).Msg("Result sink rejected result")
		}
	}
}

// runTask runs one task on an acquired instance. It never returns early
// without releasing what it acquired.
func (e *Executor) runTask(ctx context.Context, worker int, j job, total int) (result Result) {
	t := j.task
	result = Result{Index: j.index, Task: t, Started: time.Now()}

	ctx, span := tracing.StartSpan(ctx, tracing.TracerExecutor, "executor.task",
		attribute.String("task", t.String()),
		attribute.Int("worker", worker),
	)
	defer func() {
		result.Duration = time.Since(result.Started)
		result.Report.Duration = result.Duration
		tracing.EndSpan(span, result.Report.Err)
		observability.RecordTask(string(result.Report.Outcome), result.Duration)
		observability.RecordTaskAudit(ctx, t.ID(), "task_finished", string(result.Report.Outcome), map[string]any{
			"reason":   result.Report.Reason,
			"steps":    result.Report.Steps,
			"instance": result.Instance,
		})
		if e.deps.Observer != nil {
			e.deps.Observer.TaskFinished(j.index, total, result)
		}
	}()

	if e.deps.Observer != nil {
		e.deps.Observer.TaskStarted(j.index, total, t)
	}

	strat, err := e.deps.Strategies.Get(t.Strategy)
	if err != nil {
		result.Report = failed(bot.OutcomeAborted, "strategy unavailable", err)
		return result
	}
	provider, err := e.deps.Providers(t)
	if err != nil {
		result.Report = failed(bot.OutcomeAborted, "provider unavailable", err)
		return result
	}

	inst, err := e.deps.Pool.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			result.Report = failed(bot.OutcomeCancelled, "cancelled before start", err)
		} else if errors.Is(err, pool.ErrClosed) {
			result.Report = failed(bot.OutcomeSkipped, "pool closed", err)
		} else {
			result.Report = failed(bot.OutcomeUnreachable, "no instance available", err)
		}
		return result
	}
	result.Instance = inst.Addr()

	e.active.Add(1)
	observability.SetActiveTasks(int(e.active.Load()))
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ReleaseTimeout)
		defer cancel()
		if err := e.deps.Pool.Release(releaseCtx, inst); err != nil {
			result.ResetError = err.Error()
			releaseLogger := tracing.LoggerFromContext(ctx, e.deps.Logger)
			releaseLogger.Warn().
				Err(err).
				Str("task", t.String()).
				Str("instance", inst.Addr()).
				Msg("Failed to reset instance after task")
		}
		e.active.Add(-1)
		observability.SetActiveTasks(int(e.active.Load()))
	}()

	ctx = tracing.PropagateToTask(ctx, t.ID(), inst.Port)

	var (
		recorder bot.Recorder
		observer llm.AttemptObserver
		finish   func(bot.Report) error
		base     = e.deps.Logger
		run      RunRecorder
	)
	if e.deps.Recorders != nil {
		run, finish, err = e.deps.Recorders(t)
		if err != nil {
			result.Report = failed(bot.OutcomeAborted, "recorder unavailable", err)
			return result
		}
		recorder, observer = run, run
		result.RunDir = run.Dir()
		base = e.deps.LogTee(run.LogWriter()).With().Str("component", "executor").Logger()
	}
	logger := tracing.LoggerFromContext(ctx, base).With().Str("task", t.String()).Logger()
	if finish != nil {
		defer func() {
			if err := finish(result.Report); err != nil {
				logger.Error().Err(err).Msg("Failed to finish run record")
			}
		}()
	}

	logger.Info().Int("worker", worker).Str("instance", inst.Addr()).Msg("Task started")

	client := e.deps.Clients(inst)
	startCtx, cancel := context.WithTimeout(ctx, e.cfg.StartTimeout)
	initial, err := client.Start(startCtx, balatro.StartParams{Deck: t.Deck, Stake: t.Stake, Seed: t.Seed})
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			result.Report = failed(bot.OutcomeCancelled, "cancelled during start", err)
		} else {
			result.Report = failed(bot.OutcomeUnreachable, "instance unreachable", err)
		}
		logger.Error().Err(err).Msg("Failed to start run")
		return result
	}
	if run != nil {
		run.RecordGamestate(initial)
	}

	caller, err := llm.NewCaller(provider, e.cfg.Retry, observer, logger)
	if err != nil {
		result.Report = failed(bot.OutcomeAborted, "caller setup failed", err)
		return result
	}
	sessionCfg := e.cfg.Session
	sessionCfg.Model = t.Model
	machine, err := bot.NewMachine(sessionCfg, client, caller, strat, recorder, logger)
	if err != nil {
		result.Report = failed(bot.OutcomeAborted, "session setup failed", err)
		return result
	}

	result.Report = machine.Run(ctx)
	logger.Info().
		Str("outcome", string(result.Report.Outcome)).
		Str("reason", result.Report.Reason).
		Int("steps", result.Report.Steps).
		Msg("Task finished")
	return result
}

func failed(outcome bot.Outcome, reason string, err error) bot.Report {
	return bot.Report{
		Outcome: outcome,
		Reason:  fmt.Sprintf("%s: %v", reason, err),
		Err:     err,
	}
}
