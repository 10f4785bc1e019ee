package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harun/balatrollm/internal/config"
	"github.com/harun/balatrollm/internal/logger"
	"github.com/harun/balatrollm/internal/observability"
	"github.com/harun/balatrollm/internal/tracing"
	"github.com/harun/balatrollm/pkg/balatro"
	"github.com/harun/balatrollm/pkg/bot"
	"github.com/harun/balatrollm/pkg/collector"
	"github.com/harun/balatrollm/pkg/executor"
	"github.com/harun/balatrollm/pkg/llm"
	"github.com/harun/balatrollm/pkg/pool"
	"github.com/harun/balatrollm/pkg/strategy"
	"github.com/harun/balatrollm/pkg/task"
	"github.com/spf13/cobra"
)

// ErrTasksFailed is returned when at least one task ended aborted or unreachable.
var ErrTasksFailed = errors.New("one or more tasks failed")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured tasks",
	Long: `Run expands the configured task parameters and plays every task on the
instance pool. The first interrupt stops new tasks from starting; a second
one aborts the running sessions.`,
	RunE: runRun,
}

func init() {
	addRunFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if dryRun {
		if err := cfg.Validate(false); err != nil {
			return fmt.Errorf("invalid configuration:\n%w", err)
		}
		printTasks(cmd.OutOrStdout(), cfg.Tasks())
		return nil
	}

	if err := cfg.Validate(true); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	ctx = tracing.NewRunContext(ctx)

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	r := &runner{cfg: cfg, log: log, progress: newProgress(cmd.OutOrStdout())}
	summary, err := r.run(ctx, cancel, sigs)
	if err != nil {
		return err
	}

	printSummary(cmd.OutOrStdout(), summary)
	if summary.Failed() {
		return ErrTasksFailed
	}
	return nil
}

// runner owns the components of one invocation.
type runner struct {
	cfg      *config.Config
	log      *logger.Logger
	progress *progress
}

func (r *runner) run(ctx context.Context, cancel context.CancelFunc, sigs <-chan os.Signal) (executor.Summary, error) {
	cfg := r.cfg
	base := r.log.GetZerolog()
	runLog := tracing.LoggerFromContext(ctx, base)

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry("balatrollm", version, cfg.Tracing.SampleRatio); err != nil {
			return executor.Summary{}, fmt.Errorf("failed to init tracing: %w", err)
		}
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
				runLog.Warn().Err(err).Msg("Tracing shutdown failed")
			}
		}()
	}

	if cfg.Logging.AuditFile != "" {
		if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
			return executor.Summary{}, fmt.Errorf("failed to open audit log: %w", err)
		}
		defer observability.GetAuditLogger().Close()
	}

	registry := strategy.NewRegistry(cfg.StrategiesDir, base)
	for _, name := range cfg.Strategy {
		if _, err := registry.Get(name); err != nil {
			return executor.Summary{}, fmt.Errorf("strategy %s: %w", name, err)
		}
	}
	if err := registry.Watch(ctx); err != nil {
		runLog.Warn().Err(err).Msg("Strategy hot reload disabled")
	}

	provider, err := llm.NewProvider(cfg.ProviderConfig())
	if err != nil {
		return executor.Summary{}, fmt.Errorf("failed to create provider: %w", err)
	}

	var launcher pool.Launcher
	if cfg.Instance.Command != "" {
		launcher = pool.NewCommandLauncher(cfg.Instance.Command, cfg.Instance.Args, cfg.Instance.LogDir)
	}
	instances, err := pool.New(cfg.PoolConfig(), resetInstance(cfg.Instance.RequestTimeout), launcher, base)
	if err != nil {
		return executor.Summary{}, fmt.Errorf("failed to create instance pool: %w", err)
	}
	if err := instances.Start(ctx); err != nil {
		// Failed slots stay in the pool; their tasks end unreachable.
		runLog.Warn().Err(err).Msg("Some game instances failed to start")
	}
	defer func() {
		stopCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
		defer done()
		if err := instances.Stop(stopCtx); err != nil {
			runLog.Warn().Err(err).Msg("Failed to stop game instances")
		}
	}()

	index, err := collector.OpenIndex(cfg.OutputDir)
	if err != nil {
		return executor.Summary{}, err
	}
	defer index.Close()

	exec, err := executor.New(cfg.ExecutorConfig(), executor.Deps{
		Pool: instances,
		Clients: func(inst *pool.Instance) executor.GameClient {
			return balatro.NewClient(inst.Host, inst.Port, cfg.Instance.RequestTimeout)
		},
		Providers: func(task.Task) (llm.Provider, error) { return provider, nil },
		Strategies: executor.StrategyFunc(func(name string) (bot.Strategy, error) {
			s, err := registry.Get(name)
			if err != nil {
				return nil, err
			}
			return s, nil
		}),
		Recorders: recorders(cfg, registry),
		Sink:      index,
		Observer:  r.progress,
		LogTee:    r.log.Tee,
		Logger:    base,
	})
	if err != nil {
		return executor.Summary{}, err
	}

	if cfg.Metrics.Enabled {
		srv := observability.NewServer(cfg.Metrics.Addr, func() map[string]any {
			return map[string]any{
				"active_tasks": exec.Active(),
				"pool":         instances.Stats().Map(),
				"instances":    instances.GetStats(),
			}
		}, base)
		if err := srv.Start(); err != nil {
			return executor.Summary{}, fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	go watchSignals(ctx, sigs, r.progress, exec.Shutdown, cancel)

	tasks := cfg.Tasks()
	runLog.Info().
		Int("tasks", len(tasks)).
		Int("parallel", cfg.Parallel).
		Str("output_dir", cfg.OutputDir).
		Msg("Starting run")

	results, err := exec.Run(ctx, tasks)
	summary := executor.Summarize(results)
	runLog.Info().
		Int("completed", summary.Completed).
		Int("won", summary.Won).
		Int("aborted", summary.Aborted).
		Int("unreachable", summary.Unreachable).
		Int("cancelled", summary.Cancelled).
		Int("skipped", summary.Skipped).
		Msg("Run finished")
	if err != nil && !errors.Is(err, context.Canceled) {
		return summary, err
	}
	return summary, nil
}

// resetInstance returns a pool resetter that sends the menu command to the
// instance being released.
func resetInstance(timeout time.Duration) pool.ResetFunc {
	return func(ctx context.Context, inst *pool.Instance) error {
		client := balatro.NewClient(inst.Host, inst.Port, timeout)
		defer client.Close()
		return client.Reset(ctx)
	}
}

// recorders opens one collector run per task.
func recorders(cfg *config.Config, registry *strategy.Registry) executor.RecorderFactory {
	return func(t task.Task) (executor.RunRecorder, func(bot.Report) error, error) {
		opts := collector.Options{
			BaseDir:     cfg.OutputDir,
			Version:     version,
			ModelConfig: cfg.ModelConfig,
		}
		if s, err := registry.Get(t.Strategy); err == nil {
			opts.Manifest = &s.Manifest
		}
		run, err := collector.NewRun(t, opts)
		if err != nil {
			return nil, nil, err
		}
		finish := func(report bot.Report) error {
			_, err := run.Finish(report)
			return err
		}
		return run, finish, nil
	}
}

// watchSignals calls shutdown on the first signal and cancel on the second.
func watchSignals(ctx context.Context, sigs <-chan os.Signal, out io.Writer, shutdown func(), cancel context.CancelFunc) {
	received := 0
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			received++
			if received == 1 {
				fmt.Fprintf(out, "\nReceived %s, finishing running tasks (repeat to abort)\n", sig)
				shutdown()
				continue
			}
			fmt.Fprintf(out, "\nReceived %s again, aborting running tasks\n", sig)
			cancel()
			return
		}
	}
}
