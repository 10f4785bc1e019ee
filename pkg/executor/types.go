package executor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/harun/balatrollm/pkg/balatro"
	"github.com/harun/balatrollm/pkg/bot"
	"github.com/harun/balatrollm/pkg/game"
	"github.com/harun/balatrollm/pkg/llm"
	"github.com/harun/balatrollm/pkg/pool"
	"github.com/harun/balatrollm/pkg/task"
)

// InstancePool hands out game instances. *pool.Pool implements it.
type InstancePool interface {
	Acquire(ctx context.Context) (*pool.Instance, error)
	Release(ctx context.Context, inst *pool.Instance) error
	Size() int
}

// GameClient is a session client that can also start a run.
type GameClient interface {
	bot.SessionClient
	Start(ctx context.Context, p balatro.StartParams) (*game.Gamestate, error)
}

// ClientFactory binds a client to an acquired instance.
type ClientFactory func(inst *pool.Instance) GameClient

// ProviderFactory returns the decision provider for a task.
type ProviderFactory func(t task.Task) (llm.Provider, error)

// StrategySource resolves strategies by name.
type StrategySource interface {
	Get(name string) (bot.Strategy, error)
}

// StrategyFunc adapts a function to StrategySource.
type StrategyFunc func(name string) (bot.Strategy, error)

func (f StrategyFunc) Get(name string) (bot.Strategy, error) { return f(name) }

// RunRecorder persists one task. *collector.Run implements it.
type RunRecorder interface {
	llm.AttemptObserver
	bot.Recorder
	RecordGamestate(gs *game.Gamestate)
	LogWriter() io.Writer
	Dir() string
}

// RecorderFactory opens a recorder for a task. The returned finish func is
// called once with the session report.
type RecorderFactory func(t task.Task) (RunRecorder, func(bot.Report) error, error)

// Sink receives finished results from a single dispatch goroutine.
type Sink interface {
	Accept(ctx context.Context, r Result) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r Result) error

func (f SinkFunc) Accept(ctx context.Context, r Result) error { return f(ctx, r) }

// Observer follows task progress. Calls may arrive from any worker.
type Observer interface {
	TaskStarted(index, total int, t task.Task)
	TaskFinished(index, total int, r Result)
}

// Result is the outcome of one task.
type Result struct {
	Index    int           `json:"index"`
	Task     task.Task     `json:"task"`
	Instance string        `json:"instance,omitempty"`
	RunDir   string        `json:"run_dir,omitempty"`
	Report   bot.Report    `json:"report"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`

	// ResetError is set when the instance could not be reset after the task.
	// The instance still goes back to the pool.
	ResetError string `json:"reset_error,omitempty"`
}

// Outcome is shorthand for r.Report.Outcome.
func (r Result) Outcome() bot.Outcome {
	return r.Report.Outcome
}

func (r Result) String() string {
	if r.Report.Reason != "" {
		return fmt.Sprintf("%s | %s (%s)", r.Task, r.Report.Outcome, r.Report.Reason)
	}
	return fmt.Sprintf("%s | %s", r.Task, r.Report.Outcome)
}

// Summary counts results by outcome.
type Summary struct {
	Total       int `json:"total"`
	Completed   int `json:"completed"`
	Won         int `json:"won"`
	Aborted     int `json:"aborted"`
	Unreachable int `json:"unreachable"`
	Cancelled   int `json:"cancelled"`
	Skipped     int `json:"skipped"`
}

// Summarize tallies results.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Report.Outcome {
		case bot.OutcomeCompleted:
			s.Completed++
			if r.Report.Won() {
				s.Won++
			}
		case bot.OutcomeAborted:
			s.Aborted++
		case bot.OutcomeUnreachable:
			s.Unreachable++
		case bot.OutcomeCancelled:
			s.Cancelled++
		case bot.OutcomeSkipped:
			s.Skipped++
		}
	}
	return s
}

// Failed reports whether any task ended aborted or unreachable.
func (s Summary) Failed() bool {
	return s.Aborted > 0 || s.Unreachable > 0
}

// Config tunes the executor.
type Config struct {
	Parallelism    int             `json:"parallel" mapstructure:"parallel"`
	StartTimeout   time.Duration   `json:"start_timeout" mapstructure:"start_timeout"`
	ReleaseTimeout time.Duration   `json:"release_timeout" mapstructure:"release_timeout"`
	Session        bot.Config      `json:"session" mapstructure:"session"`
	Retry          llm.RetryPolicy `json:"retry" mapstructure:"retry"`
}

// DefaultConfig returns a single-worker executor with stock session and retry settings.
func DefaultConfig() Config {
	return Config{
		Parallelism:    1,
		StartTimeout:   60 * time.Second,
		ReleaseTimeout: 60 * time.Second,
		Session:        bot.DefaultConfig(),
		Retry:          llm.DefaultRetryPolicy(),
	}
}

func (c Config) Validate() error {
	if c.Parallelism < 1 {
		return fmt.Errorf("parallel must be at least 1")
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	return c.Retry.Validate()
}
