package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/balatrollm/internal/observability"
	"github.com/harun/balatrollm/internal/tracing"
	"github.com/harun/balatrollm/pkg/game"
	"github.com/harun/balatrollm/pkg/llm"
	"github.com/harun/balatrollm/pkg/strategy"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

type policy int

const (
	policyDecide policy = iota
	policyFixed
	policyWait
	policyTerminal
)

// policyFor maps every phase to how the machine handles it. Fixed actions never
// reach the decision endpoint and do not touch the failure tracker.
func policyFor(p game.Phase) (policy, game.Action) {
	switch p {
	case game.PhaseSelectingHand, game.PhaseShop, game.PhaseBoosterOpened:
		return policyDecide, game.Action{}
	case game.PhaseRoundEval:
		return policyFixed, game.Action{Name: "cash_out"}
	case game.PhaseBlindSelect:
		// Skipping blinds is not supported yet.
		return policyFixed, game.Action{Name: "select"}
	case game.PhaseGameOver:
		return policyTerminal, game.Action{}
	case game.PhaseMenu, game.PhaseUnknown:
		return policyWait, game.Action{}
	}
	return policyWait, game.Action{}
}

// Machine plays one session: fetch state, decide, apply, repeat until the game
// ends or the session aborts. It is owned by a single worker.
type Machine struct {
	cfg      Config
	client   SessionClient
	caller   DecisionCaller
	strategy Strategy
	recorder Recorder
	logger   zerolog.Logger

	tracker *FailureTracker
	history *History

	step        int
	stalls      int
	calls       int
	lastInvalid string
	lastFailed  string
	state       *game.Gamestate
	terminal    bool
}

// NewMachine creates a machine. recorder may be nil.
func NewMachine(cfg Config, client SessionClient, caller DecisionCaller, strat Strategy, recorder Recorder, logger zerolog.Logger) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("session client is required")
	}
	if caller == nil {
		return nil, fmt.Errorf("decision caller is required")
	}
	if strat == nil {
		return nil, fmt.Errorf("strategy is required")
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}

	return &Machine{
		cfg:      cfg,
		client:   client,
		caller:   caller,
		strategy: strat,
		recorder: recorder,
		logger:   logger.With().Str("component", "session").Logger(),
		tracker:  NewFailureTracker(cfg.FailureThreshold),
		history:  NewHistory(cfg.HistoryWindow),
	}, nil
}

// Tracker exposes the failure tracker.
func (m *Machine) Tracker() *FailureTracker {
	return m.tracker
}

// Run drives the session to a terminal state, an abort, or cancellation of ctx.
// It must be called at most once.
func (m *Machine) Run(ctx context.Context) (report Report) {
	if m.terminal {
		return Report{Outcome: OutcomeAborted, Reason: "session already finished"}
	}

	ctx, span := tracing.StartSpan(ctx, tracing.TracerSession, "session.run",
		attribute.String("model", m.cfg.Model),
	)
	logger := tracing.LoggerFromContext(ctx, m.logger)
	start := time.Now()

	defer func() {
		m.terminal = true
		report.Duration = time.Since(start)
		span.SetAttributes(
			attribute.String("outcome", string(report.Outcome)),
			attribute.Int("steps", report.Steps),
		)
		tracing.EndSpan(span, report.Err)

		ev := logger.Info()
		if report.Outcome.Failed() {
			ev = logger.Warn().Err(report.Err)
		}
		ev.Str("outcome", string(report.Outcome)).
			Str("reason", report.Reason).
			Int("steps", report.Steps).
			Int("decision_calls", report.DecisionCalls).
			Dur("duration", report.Duration).
			Msg("Session finished")
	}()

	for {
		if err := ctx.Err(); err != nil {
			return m.finish(OutcomeCancelled, "cancelled", err)
		}
		if m.step >= m.cfg.MaxSteps {
			return m.finish(OutcomeAborted, fmt.Sprintf("step limit %d reached", m.cfg.MaxSteps), nil)
		}

		gs, err := m.client.FetchState(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return m.finish(OutcomeCancelled, "cancelled", ctx.Err())
			}
			return m.finish(OutcomeUnreachable, "cannot fetch gamestate", err)
		}
		m.state = gs

		pol, fixed := policyFor(gs.Phase)
		if pol == policyTerminal {
			return m.finish(OutcomeCompleted, "game over", nil)
		}

		m.step++
		observability.RecordSessionStep()
		logger.Debug().Int("step", m.step).Str("phase", gs.Phase.String()).Msg("Session step")

		switch pol {
		case policyDecide:
			if err := m.decide(ctx, logger, gs); err != nil {
				if errors.Is(err, llm.ErrTooManyTimeouts) || errors.Is(err, llm.ErrCallerTripped) {
					return m.finish(OutcomeAborted, "consecutive timeouts", err)
				}
				return m.finish(OutcomeCancelled, "cancelled", err)
			}
		case policyFixed:
			if err := m.applyFixed(ctx, logger, gs, fixed); err != nil {
				return m.finish(OutcomeCancelled, "cancelled", err)
			}
		case policyWait:
			m.stalls++
			if m.stalls <= m.cfg.MaxStalls {
				if err := wait(ctx, m.cfg.PollInterval); err != nil {
					return m.finish(OutcomeCancelled, "cancelled", err)
				}
			}
		}

		if m.stalls > m.cfg.MaxStalls {
			return m.finish(OutcomeAborted, fmt.Sprintf("stalled in %s", gs.Phase), nil)
		}

		if m.tracker.ShouldAbort() {
			c := m.tracker.Counts()
			reason := fmt.Sprintf("%d consecutive invalid responses", c.Invalid)
			if c.Failed >= m.tracker.Threshold() {
				reason = fmt.Sprintf("%d consecutive failed actions", c.Failed)
			}
			return m.finish(OutcomeAborted, reason, nil)
		}
	}
}

// decide runs one decision step. Only fatal caller errors and cancellation are returned.
func (m *Machine) decide(ctx context.Context, logger zerolog.Logger, gs *game.Gamestate) error {
	m.stalls = 0
	started := time.Now()

	prompt, err := m.strategy.Render(gs.Phase, gs, strategy.Memory{
		History:     m.history.Entries(),
		LastInvalid: m.lastInvalid,
		LastFailed:  m.lastFailed,
	})
	if err != nil {
		// A template that cannot render will not recover on retry.
		m.recordInvalid(ctx, logger, gs, nil, fmt.Errorf("render prompt: %w", err), started)
		return nil
	}

	m.calls++
	decision, err := m.caller.Call(ctx, llm.Request{
		Model:  m.cfg.Model,
		Prompt: prompt,
		Tools:  m.strategy.Tools(gs.Phase),
	})
	if err != nil {
		if errors.Is(err, llm.ErrTooManyTimeouts) || errors.Is(err, llm.ErrCallerTripped) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.recordInvalid(ctx, logger, gs, nil, err, started)
		return nil
	}

	action := decision.Action
	if err := m.strategy.Validate(gs.Phase, action); err != nil {
		m.recordInvalid(ctx, logger, gs, &action, err, started)
		return nil
	}

	after, err := m.client.ApplyAction(ctx, gs.Phase, action)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.tracker.RecordExecutionFailure()
		m.lastFailed = err.Error()
		observability.RecordSessionFailure("execution")
		logger.Warn().Err(err).Str("action", action.Name).Msg("Action rejected")
		m.addHistory(gs.Phase, &action, game.OutcomeFailed, err.Error())
		m.recorder.RecordStep(ctx, Step{Number: m.step, Phase: gs.Phase, Action: &action, Outcome: game.OutcomeFailed, Before: gs, Err: err, Started: started, Ended: time.Now()})
		return nil
	}

	m.tracker.RecordSuccess()
	m.lastInvalid, m.lastFailed = "", ""
	logger.Info().Str("action", action.String()).Msg("Action applied")
	m.addHistory(gs.Phase, &action, game.OutcomeSuccess, action.Reasoning)
	m.recorder.RecordStep(ctx, Step{Number: m.step, Phase: gs.Phase, Action: &action, Outcome: game.OutcomeSuccess, Before: gs, After: after, Started: started, Ended: time.Now()})
	return nil
}

func (m *Machine) recordInvalid(ctx context.Context, logger zerolog.Logger, gs *game.Gamestate, action *game.Action, err error, started time.Time) {
	m.tracker.RecordInvalidResponse()
	m.lastInvalid = err.Error()
	observability.RecordSessionFailure("invalid")
	logger.Warn().Err(err).Int("streak", m.tracker.Counts().Invalid).Msg("Invalid decision")
	m.addHistory(gs.Phase, action, game.OutcomeInvalid, err.Error())
	m.recorder.RecordStep(ctx, Step{Number: m.step, Phase: gs.Phase, Action: action, Outcome: game.OutcomeInvalid, Before: gs, Err: err, Started: started, Ended: time.Now()})
}

// applyFixed applies a phase default. A rejection counts as a stall, not a failure.
// Only cancellation is returned.
func (m *Machine) applyFixed(ctx context.Context, logger zerolog.Logger, gs *game.Gamestate, action game.Action) error {
	started := time.Now()
	after, err := m.client.ApplyAction(ctx, gs.Phase, action)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.stalls++
		logger.Warn().Err(err).Str("action", action.Name).Int("stalls", m.stalls).Msg("Fixed action rejected")
		m.recorder.RecordStep(ctx, Step{Number: m.step, Phase: gs.Phase, Action: &action, Outcome: game.OutcomeFixed, Before: gs, Err: err, Started: started, Ended: time.Now()})
		if m.stalls > m.cfg.MaxStalls {
			return nil
		}
		return wait(ctx, m.cfg.PollInterval)
	}
	m.stalls = 0
	m.addHistory(gs.Phase, &action, game.OutcomeFixed, "")
	m.recorder.RecordStep(ctx, Step{Number: m.step, Phase: gs.Phase, Action: &action, Outcome: game.OutcomeFixed, Before: gs, After: after, Started: started, Ended: time.Now()})
	return nil
}

func (m *Machine) addHistory(phase game.Phase, action *game.Action, outcome game.Outcome, note string) {
	m.history.Add(game.HistoryEntry{
		Step:    m.step,
		Phase:   phase,
		Action:  action,
		Outcome: outcome,
		Note:    note,
		At:      time.Now(),
	})
}

func (m *Machine) finish(outcome Outcome, reason string, err error) Report {
	counts := m.tracker.Counts()
	return Report{
		Outcome:           outcome,
		Reason:            reason,
		Steps:             m.step,
		DecisionCalls:     m.calls,
		InvalidResponses:  counts.TotalInvalid,
		ExecutionFailures: counts.TotalFailed,
		Stalls:            m.stalls,
		Final:             m.state,
		History:           m.history.Entries(),
		Err:               err,
	}
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
