package bot

import (
	"context"
	"time"

	"github.com/harun/balatrollm/pkg/game"
	"github.com/harun/balatrollm/pkg/llm"
	"github.com/harun/balatrollm/pkg/strategy"
)

// SessionClient is the game endpoint a session plays against.
type SessionClient interface {
	FetchState(ctx context.Context) (*game.Gamestate, error)
	ApplyAction(ctx context.Context, phase game.Phase, action game.Action) (*game.Gamestate, error)
}

// DecisionCaller returns one parsed action per call. *llm.Caller implements it.
type DecisionCaller interface {
	Call(ctx context.Context, req llm.Request) (*llm.Decision, error)
}

// Strategy renders prompts and validates decisions. *strategy.Strategy implements it.
type Strategy interface {
	Render(phase game.Phase, gs *game.Gamestate, mem strategy.Memory) (string, error)
	Tools(phase game.Phase) []llm.Tool
	Validate(phase game.Phase, action game.Action) error
}

// Step is one applied or attempted action, as handed to a Recorder.
type Step struct {
	Number  int
	Phase   game.Phase
	Action  *game.Action
	Outcome game.Outcome
	Before  *game.Gamestate
	After   *game.Gamestate
	Err     error
	Started time.Time
	Ended   time.Time
}

// Recorder receives every step of a session.
type Recorder interface {
	RecordStep(ctx context.Context, s Step)
}

// NopRecorder discards steps.
type NopRecorder struct{}

func (NopRecorder) RecordStep(context.Context, Step) {}

// Outcome is how a session ended.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeAborted     Outcome = "aborted"
	OutcomeUnreachable Outcome = "unreachable"
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeSkipped     Outcome = "skipped"
)

// Failed reports whether the outcome should be surfaced as a failure.
func (o Outcome) Failed() bool {
	return o == OutcomeAborted || o == OutcomeUnreachable
}

// Report summarises a finished session.
type Report struct {
	Outcome           Outcome             `json:"outcome"`
	Reason            string              `json:"reason,omitempty"`
	Steps             int                 `json:"steps"`
	DecisionCalls     int                 `json:"decision_calls"`
	InvalidResponses  int                 `json:"invalid_responses"`
	ExecutionFailures int                 `json:"execution_failures"`
	Stalls            int                 `json:"stalls"`
	Final             *game.Gamestate     `json:"-"`
	History           []game.HistoryEntry `json:"history,omitempty"`
	Duration          time.Duration       `json:"duration"`
	Err               error               `json:"-"`
}

// Won reports whether the final snapshot is a won run.
func (r Report) Won() bool {
	return r.Final != nil && r.Final.Won
}
