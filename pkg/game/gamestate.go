package game

import (
	"encoding/json"
	"fmt"
	"time"
)

// Gamestate is a snapshot of the remote session.
type Gamestate struct {
	Phase Phase `json:"state"`
	Won   bool  `json:"won"`
	Ante  int   `json:"ante_num"`
	Round int   `json:"round_num"`

	// Raw is the full payload as returned by the game, handed to templates untouched.
	Raw json.RawMessage `json:"-"`
}

// DecodeGamestate parses a protocol result into a Gamestate, keeping the raw payload.
func DecodeGamestate(raw json.RawMessage) (*Gamestate, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty gamestate")
	}
	var gs Gamestate
	if err := json.Unmarshal(raw, &gs); err != nil {
		return nil, fmt.Errorf("decode gamestate: %w", err)
	}
	gs.Raw = append(json.RawMessage(nil), raw...)
	return &gs, nil
}

// Fields returns the raw payload as a generic map, for template rendering.
func (g *Gamestate) Fields() map[string]any {
	out := map[string]any{}
	if g == nil || len(g.Raw) == 0 {
		return out
	}
	_ = json.Unmarshal(g.Raw, &out)
	return out
}

// Action is a decision: a named game operation plus its arguments.
type Action struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Reasoning string          `json:"reasoning,omitempty"`
}

// Params decodes the action arguments into a map suitable for a protocol call.
func (a Action) Params() (map[string]any, error) {
	params := map[string]any{}
	if len(a.Arguments) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(a.Arguments, &params); err != nil {
		return nil, fmt.Errorf("action %s: arguments are not a JSON object: %w", a.Name, err)
	}
	return params, nil
}

func (a Action) String() string {
	if len(a.Arguments) == 0 {
		return a.Name + "()"
	}
	return a.Name + string(a.Arguments)
}

// Outcome classifies a history entry.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeInvalid Outcome = "invalid"
	OutcomeFailed  Outcome = "failed"
	OutcomeFixed   Outcome = "fixed"
)

// HistoryEntry records one step of a session.
type HistoryEntry struct {
	Step    int       `json:"step"`
	Phase   Phase     `json:"phase"`
	Action  *Action   `json:"action,omitempty"`
	Outcome Outcome   `json:"outcome"`
	Note    string    `json:"note,omitempty"`
	At      time.Time `json:"at"`
}
