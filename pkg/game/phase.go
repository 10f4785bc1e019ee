package game

import "strings"

// Phase is one of the modes the remote game session can report.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseMenu
	PhaseBlindSelect
	PhaseSelectingHand
	PhaseRoundEval
	PhaseShop
	PhaseBoosterOpened
	PhaseGameOver
)

var phaseNames = map[Phase]string{
	PhaseUnknown:       "UNKNOWN",
	PhaseMenu:          "MENU",
	PhaseBlindSelect:   "BLIND_SELECT",
	PhaseSelectingHand: "SELECTING_HAND",
	PhaseRoundEval:     "ROUND_EVAL",
	PhaseShop:          "SHOP",
	PhaseBoosterOpened: "SMODS_BOOSTER_OPENED",
	PhaseGameOver:      "GAME_OVER",
}

// Phases lists every known phase except PhaseUnknown.
func Phases() []Phase {
	return []Phase{
		PhaseMenu,
		PhaseBlindSelect,
		PhaseSelectingHand,
		PhaseRoundEval,
		PhaseShop,
		PhaseBoosterOpened,
		PhaseGameOver,
	}
}

// ParsePhase maps a wire name to a Phase. Unrecognised names yield PhaseUnknown.
func ParsePhase(name string) Phase {
	name = strings.ToUpper(strings.TrimSpace(name))
	for p, n := range phaseNames {
		if n == name {
			return p
		}
	}
	return PhaseUnknown
}

// String returns the wire name of the phase.
func (p Phase) String() string {
	if n, ok := phaseNames[p]; ok {
		return n
	}
	return phaseNames[PhaseUnknown]
}

// Terminal reports whether no further actions can be applied.
func (p Phase) Terminal() bool {
	return p == PhaseGameOver
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(b []byte) error {
	*p = ParsePhase(string(b))
	return nil
}
