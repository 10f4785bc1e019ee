package task

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Decks lists the decks the game accepts.
var Decks = []string{
	"RED", "BLUE", "YELLOW", "GREEN", "BLACK", "MAGIC", "NEBULA", "GHOST",
	"ABANDONED", "CHECKERED", "ZODIAC", "PAINTED", "ANAGLYPH", "PLASMA", "ERRATIC",
}

// Stakes lists the stakes the game accepts.
var Stakes = []string{"WHITE", "RED", "GREEN", "BLACK", "BLUE", "PURPLE", "ORANGE", "GOLD"}

var modelPattern = regexp.MustCompile(`^[^/\s]+/[^\s]+$`)

// Validate checks every parameter list is non-empty and holds accepted values.
func (p Params) Validate() error {
	if len(p.Models) == 0 {
		return fmt.Errorf("at least one model is required")
	}
	for _, m := range p.Models {
		if !modelPattern.MatchString(m) {
			return fmt.Errorf("model %q must be in vendor/model format", m)
		}
	}
	if len(p.Seeds) == 0 {
		return fmt.Errorf("at least one seed is required")
	}
	for _, s := range p.Seeds {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("seed must not be empty")
		}
	}
	if len(p.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}
	if err := checkAllowed("deck", p.Decks, Decks); err != nil {
		return err
	}
	return checkAllowed("stake", p.Stakes, Stakes)
}

func checkAllowed(kind string, values, allowed []string) error {
	if len(values) == 0 {
		return fmt.Errorf("at least one %s is required", kind)
	}
	for _, v := range values {
		if !slices.Contains(allowed, strings.ToUpper(v)) {
			return fmt.Errorf("invalid %s %q (allowed: %s)", kind, v, strings.Join(allowed, ", "))
		}
	}
	return nil
}
