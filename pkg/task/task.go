package task

import (
	"fmt"
	"strings"
)

// Task describes one run. It is never mutated after Expand creates it.
type Task struct {
	Model    string `json:"model"`
	Seed     string `json:"seed"`
	Deck     string `json:"deck"`
	Stake    string `json:"stake"`
	Strategy string `json:"strategy"`
}

func (t Task) String() string {
	return fmt.Sprintf("%s | %s | %s | %s | %s", t.Deck, t.Stake, t.Seed, t.Strategy, t.Model)
}

// ID returns a filesystem safe identifier for the task parameters.
func (t Task) ID() string {
	return fmt.Sprintf("%s_%s_%s", t.Deck, t.Stake, t.Seed)
}

// Vendor returns the vendor half of a "vendor/model" name, or "" when the
// name has no vendor.
func (t Task) Vendor() string {
	vendor, _, ok := strings.Cut(t.Model, "/")
	if !ok {
		return ""
	}
	return vendor
}

// ModelName returns the model half of a "vendor/model" name, or "" when the
// name has no vendor.
func (t Task) ModelName() string {
	_, name, ok := strings.Cut(t.Model, "/")
	if !ok {
		return ""
	}
	return name
}

// Params holds the configured parameter lists.
type Params struct {
	Models     []string
	Seeds      []string
	Decks      []string
	Stakes     []string
	Strategies []string
}

// Count returns the number of tasks Expand will produce.
func Count(p Params) int {
	return len(p.Strategies) * len(p.Models) * len(p.Decks) * len(p.Stakes) * len(p.Seeds)
}

// Expand returns the cartesian product of p, ordered strategy, model, deck, stake, seed.
func Expand(p Params) []Task {
	tasks := make([]Task, 0, Count(p))
	for _, strategy := range p.Strategies {
		for _, model := range p.Models {
			for _, deck := range p.Decks {
				for _, stake := range p.Stakes {
					for _, seed := range p.Seeds {
						tasks = append(tasks, Task{
							Model:    model,
							Seed:     seed,
							Deck:     strings.ToUpper(deck),
							Stake:    strings.ToUpper(stake),
							Strategy: strategy,
						})
					}
				}
			}
		}
	}
	return tasks
}
