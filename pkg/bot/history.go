package bot

import "github.com/harun/balatrollm/pkg/game"

// DefaultHistoryWindow is how many recent steps are shown to the decision endpoint.
const DefaultHistoryWindow = 10

// History keeps the most recent entries of a session, oldest first.
type History struct {
	window  int
	entries []game.HistoryEntry
}

// NewHistory creates a history holding at most window entries.
func NewHistory(window int) *History {
	if window < 1 {
		window = DefaultHistoryWindow
	}
	return &History{window: window, entries: make([]game.HistoryEntry, 0, window)}
}

// Add appends e, evicting the oldest entry when full.
func (h *History) Add(e game.HistoryEntry) {
	if len(h.entries) == h.window {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:h.window-1]
	}
	h.entries = append(h.entries, e)
}

// Entries returns a copy of the window.
func (h *History) Entries() []game.HistoryEntry {
	out := make([]game.HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len returns the number of entries held.
func (h *History) Len() int {
	return len(h.entries)
}

// Last returns the most recent entry.
func (h *History) Last() (game.HistoryEntry, bool) {
	if len(h.entries) == 0 {
		return game.HistoryEntry{}, false
	}
	return h.entries[len(h.entries)-1], true
}
