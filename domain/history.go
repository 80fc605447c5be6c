package domain

import (
	"sync"
	"time"
)

// HistoryEntry is one recorded broadcast chat message. Unicasts are not
// recorded.
type HistoryEntry struct {
	UID      UID       `json:"uid"`
	Username string    `json:"username"`
	Content  string    `json:"content"`
	At       time.Time `json:"at"`
}

// History is a bounded ring of recent chat messages. Oldest entries are
// evicted once the capacity is reached. Safe for concurrent use.
type History struct {
	mu      sync.RWMutex
	entries []HistoryEntry
	max     int
}

func NewHistory(max int) *History {
	if max < 1 {
		max = 1
	}
	return &History{max: max}
}

func (h *History) Append(entry HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, entry)
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
}

// Recent returns a copy of the retained entries, oldest first.
func (h *History) Recent() []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
