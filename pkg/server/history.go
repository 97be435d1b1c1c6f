package server

import (
	"strconv"
	"sync"
)

// DefaultHistoryCount is used when /history is given no count
const DefaultHistoryCount = 10

// History keeps each user's sent messages in order. Entries are never
// removed; sessions that share a username share a history.
type History struct {
	mu      sync.RWMutex
	entries map[string][]string
}

// NewHistory creates an empty history store
func NewHistory() *History {
	return &History{entries: make(map[string][]string)}
}

// Append adds a message to the end of username's history
func (h *History) Append(username, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries[username] = append(h.entries[username], message)
}

// Tail returns the last min(count, len) messages of username, oldest first.
// Unknown users and non-positive counts give an empty slice.
func (h *History) Tail(username string, count int) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	entries := h.entries[username]
	if count <= 0 || len(entries) == 0 {
		return []string{}
	}

	start := len(entries) - count
	if start < 0 {
		start = 0
	}

	tail := make([]string, len(entries)-start)
	copy(tail, entries[start:])
	return tail
}

// Len returns how many messages username has sent
func (h *History) Len(username string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.entries[username])
}

// ParseHistoryCount parses the optional /history argument
func ParseHistoryCount(arg string) (int, error) {
	if arg == "" {
		return DefaultHistoryCount, nil
	}

	count, err := strconv.Atoi(arg)
	if err != nil {
		return 0, &CommandError{Command: "/history", Reason: "Invalid history count: " + arg}
	}
	return count, nil
}
