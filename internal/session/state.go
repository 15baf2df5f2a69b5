// Package session tracks the per-connection state a SecurityCore consults
// and mutates on every event: which taints the session currently carries,
// which tools/classes it has invoked, and the history of its recorded tool
// calls.
package session

import (
	"sync"
	"time"

	"github.com/sentinel-mediator/sentinel/internal/policy"
)

// State is the live security-relevant state of one mediated session. All
// access goes through its methods, which hold mu for the duration — a
// session is owned by exactly one goroutine's event loop at a time in the
// stdio shape, and by whichever HTTP handler is currently serving it in the
// HTTP shape, so contention is rare but not impossible (a session could be
// replayed concurrently by a buggy client).
type State struct {
	mu sync.RWMutex

	ID        string
	CreatedAt time.Time

	taints  map[string]bool
	tools   map[string]bool
	classes map[string]bool
	history []policy.HistoryEntry
}

// New constructs an empty State for a freshly bound session id.
func New(id string) *State {
	return &State{
		ID:        id,
		CreatedAt: time.Now(),
		taints:    make(map[string]bool),
		tools:     make(map[string]bool),
		classes:   make(map[string]bool),
	}
}

// Taints returns a snapshot copy of the current taint set.
func (s *State) Taints() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.taints))
	for k, v := range s.taints {
		out[k] = v
	}
	return out
}

// Tools returns a snapshot copy of every tool name invoked so far.
func (s *State) Tools() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.tools))
	for k, v := range s.tools {
		out[k] = v
	}
	return out
}

// Classes returns a snapshot copy of every tool class invoked so far.
func (s *State) Classes() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.classes))
	for k, v := range s.classes {
		out[k] = v
	}
	return out
}

// History returns a copy of the recorded tool-call history, oldest first.
func (s *State) History() []policy.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]policy.HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// ApplySideEffects adds and removes taints atomically with respect to other
// readers, in that order — adds before removes, matching the ordering
// invariant that a REMOVE_TAINT on the same call a rule ADD_TAINTs cannot
// race the add.
func (s *State) ApplySideEffects(adds, removes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range adds {
		s.taints[t] = true
	}
	for _, t := range removes {
		delete(s.taints, t)
	}
}

// RecordCall appends a tool invocation to history and marks its tool/classes
// as seen, for session_has_tool/session_has_class lookups.
func (s *State) RecordCall(tool string, classes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[tool] = true
	for _, c := range classes {
		s.classes[c] = true
	}
	s.history = append(s.history, policy.HistoryEntry{
		Tool:      tool,
		Classes:   append([]string(nil), classes...),
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	})
}
