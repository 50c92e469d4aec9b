// Package connectivity tracks whether the backend is reachable and turns
// inbound signals into drains.
package connectivity

import (
	"sync"

	"github.com/TheMichaelB/visitsync/internal/events"
)

// State is the process-wide online flag. It is never persisted.
type State struct {
	mu     sync.Mutex
	online bool
	bus    events.Bus[bool]
}

// NewState creates a state with the given initial value.
func NewState(online bool) *State {
	return &State{online: online}
}

// Online reports the current value.
func (s *State) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set stores online and reports whether it changed. Subscribers are told
// about changes only.
func (s *State) Set(online bool) bool {
	s.mu.Lock()
	changed := s.online != online
	s.online = online
	s.mu.Unlock()

	if changed {
		s.bus.Publish(online)
	}
	return changed
}

// Subscribe registers fn for value changes.
func (s *State) Subscribe(fn func(bool)) *events.Subscription {
	return s.bus.Subscribe(fn)
}
