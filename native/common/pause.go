package common

import (
	"sort"
	"strings"
	"sync"
)

// Switch is an administrative pause toggle keyed by operation name. The zero
// value is ready to use and reports everything as running.
type Switch struct {
	mu     sync.RWMutex
	paused map[string]struct{}
}

// NewSwitch constructs an empty pause switch.
func NewSwitch() *Switch {
	return &Switch{paused: make(map[string]struct{})}
}

// Pause marks the named operation as halted. An empty name pauses nothing.
func (s *Switch) Pause(op string) {
	key := strings.TrimSpace(op)
	if s == nil || key == "" {
		return
	}
	s.mu.Lock()
	if s.paused == nil {
		s.paused = make(map[string]struct{})
	}
	s.paused[key] = struct{}{}
	s.mu.Unlock()
}

// Resume clears a pause previously set for the operation.
func (s *Switch) Resume(op string) {
	key := strings.TrimSpace(op)
	if s == nil || key == "" {
		return
	}
	s.mu.Lock()
	delete(s.paused, key)
	s.mu.Unlock()
}

// IsPaused reports whether the operation is currently halted.
func (s *Switch) IsPaused(op string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, halted := s.paused[strings.TrimSpace(op)]
	return halted
}

// Paused returns the sorted list of halted operations for reporting.
func (s *Switch) Paused() []string {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ops := make([]string, 0, len(s.paused))
	for op := range s.paused {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}
