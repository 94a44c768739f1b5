package proximity

import (
	"sort"
	"sync"
)

// RescueState is the local escalation state shown by the UI. Several distinct
// alerts may be active at once.
type RescueState struct {
	mu          sync.RWMutex
	escalations map[string]Escalation
}

func NewRescueState() *RescueState {
	return &RescueState{
		escalations: make(map[string]Escalation),
	}
}

func (s *RescueState) Activate(e Escalation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalations[namespaceAlertID(e.Kind, e.AlertID)] = e
}

// Active is the rescue-mode flag.
func (s *RescueState) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.escalations) > 0
}

// Escalations returns active escalations, oldest first.
func (s *RescueState) Escalations() []Escalation {
	s.mu.RLock()
	out := make([]Escalation, 0, len(s.escalations))
	for _, e := range s.escalations {
		out = append(out, e)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].At.Before(out[j].At)
	})
	return out
}

// Dismiss clears every escalation raised for alertID and reports whether any existed.
func (s *RescueState) Dismiss(alertID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for key, e := range s.escalations {
		if e.AlertID == alertID {
			delete(s.escalations, key)
			found = true
		}
	}
	return found
}
