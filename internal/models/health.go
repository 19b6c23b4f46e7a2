package models

import "time"

// State is the conceptual health of a server derived from its HealthState.
type State int

const (
	StateUnknown State = iota
	StateUp
	StateProbation // down, not yet confirmed
	StateDown      // confirmed and notified
)

func (s State) String() string {
	switch s {
	case StateUp:
		return "UP"
	case StateProbation:
		return "PROBATION"
	case StateDown:
		return "DOWN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// HealthState is the last known status of one server.
//
// When is the time of the most recently applied sample. Since is the time of
// the last transition between up and down and is what notifications report.
type HealthState struct {
	When            time.Time `json:"when"`
	Up              bool      `json:"up"`
	Probation       bool      `json:"probation"`
	WasNotifiedDown bool      `json:"wasNotifiedDown"`
	Since           time.Time `json:"since"`
}

// State derives the conceptual state. A nil receiver is UNKNOWN.
func (h *HealthState) State() State {
	switch {
	case h == nil:
		return StateUnknown
	case h.Up:
		return StateUp
	case h.Probation:
		return StateProbation
	default:
		return StateDown
	}
}
