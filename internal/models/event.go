package models

import "time"

// EventKind names the notification events the watcher emits.
type EventKind string

const (
	EventBoot EventKind = "boot"
	EventUp   EventKind = "up"
	EventDown EventKind = "down"
)

// Valid reports whether k is one of the known event kinds.
func (k EventKind) Valid() bool {
	return k == EventBoot || k == EventUp || k == EventDown
}

// NotificationEvent is a confirmed state change worth telling people about.
type NotificationEvent struct {
	Kind     EventKind `json:"event"`
	ServerID string    `json:"server,omitempty"`
	Message  string    `json:"message"`
	Since    time.Time `json:"since"`
	Details  string    `json:"details,omitempty"`
}
