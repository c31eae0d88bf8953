package model

import (
	"time"
)

// EventType represents the type of inbox change event.
type EventType string

const (
	EventTypeChanged  EventType = "changed"
	EventTypeError    EventType = "error"
	EventTypeMutation EventType = "mutation"
	EventTypeRollback EventType = "rollback"
	EventTypeTags     EventType = "tags"
	EventTypeSelect   EventType = "select"
)

// ChangeEvent notifies consumers that a derived value moved.
type ChangeEvent struct {
	Kind  string    `json:"kind"`
	Key   string    `json:"key,omitempty"`
	Type  EventType `json:"type"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
