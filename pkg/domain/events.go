package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventSessionOpen   EventType = "session_open"
	EventSessionClose  EventType = "session_close"
	EventSessionReuse  EventType = "session_reuse"
	EventPoolRejection EventType = "pool_rejection"
	EventCall          EventType = "call"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Key       PoolKey   `json:"key"`
}

// SessionEvent describes a session crossing a lifecycle boundary.
type SessionEvent struct {
	EventBase
	SessionID string        `json:"session_id"`
	Duration  time.Duration `json:"duration,omitempty"` // Latency of the remote open/close
	Err       error         `json:"-"`
}

// RejectionEvent is emitted when admission control refuses a call.
type RejectionEvent struct {
	EventBase
	Active int `json:"active"`
	Limit  int `json:"limit"`
}

// CallEvent is emitted once per pooled call after the operation returns.
type CallEvent struct {
	EventBase
	SessionID string        `json:"session_id"`
	Operation string        `json:"operation,omitempty"`
	Explicit  bool          `json:"explicit"`
	Duration  time.Duration `json:"duration"`
	Err       error         `json:"-"`
}

// PoolHooks defines callbacks for pool observability. Nil fields are skipped.
type PoolHooks struct {
	OnOpen   func(context.Context, *SessionEvent)
	OnClose  func(context.Context, *SessionEvent)
	OnReuse  func(context.Context, *SessionEvent)
	OnReject func(context.Context, *RejectionEvent)
	OnCall   func(context.Context, *CallEvent)
}
