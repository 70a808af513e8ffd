package domain

import (
	"encoding/hex"
	"time"
)

// SessionStatus is the lifecycle state of a remote session.
type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed" // Terminal
)

// PoolKey scopes all session accounting: one pool per owner and target application.
type PoolKey struct {
	Owner       string `json:"owner" yaml:"owner"`
	Application string `json:"application" yaml:"application"`
}

// String renders the key as "owner@application".
func (k PoolKey) String() string {
	return k.Owner + "@" + k.Application
}

// Valid reports whether both halves of the key are set.
func (k PoolKey) Valid() bool {
	return k.Owner != "" && k.Application != ""
}

// Credentials are handed to the gateway when a new session must be opened.
type Credentials struct {
	Username string
	Password string
	// Impersonate asks the remote service to run the session as Username
	// while authenticating as the service principal.
	Impersonate bool
	// Configuration is passed through to the remote OpenSession call.
	Configuration map[string]string
}

// Session represents one live remote session.
type Session struct {
	// GUID and Secret are issued by the remote service and never change.
	GUID   []byte `json:"guid"`
	Secret []byte `json:"secret"`

	Owner       string `json:"owner"`
	Application string `json:"application"`

	// Coordinator is the backend host serving this session.
	Coordinator string `json:"coordinator,omitempty"`

	// ProtocolVersion is negotiated at open time.
	ProtocolVersion int32 `json:"protocol_version"`

	Status SessionStatus `json:"status"`

	// InUse marks a session leased by an in-flight call (bounded pools only).
	InUse bool `json:"in_use"`

	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// ID is the hex encoded GUID. Stores key records by it.
func (s *Session) ID() string {
	return hex.EncodeToString(s.GUID)
}

// Key returns the pool key the session belongs to.
func (s *Session) Key() PoolKey {
	return PoolKey{Owner: s.Owner, Application: s.Application}
}

// IsOpen reports whether the session may still be used.
func (s *Session) IsOpen() bool {
	return s.Status == SessionOpen
}

// Clone returns a deep copy so stores never share backing arrays with callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.GUID = append([]byte(nil), s.GUID...)
	c.Secret = append([]byte(nil), s.Secret...)
	return &c
}
