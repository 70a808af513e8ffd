package domain

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrPoolExhausted is returned when a bounded pool is at capacity and has no free session.
// The call is rejected immediately; nothing waits for a slot.
var ErrPoolExhausted = errors.New("session pool exhausted")

// ErrInvalidPoolKey is returned when owner or application is missing.
var ErrInvalidPoolKey = errors.New("invalid pool key")

// PoolExhausted builds the error returned on admission rejection.
func PoolExhausted(key PoolKey, active, limit int) error {
	return fmt.Errorf("%w: %s has %d of %d sessions active", ErrPoolExhausted, key, active, limit)
}

// OpenError reports a failed remote open. No session record is persisted.
type OpenError struct {
	Key PoolKey
	Err error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to open session for %s: %v", e.Key, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// RemoteOperationError reports an RPC that returned a non-success status.
type RemoteOperationError struct {
	Operation string
	Code      string
	Message   string
	SQLState  string
	ErrorCode int32

	invalidHandle bool
}

// NewRemoteOperationError builds a RemoteOperationError. invalidHandle marks
// statuses that mean the session handle is no longer usable.
func NewRemoteOperationError(operation, code, message, sqlState string, errorCode int32, invalidHandle bool) *RemoteOperationError {
	return &RemoteOperationError{
		Operation:     operation,
		Code:          code,
		Message:       message,
		SQLState:      sqlState,
		ErrorCode:     errorCode,
		invalidHandle: invalidHandle,
	}
}

func (e *RemoteOperationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "no message"
	}
	if e.Operation == "" {
		return fmt.Sprintf("remote operation failed with %s: %s", e.Code, msg)
	}
	return fmt.Sprintf("%s failed with %s: %s", e.Operation, e.Code, msg)
}

// InvalidHandle reports whether the remote service no longer recognises the session.
func (e *RemoteOperationError) InvalidHandle() bool { return e.invalidHandle }

// CloseError reports a failed remote close. It is logged, never returned to callers of a pooled call.
type CloseError struct {
	SessionID string
	Err       error
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("failed to close session %s: %v", e.SessionID, e.Err)
}

func (e *CloseError) Unwrap() error { return e.Err }
