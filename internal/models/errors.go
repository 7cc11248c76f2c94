package models

import (
	"errors"
	"fmt"
)

var (
	ErrTransientNetwork  = errors.New("transient network error")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrSyncFailed        = errors.New("sync failed")
	ErrMalformedResponse = errors.New("malformed response")
)

// TransitionError reports a state change outside the allowed edges.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// SyncError reports an optimistic transition the server did not confirm.
type SyncError struct {
	Attempted IncidentStatus
	Reverted  IncidentStatus
	Err       error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("status %s not confirmed, reverted to %s: %v", e.Attempted, e.Reverted, e.Err)
}

func (e *SyncError) Is(target error) bool { return target == ErrSyncFailed }

func (e *SyncError) Unwrap() error { return e.Err }

// APIError is a non-2xx response carrying the server's message.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("api returned status %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether retrying on the caller's cadence may succeed.
func (e *APIError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

func (e *APIError) Is(target error) bool {
	return target == ErrTransientNetwork && e.Transient()
}
