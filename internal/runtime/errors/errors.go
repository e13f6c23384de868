package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired  = sterrors.New("botpipe: configuration is required")
	ErrLoggerRequired  = sterrors.New("botpipe: logger is required")
	ErrHandlerRequired = sterrors.New("botpipe: handler is required")
	ErrAlreadyStarted  = sterrors.New("botpipe: already started")

	ErrQueueFull       = sterrors.New("botpipe: ingestion queue is full")
	ErrQueueClosed     = sterrors.New("botpipe: ingestion queue is closed")
	ErrUnknownActor    = sterrors.New("botpipe: event has no originating actor")
	ErrRateLimited     = sterrors.New("botpipe: actor is rate limited")
	ErrBusy            = sterrors.New("botpipe: actor already has an event in flight")
	ErrHandlerFailure  = sterrors.New("botpipe: handler failed")
	ErrHandlerTimeout  = sterrors.New("botpipe: handler timed out")
	ErrCancelled       = sterrors.New("botpipe: cancelled")
	ErrNotifyThrottled = sterrors.New("botpipe: notification throttled")
)

// ConfigValidationError is returned when a configuration fails validation.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "botpipe: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// HandlerError reports a failed or panicking handler invocation. It matches
// ErrHandlerFailure with errors.Is.
type HandlerError struct {
	EventID string
	ActorID int64
	// Panic holds the recovered value when the handler panicked.
	Panic any
	Err   error
}

func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("botpipe: handler panicked on event %s: %v", e.EventID, e.Panic)
	}
	return fmt.Sprintf("botpipe: handler failed on event %s: %v", e.EventID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

func (e *HandlerError) Is(target error) bool {
	return target == ErrHandlerFailure
}
