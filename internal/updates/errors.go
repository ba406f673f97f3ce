package updates

import (
	"errors"
	"fmt"
)

// RuntimeError is an error raised while processing updates.
//
// Runtime errors include:
//   - Recovery failed: a difference call returned an error
//   - Recovery stalled: a non-final page did not move the cursor
//   - Persist failed: cursors could not be written to storage
//   - Dispatch panic: the dispatcher panicked
//   - Not started: an envelope arrived before the state was loaded
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// ChannelID is the affected channel, 0 for the common scope.
	ChannelID int64

	// Err is the underlying error, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	ErrCodeRecoveryFailed  RuntimeErrorCode = "RECOVERY_FAILED"
	ErrCodeRecoveryStalled RuntimeErrorCode = "RECOVERY_STALLED"
	ErrCodePersistFailed   RuntimeErrorCode = "PERSIST_FAILED"
	ErrCodeDispatchPanic   RuntimeErrorCode = "DISPATCH_PANIC"
	ErrCodeNotStarted      RuntimeErrorCode = "NOT_STARTED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ChannelID != 0 {
		msg = fmt.Sprintf("%s (channel=%d)", msg, e.ChannelID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsRecoveryError reports whether err is a failed or stalled recovery.
func IsRecoveryError(err error) bool {
	return hasCode(err, ErrCodeRecoveryFailed) || hasCode(err, ErrCodeRecoveryStalled)
}

// IsPersistError reports whether err is a storage write failure.
func IsPersistError(err error) bool {
	return hasCode(err, ErrCodePersistFailed)
}

// IsDispatchError reports whether err comes from a panicking dispatcher.
func IsDispatchError(err error) bool {
	return hasCode(err, ErrCodeDispatchPanic)
}

// NewRecoveryError wraps a failed difference call.
func NewRecoveryError(channelID int64, err error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeRecoveryFailed,
		Message:   "difference request failed",
		ChannelID: channelID,
		Err:       err,
	}
}

// NewStalledError reports a non-final page that did not advance pts.
func NewStalledError(channelID, pts int64) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeRecoveryStalled,
		Message:   fmt.Sprintf("difference page did not advance past pts %d", pts),
		ChannelID: channelID,
	}
}

// NewPersistError wraps a storage failure.
func NewPersistError(err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodePersistFailed,
		Message: "failed to persist update state",
		Err:     err,
	}
}

// NewDispatchError wraps a recovered dispatcher panic.
func NewDispatchError(updateType string, recovered any) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeDispatchPanic,
		Message: fmt.Sprintf("dispatcher panicked on %s: %v", updateType, recovered),
	}
}

// NewNotStartedError reports an envelope handled before Start.
func NewNotStartedError() *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeNotStarted,
		Message: "update state not loaded, call Start first",
	}
}

// TypeAssertionError is returned to the caller of an RPC method when the
// result lacks the update the method expects. It never affects the update
// state.
type TypeAssertionError struct {
	Context  string
	Expected string
	Actual   string
}

func (e *TypeAssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Context, e.Expected, e.Actual)
}
