package turn

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/chatrelay/types"
)

// Status is the terminal status of a turn.
type Status string

// Turn statuses.
const (
	// StatusCompleted means the stream ended cleanly without a terminal packet.
	StatusCompleted Status = "completed"
	// StatusStopped means the backend sent a stop signal.
	StatusStopped Status = "stopped"
	// StatusRemoteFault means the backend sent a stream fault.
	StatusRemoteFault Status = "remote_fault"
	// StatusFramingFault means the wire was corrupt or the transport failed.
	StatusFramingFault Status = "framing_fault"
	// StatusCanceled means the consumer canceled the turn.
	StatusCanceled Status = "canceled"
)

// Outcome is the structured result of folding one turn.
type Outcome struct {
	Status Status
	// State is the final turn state. Valid for every status; only
	// committable outcomes may be handed to the thread tracker.
	State types.TurnState
	// Fault is set for StatusRemoteFault.
	Fault *types.StreamFault
	// Err is set for every non-committable status.
	Err error
}

// Committable returns true if the turn may be committed to the thread.
func (o *Outcome) Committable() bool {
	return o.Status == StatusCompleted || o.Status == StatusStopped
}

// ErrorKind classifies turn errors.
type ErrorKind int

const (
	// ErrorRemoteFault indicates the backend said no.
	ErrorRemoteFault ErrorKind = iota
	// ErrorFraming indicates the wire was corrupt.
	ErrorFraming
	// ErrorCanceled indicates the caller canceled.
	ErrorCanceled
)

// Error is returned for turns that must not be committed.
type Error struct {
	Kind ErrorKind
	// Msg is the backend error message for ErrorRemoteFault.
	Msg string
	// StackTrace is the backend stack trace for ErrorRemoteFault, if sent.
	StackTrace string
	// Err is the underlying error for ErrorFraming and ErrorCanceled.
	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrorRemoteFault:
		return fmt.Sprintf("backend stream fault: %s", e.Msg)
	case ErrorFraming:
		return fmt.Sprintf("framing fault: %v", e.Err)
	case ErrorCanceled:
		return "turn canceled"
	default:
		return fmt.Sprintf("turn error: %v", e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRemoteFault returns true if the error is a backend stream fault.
func IsRemoteFault(err error) bool {
	var turnErr *Error
	if errors.As(err, &turnErr) {
		return turnErr.Kind == ErrorRemoteFault
	}
	return false
}

// IsFramingFault returns true if the error is a framing fault.
func IsFramingFault(err error) bool {
	var turnErr *Error
	if errors.As(err, &turnErr) {
		return turnErr.Kind == ErrorFraming
	}
	return false
}

// IsCanceled returns true if the turn was canceled.
func IsCanceled(err error) bool {
	var turnErr *Error
	if errors.As(err, &turnErr) {
		return turnErr.Kind == ErrorCanceled
	}
	return false
}
