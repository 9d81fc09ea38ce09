package common

import (
	"context"
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Sentinel errors
// --------------------------------------------------------------------------

var (
	// ErrReservationTimeout is returned when no connection became available in time
	ErrReservationTimeout = errors.New("connection reservation timed out")
	// ErrIllegalState is returned when an operation is invoked in a state that forbids it
	ErrIllegalState = errors.New("illegal state")
	// ErrInterrupted is returned when the caller cancels a blocking wait
	ErrInterrupted = errors.New("wait interrupted")
	// ErrRequestTimeout is returned when a reply did not arrive before the deadline
	ErrRequestTimeout = errors.New("request timed out")
	// ErrLinkFault is the root of all network failures on a channel
	ErrLinkFault = errors.New("link fault")
	// ErrConnectFailed is returned when no endpoint of a channel could be reached
	ErrConnectFailed = errors.New("failed to connect")
	// ErrChannelClosed is returned for requests on (or pending on) a closed channel
	ErrChannelClosed = errors.New("channel closed")
	// ErrNotReserved is returned when a token releases a connection it does not hold
	ErrNotReserved = errors.New("connection is not reserved by this token")
	// ErrWrongConnectionKind is returned when a connection kind does not support an operation
	ErrWrongConnectionKind = errors.New("operation not supported by this connection kind")

	// server side error classes (see ServerError.Is)

	ErrRetryIO           = errors.New("server requested retry")
	ErrSessionTerminated = errors.New("session terminated by server")
	ErrHandshake         = errors.New("handshake rejected")
	ErrBadRequest        = errors.New("bad request")
	ErrUnsupported       = errors.New("unsupported operation")
)

// --------------------------------------------------------------------------
// Typed errors
// --------------------------------------------------------------------------

// IllegalStateError describes which operation was rejected in which state
type IllegalStateError struct {
	Op    string
	State string
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("illegal state: cannot %s while %s", e.Op, e.State)
}

func (e *IllegalStateError) Unwrap() error {
	return ErrIllegalState
}

// NewIllegalStateError creates an IllegalStateError for op in state
func NewIllegalStateError(op string, state fmt.Stringer) error {
	return &IllegalStateError{Op: op, State: state.String()}
}

// LinkFaultError reports a send or receive failure of a channel
type LinkFaultError struct {
	// State is the link state the fault put the channel in (e.g. FailedOnRecv)
	State    string
	Endpoint string
	// Reconnected is true if the channel re-established the link afterwards
	Reconnected bool
	Err         error
}

func (e *LinkFaultError) Error() string {
	suffix := ""
	if e.Reconnected {
		suffix = " (link re-established)"
	}
	return fmt.Sprintf("link fault (%s) on %s: %v%s", e.State, e.Endpoint, e.Err, suffix)
}

func (e *LinkFaultError) Unwrap() []error {
	return []error{ErrLinkFault, e.Err}
}

// ServerError is the typed form of an error reply
type ServerError struct {
	Type ErrorType
	Msg  string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error (%s): %s", e.Type, e.Msg)
}

// Is maps the error type to the sentinel errors of this package
func (e *ServerError) Is(target error) bool {
	switch e.Type {
	case ErrTRetryIO:
		return target == ErrRetryIO
	case ErrTSessionTerminated:
		return target == ErrSessionTerminated
	case ErrTHandshake:
		return target == ErrHandshake
	case ErrTBadRequest:
		return target == ErrBadRequest
	case ErrTUnsupported:
		return target == ErrUnsupported
	case ErrTChannelDisconnected:
		return target == ErrChannelClosed
	}
	return false
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// WaitError converts the error of a finished context into ErrRequestTimeout
// (deadline) or ErrInterrupted (cancellation)
func WaitError(ctx context.Context, what string) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrRequestTimeout, what, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrInterrupted, what, err)
}
