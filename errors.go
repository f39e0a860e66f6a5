package eventbus

import (
	"errors"
	"fmt"
	"reflect"
)

// Registration and dispatch sentinel errors.
// Use errors.Is() to check for these as they are usually wrapped with
// additional context.
var (
	// ErrNoHandlers indicates that a subscriber type and its embedded
	// types declare no handler methods.
	ErrNoHandlers = errors.New("subscriber has no handler methods")

	// ErrAlreadyRegistered indicates that the same subscriber already
	// holds a subscription for the event type.
	ErrAlreadyRegistered = errors.New("subscriber already registered")

	// ErrHandlerShape indicates a handler-named method with an invalid
	// signature. Only reported with strict verification enabled.
	ErrHandlerShape = errors.New("invalid handler method signature")

	// ErrIllegalCancellation indicates that CancelEventDelivery was
	// called outside a posting-mode handler, with a nil event, or with
	// an event other than the one currently being delivered.
	ErrIllegalCancellation = errors.New("illegal event delivery cancellation")

	// ErrDefaultInstalled indicates a second InstallDefault attempt.
	ErrDefaultInstalled = errors.New("default bus already installed")

	// ErrMainThreadUnreachable indicates the host main-thread channel
	// rejected a wake-up token.
	ErrMainThreadUnreachable = errors.New("main thread rejected wake-up token")

	// ErrInvariantViolation indicates an internal structural
	// precondition failed. Seeing it means a bug in the bus.
	ErrInvariantViolation = errors.New("internal invariant violation")

	// ErrInternalState indicates posting state was left inconsistent,
	// e.g. an abort flag that was never reset.
	ErrInternalState = errors.New("internal posting state error")

	// ErrNilEvent is returned when a nil event is posted.
	ErrNilEvent = errors.New("event must not be nil")

	// ErrNilSubscriber is returned when a nil subscriber is registered.
	ErrNilSubscriber = errors.New("subscriber must not be nil")

	// ErrNilBus is returned when a nil bus is installed as default.
	ErrNilBus = errors.New("bus must not be nil")
)

// HandlerError reports a handler failure re-raised through Post when
// the bus is configured with WithThrowHandlerError(true).
type HandlerError struct {
	EventType  reflect.Type
	Subscriber any
	Err        error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("invoking handler on %T for %v failed: %v", e.Subscriber, e.EventType, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panicking handler so it can
// travel the regular handler-failure path.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// IsHandlerError checks if an error originated in a handler invocation.
func IsHandlerError(err error) bool {
	var he *HandlerError
	return errors.As(err, &he)
}
