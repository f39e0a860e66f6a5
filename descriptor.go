package eventbus

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/google/uuid"
)

// ThreadMode controls on which goroutine a handler runs relative to the
// posting goroutine.
type ThreadMode int

const (
	// Posting invokes the handler synchronously on the posting
	// goroutine. This is the default and has the least overhead.
	Posting ThreadMode = iota

	// Main invokes the handler on the host main thread. If the poster
	// already is the main thread the handler runs inline; without
	// main-thread support it always runs inline.
	Main

	// MainOrdered enqueues on the main thread even when the poster is
	// the main thread, so delivery is decoupled from the posting call.
	// Without main-thread support it runs inline.
	MainOrdered

	// Background invokes the handler on a single serial worker. Events
	// posted from the main thread are enqueued; events posted from any
	// other goroutine run inline.
	Background

	// Async invokes the handler on its own worker task, independent of
	// both the posting goroutine and the background queue.
	Async
)

func (m ThreadMode) String() string {
	switch m {
	case Posting:
		return "posting"
	case Main:
		return "main"
	case MainOrdered:
		return "main_ordered"
	case Background:
		return "background"
	case Async:
		return "async"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// HandlerConfig carries the delivery options of a single handler
// method. The zero value is the default: Posting mode, priority 0,
// not sticky.
type HandlerConfig struct {
	// Mode selects the delivery goroutine.
	Mode ThreadMode
	// Priority orders delivery within an event type. Higher priority
	// handlers receive events before lower priority ones; the order
	// among handlers of equal priority is registration order.
	Priority int
	// Sticky requests replay of the most recent sticky event of the
	// handler's event type at registration time.
	Sticky bool
}

// HandlerConfigs is implemented by subscribers that need non-default
// delivery options for some of their handler methods. The returned map
// is keyed by method name and must not depend on receiver state; it is
// read once per subscriber type and cached.
type HandlerConfigs interface {
	EventHandlerConfigs() map[string]HandlerConfig
}

// invoker calls one handler method with an event. Reflection-discovered
// handlers bind a method func; indexed handlers carry a generated stub.
type invoker func(subscriber, event any) error

// HandlerDescriptor describes one discovered handler method of a
// subscriber type. Descriptors are immutable after discovery and shared
// by all subscriptions of the same type.
type HandlerDescriptor struct {
	// TargetType is the type the method was found on; for handlers
	// reached through an embedded field this is the embedded type.
	TargetType reflect.Type
	// MethodName is the handler method's name.
	MethodName string
	// EventType is the method's single parameter type.
	EventType reflect.Type
	// Mode is the delivery thread mode.
	Mode ThreadMode
	// Priority orders delivery, higher first.
	Priority int
	// Sticky marks the handler for sticky replay on registration.
	Sticky bool

	invoke invoker
	key    string // MethodName + ">" + EventType, for de-duplication
}

func (d *HandlerDescriptor) String() string {
	return fmt.Sprintf("%v.%s(%v)[%s p=%d sticky=%t]",
		d.TargetType, d.MethodName, d.EventType, d.Mode, d.Priority, d.Sticky)
}

// signatureKey builds the de-duplication key for a handler method.
func signatureKey(methodName string, eventType reflect.Type) string {
	return methodName + ">" + eventType.String()
}

// Subscription binds a handler descriptor to one subscriber instance.
type Subscription struct {
	id         string
	subscriber any
	descriptor *HandlerDescriptor

	// active is true from registration until the owning subscriber is
	// unregistered. Queued deliveries that observe false are dropped.
	active atomic.Bool
}

func newSubscription(subscriber any, d *HandlerDescriptor) *Subscription {
	s := &Subscription{
		id:         uuid.NewString(),
		subscriber: subscriber,
		descriptor: d,
	}
	s.active.Store(true)
	return s
}

// ID returns the unique id assigned at registration.
func (s *Subscription) ID() string { return s.id }

// Subscriber returns the owning subscriber instance.
func (s *Subscription) Subscriber() any { return s.subscriber }

// Descriptor returns the handler descriptor this subscription binds.
func (s *Subscription) Descriptor() *HandlerDescriptor { return s.descriptor }

// Active reports whether the subscription is still registered.
func (s *Subscription) Active() bool { return s.active.Load() }

// equals matches the registry's duplicate check: same subscriber
// identity and same method signature.
func (s *Subscription) equals(subscriber any, d *HandlerDescriptor) bool {
	return s.subscriber == subscriber && s.descriptor.key == d.key
}
