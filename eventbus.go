package eventbus

import (
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/rbaliyan/eventbus/internal/goid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
)

// Bus routes events from posters to handler methods registered on
// subscriber objects. Handlers declare interest through their method
// shape (see Register); posters call Post without knowing who listens.
//
// A Bus is safe for concurrent use by any number of goroutines.
type Bus struct {
	id     string
	cfg    *config
	logger *slog.Logger

	mu                  sync.Mutex
	subscriptionsByType map[reflect.Type][]*Subscription
	typesBySubscriber   map[any][]reflect.Type

	stickyMu     sync.Mutex
	stickyEvents map[reflect.Type]any

	finder *handlerFinder
	types  *typeCache

	mainPoster *mainPoster
	bgPoster   *backgroundPoster
	async      *asyncPoster
	executor   Executor

	ins *instruments

	postingStates sync.Map // goroutine id -> *postingState
}

// postingState tracks one goroutine's in-flight posting. Only the
// owning goroutine touches it; the map holding it is concurrent.
type postingState struct {
	queue        []any
	isPosting    bool
	isMainThread bool
	canceled     bool
	event        any
	subscription *Subscription
}

// internal signal event types, excluded from no-subscriber fallbacks
var (
	noSubscriberEventType = reflect.TypeOf(NoSubscriberEvent{})
	exceptionEventType    = reflect.TypeOf(SubscriberExceptionEvent{})
)

// New creates a bus with the given options. Each bus is a separate
// scope in which events are delivered; for a process-wide bus use
// Default.
func New(opts ...Option) *Bus {
	cfg := newConfig(opts...)
	b := &Bus{
		id:                  uuid.NewString(),
		cfg:                 cfg,
		logger:              cfg.logger.With("component", "eventbus"),
		subscriptionsByType: make(map[reflect.Type][]*Subscription),
		typesBySubscriber:   make(map[any][]reflect.Type),
		stickyEvents:        make(map[reflect.Type]any),
		finder:              newHandlerFinder(cfg.indexes, cfg.strictVerification, cfg.ignoreIndex),
		types:               newTypeCache(),
		executor:            cfg.executor,
	}
	b.ins = newInstruments(b.id, cfg.metricsEnabled, cfg.tracingEnabled)
	if cfg.mainThread != nil {
		b.mainPoster = newMainPoster(b, cfg.mainThread, cfg.timeSlice)
	}
	b.bgPoster = newBackgroundPoster(b)
	b.async = newAsyncPoster(b)
	return b
}

// ID returns the bus instance id.
func (b *Bus) ID() string { return b.id }

func (b *Bus) String() string {
	return fmt.Sprintf("Bus[indexes=%d, eventInheritance=%t]", len(b.cfg.indexes), b.cfg.eventInheritance)
}

// isMainThread reports whether the calling goroutine is the host main
// thread. Without main-thread support it always reports true, so Main
// handlers run on the posting goroutine and Background handlers always
// dispatch to the background queue.
func (b *Bus) isMainThread() bool {
	return b.cfg.mainThread == nil || b.cfg.mainThread.IsMainThread()
}

// stickyReplay is a sticky delivery owed to a freshly registered
// subscription, performed after the registry mutation completes.
type stickyReplay struct {
	sub     *Subscription
	adapted any
}

// Register subscribes all handler methods of the given subscriber.
// Handler methods are exported methods named On<Event> taking exactly
// one parameter (the event) and returning nothing or error; delivery
// options come from the optional HandlerConfigs interface. Methods of
// embedded types are discovered too, with outer methods shadowing
// embedded ones of the same signature.
//
// Subscribers are tracked by identity: register pointers, and call
// Unregister with the same pointer. Registering a subscriber whose
// type declares no handler methods fails with ErrNoHandlers;
// registering the same subscriber twice fails with
// ErrAlreadyRegistered.
func (b *Bus) Register(subscriber any) error {
	if subscriber == nil {
		return ErrNilSubscriber
	}
	descriptors, err := b.finder.find(reflect.TypeOf(subscriber), subscriber)
	if err != nil {
		return err
	}

	var replays []stickyReplay
	b.mu.Lock()
	for _, d := range descriptors {
		if err := b.subscribeLocked(subscriber, d, &replays); err != nil {
			b.mu.Unlock()
			return err
		}
	}
	b.mu.Unlock()

	// Sticky replay runs outside the registry lock so replayed
	// handlers may freely call back into the bus.
	isMain := b.isMainThread()
	for _, r := range replays {
		if err := b.postToSubscription(r.sub, r.adapted, isMain, trace.SpanContext{}); err != nil {
			b.logger.Error("sticky replay failed",
				"event_type", r.sub.descriptor.EventType.String(),
				"subscriber", fmt.Sprintf("%T", subscriber),
				"error", err)
		}
	}
	return nil
}

// subscribeLocked inserts one subscription, priority-ordered, and
// collects any sticky replay it is owed. Caller holds b.mu.
func (b *Bus) subscribeLocked(subscriber any, d *HandlerDescriptor, replays *[]stickyReplay) error {
	sub := newSubscription(subscriber, d)

	list := b.subscriptionsByType[d.EventType]
	for _, existing := range list {
		if existing.equals(subscriber, d) {
			return fmt.Errorf("%w: %T for event %v", ErrAlreadyRegistered, subscriber, d.EventType)
		}
	}

	// Insert before the first entry with strictly lower priority;
	// equal priorities keep registration order. The slice is replaced,
	// not mutated, so snapshots taken for dispatch stay valid.
	at := len(list)
	for i, existing := range list {
		if d.Priority > existing.descriptor.Priority {
			at = i
			break
		}
	}
	next := make([]*Subscription, 0, len(list)+1)
	next = append(next, list[:at]...)
	next = append(next, sub)
	next = append(next, list[at:]...)
	b.subscriptionsByType[d.EventType] = next

	b.typesBySubscriber[subscriber] = append(b.typesBySubscriber[subscriber], d.EventType)
	b.types.registerEventType(d.EventType)

	if d.Sticky {
		b.collectStickyReplays(sub, replays)
	}
	return nil
}

// collectStickyReplays finds cached sticky events assignable to the new
// subscription's event type.
func (b *Bus) collectStickyReplays(sub *Subscription, replays *[]stickyReplay) {
	want := sub.descriptor.EventType
	b.stickyMu.Lock()
	defer b.stickyMu.Unlock()

	if !b.cfg.eventInheritance {
		if ev, ok := b.stickyEvents[want]; ok {
			*replays = append(*replays, stickyReplay{sub: sub, adapted: ev})
		}
		return
	}
	for stored, ev := range b.stickyEvents {
		if stored == want {
			*replays = append(*replays, stickyReplay{sub: sub, adapted: ev})
			continue
		}
		for _, lv := range b.types.closure(stored) {
			if lv.typ == want {
				*replays = append(*replays, stickyReplay{sub: sub, adapted: lv.adapt(ev)})
				break
			}
		}
	}
}

// Unregister removes all subscriptions of the given subscriber.
// Unregistering a subscriber that was never registered logs a warning
// and returns.
func (b *Bus) Unregister(subscriber any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	types, ok := b.typesBySubscriber[subscriber]
	if !ok {
		b.logger.Warn("subscriber to unregister was not registered before",
			"subscriber", fmt.Sprintf("%T", subscriber))
		return
	}
	for _, t := range types {
		b.unsubscribeByEventTypeLocked(subscriber, t)
	}
	delete(b.typesBySubscriber, subscriber)
}

// unsubscribeByEventTypeLocked removes the subscriber's subscriptions
// for one event type, marking each inactive before removal so queued
// deliveries observe the change. Caller holds b.mu.
func (b *Bus) unsubscribeByEventTypeLocked(subscriber any, eventType reflect.Type) {
	list := b.subscriptionsByType[eventType]
	next := make([]*Subscription, 0, len(list))
	for _, sub := range list {
		if sub.subscriber == subscriber {
			sub.active.Store(false)
			continue
		}
		next = append(next, sub)
	}
	if len(next) == 0 {
		delete(b.subscriptionsByType, eventType)
	} else {
		b.subscriptionsByType[eventType] = next
	}
}

// IsRegistered reports whether the subscriber currently holds any
// subscription on this bus.
func (b *Bus) IsRegistered(subscriber any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.typesBySubscriber[subscriber]
	return ok
}

// HasSubscriberForEvent reports whether any subscription would match an
// event of the given type, including through embedded types and
// implemented interfaces.
func (b *Bus) HasSubscriberForEvent(eventType reflect.Type) bool {
	if eventType == nil {
		return false
	}
	for _, lv := range b.types.closure(eventType) {
		b.mu.Lock()
		n := len(b.subscriptionsByType[lv.typ])
		b.mu.Unlock()
		if n > 0 {
			return true
		}
	}
	return false
}

// Post delivers the given event to all matching subscriptions. Posting-
// mode handlers run synchronously before Post returns; other modes are
// routed to their dispatchers. Nested posts from inline handlers are
// queued on the calling goroutine and drained FIFO after the current
// handler returns.
//
// The returned error reports dispatch failures (a main-thread wake-up
// token or an executor submission that was rejected). Handler failures
// are included only when WithThrowHandlerError is enabled, and then only
// for inline invocations; all errors are aggregated.
func (b *Bus) Post(event any) error {
	if event == nil {
		return ErrNilEvent
	}

	gid := goid.ID()
	st := b.postingState(gid)
	st.queue = append(st.queue, event)

	if st.isPosting {
		return nil
	}
	st.isMainThread = b.isMainThread()
	st.isPosting = true
	if st.canceled {
		b.postingStates.Delete(gid)
		return fmt.Errorf("%w: abort state was not reset", ErrInternalState)
	}
	defer func() {
		st.isPosting = false
		st.isMainThread = false
		b.postingStates.Delete(gid)
	}()

	var err error
	for len(st.queue) > 0 {
		next := st.queue[0]
		st.queue = st.queue[1:]
		err = multierr.Append(err, b.postSingle(next, st))
	}
	return err
}

func (b *Bus) postingState(gid uint64) *postingState {
	if v, ok := b.postingStates.Load(gid); ok {
		return v.(*postingState)
	}
	st := &postingState{}
	b.postingStates.Store(gid, st)
	return st
}

// PostSticky stores the event as the most recent sticky event of its
// type, then posts it. Future subscribers with a sticky handler for
// the type receive it at registration.
func (b *Bus) PostSticky(event any) error {
	if event == nil {
		return ErrNilEvent
	}
	t := reflect.TypeOf(event)
	b.stickyMu.Lock()
	b.stickyEvents[t] = event
	b.stickyMu.Unlock()
	b.ins.stickyPosted(t)
	// Posted after it is stored, in case a subscriber wants to remove
	// it immediately.
	return b.Post(event)
}

// CancelEventDelivery stops delivery of the event currently being
// handled to the remaining subscriptions of the same event type;
// subscriptions under the other types of the event's closure still
// receive it. May only be
// called from a Posting-mode handler, on the posting goroutine, for
// the event that handler is processing. Events replayed from the
// sticky cache during Register are not cancellable.
func (b *Bus) CancelEventDelivery(event any) error {
	v, ok := b.postingStates.Load(goid.ID())
	if !ok {
		return fmt.Errorf("%w: may only be called from a handler on the posting goroutine", ErrIllegalCancellation)
	}
	st := v.(*postingState)
	switch {
	case !st.isPosting:
		return fmt.Errorf("%w: may only be called from a handler on the posting goroutine", ErrIllegalCancellation)
	case event == nil:
		return fmt.Errorf("%w: event must not be nil", ErrIllegalCancellation)
	case !sameEvent(st.event, event):
		return fmt.Errorf("%w: only the currently handled event may be aborted", ErrIllegalCancellation)
	case st.subscription.descriptor.Mode != Posting:
		return fmt.Errorf("%w: only posting-mode handlers may abort the incoming event", ErrIllegalCancellation)
	}
	st.canceled = true
	return nil
}

// sameEvent compares event identity, tolerating non-comparable dynamic
// types.
func sameEvent(current, candidate any) bool {
	if current == nil {
		return false
	}
	t := reflect.TypeOf(candidate)
	if t == nil || !t.Comparable() || reflect.TypeOf(current) != t {
		return false
	}
	return current == candidate
}

// postSingle fans one event out to all matching subscriptions,
// expanding the event type through its closure when event inheritance
// is enabled.
func (b *Bus) postSingle(event any, st *postingState) error {
	eventType := reflect.TypeOf(event)
	b.ins.eventPosted(eventType)
	link, end := b.ins.postSpan(eventType)
	defer end()

	var err error
	found := false
	if b.cfg.eventInheritance {
		for _, lv := range b.types.closure(eventType) {
			matched, levelErr := b.postSingleForLevel(event, st, lv, link)
			found = found || matched
			err = multierr.Append(err, levelErr)
		}
	} else {
		found, err = b.postSingleForLevel(event, st, eventLevel{typ: eventType}, link)
	}
	if found {
		return err
	}

	if b.cfg.logNoSubscriber {
		b.logger.Debug("no subscribers registered for event", "event_type", eventType.String())
	}
	b.ins.noSubscriber(eventType)
	if b.cfg.sendNoSubscriber && eventType != noSubscriberEventType && eventType != exceptionEventType {
		// Queued on this goroutine's posting state, so observers run
		// after the current event's fan-out completes.
		err = multierr.Append(err, b.Post(NoSubscriberEvent{Bus: b, Event: event}))
	}
	return err
}

// postSingleForLevel delivers the event to the subscriptions of one
// closure level, in priority order, honoring cancellation.
func (b *Bus) postSingleForLevel(event any, st *postingState, lv eventLevel, link trace.SpanContext) (bool, error) {
	b.mu.Lock()
	subscriptions := b.subscriptionsByType[lv.typ]
	b.mu.Unlock()
	if len(subscriptions) == 0 {
		return false, nil
	}

	adapted := lv.adapt(event)
	var err error
	for _, sub := range subscriptions {
		st.event = event
		st.subscription = sub
		routeErr := b.postToSubscription(sub, adapted, st.isMainThread, link)
		aborted := st.canceled
		st.event = nil
		st.subscription = nil
		st.canceled = false
		err = multierr.Append(err, routeErr)
		if aborted {
			break
		}
	}
	return true, err
}

// postToSubscription routes one delivery per the thread-mode table.
func (b *Bus) postToSubscription(sub *Subscription, event any, isMainThread bool, link trace.SpanContext) error {
	switch sub.descriptor.Mode {
	case Posting:
		return b.invokeHandler(sub, event, link, true)
	case Main:
		if b.mainPoster == nil || isMainThread {
			return b.invokeHandler(sub, event, link, true)
		}
		return b.mainPoster.enqueue(sub, event, link)
	case MainOrdered:
		if b.mainPoster != nil {
			return b.mainPoster.enqueue(sub, event, link)
		}
		// Not decoupled from the caller, but the closest delivery
		// available without a main thread.
		return b.invokeHandler(sub, event, link, true)
	case Background:
		if isMainThread {
			return b.bgPoster.enqueue(sub, event, link)
		}
		return b.invokeHandler(sub, event, link, true)
	case Async:
		return b.async.enqueue(sub, event, link)
	default:
		panic(fmt.Errorf("%w: unknown thread mode %v", ErrInvariantViolation, sub.descriptor.Mode))
	}
}

// invokePending delivers a queued pending post on a dispatcher
// goroutine, dropping it silently when the subscription went inactive
// after enqueueing (late unregister race).
func (b *Bus) invokePending(pp *pendingPost) {
	event := pp.event
	sub := pp.subscription
	link := pp.link
	releasePendingPost(pp)
	if !sub.active.Load() {
		return
	}
	end := b.ins.dispatchSpan(sub.descriptor, link)
	defer end()
	if err := b.invokeHandler(sub, event, link, false); err != nil {
		// Dispatcher tasks never leak failures to the worker pool.
		b.logger.Error("queued handler delivery failed",
			"event_type", sub.descriptor.EventType.String(),
			"subscriber", fmt.Sprintf("%T", sub.subscriber),
			"error", err)
	}
}

// invokeHandler calls the handler stub with panic recovery and feeds
// failures to the configured combination of logging, exception events
// and re-raising. inline marks invocations on the posting goroutine,
// the only place WithThrowHandlerError may surface errors.
func (b *Bus) invokeHandler(sub *Subscription, event any, link trace.SpanContext, inline bool) error {
	var callErr error
	func() {
		if b.cfg.recoveryEnabled {
			defer func() {
				if r := recover(); r != nil {
					callErr = &PanicError{Value: r, Stack: debug.Stack()}
				}
			}()
		}
		callErr = sub.descriptor.invoke(sub.subscriber, event)
	}()

	if callErr != nil {
		return b.handleHandlerError(sub, event, callErr, inline)
	}
	b.ins.eventDelivered(sub.descriptor)
	return nil
}

// handleHandlerError implements the handler-failure policy. Failures
// while handling a SubscriberExceptionEvent are only logged, never
// re-posted, to avoid infinite recursion.
func (b *Bus) handleHandlerError(sub *Subscription, event any, cause error, inline bool) error {
	b.ins.handlerFailed(sub.descriptor)

	if exEvent, ok := event.(SubscriberExceptionEvent); ok {
		if b.cfg.logHandlerErrors {
			b.logger.Error("SubscriberExceptionEvent handler failed",
				"subscriber", fmt.Sprintf("%T", sub.subscriber),
				"error", cause)
			b.logger.Error("initial event caused handler failure",
				"event", fmt.Sprintf("%T", exEvent.Event),
				"subscriber", fmt.Sprintf("%T", exEvent.Subscriber),
				"error", exEvent.Err)
		}
		return nil
	}

	if inline && b.cfg.throwHandlerError {
		return &HandlerError{
			EventType:  sub.descriptor.EventType,
			Subscriber: sub.subscriber,
			Err:        cause,
		}
	}
	if b.cfg.logHandlerErrors {
		b.logger.Error("could not dispatch event",
			"event_type", sub.descriptor.EventType.String(),
			"subscriber", fmt.Sprintf("%T", sub.subscriber),
			"error", cause)
	}
	if b.cfg.sendExceptionEvent {
		return b.Post(SubscriberExceptionEvent{
			Bus:        b,
			Err:        cause,
			Event:      event,
			Subscriber: sub.subscriber,
		})
	}
	return nil
}

// GetStickyEvent returns the most recent sticky event of the given
// type, or nil.
func (b *Bus) GetStickyEvent(eventType reflect.Type) any {
	b.stickyMu.Lock()
	defer b.stickyMu.Unlock()
	return b.stickyEvents[eventType]
}

// RemoveStickyEvent removes and returns the sticky event of the given
// type, or nil if none was cached.
func (b *Bus) RemoveStickyEvent(eventType reflect.Type) any {
	b.stickyMu.Lock()
	defer b.stickyMu.Unlock()
	ev := b.stickyEvents[eventType]
	delete(b.stickyEvents, eventType)
	return ev
}

// RemoveStickyValue removes the sticky event of the value's type if it
// equals the cached value. Returns true when the values matched and the
// entry was removed.
func (b *Bus) RemoveStickyValue(event any) bool {
	if event == nil {
		return false
	}
	t := reflect.TypeOf(event)
	b.stickyMu.Lock()
	defer b.stickyMu.Unlock()
	existing, ok := b.stickyEvents[t]
	if !ok || !t.Comparable() || existing != event {
		return false
	}
	delete(b.stickyEvents, t)
	return true
}

// RemoveAllStickyEvents clears the sticky cache. Calling it on an
// empty cache is a no-op.
func (b *Bus) RemoveAllStickyEvents() {
	b.stickyMu.Lock()
	defer b.stickyMu.Unlock()
	clear(b.stickyEvents)
}

// ClearCaches drops the discovery and type-closure caches. Test
// support.
func (b *Bus) ClearCaches() {
	b.finder.clearCache()
	b.types.clear()
}

// StickyEventOf returns the bus's sticky event of type T.
func StickyEventOf[T any](b *Bus) (T, bool) {
	var zero T
	ev := b.GetStickyEvent(reflect.TypeOf(zero))
	if ev == nil {
		return zero, false
	}
	typed, ok := ev.(T)
	return typed, ok
}

// RemoveStickyEventOf removes and returns the bus's sticky event of
// type T.
func RemoveStickyEventOf[T any](b *Bus) (T, bool) {
	var zero T
	ev := b.RemoveStickyEvent(reflect.TypeOf(zero))
	if ev == nil {
		return zero, false
	}
	typed, ok := ev.(T)
	return typed, ok
}
