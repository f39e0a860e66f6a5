// Package eventbus provides an in-process publish/subscribe event bus
// routing typed events from posters to handler methods declared on
// subscriber objects.
//
// Handlers are exported methods named On<Event> taking exactly one
// parameter (the event) and returning nothing or error:
//
//	type OrderView struct{}
//
//	func (v *OrderView) OnOrderCreated(o OrderCreated) {
//	    fmt.Println("order:", o.ID)
//	}
//
//	bus := eventbus.New()
//	view := &OrderView{}
//	if err := bus.Register(view); err != nil {
//	    log.Fatal(err)
//	}
//	bus.Post(OrderCreated{ID: "123"})
//	bus.Unregister(view)
//
// Delivery options per handler come from the optional HandlerConfigs
// interface:
//
//	func (v *OrderView) EventHandlerConfigs() map[string]eventbus.HandlerConfig {
//	    return map[string]eventbus.HandlerConfig{
//	        "OnOrderCreated": {Mode: eventbus.Background, Priority: 10, Sticky: true},
//	    }
//	}
//
// Thread modes:
//   - Posting (default): handler runs synchronously on the posting
//     goroutine.
//   - Main / MainOrdered: handler runs on the host main thread when a
//     MainThreadSupport adapter is configured (see the mainthread
//     subpackage); the main-thread drainer yields after a cooperative
//     time slice so the main thread is never monopolized.
//   - Background: handlers run serially, in enqueue order, on one
//     worker at a time.
//   - Async: each delivery is its own worker task.
//
// Event inheritance delivers an event to handlers of its embedded
// types and of interface event types it implements; disable it with
// WithEventInheritance(false). PostSticky retains the most recent
// event per type and replays it to late subscribers whose handlers are
// marked sticky.
//
// Bus options:
//   - WithLogger: slog logger for the bus.
//   - WithExecutor: worker pool for Background/Async dispatch.
//   - WithMainThreadSupport: host main-thread adapter.
//   - WithIndex: generated handler indexes replacing reflection.
//   - WithEventInheritance, WithStrictVerification, WithIgnoreIndex,
//     WithThrowHandlerError, WithSendNoSubscriberEvent,
//     WithSendHandlerExceptionEvent, WithLogNoSubscriber,
//     WithLogHandlerError, WithRecovery, WithTracing, WithMetrics,
//     WithTimeSlice.
//
// Handler failures (returned errors and recovered panics) are logged
// and reported as SubscriberExceptionEvent; unmatched events produce a
// NoSubscriberEvent. Both behaviors are configurable.
//
// Default() returns the lazily created process-wide bus;
// InstallDefault installs a configured bus in its place exactly once.
package eventbus
