package eventbus

import (
	"log/slog"
	"time"
)

// config holds bus configuration (unexported, built by options).
type config struct {
	logHandlerErrors   bool
	logNoSubscriber    bool
	sendExceptionEvent bool
	sendNoSubscriber   bool
	throwHandlerError  bool
	eventInheritance   bool
	ignoreIndex        bool
	strictVerification bool
	recoveryEnabled    bool
	tracingEnabled     bool
	metricsEnabled     bool
	timeSlice          time.Duration
	executor           Executor
	mainThread         MainThreadSupport
	logger             *slog.Logger
	indexes            []HandlerIndex
}

// Option configures a bus built with New.
type Option func(*config)

// newConfig creates options with defaults and applies provided options.
func newConfig(opts ...Option) *config {
	c := &config{
		logHandlerErrors:   true,
		logNoSubscriber:    true,
		sendExceptionEvent: true,
		sendNoSubscriber:   true,
		eventInheritance:   true,
		recoveryEnabled:    true,
		tracingEnabled:     true,
		metricsEnabled:     true,
		timeSlice:          defaultTimeSlice,
		executor:           goExecutor{},
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithLogger sets a custom logger for the bus.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithExecutor sets the worker pool used by the background and async
// dispatchers. The default runs each task on its own goroutine.
func WithExecutor(e Executor) Option {
	return func(c *config) {
		if e != nil {
			c.executor = e
		}
	}
}

// WithMainThreadSupport sets the host's main-thread adapter. Without
// one, Main and MainOrdered handlers run inline on the posting
// goroutine.
func WithMainThreadSupport(m MainThreadSupport) Option {
	return func(c *config) {
		c.mainThread = m
	}
}

// WithIndex appends a generated handler index consulted during
// discovery, in registration order, before falling back to reflection.
func WithIndex(indexes ...HandlerIndex) Option {
	return func(c *config) {
		c.indexes = append(c.indexes, indexes...)
	}
}

// WithEventInheritance enables/disables delivery to handlers of the
// event's embedded types and implemented interfaces. Default is true.
func WithEventInheritance(v bool) Option {
	return func(c *config) {
		c.eventInheritance = v
	}
}

// WithIgnoreIndex forces reflective discovery even when indexes are
// registered. Default is false.
func WithIgnoreIndex(v bool) Option {
	return func(c *config) {
		c.ignoreIndex = v
	}
}

// WithStrictVerification fails registration when a handler-named
// method has an invalid signature. Default is false: such methods are
// skipped silently.
func WithStrictVerification(v bool) Option {
	return func(c *config) {
		c.strictVerification = v
	}
}

// WithLogHandlerError enables/disables logging of handler failures.
// Default is true.
func WithLogHandlerError(v bool) Option {
	return func(c *config) {
		c.logHandlerErrors = v
	}
}

// WithLogNoSubscriber enables/disables logging of unmatched events.
// Default is true.
func WithLogNoSubscriber(v bool) Option {
	return func(c *config) {
		c.logNoSubscriber = v
	}
}

// WithSendHandlerExceptionEvent enables/disables posting a
// SubscriberExceptionEvent when a handler fails. Default is true.
func WithSendHandlerExceptionEvent(v bool) Option {
	return func(c *config) {
		c.sendExceptionEvent = v
	}
}

// WithSendNoSubscriberEvent enables/disables posting a
// NoSubscriberEvent when an event matches no subscription. Default is
// true.
func WithSendNoSubscriberEvent(v bool) Option {
	return func(c *config) {
		c.sendNoSubscriber = v
	}
}

// WithThrowHandlerError re-raises inline handler failures through Post
// instead of swallowing them. Default is false.
func WithThrowHandlerError(v bool) Option {
	return func(c *config) {
		c.throwHandlerError = v
	}
}

// WithRecovery enables/disables panic recovery around handler
// invocations. Recovery should stay enabled in production; disabling
// it lets tests observe panics directly. Default is true.
func WithRecovery(v bool) Option {
	return func(c *config) {
		c.recoveryEnabled = v
	}
}

// WithTracing enables/disables OpenTelemetry tracing. Default is true.
func WithTracing(v bool) Option {
	return func(c *config) {
		c.tracingEnabled = v
	}
}

// WithMetrics enables/disables OpenTelemetry metrics. Default is true.
func WithMetrics(v bool) Option {
	return func(c *config) {
		c.metricsEnabled = v
	}
}

// WithTimeSlice sets the main-thread dispatcher's cooperative time
// slice. Default is 10ms.
func WithTimeSlice(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeSlice = d
		}
	}
}
