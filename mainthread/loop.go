// Package mainthread provides a runnable main-goroutine loop
// implementing eventbus.MainThreadSupport.
//
// Hosts that own a designated main goroutine (UI loops, game loops)
// usually adapt their own scheduler instead; Loop is for hosts without
// one and for tests that need deterministic main-thread delivery:
//
//	loop := mainthread.New()
//	go loop.Run(ctx)
//	bus := eventbus.New(eventbus.WithMainThreadSupport(loop))
package mainthread

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/rbaliyan/eventbus"
	"github.com/rbaliyan/eventbus/internal/goid"
)

// DefaultBacklog is the default capacity of the callback queue.
const DefaultBacklog = 128

// Loop is a single-goroutine callback executor. The goroutine that
// calls Run becomes the main thread; Post hands callbacks to it.
type Loop struct {
	funcs   chan func()
	logger  *slog.Logger
	running atomic.Bool
	gid     atomic.Uint64
}

// Option configures a Loop.
type Option func(*Loop)

// WithBacklog sets the callback queue capacity.
func WithBacklog(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.funcs = make(chan func(), n)
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a stopped loop. Call Run on the goroutine that should
// act as the main thread.
func New(opts ...Option) *Loop {
	l := &Loop{
		funcs:  make(chan func(), DefaultBacklog),
		logger: slog.Default().With("component", "eventbus.mainthread"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes posted callbacks on the calling goroutine until the
// context is canceled. Only one Run may be active at a time.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	l.gid.Store(goid.ID())
	defer func() {
		l.gid.Store(0)
		l.running.Store(false)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.funcs:
			fn()
		}
	}
}

// IsMainThread reports whether the calling goroutine is the one
// running the loop.
func (l *Loop) IsMainThread() bool {
	id := l.gid.Load()
	return id != 0 && id == goid.ID()
}

// Post hands a callback to the loop goroutine. It reports false when
// the loop is not running or its backlog is full.
func (l *Loop) Post(fn func()) bool {
	if fn == nil || !l.running.Load() {
		return false
	}
	select {
	case l.funcs <- fn:
		return true
	default:
		l.logger.Warn("callback backlog full, token rejected")
		return false
	}
}

// Running reports whether Run is active.
func (l *Loop) Running() bool {
	return l.running.Load()
}

var _ eventbus.MainThreadSupport = (*Loop)(nil)
