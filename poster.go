package eventbus

import (
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// defaultTimeSlice bounds how long one main-thread callback may keep
// invoking handlers before re-posting a wake-up token and yielding.
const defaultTimeSlice = 10 * time.Millisecond

// backgroundIdleWait bounds how long the background drainer parks on an
// empty queue before releasing its worker.
const backgroundIdleWait = time.Second

// poster enqueues a (subscription, event) pair for delivery away from
// the posting goroutine.
type poster interface {
	enqueue(s *Subscription, event any, link trace.SpanContext) error
}

// mainPoster drains pending posts on the host main thread with a
// cooperative time slice: while the queue is non-empty at least one
// wake-up token is in flight, and no single callback holds the main
// thread much longer than the slice.
type mainPoster struct {
	bus     *Bus
	support MainThreadSupport
	queue   *pendingPostQueue
	slice   time.Duration

	mu     sync.Mutex
	active bool
}

func newMainPoster(bus *Bus, support MainThreadSupport, slice time.Duration) *mainPoster {
	if slice <= 0 {
		slice = defaultTimeSlice
	}
	p := &mainPoster{
		bus:     bus,
		support: support,
		queue:   newPendingPostQueue(),
		slice:   slice,
	}
	return p
}

func (p *mainPoster) enqueue(s *Subscription, event any, link trace.SpanContext) error {
	pp := obtainPendingPost(s, event, link)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue.enqueue(pp)
	if !p.active {
		p.active = true
		if !p.support.Post(p.process) {
			p.active = false
			return fmt.Errorf("%w: enqueue for %v", ErrMainThreadUnreachable, s.descriptor.EventType)
		}
	}
	return nil
}

// process is the main-thread callback. It drains until the queue is
// empty or the time slice is spent, then either clears active or
// re-posts a token so drainage continues on the next callback.
func (p *mainPoster) process() {
	rescheduled := false
	defer func() {
		p.mu.Lock()
		p.active = rescheduled
		p.mu.Unlock()
	}()

	started := time.Now()
	for {
		pp := p.queue.poll()
		if pp == nil {
			p.mu.Lock()
			pp = p.queue.poll()
			if pp == nil {
				// Cleared under the lock so a concurrent enqueue
				// observes inactivity and posts a fresh token.
				p.active = false
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
		}
		p.bus.invokePending(pp)
		if time.Since(started) >= p.slice {
			if !p.support.Post(p.process) {
				p.bus.logger.Error("main thread rejected wake-up token, queued events stall until next enqueue")
				return
			}
			rescheduled = true
			return
		}
	}
}

func (p *mainPoster) pending() int { return p.queue.len() }

// backgroundPoster delivers events serially on one pool worker at a
// time, in strict enqueue order.
type backgroundPoster struct {
	bus   *Bus
	queue *pendingPostQueue

	mu      sync.Mutex
	running bool
}

func newBackgroundPoster(bus *Bus) *backgroundPoster {
	p := &backgroundPoster{
		bus:   bus,
		queue: newPendingPostQueue(),
	}
	return p
}

func (p *backgroundPoster) enqueue(s *Subscription, event any, link trace.SpanContext) error {
	pp := obtainPendingPost(s, event, link)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue.enqueue(pp)
	if !p.running {
		p.running = true
		if err := p.bus.executor.Submit(p.run); err != nil {
			p.running = false
			return fmt.Errorf("background dispatch: %w", err)
		}
	}
	return nil
}

func (p *backgroundPoster) run() {
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()
	for {
		pp := p.queue.pollWait(backgroundIdleWait)
		if pp == nil {
			p.mu.Lock()
			pp = p.queue.poll()
			if pp == nil {
				p.running = false
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
		}
		p.bus.invokePending(pp)
	}
}

func (p *backgroundPoster) pending() int { return p.queue.len() }

// asyncPoster submits every event as its own pool task; deliveries run
// concurrently with no ordering guarantee.
type asyncPoster struct {
	bus   *Bus
	queue *pendingPostQueue
}

func newAsyncPoster(bus *Bus) *asyncPoster {
	return &asyncPoster{bus: bus, queue: newPendingPostQueue()}
}

func (p *asyncPoster) enqueue(s *Subscription, event any, link trace.SpanContext) error {
	pp := obtainPendingPost(s, event, link)
	p.queue.enqueue(pp)
	if err := p.bus.executor.Submit(p.run); err != nil {
		return fmt.Errorf("async dispatch: %w", err)
	}
	return nil
}

// run consumes exactly one pending post; submits and polls are paired.
func (p *asyncPoster) run() {
	pp := p.queue.poll()
	if pp == nil {
		panic(fmt.Errorf("%w: async task found no pending post", ErrInvariantViolation))
	}
	p.bus.invokePending(pp)
}

func (p *asyncPoster) pending() int { return p.queue.len() }
