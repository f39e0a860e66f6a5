package eventbus

import (
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// maxPooledPendingPosts bounds the shared pending-post pool. Releases
// beyond the bound are dropped for the collector.
const maxPooledPendingPosts = 10000

// pendingPost is a pooled cell carrying one (event, subscription) pair
// through a dispatcher queue. Cells link intrusively into the queue.
type pendingPost struct {
	event        any
	subscription *Subscription
	link         trace.SpanContext
	next         *pendingPost
}

var pendingPostPool struct {
	sync.Mutex
	free []*pendingPost
}

// obtainPendingPost reuses a pooled cell or allocates a fresh one.
func obtainPendingPost(s *Subscription, event any, link trace.SpanContext) *pendingPost {
	pendingPostPool.Lock()
	if n := len(pendingPostPool.free); n > 0 {
		pp := pendingPostPool.free[n-1]
		pendingPostPool.free = pendingPostPool.free[:n-1]
		pendingPostPool.Unlock()
		pp.event = event
		pp.subscription = s
		pp.link = link
		pp.next = nil
		return pp
	}
	pendingPostPool.Unlock()
	return &pendingPost{event: event, subscription: s, link: link}
}

// releasePendingPost nulls the cell and returns it to the pool.
func releasePendingPost(pp *pendingPost) {
	pp.event = nil
	pp.subscription = nil
	pp.link = trace.SpanContext{}
	pp.next = nil
	pendingPostPool.Lock()
	if len(pendingPostPool.free) < maxPooledPendingPosts {
		pendingPostPool.free = append(pendingPostPool.free, pp)
	}
	pendingPostPool.Unlock()
}

// pendingPostQueue is an intrusively linked FIFO of pending posts. All
// methods are mutually exclusive on one mutex; producers never block,
// consumers bound idle wake-ups with pollWait.
type pendingPostQueue struct {
	mu   sync.Mutex
	head *pendingPost
	tail *pendingPost
	size int
	wake chan struct{}
}

func newPendingPostQueue() *pendingPostQueue {
	return &pendingPostQueue{wake: make(chan struct{}, 1)}
}

func (q *pendingPostQueue) enqueue(pp *pendingPost) {
	if pp == nil {
		panic(fmt.Errorf("%w: nil cannot be enqueued", ErrInvariantViolation))
	}
	q.mu.Lock()
	switch {
	case q.tail != nil:
		q.tail.next = pp
		q.tail = pp
	case q.head == nil:
		q.head = pp
		q.tail = pp
	default:
		q.mu.Unlock()
		panic(fmt.Errorf("%w: head present, but no tail", ErrInvariantViolation))
	}
	q.size++
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// poll detaches and returns the head, or nil when the queue is empty.
func (q *pendingPostQueue) poll() *pendingPost {
	q.mu.Lock()
	defer q.mu.Unlock()
	pp := q.head
	if pp != nil {
		q.head = pp.next
		if q.head == nil {
			q.tail = nil
		}
		q.size--
	}
	return pp
}

// pollWait polls the head, waiting up to maxWait when the queue is
// empty. A nil return after the wait means the queue stayed empty.
func (q *pendingPostQueue) pollWait(maxWait time.Duration) *pendingPost {
	if pp := q.poll(); pp != nil {
		return pp
	}
	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	select {
	case <-q.wake:
	case <-timer.C:
	}
	return q.poll()
}

func (q *pendingPostQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}
