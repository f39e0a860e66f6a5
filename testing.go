package eventbus

import (
	"sync"
	"time"
)

// TestBus creates a bus configured for testing: recovery, tracing and
// metrics disabled so failures surface directly and fast.
func TestBus(opts ...Option) *Bus {
	base := []Option{
		WithRecovery(false),
		WithTracing(false),
		WithMetrics(false),
	}
	return New(append(base, opts...)...)
}

// RecordedEvent is one delivery captured by a Recorder.
type RecordedEvent struct {
	Event any
	Time  time.Time
}

// Recorder collects delivered events for later assertions. Embed it in
// a test subscriber and call Record from handler methods, or use the
// ready-made subscribers in the test files.
type Recorder struct {
	mu       sync.Mutex
	received []RecordedEvent
}

// Record captures one delivery.
func (r *Recorder) Record(event any) {
	r.mu.Lock()
	r.received = append(r.received, RecordedEvent{Event: event, Time: time.Now()})
	r.mu.Unlock()
}

// Events returns a copy of all captured events, in delivery order.
func (r *Recorder) Events() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.received))
	for i, rec := range r.received {
		out[i] = rec.Event
	}
	return out
}

// Count returns the number of captured deliveries.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.received)
}

// Last returns the most recent capture, or nil.
func (r *Recorder) Last() *RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.received) == 0 {
		return nil
	}
	rec := r.received[len(r.received)-1]
	return &rec
}

// Reset clears all captured deliveries.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.received = nil
	r.mu.Unlock()
}

// WaitFor polls until the recorder captured at least n deliveries or
// the timeout elapsed. Returns true when the count was reached.
func (r *Recorder) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if r.Count() >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}
