package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type jobQueued struct {
	Seq int
}

// backgroundSub consumes jobQueued serially off the posting goroutine.
type backgroundSub struct {
	Recorder
}

func (s *backgroundSub) OnJobQueued(ev jobQueued) {
	s.Record(ev)
}

func (s *backgroundSub) EventHandlerConfigs() map[string]HandlerConfig {
	return map[string]HandlerConfig{"OnJobQueued": {Mode: Background}}
}

func TestBackgroundDeliveryFIFO(t *testing.T) {
	bus := TestBus()
	sub := &backgroundSub{}
	if err := bus.Register(sub); err != nil {
		t.Fatalf("register: %v", err)
	}

	const n = 200
	for i := 0; i < n; i++ {
		if err := bus.Post(jobQueued{Seq: i}); err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
	}
	if !sub.WaitFor(n, 5*time.Second) {
		t.Fatalf("background delivered %d of %d", sub.Count(), n)
	}

	var want, got []int
	for i, ev := range sub.Events() {
		want = append(want, i)
		got = append(got, ev.(jobQueued).Seq)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("background order not FIFO (-want +got):\n%s", diff)
	}
}

// asyncSub consumes jobQueued on independent worker tasks.
type asyncSub struct {
	mu      sync.Mutex
	seen    int
	started chan struct{}
	release chan struct{}
}

func (s *asyncSub) OnJobQueued(jobQueued) {
	s.started <- struct{}{}
	<-s.release
	s.mu.Lock()
	s.seen++
	s.mu.Unlock()
}

func (s *asyncSub) EventHandlerConfigs() map[string]HandlerConfig {
	return map[string]HandlerConfig{"OnJobQueued": {Mode: Async}}
}

func TestAsyncDeliveryRunsConcurrently(t *testing.T) {
	bus := TestBus()
	sub := &asyncSub{
		started: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	if err := bus.Register(sub); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Two async deliveries must both start while neither finished,
	// which a serial dispatcher cannot do.
	if err := bus.Post(jobQueued{Seq: 1}); err != nil {
		t.Fatalf("post: %v", err)
	}
	if err := bus.Post(jobQueued{Seq: 2}); err != nil {
		t.Fatalf("post: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-sub.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("async delivery %d did not start", i+1)
		}
	}
	close(sub.release)
}

func TestBackgroundWorkerReleasesWhenIdle(t *testing.T) {
	bus := TestBus()
	sub := &backgroundSub{}
	if err := bus.Register(sub); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := bus.Post(jobQueued{Seq: 1}); err != nil {
		t.Fatalf("post: %v", err)
	}
	if !sub.WaitFor(1, 2*time.Second) {
		t.Fatal("first delivery missing")
	}

	// Wait past the idle poll so the worker parks, then post again;
	// the dispatcher must schedule a fresh drain.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		bus.bgPoster.mu.Lock()
		running := bus.bgPoster.running
		bus.bgPoster.mu.Unlock()
		if !running {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := bus.Post(jobQueued{Seq: 2}); err != nil {
		t.Fatalf("post: %v", err)
	}
	if !sub.WaitFor(2, 3*time.Second) {
		t.Fatalf("delivery after idle release missing, got %d", sub.Count())
	}
}

func TestPoolExecutor(t *testing.T) {
	pool := NewPoolExecutor(2, 8)
	defer pool.Close()

	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		if err := pool.Submit(func() { wg.Done() }); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not run all tasks")
	}
}

func TestPoolExecutorClosed(t *testing.T) {
	pool := NewPoolExecutor(1, 0)
	pool.Close()
	if err := pool.Submit(func() {}); err != ErrExecutorClosed {
		t.Errorf("submit after close = %v, want ErrExecutorClosed", err)
	}
}

func TestBusWithPoolExecutor(t *testing.T) {
	pool := NewPoolExecutor(2, 32)
	defer pool.Close()
	bus := TestBus(WithExecutor(pool))
	sub := &backgroundSub{}
	if err := bus.Register(sub); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < 20; i++ {
		if err := bus.Post(jobQueued{Seq: i}); err != nil {
			t.Fatalf("post: %v", err)
		}
	}
	if !sub.WaitFor(20, 5*time.Second) {
		t.Fatalf("pool-backed delivery incomplete: %d of 20", sub.Count())
	}
}
