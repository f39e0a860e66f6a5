package eventbus

import (
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
	"syreclabs.com/go/faker"
)

type sessionStarted struct {
	User string
}

// stickySessionSub replays the cached sessionStarted on registration.
type stickySessionSub struct {
	Recorder
}

func (s *stickySessionSub) OnSessionStarted(ev sessionStarted) {
	s.Record(ev)
}

func (s *stickySessionSub) EventHandlerConfigs() map[string]HandlerConfig {
	return map[string]HandlerConfig{"OnSessionStarted": {Sticky: true}}
}

func TestStickyReplayOnRegister(t *testing.T) {
	bus := TestBus()
	posted := sessionStarted{User: faker.Lorem().Word()}
	if err := bus.PostSticky(posted); err != nil {
		t.Fatalf("postSticky: %v", err)
	}

	sub := &stickySessionSub{}
	if err := bus.Register(sub); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Posting-mode sticky replay is synchronous with Register.
	events := sub.Events()
	if len(events) != 1 {
		t.Fatalf("replayed events = %d, want 1", len(events))
	}
	if diff := cmp.Diff(posted, events[0]); diff != "" {
		t.Errorf("replayed event (-want +got):\n%s", diff)
	}
}

func TestStickyRoundTrip(t *testing.T) {
	bus := TestBus()
	posted := sessionStarted{User: faker.Lorem().Word()}
	if err := bus.PostSticky(posted); err != nil {
		t.Fatalf("postSticky: %v", err)
	}

	got := bus.GetStickyEvent(reflect.TypeOf(sessionStarted{}))
	if diff := cmp.Diff(posted, got); diff != "" {
		t.Errorf("sticky round trip (-want +got):\n%s", diff)
	}

	// Overwrite keeps only the most recent value.
	latest := sessionStarted{User: "latest"}
	if err := bus.PostSticky(latest); err != nil {
		t.Fatalf("postSticky: %v", err)
	}
	if got, ok := StickyEventOf[sessionStarted](bus); !ok || got != latest {
		t.Errorf("sticky after overwrite = %v, %t", got, ok)
	}
}

func TestRemoveStickyEvent(t *testing.T) {
	bus := TestBus()
	posted := sessionStarted{User: "gone"}
	if err := bus.PostSticky(posted); err != nil {
		t.Fatalf("postSticky: %v", err)
	}

	removed := bus.RemoveStickyEvent(reflect.TypeOf(sessionStarted{}))
	if diff := cmp.Diff(posted, removed); diff != "" {
		t.Errorf("removed event (-want +got):\n%s", diff)
	}
	if got := bus.GetStickyEvent(reflect.TypeOf(sessionStarted{})); got != nil {
		t.Errorf("sticky still cached after removal: %v", got)
	}
}

func TestRemoveStickyValue(t *testing.T) {
	bus := TestBus()
	posted := sessionStarted{User: "v"}
	if err := bus.PostSticky(posted); err != nil {
		t.Fatalf("postSticky: %v", err)
	}

	if bus.RemoveStickyValue(sessionStarted{User: "other"}) {
		t.Error("removed sticky event that does not match")
	}
	if !bus.RemoveStickyValue(posted) {
		t.Error("failed to remove matching sticky event")
	}
	if bus.RemoveStickyValue(posted) {
		t.Error("second removal reported success")
	}
}

func TestRemoveAllStickyEventsIdempotent(t *testing.T) {
	bus := TestBus()
	if err := bus.PostSticky(sessionStarted{User: "a"}); err != nil {
		t.Fatalf("postSticky: %v", err)
	}
	if err := bus.PostSticky(rootEvent{Origin: "b"}); err != nil {
		t.Fatalf("postSticky: %v", err)
	}

	bus.RemoveAllStickyEvents()
	if got := bus.GetStickyEvent(reflect.TypeOf(sessionStarted{})); got != nil {
		t.Errorf("sticky cache not cleared: %v", got)
	}
	// Second call is a no-op.
	bus.RemoveAllStickyEvents()
	if got := bus.GetStickyEvent(reflect.TypeOf(rootEvent{})); got != nil {
		t.Errorf("sticky cache repopulated: %v", got)
	}
}

// stickyAlertSub subscribes sticky to the alert interface.
type stickyAlertSub struct {
	Recorder
}

func (s *stickyAlertSub) OnAlert(a alert) {
	s.Record(a)
}

func (s *stickyAlertSub) EventHandlerConfigs() map[string]HandlerConfig {
	return map[string]HandlerConfig{"OnAlert": {Sticky: true}}
}

func TestStickyReplayThroughInheritance(t *testing.T) {
	bus := TestBus()
	if err := bus.PostSticky(leafEvent{}); err != nil {
		t.Fatalf("postSticky: %v", err)
	}

	sub := &stickyAlertSub{}
	if err := bus.Register(sub); err != nil {
		t.Fatalf("register: %v", err)
	}
	if sub.Count() != 1 {
		t.Fatalf("replays through inheritance = %d, want 1", sub.Count())
	}

	// With inheritance disabled only the exact type replays.
	exact := TestBus(WithEventInheritance(false))
	if err := exact.PostSticky(leafEvent{}); err != nil {
		t.Fatalf("postSticky: %v", err)
	}
	sub2 := &stickyAlertSub{}
	if err := exact.Register(sub2); err != nil {
		t.Fatalf("register: %v", err)
	}
	if sub2.Count() != 0 {
		t.Errorf("exact-type replay delivered %d events, want 0", sub2.Count())
	}
}

func TestRemoveStickyEventOf(t *testing.T) {
	bus := TestBus()
	posted := sessionStarted{User: "typed"}
	if err := bus.PostSticky(posted); err != nil {
		t.Fatalf("postSticky: %v", err)
	}
	got, ok := RemoveStickyEventOf[sessionStarted](bus)
	if !ok || got != posted {
		t.Errorf("RemoveStickyEventOf = %v, %t", got, ok)
	}
	if _, ok := StickyEventOf[sessionStarted](bus); ok {
		t.Error("sticky event still cached")
	}
}
