package eventbus

import (
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// Event hierarchy used across the inheritance tests: Leaf embeds Mid
// embeds Root, and Mid satisfies Alert.
type rootEvent struct {
	Origin string
}

type midEvent struct {
	rootEvent
}

type alert interface {
	AlertLevel() int
}

func (midEvent) AlertLevel() int { return 1 }

type leafEvent struct {
	midEvent
}

// hierarchyObserver subscribes to all four layers of the hierarchy.
type hierarchyObserver struct {
	calls []string
}

func (o *hierarchyObserver) OnRootEvent(rootEvent) { o.calls = append(o.calls, "root") }
func (o *hierarchyObserver) OnMidEvent(midEvent)   { o.calls = append(o.calls, "mid") }
func (o *hierarchyObserver) OnLeafEvent(leafEvent) { o.calls = append(o.calls, "leaf") }
func (o *hierarchyObserver) OnAlert(alert)         { o.calls = append(o.calls, "alert") }

func TestEventInheritanceDelivery(t *testing.T) {
	bus := TestBus()
	observer := &hierarchyObserver{}
	if err := bus.Register(observer); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := bus.Post(leafEvent{}); err != nil {
		t.Fatalf("post: %v", err)
	}

	// The event's own type first, then per level the implemented
	// interfaces, then the embedded chain.
	want := []string{"leaf", "alert", "mid", "root"}
	if diff := cmp.Diff(want, observer.calls); diff != "" {
		t.Errorf("inheritance delivery (-want +got):\n%s", diff)
	}
}

func TestEventInheritanceDisabled(t *testing.T) {
	bus := TestBus(WithEventInheritance(false))
	observer := &hierarchyObserver{}
	if err := bus.Register(observer); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := bus.Post(leafEvent{}); err != nil {
		t.Fatalf("post: %v", err)
	}

	want := []string{"leaf"}
	if diff := cmp.Diff(want, observer.calls); diff != "" {
		t.Errorf("exact-type delivery (-want +got):\n%s", diff)
	}
}

func TestHasSubscriberForEventThroughHierarchy(t *testing.T) {
	bus := TestBus()
	observer := &hierarchyObserver{}
	if err := bus.Register(observer); err != nil {
		t.Fatalf("register: %v", err)
	}
	// wrapped has no direct handler; it matches only through its
	// embedded chain and the interfaces it inherits from it.
	type wrapped struct {
		midEvent
	}
	if !bus.HasSubscriberForEvent(reflect.TypeOf(wrapped{})) {
		t.Error("embedded-chain subscriber not found")
	}
}

func TestClosureOrderAndUniqueness(t *testing.T) {
	cache := newTypeCache()
	cache.registerEventType(reflect.TypeOf((*alert)(nil)).Elem())

	levels := cache.closure(reflect.TypeOf(leafEvent{}))
	var types []reflect.Type
	seen := map[reflect.Type]int{}
	for _, lv := range levels {
		types = append(types, lv.typ)
		seen[lv.typ]++
	}
	for typ, n := range seen {
		if n > 1 {
			t.Errorf("type %v appears %d times in closure", typ, n)
		}
	}

	want := []reflect.Type{
		reflect.TypeOf(leafEvent{}),
		reflect.TypeOf((*alert)(nil)).Elem(),
		reflect.TypeOf(midEvent{}),
		reflect.TypeOf(rootEvent{}),
	}
	sameType := cmp.Comparer(func(a, b reflect.Type) bool { return a == b })
	if diff := cmp.Diff(want, types, sameType); diff != "" {
		t.Errorf("closure order (-want +got):\n%s", diff)
	}
	if types[0] != reflect.TypeOf(leafEvent{}) {
		t.Error("closure must start with the event's own type")
	}
}

func TestClosureCacheInvalidation(t *testing.T) {
	cache := newTypeCache()
	leafType := reflect.TypeOf(leafEvent{})

	before := cache.closure(leafType)
	for _, lv := range before {
		if lv.typ.Kind() == reflect.Interface {
			t.Fatalf("unexpected interface %v before registration", lv.typ)
		}
	}

	// Registering an interface type must invalidate cached closures.
	cache.registerEventType(reflect.TypeOf((*alert)(nil)).Elem())
	after := cache.closure(leafType)
	found := false
	for _, lv := range after {
		if lv.typ.Kind() == reflect.Interface {
			found = true
		}
	}
	if !found {
		t.Error("closure not recomputed after interface registration")
	}
}

// pointerAlert is satisfied only by *counterEvent.
type pointerAlert interface {
	Bump()
}

type counterEvent struct {
	N int
}

func (c *counterEvent) Bump() { c.N++ }

type pointerObserver struct {
	got []*counterEvent
}

func (o *pointerObserver) OnPointerAlert(a pointerAlert) {
	o.got = append(o.got, a.(*counterEvent))
}

func TestInterfaceOnPointerReceiver(t *testing.T) {
	bus := TestBus()
	observer := &pointerObserver{}
	if err := bus.Register(observer); err != nil {
		t.Fatalf("register: %v", err)
	}

	ev := &counterEvent{}
	if err := bus.Post(ev); err != nil {
		t.Fatalf("post: %v", err)
	}
	if len(observer.got) != 1 || observer.got[0] != ev {
		t.Errorf("interface delivery got %v", observer.got)
	}
}

// wrapperEvent embeds counterEvent; handlers of *counterEvent are
// reachable from an addressable wrapper.
type wrapperEvent struct {
	counterEvent
}

type embeddedPointerObserver struct {
	got []*counterEvent
}

func (o *embeddedPointerObserver) OnCounter(c *counterEvent) {
	o.got = append(o.got, c)
}

func TestEmbeddedPointerDelivery(t *testing.T) {
	bus := TestBus()
	observer := &embeddedPointerObserver{}
	if err := bus.Register(observer); err != nil {
		t.Fatalf("register: %v", err)
	}

	ev := &wrapperEvent{}
	if err := bus.Post(ev); err != nil {
		t.Fatalf("post: %v", err)
	}
	if len(observer.got) != 1 || observer.got[0] != &ev.counterEvent {
		t.Errorf("embedded pointer delivery got %v", observer.got)
	}
}
