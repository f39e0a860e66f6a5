package eventbus

import (
	"reflect"
	"sync"
	"unsafe"
)

// eventLevel is one entry of an event type's supertype closure: a type
// handlers may have subscribed under, plus the recipe for adapting the
// original event value to that type.
type eventLevel struct {
	typ reflect.Type
	// path navigates from the (dereferenced) event value to the
	// embedded field carrying this level; empty for the event's own
	// type and for interface levels satisfied by the original value.
	path []int
	// addr takes the address of the navigated value before handing it
	// to the handler. Only set when the posted event was addressable.
	addr bool
}

// adapt produces the value delivered to handlers subscribed at this
// level. For the identity level the event passes through untouched.
func (lv eventLevel) adapt(event any) any {
	if len(lv.path) == 0 && !lv.addr {
		return event
	}
	v := reflect.ValueOf(event)
	for v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	if len(lv.path) > 0 {
		if !v.CanAddr() {
			c := reflect.New(v.Type()).Elem()
			c.Set(v)
			v = c
		}
		v = v.FieldByIndex(lv.path)
		// Values reached through unexported embedded fields cannot be
		// interfaced directly; re-wrap them from their address.
		if !v.CanInterface() {
			v = reflect.NewAt(v.Type(), unsafe.Pointer(v.UnsafeAddr())).Elem()
		}
	}
	if lv.addr {
		v = v.Addr()
	}
	return v.Interface()
}

// typeCache computes and caches the supertype closure of event types:
// the type itself, then per struct level the registered interface event
// types the level implements, then each embedded anonymous field,
// depth-first and de-duplicated.
//
// Interfaces become known to the cache when they first occur as a
// handler's event type; cached closures carry the interface generation
// they were computed against and are recomputed when it moves.
type typeCache struct {
	mu         sync.Mutex
	closures   map[reflect.Type]*closureEntry
	interfaces []reflect.Type
	known      map[reflect.Type]bool
	gen        uint64
}

type closureEntry struct {
	levels []eventLevel
	gen    uint64
}

func newTypeCache() *typeCache {
	return &typeCache{
		closures: make(map[reflect.Type]*closureEntry),
		known:    make(map[reflect.Type]bool),
	}
}

// registerEventType records an event type seen at subscription time.
// Interface types extend the closure vocabulary and invalidate cached
// closures computed before them.
func (c *typeCache) registerEventType(t reflect.Type) {
	if t == nil || t.Kind() != reflect.Interface {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.known[t] {
		return
	}
	c.known[t] = true
	c.interfaces = append(c.interfaces, t)
	c.gen++
}

// closure returns the supertype closure of t, cached per generation.
func (c *typeCache) closure(t reflect.Type) []eventLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.closures[t]; ok && e.gen == c.gen {
		return e.levels
	}
	levels := c.compute(t)
	c.closures[t] = &closureEntry{levels: levels, gen: c.gen}
	return levels
}

// compute builds the closure under the cache mutex.
func (c *typeCache) compute(t reflect.Type) []eventLevel {
	var levels []eventLevel
	seen := make(map[reflect.Type]bool)
	add := func(lv eventLevel) {
		if !seen[lv.typ] {
			seen[lv.typ] = true
			levels = append(levels, lv)
		}
	}

	addressable := t.Kind() == reflect.Pointer

	// addLevel records a concrete level followed by the registered
	// interfaces it satisfies, then recurses into embedded fields.
	var addLevel func(lt reflect.Type, path []int)
	addLevel = func(lt reflect.Type, path []int) {
		add(eventLevel{typ: lt, path: path})

		for _, iface := range c.interfaces {
			if lt.Implements(iface) {
				add(eventLevel{typ: iface, path: path})
			} else if addressable && lt.Kind() != reflect.Pointer &&
				reflect.PointerTo(lt).Implements(iface) {
				add(eventLevel{typ: iface, path: path, addr: len(path) > 0})
			}
		}

		base := lt
		if base.Kind() == reflect.Pointer {
			base = base.Elem()
		}
		if base.Kind() != reflect.Struct {
			return
		}
		for i := 0; i < base.NumField(); i++ {
			f := base.Field(i)
			// Unexported embedded fields are walked too; adapt
			// re-wraps their values so handlers can receive them.
			if !f.Anonymous || isReservedType(f.Type) {
				continue
			}
			fpath := appendPath(path, i)
			addLevel(f.Type, fpath)
			// Handlers commonly subscribe to the pointer form of an
			// embedded type; reachable only from an addressable event.
			if addressable && f.Type.Kind() != reflect.Pointer {
				add(eventLevel{typ: reflect.PointerTo(f.Type), path: fpath, addr: true})
			}
		}
	}

	addLevel(t, nil)
	return levels
}

// clear drops all cached closures (test support).
func (c *typeCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closures = make(map[reflect.Type]*closureEntry)
}

func appendPath(path []int, i int) []int {
	out := make([]int, len(path)+1)
	copy(out, path)
	out[len(path)] = i
	return out
}

// isReservedType reports whether a type belongs to the standard
// library, which terminates the upward walk: runtime-owned embedded
// types such as sync.Mutex never declare handlers.
func isReservedType(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	pkg := t.PkgPath()
	if pkg == "" || pkg == "main" {
		return false
	}
	for i := 0; i < len(pkg); i++ {
		switch pkg[i] {
		case '/':
			return !containsDot(pkg[:i])
		case '.':
			return false
		}
	}
	return true
}

func containsDot(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return true
		}
	}
	return false
}
