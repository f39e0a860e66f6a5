package eventbus

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// errorType is the reflect.Type of the error interface, used for
// handler shape checks.
var errorType = reflect.TypeOf((*error)(nil)).Elem()

// handlerMethodPrefix marks handler methods. A handler is an exported
// method named On<Something> taking exactly one parameter (the event)
// and returning nothing or error.
const handlerMethodPrefix = "On"

// isHandlerName reports whether a method name carries the handler
// marker: the On prefix followed by an upper-case letter, so that
// names like Once are not mistaken for handlers.
func isHandlerName(name string) bool {
	if !strings.HasPrefix(name, handlerMethodPrefix) {
		return false
	}
	rest := name[len(handlerMethodPrefix):]
	return len(rest) > 0 && rest[0] >= 'A' && rest[0] <= 'Z'
}

const findStatePoolSize = 4

// handlerFinder resolves the handler descriptors of subscriber types,
// preferring registered indexes and falling back to reflection. Results
// are cached per type and immutable after publication.
type handlerFinder struct {
	indexes     []HandlerIndex
	strict      bool
	ignoreIndex bool

	cache sync.Map // reflect.Type -> []*HandlerDescriptor

	poolMu sync.Mutex
	pool   [findStatePoolSize]*findState
}

func newHandlerFinder(indexes []HandlerIndex, strict, ignoreIndex bool) *handlerFinder {
	return &handlerFinder{indexes: indexes, strict: strict, ignoreIndex: ignoreIndex}
}

// find returns the handler descriptors of the subscriber's type. The
// instance is consulted once for HandlerConfigs; the result is cached
// under the type for all later registrations.
func (f *handlerFinder) find(t reflect.Type, instance any) ([]*HandlerDescriptor, error) {
	if cached, ok := f.cache.Load(t); ok {
		return cached.([]*HandlerDescriptor), nil
	}

	fs := f.prepareFindState()
	defer f.releaseFindState(fs)
	fs.init(t, handlerConfigsOf(instance))

	var err error
	if f.ignoreIndex || len(f.indexes) == 0 {
		err = f.visitLevel(fs, t, nil, nil, false)
	} else {
		err = f.visitLevel(fs, t, nil, nil, true)
	}
	if err != nil {
		return nil, err
	}

	if len(fs.found) == 0 {
		return nil, fmt.Errorf("%w: %v and its embedded types declare no On* handler methods", ErrNoHandlers, t)
	}

	descs := make([]*HandlerDescriptor, len(fs.found))
	copy(descs, fs.found)
	f.cache.Store(t, descs)
	return descs, nil
}

// clearCache drops all cached descriptor lists (test support).
func (f *handlerFinder) clearCache() {
	f.cache.Range(func(key, _ any) bool {
		f.cache.Delete(key)
		return true
	})
}

// handlerConfigsOf extracts the optional per-method delivery options.
func handlerConfigsOf(instance any) map[string]HandlerConfig {
	if hc, ok := instance.(HandlerConfigs); ok {
		return hc.EventHandlerConfigs()
	}
	return nil
}

// visitLevel processes one type of the subscriber's embedding chain and
// recurses into its embedded anonymous fields, outermost first.
func (f *handlerFinder) visitLevel(fs *findState, levelType reflect.Type, path []int, parent SubscriberInfo, useIndex bool) error {
	if levelType == nil {
		return nil
	}

	var info SubscriberInfo
	if useIndex {
		info = f.infoFor(levelType, parent)
	}
	if info != nil {
		for _, def := range info.Handlers() {
			d, err := f.descriptorFromDef(levelType, path, def)
			if err != nil {
				return err
			}
			if fs.checkAdd(d.MethodName, d.EventType, levelType) {
				fs.found = append(fs.found, d)
			}
		}
		if !info.CheckSupertypes() {
			return nil
		}
	} else if err := f.scanLevel(fs, levelType, path); err != nil {
		return err
	}

	base := levelType
	for base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	if base.Kind() != reflect.Struct {
		return nil
	}
	for i := 0; i < base.NumField(); i++ {
		fld := base.Field(i)
		// Unexported embedded fields are only walked below an index
		// group; reflective handlers on them are promoted to the outer
		// type and found there.
		if !fld.Anonymous || isReservedType(fld.Type) || (fld.PkgPath != "" && info == nil) {
			continue
		}
		if err := f.visitLevel(fs, fld.Type, appendPath(path, i), info, useIndex); err != nil {
			return err
		}
	}
	return nil
}

// infoFor resolves the index entry of a level, preferring the parent
// group's supertype pointer over a fresh index lookup.
func (f *handlerFinder) infoFor(levelType reflect.Type, parent SubscriberInfo) SubscriberInfo {
	if parent != nil {
		if sup := parent.Superclass(); sup != nil && sup.SubscriberType() == levelType {
			return sup
		}
	}
	for _, idx := range f.indexes {
		if info := idx.InfoFor(levelType); info != nil {
			return info
		}
		if levelType.Kind() == reflect.Pointer {
			if info := idx.InfoFor(levelType.Elem()); info != nil {
				return info
			}
		}
	}
	return nil
}

// scanLevel discovers handler methods of a single level by reflection.
func (f *handlerFinder) scanLevel(fs *findState, levelType reflect.Type, path []int) error {
	mt := levelType
	// Embedded value types are reached through an addressable field of
	// the registered subscriber, so their pointer method set applies.
	if len(path) > 0 && mt.Kind() == reflect.Struct && fs.addressable {
		mt = reflect.PointerTo(mt)
	}

	for i := 0; i < mt.NumMethod(); i++ {
		m := mt.Method(i)
		if !isHandlerName(m.Name) {
			continue
		}
		if !validHandlerShape(m.Type) {
			if f.strict {
				return fmt.Errorf("%w: %v.%s must take exactly one event parameter and return nothing or error",
					ErrHandlerShape, levelType, m.Name)
			}
			continue
		}

		eventType := m.Type.In(1)
		if !fs.checkAdd(m.Name, eventType, levelType) {
			continue
		}

		cfg := fs.configs[m.Name]
		fs.found = append(fs.found, &HandlerDescriptor{
			TargetType: levelType,
			MethodName: m.Name,
			EventType:  eventType,
			Mode:       cfg.Mode,
			Priority:   cfg.Priority,
			Sticky:     cfg.Sticky,
			invoke:     methodInvoker(m, path),
			key:        signatureKey(m.Name, eventType),
		})
	}
	return nil
}

// validHandlerShape checks the marker contract: one event parameter,
// no return value or a single error.
func validHandlerShape(mt reflect.Type) bool {
	if mt.IsVariadic() || mt.NumIn() != 2 {
		return false
	}
	switch mt.NumOut() {
	case 0:
		return true
	case 1:
		return mt.Out(0) == errorType
	default:
		return false
	}
}

// methodInvoker builds the invocation stub for a reflection-discovered
// handler. Top-level methods bind the method func directly; methods on
// embedded types navigate to the declaring field at call time.
func methodInvoker(m reflect.Method, path []int) invoker {
	if len(path) == 0 {
		fn := m.Func
		return func(subscriber, event any) error {
			return callHandler(fn, reflect.ValueOf(subscriber), event)
		}
	}
	name := m.Name
	fieldPath := append([]int(nil), path...)
	return func(subscriber, event any) error {
		v := reflect.ValueOf(subscriber)
		for v.Kind() == reflect.Pointer {
			v = v.Elem()
		}
		v = v.FieldByIndex(fieldPath)
		mm := v.MethodByName(name)
		if !mm.IsValid() && v.CanAddr() {
			mm = v.Addr().MethodByName(name)
		}
		if !mm.IsValid() {
			return fmt.Errorf("%w: method %s unreachable on %v", ErrInternalState, name, v.Type())
		}
		out := mm.Call([]reflect.Value{reflect.ValueOf(event)})
		return handlerResult(out)
	}
}

func callHandler(fn, receiver reflect.Value, event any) error {
	out := fn.Call([]reflect.Value{receiver, reflect.ValueOf(event)})
	return handlerResult(out)
}

func handlerResult(out []reflect.Value) error {
	if len(out) == 1 {
		if err, _ := out[0].Interface().(error); err != nil {
			return err
		}
	}
	return nil
}

// findState is the per-discovery scratch record. Instances are pooled
// to avoid re-allocating the de-duplication maps per registration.
type findState struct {
	found          []*HandlerDescriptor
	anyByEventType map[reflect.Type]any
	byKey          map[string]reflect.Type
	keyBuilder     strings.Builder
	configs        map[string]HandlerConfig
	subscriberType reflect.Type
	addressable    bool
}

// methodRef identifies an accepted method during de-duplication.
type methodRef struct {
	name      string
	declaring reflect.Type
}

func (fs *findState) init(t reflect.Type, configs map[string]HandlerConfig) {
	fs.subscriberType = t
	fs.addressable = t.Kind() == reflect.Pointer
	fs.configs = configs
	if fs.configs == nil {
		fs.configs = map[string]HandlerConfig{}
	}
}

func (fs *findState) recycle() {
	fs.found = fs.found[:0]
	clear(fs.anyByEventType)
	clear(fs.byKey)
	fs.keyBuilder.Reset()
	fs.configs = nil
	fs.subscriberType = nil
	fs.addressable = false
}

// checkAdd runs the two-level duplicate check. Level one accepts the
// first method per event type; on collision level two decides by full
// signature, so an outer method shadows the same signature found on an
// embedded type.
func (fs *findState) checkAdd(name string, eventType, declaring reflect.Type) bool {
	existing, ok := fs.anyByEventType[eventType]
	if !ok {
		fs.anyByEventType[eventType] = methodRef{name: name, declaring: declaring}
		return true
	}
	if ref, isRef := existing.(methodRef); isRef {
		if !fs.checkAddWithKey(ref.name, eventType, ref.declaring) {
			panic(fmt.Errorf("%w: first method for %v rejected by signature check", ErrInvariantViolation, eventType))
		}
		// Consume the ref so later candidates go straight to the
		// signature check.
		fs.anyByEventType[eventType] = fs
	}
	return fs.checkAddWithKey(name, eventType, declaring)
}

func (fs *findState) checkAddWithKey(name string, eventType, declaring reflect.Type) bool {
	fs.keyBuilder.Reset()
	fs.keyBuilder.WriteString(name)
	fs.keyBuilder.WriteByte('>')
	fs.keyBuilder.WriteString(eventType.String())
	key := fs.keyBuilder.String()

	old, ok := fs.byKey[key]
	if !ok || old == declaring {
		fs.byKey[key] = declaring
		return true
	}
	// An outer method already claimed this signature.
	return false
}

func (f *handlerFinder) prepareFindState() *findState {
	f.poolMu.Lock()
	for i := 0; i < findStatePoolSize; i++ {
		if fs := f.pool[i]; fs != nil {
			f.pool[i] = nil
			f.poolMu.Unlock()
			return fs
		}
	}
	f.poolMu.Unlock()
	return &findState{
		anyByEventType: make(map[reflect.Type]any),
		byKey:          make(map[string]reflect.Type),
	}
}

func (f *handlerFinder) releaseFindState(fs *findState) {
	fs.recycle()
	f.poolMu.Lock()
	for i := 0; i < findStatePoolSize; i++ {
		if f.pool[i] == nil {
			f.pool[i] = fs
			break
		}
	}
	f.poolMu.Unlock()
}
