package eventbus

import (
	"fmt"
	"reflect"
)

// HandlerIndex supplies pre-computed handler tables for subscriber
// types, replacing reflective discovery for the types it knows. Indexes
// are typically produced by code generation so hosts can run without
// runtime introspection.
type HandlerIndex interface {
	// InfoFor returns the descriptor group of a subscriber type, or
	// nil when the index has no entry for it.
	InfoFor(subscriberType reflect.Type) SubscriberInfo
}

// SubscriberInfo is one index entry: the handler descriptor group of a
// single subscriber type.
type SubscriberInfo interface {
	// SubscriberType is the type this group describes.
	SubscriberType() reflect.Type
	// Handlers returns the group's handler definitions.
	Handlers() []HandlerDef
	// Superclass optionally points at the group of the next embedded
	// level, letting chained groups skip the index list lookup.
	Superclass() SubscriberInfo
	// CheckSupertypes reports whether discovery should continue into
	// the type's embedded fields after consuming this group.
	CheckSupertypes() bool
}

// HandlerDef declares one handler method inside an index entry.
type HandlerDef struct {
	// MethodName is the handler method's name on the subscriber type.
	MethodName string
	// EventType is the handler's event parameter type.
	EventType reflect.Type
	// Mode, Priority and Sticky mirror HandlerConfig.
	Mode     ThreadMode
	Priority int
	Sticky   bool
	// Invoke is the generated dispatch stub. When nil the bus binds
	// the method by name, which still avoids discovery-time scanning
	// but not the reflective call.
	Invoke func(subscriber, event any) error
}

// SimpleSubscriberInfo is the ready-made SubscriberInfo used by
// generated indexes.
type SimpleSubscriberInfo struct {
	typ             reflect.Type
	checkSupertypes bool
	handlers        []HandlerDef
	superclass      SubscriberInfo
}

// NewSubscriberInfo builds an index entry for a subscriber type.
func NewSubscriberInfo(subscriberType reflect.Type, checkSupertypes bool, handlers []HandlerDef) *SimpleSubscriberInfo {
	return &SimpleSubscriberInfo{
		typ:             subscriberType,
		checkSupertypes: checkSupertypes,
		handlers:        handlers,
	}
}

// WithSuperclass chains the group of the next embedded level.
func (si *SimpleSubscriberInfo) WithSuperclass(super SubscriberInfo) *SimpleSubscriberInfo {
	si.superclass = super
	return si
}

func (si *SimpleSubscriberInfo) SubscriberType() reflect.Type { return si.typ }
func (si *SimpleSubscriberInfo) Handlers() []HandlerDef       { return si.handlers }
func (si *SimpleSubscriberInfo) Superclass() SubscriberInfo   { return si.superclass }
func (si *SimpleSubscriberInfo) CheckSupertypes() bool        { return si.checkSupertypes }

// MapIndex is a HandlerIndex backed by a plain map, the shape emitted
// by generators.
type MapIndex map[reflect.Type]SubscriberInfo

func (idx MapIndex) InfoFor(subscriberType reflect.Type) SubscriberInfo {
	return idx[subscriberType]
}

// descriptorFromDef materializes an index definition into a descriptor,
// synthesizing a reflective stub when the generator supplied none.
func (f *handlerFinder) descriptorFromDef(levelType reflect.Type, path []int, def HandlerDef) (*HandlerDescriptor, error) {
	if def.MethodName == "" || def.EventType == nil {
		return nil, fmt.Errorf("%w: index entry for %v lacks method name or event type", ErrHandlerShape, levelType)
	}
	inv := def.Invoke
	if inv == nil {
		var err error
		inv, err = boundInvoker(levelType, path, def.MethodName)
		if err != nil {
			return nil, err
		}
	}
	return &HandlerDescriptor{
		TargetType: levelType,
		MethodName: def.MethodName,
		EventType:  def.EventType,
		Mode:       def.Mode,
		Priority:   def.Priority,
		Sticky:     def.Sticky,
		invoke:     inv,
		key:        signatureKey(def.MethodName, def.EventType),
	}, nil
}

// boundInvoker resolves an indexed method without a generated stub.
func boundInvoker(levelType reflect.Type, path []int, name string) (invoker, error) {
	mt := levelType
	if len(path) == 0 {
		m, ok := mt.MethodByName(name)
		if !ok && mt.Kind() != reflect.Pointer {
			m, ok = reflect.PointerTo(mt).MethodByName(name)
		}
		if !ok {
			return nil, fmt.Errorf("%w: indexed method %v.%s not found", ErrHandlerShape, levelType, name)
		}
		if !validHandlerShape(m.Type) {
			return nil, fmt.Errorf("%w: indexed method %v.%s has an invalid signature", ErrHandlerShape, levelType, name)
		}
		return methodInvoker(m, nil), nil
	}
	// Embedded level: resolve through the declaring field at call
	// time, same as reflective discovery.
	if mt.Kind() == reflect.Struct {
		mt = reflect.PointerTo(mt)
	}
	m, ok := mt.MethodByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: indexed method %v.%s not found", ErrHandlerShape, levelType, name)
	}
	if !validHandlerShape(m.Type) {
		return nil, fmt.Errorf("%w: indexed method %v.%s has an invalid signature", ErrHandlerShape, levelType, name)
	}
	return methodInvoker(m, path), nil
}
