package core

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/hupe1980/polymesh/registry"
)

// Function is a host callable registered on an Environment and invocable by
// name from any engine with positional arguments.
type Function func(args ...any) (any, error)

// EnvironmentOptions configures an Environment instance.
type EnvironmentOptions struct {
	// Receiver is the implicit host object whose exported methods are
	// statically discoverable by the reasoning engine.
	Receiver any

	// AttrSafelist enumerates the struct field names reachable through
	// attribute access. Attribute reads and writes outside the safelist
	// fail; map values are exempt since their keys are data, not surface.
	AttrSafelist []string
}

// Environment is the shared addressable program state every engine executes
// against. It is owned by the host, passed by reference into every engine
// call and never owned by any engine.
//
// It combines three surfaces:
//   - a name -> value map (Get/Set/Has/Names)
//   - an explicit function registry (RegisterFunction/CallFunction)
//   - an implicit receiver exposing exported methods plus safelisted
//     attribute access for struct values
type Environment struct {
	values   map[string]any
	funcs    map[string]Function
	receiver any
	safelist map[string]bool
}

// NewEnvironment constructs an empty Environment.
func NewEnvironment(optFns ...func(o *EnvironmentOptions)) *Environment {
	opts := EnvironmentOptions{}

	for _, fn := range optFns {
		fn(&opts)
	}

	env := &Environment{
		values:   make(map[string]any),
		funcs:    make(map[string]Function),
		receiver: opts.Receiver,
		safelist: make(map[string]bool),
	}
	for _, name := range opts.AttrSafelist {
		env.safelist[name] = true
	}
	return env
}

// Get returns a named value and whether it exists.
func (e *Environment) Get(name string) (any, bool) {
	v, ok := e.values[name]
	return v, ok
}

// Set stores a named value, creating or overwriting it.
func (e *Environment) Set(name string, value any) {
	e.values[name] = value
}

// Has reports whether a name is bound.
func (e *Environment) Has(name string) bool {
	_, ok := e.values[name]
	return ok
}

// Delete removes a binding, reporting whether it existed.
func (e *Environment) Delete(name string) bool {
	if _, ok := e.values[name]; !ok {
		return false
	}
	delete(e.values, name)
	return true
}

// Names returns every bound name in sorted order.
func (e *Environment) Names() []string {
	names := make([]string, 0, len(e.values))
	for n := range e.values {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RegisterFunction exposes a host callable by name to every engine. The name
// must be a valid identifier.
func (e *Environment) RegisterFunction(name string, fn Function) error {
	if err := CheckIdentifier(name); err != nil {
		return err
	}
	e.funcs[name] = fn
	return nil
}

// Function looks up a registered callable.
func (e *Environment) Function(name string) (Function, bool) {
	fn, ok := e.funcs[name]
	return fn, ok
}

// FunctionNames returns every registered function name in sorted order.
func (e *Environment) FunctionNames() []string {
	names := make([]string, 0, len(e.funcs))
	for n := range e.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CallFunction invokes a registered callable by name. Unknown names are
// rejected; there is no fallback to open-ended reflection.
func (e *Environment) CallFunction(name string, args ...any) (any, error) {
	fn, ok := e.funcs[name]
	if !ok {
		return nil, fmt.Errorf("unknown function %q", name)
	}
	return fn(args...)
}

// SetReceiver replaces the implicit receiver.
func (e *Environment) SetReceiver(receiver any) {
	e.receiver = receiver
}

// Receiver returns the implicit receiver, or nil.
func (e *Environment) Receiver() any { return e.receiver }

// ReceiverMethods enumerates the exported method names of the receiver in
// sorted order. An empty slice is returned when no receiver is set.
func (e *Environment) ReceiverMethods() []string {
	if e.receiver == nil {
		return nil
	}
	t := reflect.TypeOf(e.receiver)
	methods := make([]string, 0, t.NumMethod())
	for i := 0; i < t.NumMethod(); i++ {
		methods = append(methods, t.Method(i).Name)
	}
	sort.Strings(methods)
	return methods
}

// CallReceiver invokes an exported method on the receiver by name.
func (e *Environment) CallReceiver(method string, args ...any) (any, error) {
	if e.receiver == nil {
		return nil, fmt.Errorf("no receiver configured")
	}
	return registry.Invoke(e.receiver, method, args)
}

// AllowAttrs extends the attribute safelist.
func (e *Environment) AllowAttrs(names ...string) {
	for _, n := range names {
		e.safelist[n] = true
	}
}

// GetAttr reads an attribute from a value. Map values answer key lookups;
// struct values (and pointers to them) answer exported, safelisted fields.
// Remote references are resolved before the read so attribute access works
// transparently across engine boundaries.
func (e *Environment) GetAttr(obj any, attr string) (any, error) {
	if err := CheckIdentifier(attr); err != nil {
		return nil, err
	}
	if ref, ok := obj.(*registry.RemoteRef); ok {
		resolved, err := ref.Value()
		if err != nil {
			return nil, err
		}
		obj = resolved
	}
	if m, ok := obj.(map[string]any); ok {
		v, exists := m[attr]
		if !exists {
			return nil, fmt.Errorf("no attribute %q", attr)
		}
		return v, nil
	}

	field, err := e.structField(obj, attr)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// SetAttr writes an attribute on a value under the same rules as GetAttr.
func (e *Environment) SetAttr(obj any, attr string, value any) error {
	if err := CheckIdentifier(attr); err != nil {
		return err
	}
	if ref, ok := obj.(*registry.RemoteRef); ok {
		resolved, err := ref.Value()
		if err != nil {
			return err
		}
		obj = resolved
	}
	if m, ok := obj.(map[string]any); ok {
		m[attr] = value
		return nil
	}

	field, err := e.structField(obj, attr)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("attribute %q is not settable", attr)
	}
	vv := reflect.ValueOf(value)
	if !vv.IsValid() {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}
	if !vv.Type().AssignableTo(field.Type()) {
		if vv.Type().ConvertibleTo(field.Type()) {
			vv = vv.Convert(field.Type())
		} else {
			return fmt.Errorf("cannot assign %T to attribute %q", value, attr)
		}
	}
	field.Set(vv)
	return nil
}

// structField resolves a safelisted exported field on a struct or pointer to
// struct. Attribute access never falls back to open reflection: names
// outside the safelist are rejected even when the field exists.
func (e *Environment) structField(obj any, attr string) (reflect.Value, error) {
	if !e.safelist[attr] {
		return reflect.Value{}, fmt.Errorf("attribute %q is not safelisted", attr)
	}
	v := reflect.ValueOf(obj)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, fmt.Errorf("nil object")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("value of type %T has no attributes", obj)
	}
	field := v.FieldByName(attr)
	if !field.IsValid() {
		return reflect.Value{}, fmt.Errorf("no attribute %q on %T", attr, obj)
	}
	return field, nil
}
