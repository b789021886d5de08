package registry

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// ReleasedReferenceError is returned by every RemoteRef operation after the
// underlying handle has been released.
type ReleasedReferenceError struct {
	Handle   int64
	TypeName string
}

func (e *ReleasedReferenceError) Error() string {
	return fmt.Sprintf("remote reference %d (%s) has been released", e.Handle, e.TypeName)
}

// RemoteRef is a proxy letting one engine transparently operate on a value
// owned by another engine's context. It wraps the handle, the owning
// registry and the cached type name; every operation resolves the handle
// first and fails with *ReleasedReferenceError once the handle is gone.
//
// Explicit Release is the reliable lifetime mechanism. A best-effort
// finalizer additionally releases the handle when the proxy itself becomes
// unreachable, so a foreign engine's garbage collector can inform the owner
// without a round-trip protocol. Finalizer timing is never guaranteed.
type RemoteRef struct {
	handle   int64
	source   string
	typeName string
	registry *Registry
	released bool
}

// NewRemoteRef wraps a live handle in a proxy. The source tag names the
// engine that owns the underlying value.
func NewRemoteRef(reg *Registry, handle int64, source string) *RemoteRef {
	typeName, _ := reg.TypeOf(handle)
	ref := &RemoteRef{handle: handle, source: source, typeName: typeName, registry: reg}
	runtime.SetFinalizer(ref, func(r *RemoteRef) { r.Release() })
	return ref
}

// Handle returns the underlying registry handle.
func (r *RemoteRef) Handle() int64 { return r.handle }

// Source returns the tag of the engine that owns the value.
func (r *RemoteRef) Source() string { return r.source }

// TypeName returns the cached type name recorded at wrap time.
func (r *RemoteRef) TypeName() string { return r.typeName }

// String renders a stable textual form useful in prompts and logs.
func (r *RemoteRef) String() string {
	return fmt.Sprintf("<remote %s#%d from %s>", r.typeName, r.handle, r.source)
}

func (r *RemoteRef) resolve() (any, error) {
	v, ok := r.registry.Get(r.handle)
	if !ok {
		return nil, &ReleasedReferenceError{Handle: r.handle, TypeName: r.typeName}
	}
	return v, nil
}

// Value resolves the proxied value, failing once released.
func (r *RemoteRef) Value() (any, error) {
	return r.resolve()
}

// Release frees the underlying handle. Safe to call multiple times; only the
// first call releases. Returns whether this call performed the release.
func (r *RemoteRef) Release() bool {
	if r.released {
		return false
	}
	r.released = true
	runtime.SetFinalizer(r, nil)
	return r.registry.Release(r.handle)
}

// Call invokes a named operation on the proxied value. Common container
// shapes answer a small built-in method set (length, get, set, keys,
// contains, string); struct values additionally expose their exported
// reflected methods.
func (r *RemoteRef) Call(method string, args ...any) (any, error) {
	value, err := r.resolve()
	if err != nil {
		return nil, err
	}
	return callOn(value, method, args)
}

// Invoke runs a named operation against an arbitrary value using the same
// method resolution as RemoteRef.Call: built-in container methods first,
// then exported reflected methods.
func Invoke(value any, method string, args []any) (any, error) {
	return callOn(value, method, args)
}

func callOn(value any, method string, args []any) (any, error) {
	switch method {
	case "length":
		if n, ok := lengthOf(value); ok {
			return n, nil
		}
	case "string":
		return fmt.Sprintf("%v", value), nil
	case "get":
		if len(args) == 1 {
			if v, ok, err := indexInto(value, args[0]); ok || err != nil {
				return v, err
			}
		}
	case "set":
		if len(args) == 2 {
			if ok, err := assignInto(value, args[0], args[1]); ok || err != nil {
				return nil, err
			}
		}
	case "keys":
		if ks, ok := keysOf(value); ok {
			return ks, nil
		}
	case "contains":
		if len(args) == 1 {
			if found, ok := containsIn(value, args[0]); ok {
				return found, nil
			}
		}
	}
	return reflectCall(value, method, args)
}

func lengthOf(value any) (int, bool) {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return v.Len(), true
	}
	return 0, false
}

func indexInto(value any, key any) (any, bool, error) {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		idx, ok := asInt(key)
		if !ok {
			return nil, true, fmt.Errorf("get: index must be an integer, got %T", key)
		}
		if idx < 0 || idx >= v.Len() {
			return nil, true, fmt.Errorf("get: index %d out of range (len %d)", idx, v.Len())
		}
		return v.Index(idx).Interface(), true, nil
	case reflect.Map:
		kv := reflect.ValueOf(key)
		if !kv.IsValid() || !kv.Type().AssignableTo(v.Type().Key()) {
			return nil, true, fmt.Errorf("get: key %v not usable for %s", key, v.Type())
		}
		got := v.MapIndex(kv)
		if !got.IsValid() {
			return nil, true, nil
		}
		return got.Interface(), true, nil
	}
	return nil, false, nil
}

func assignInto(value any, key, val any) (bool, error) {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Slice:
		idx, ok := asInt(key)
		if !ok {
			return true, fmt.Errorf("set: index must be an integer, got %T", key)
		}
		if idx < 0 || idx >= v.Len() {
			return true, fmt.Errorf("set: index %d out of range (len %d)", idx, v.Len())
		}
		ev := reflect.ValueOf(val)
		if !ev.IsValid() || !ev.Type().AssignableTo(v.Type().Elem()) {
			return true, fmt.Errorf("set: value %v not assignable to %s element", val, v.Type())
		}
		v.Index(idx).Set(ev)
		return true, nil
	case reflect.Map:
		kv := reflect.ValueOf(key)
		ev := reflect.ValueOf(val)
		if !kv.IsValid() || !kv.Type().AssignableTo(v.Type().Key()) {
			return true, fmt.Errorf("set: key %v not usable for %s", key, v.Type())
		}
		if !ev.IsValid() || !ev.Type().AssignableTo(v.Type().Elem()) {
			return true, fmt.Errorf("set: value %v not assignable to %s element", val, v.Type())
		}
		v.SetMapIndex(kv, ev)
		return true, nil
	}
	return false, nil
}

func keysOf(value any) ([]any, bool) {
	v := reflect.ValueOf(value)
	if v.Kind() != reflect.Map {
		return nil, false
	}
	keys := make([]any, 0, v.Len())
	for _, k := range v.MapKeys() {
		keys = append(keys, k.Interface())
	}
	return keys, true
}

func containsIn(value any, needle any) (bool, bool) {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if reflect.DeepEqual(v.Index(i).Interface(), needle) {
				return true, true
			}
		}
		return false, true
	case reflect.Map:
		kv := reflect.ValueOf(needle)
		if kv.IsValid() && kv.Type().AssignableTo(v.Type().Key()) {
			return v.MapIndex(kv).IsValid(), true
		}
		return false, true
	case reflect.String:
		if s, ok := needle.(string); ok {
			return strings.Contains(v.String(), s), true
		}
		return false, true
	}
	return false, false
}

// reflectCall looks up an exported method on the value (or its pointer) and
// invokes it with the provided arguments.
func reflectCall(value any, method string, args []any) (any, error) {
	v := reflect.ValueOf(value)
	m := v.MethodByName(exportedName(method))
	if !m.IsValid() && v.Kind() != reflect.Ptr && v.CanAddr() {
		m = v.Addr().MethodByName(exportedName(method))
	}
	if !m.IsValid() {
		return nil, fmt.Errorf("no method %q on %s", method, TypeTag(value))
	}
	mt := m.Type()
	if mt.NumIn() != len(args) && !mt.IsVariadic() {
		return nil, fmt.Errorf("method %q expects %d args, got %d", method, mt.NumIn(), len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		av := reflect.ValueOf(a)
		var want reflect.Type
		if mt.IsVariadic() && i >= mt.NumIn()-1 {
			want = mt.In(mt.NumIn() - 1).Elem()
		} else {
			want = mt.In(i)
		}
		if !av.IsValid() {
			in[i] = reflect.Zero(want)
			continue
		}
		if av.Type().ConvertibleTo(want) {
			in[i] = av.Convert(want)
			continue
		}
		return nil, fmt.Errorf("method %q arg %d: cannot use %T", method, i, a)
	}
	out := m.Call(in)
	if len(out) == 0 {
		return nil, nil
	}
	errType := reflect.TypeOf((*error)(nil)).Elem()
	last := len(out) - 1
	if mt.Out(last).Implements(errType) {
		if !out[last].IsNil() {
			return nil, out[last].Interface().(error)
		}
		out = out[:last]
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0].Interface(), nil
	default:
		results := make([]any, len(out))
		for i, o := range out {
			results[i] = o.Interface()
		}
		return results, nil
	}
}

func exportedName(method string) string {
	if method == "" {
		return method
	}
	return strings.ToUpper(method[:1]) + method[1:]
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int64(n)) {
			return int(n), true
		}
	case float32:
		if float64(n) == float64(int64(n)) {
			return int(n), true
		}
	}
	return 0, false
}
