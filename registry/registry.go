// Package registry implements the cross-engine object registry and the
// remote reference proxy mechanism. Non-primitive values crossing an engine
// boundary are registered here and travel as opaque integer handles; the
// receiving side wraps the handle in a RemoteRef that forwards operations
// back to the owning registry.
package registry

import (
	"fmt"
	"reflect"

	"github.com/hupe1980/polymesh/logging"
)

// entry is a single registered object plus its cached type tag.
type entry struct {
	value   any
	typeTag string
}

// Options configures a Registry instance.
type Options struct {
	// Logger receives release diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
}

// identityKey is a referential identity for dedup. Slices carry length and
// capacity so reslices of a shared backing array stay distinct.
type identityKey struct {
	ptr      uintptr
	len, cap int
}

// Registry assigns monotonically increasing handles to non-primitive values
// crossing engine boundaries and tracks their liveness.
//
// Contract:
//   - Handles are positive and never reused; handle 0 is never valid
//   - Registering the same referential value twice returns the same handle
//   - Release is idempotent; the second call returns false and fires no callback
//   - Clear releases every live handle through the single-release path
//
// A Registry belongs to exactly one execution context and is never shared
// across contexts, so no internal locking is required by construction.
type Registry struct {
	next      int64
	entries   map[int64]entry
	identity  map[identityKey]int64
	callbacks []func(handle int64)
	logger    logging.Logger
}

// New constructs an empty Registry.
func New(optFns ...func(o *Options)) *Registry {
	opts := Options{Logger: logging.NoOpLogger{}}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Registry{
		next:     1,
		entries:  make(map[int64]entry),
		identity: make(map[identityKey]int64),
		logger:   opts.Logger,
	}
}

// Register stores a value and returns its handle. Registration deduplicates
// by reference identity, not value equality: passing the same pointer, map,
// slice, channel or function twice yields the identical handle. Values
// without a stable identity (plain structs, numbers, strings) always receive
// a fresh handle.
func (r *Registry) Register(value any) int64 {
	if id, ok := identityOf(value); ok {
		if h, seen := r.identity[id]; seen {
			if _, live := r.entries[h]; live {
				return h
			}
			delete(r.identity, id)
		}
		h := r.allocate(value)
		r.identity[id] = h
		return h
	}
	return r.allocate(value)
}

func (r *Registry) allocate(value any) int64 {
	h := r.next
	r.next++
	r.entries[h] = entry{value: value, typeTag: TypeTag(value)}
	r.logger.Debug("registry.register", "handle", h, "type", r.entries[h].typeTag)
	return h
}

// Get resolves a handle to its registered value. The second return value
// reports whether the handle is live.
func (r *Registry) Get(handle int64) (any, bool) {
	e, ok := r.entries[handle]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// TypeOf returns the cached type tag for a live handle.
func (r *Registry) TypeOf(handle int64) (string, bool) {
	e, ok := r.entries[handle]
	if !ok {
		return "", false
	}
	return e.typeTag, true
}

// Release frees a handle. The first call returns true and fires every
// registered release callback exactly once; subsequent calls on the same
// handle return false and fire nothing. A panicking callback does not stop
// the remaining callbacks or break the release itself.
func (r *Registry) Release(handle int64) bool {
	e, ok := r.entries[handle]
	if !ok {
		return false
	}
	delete(r.entries, handle)
	if id, hasID := identityOf(e.value); hasID {
		if r.identity[id] == handle {
			delete(r.identity, id)
		}
	}
	for _, cb := range r.callbacks {
		r.fire(cb, handle)
	}
	r.logger.Debug("registry.release", "handle", handle)
	return true
}

func (r *Registry) fire(cb func(handle int64), handle int64) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("registry.callback.panic", "handle", handle, "panic", fmt.Sprintf("%v", rec))
		}
	}()
	cb(handle)
}

// OnRelease registers a callback fired once per released handle. Multiple
// independent callbacks are supported.
func (r *Registry) OnRelease(cb func(handle int64)) {
	r.callbacks = append(r.callbacks, cb)
}

// Clear releases every live handle through the single-release path so each
// callback fires exactly once per handle.
func (r *Registry) Clear() {
	handles := make([]int64, 0, len(r.entries))
	for h := range r.entries {
		handles = append(handles, h)
	}
	for _, h := range handles {
		r.Release(h)
	}
}

// Len reports the number of live handles.
func (r *Registry) Len() int { return len(r.entries) }

// TypeTag renders a short type name for a value, used as the cached type on
// remote references.
func TypeTag(value any) string {
	if value == nil {
		return "nil"
	}
	t := reflect.TypeOf(value)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.Kind().String()
}

// identityOf extracts a stable referential identity for values that have one.
// Pointers, maps, slices, channels, functions and unsafe pointers qualify;
// everything else is treated as value-like.
func identityOf(value any) (identityKey, bool) {
	if value == nil {
		return identityKey{}, false
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return identityKey{ptr: v.Pointer()}, true
	case reflect.Slice:
		if v.Cap() == 0 {
			return identityKey{}, false
		}
		return identityKey{ptr: v.Pointer(), len: v.Len(), cap: v.Cap()}, true
	default:
		return identityKey{}, false
	}
}
