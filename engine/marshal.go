package engine

import (
	"reflect"

	"github.com/hupe1980/polymesh/core"
	"github.com/hupe1980/polymesh/registry"
)

// IsPrimitive reports whether a value crosses engine boundaries by value:
// nil, booleans, strings and numeric scalars. Everything else travels as a
// registry handle.
func IsPrimitive(v any) bool {
	switch v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

// marshallable reports whether a value can be represented across an engine
// boundary at all. Functions and channels cannot.
func marshallable(v any) bool {
	if v == nil {
		return true
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return false
	}
	return true
}

// MarshalResult converts an engine result into its cross-boundary form.
// Primitives pass by value; existing remote references pass through
// untouched; any other value is registered and wrapped in a RemoteRef owned
// by the producing engine. Values that cannot be represented at all map to
// nil after a debug log entry.
func MarshalResult(ctx *core.Context, engineName string, v any) any {
	if IsPrimitive(v) {
		return v
	}
	if ref, ok := v.(*registry.RemoteRef); ok {
		return ref
	}
	if !marshallable(v) {
		ctx.Logger().Debug("marshal.skip", "engine", engineName, "type", registry.TypeTag(v))
		return nil
	}
	handle := ctx.Registry().Register(v)
	return registry.NewRemoteRef(ctx.Registry(), handle, engineName)
}

// SanitizeMap copies a map, dropping entries whose values cannot cross the
// boundary. Dropped keys are logged at debug level, never an error.
func SanitizeMap(ctx *core.Context, engineName string, m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if !marshallable(v) {
			ctx.Logger().Debug("marshal.skip", "engine", engineName, "key", k, "type", registry.TypeTag(v))
			continue
		}
		out[k] = v
	}
	return out
}

// SanitizeSlice copies a slice, dropping elements that cannot cross the
// boundary. Dropped indexes are logged at debug level.
func SanitizeSlice(ctx *core.Context, engineName string, s []any) []any {
	out := make([]any, 0, len(s))
	for i, v := range s {
		if !marshallable(v) {
			ctx.Logger().Debug("marshal.skip", "engine", engineName, "index", i, "type", registry.TypeTag(v))
			continue
		}
		out = append(out, v)
	}
	return out
}

// Unwrap resolves a remote reference back to its underlying value for
// engines that can consume the real object directly. Primitives and released
// handles return as-is and an error respectively.
func Unwrap(v any) (any, error) {
	if ref, ok := v.(*registry.RemoteRef); ok {
		return ref.Value()
	}
	return v, nil
}
