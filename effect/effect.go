// Package effect lets hosts declare named side effects the reasoning engine
// may request: each Definition carries a typed parameter list and a handler.
// Defined effects take dispatch priority over the built-in verbs, but the
// built-in verb names themselves are reserved and cannot be shadowed.
package effect

import (
	"fmt"
	"sort"

	"github.com/hupe1980/polymesh/core"
	"github.com/hupe1980/polymesh/internal/util"
)

// reservedNames are the built-in reasoning verbs an effect may not shadow.
var reservedNames = map[string]bool{
	"read_value":    true,
	"write_value":   true,
	"read_attr":     true,
	"write_attr":    true,
	"call_function": true,
	"remember_fact": true,
	"done":          true,
}

// Handler executes an effect with its resolved keyword arguments.
type Handler func(args map[string]any) (any, error)

// Param describes one effect parameter. Type is a JSON Schema scalar name
// (string, number, integer, boolean, array, object); when empty it is
// inferred from Default, falling back to string.
type Param struct {
	Name     string
	Type     string
	Required bool
	Default  any
}

// Definition declares a host side effect callable by name from the
// reasoning engine.
type Definition struct {
	Name        string
	Description string
	Params      []Param
	Handler     Handler
}

// Registry holds the defined effects of one host. It is not safe for
// concurrent mutation; define effects at wiring time.
type Registry struct {
	effects map[string]*Definition
}

// NewRegistry creates an empty effect registry.
func NewRegistry() *Registry {
	return &Registry{effects: make(map[string]*Definition)}
}

// Define registers an effect. Names must be valid identifiers, must not
// collide with a built-in verb and must not already be defined.
func (r *Registry) Define(def Definition) error {
	if err := core.CheckIdentifier(def.Name); err != nil {
		return err
	}
	if reservedNames[def.Name] {
		return fmt.Errorf("effect name %q shadows a built-in verb", def.Name)
	}
	if _, exists := r.effects[def.Name]; exists {
		return fmt.Errorf("effect %q already defined", def.Name)
	}
	if def.Handler == nil {
		return fmt.Errorf("effect %q has no handler", def.Name)
	}
	for i := range def.Params {
		p := &def.Params[i]
		if err := core.CheckIdentifier(p.Name); err != nil {
			return err
		}
		if p.Type == "" {
			p.Type = inferType(p.Default)
		}
	}
	stored := def
	r.effects[def.Name] = &stored
	return nil
}

// Undefine removes an effect, reporting whether it existed.
func (r *Registry) Undefine(name string) bool {
	if _, ok := r.effects[name]; !ok {
		return false
	}
	delete(r.effects, name)
	return true
}

// Clear removes every defined effect.
func (r *Registry) Clear() {
	r.effects = make(map[string]*Definition)
}

// Lookup returns a defined effect by name.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	def, ok := r.effects[name]
	return def, ok
}

// Names returns every defined effect name in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.effects))
	for n := range r.effects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Invoke runs a defined effect with keyword arguments. Missing required
// parameters and type mismatches fail naming the parameter; absent optional
// parameters receive their defaults; keys that match no parameter are
// ignored.
func (r *Registry) Invoke(name string, args map[string]any) (any, error) {
	def, ok := r.effects[name]
	if !ok {
		return nil, fmt.Errorf("unknown effect %q", name)
	}

	specs := make([]util.FieldSpec, len(def.Params))
	for i, p := range def.Params {
		specs[i] = util.FieldSpec{Name: p.Name, Type: p.Type, Required: p.Required}
	}
	if err := util.ValidateArgs(args, specs); err != nil {
		return nil, fmt.Errorf("effect %q: %w", name, err)
	}

	resolved := make(map[string]any, len(def.Params))
	for _, p := range def.Params {
		v, present := args[p.Name]
		if !present {
			v = p.Default
		}
		resolved[p.Name] = v
	}
	return def.Handler(resolved)
}

// Schema renders the JSON Schema input object for one effect, suitable for
// a backend tool definition.
func (d *Definition) Schema() map[string]any {
	properties := make(map[string]any, len(d.Params))
	var required []string
	for _, p := range d.Params {
		prop := map[string]any{"type": p.Type}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sort.Strings(required)
		schema["required"] = required
	}
	return schema
}

// BindEnvironment exposes every defined effect as a callable environment
// function, so execution engines can trigger effects the same way the
// reasoning engine does. Positional arguments map onto the declared
// parameters in order; a single map argument is treated as keyword
// arguments instead.
func (r *Registry) BindEnvironment(env *core.Environment) error {
	for _, name := range r.Names() {
		name := name
		err := env.RegisterFunction(name, func(args ...any) (any, error) {
			def, ok := r.effects[name]
			if !ok {
				return nil, fmt.Errorf("unknown effect %q", name)
			}
			if len(args) == 1 {
				if m, isMap := args[0].(map[string]any); isMap {
					return r.Invoke(name, m)
				}
			}
			if len(args) > len(def.Params) {
				return nil, fmt.Errorf("effect %q takes at most %d arguments, got %d", name, len(def.Params), len(args))
			}
			kwargs := make(map[string]any, len(args))
			for i, a := range args {
				kwargs[def.Params[i].Name] = a
			}
			return r.Invoke(name, kwargs)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ParamsFromStruct derives a parameter list from a struct's exported fields,
// honoring json tags. Pointer and omitempty fields become optional.
func ParamsFromStruct(v any) []Param {
	specs := util.FieldsFromStruct(v)
	params := make([]Param, len(specs))
	for i, s := range specs {
		params[i] = Param{Name: s.Name, Type: s.Type, Required: s.Required}
	}
	return params
}

// inferType maps a default value onto its JSON Schema type name.
func inferType(v any) string {
	switch v.(type) {
	case nil:
		return "string"
	case bool:
		return "boolean"
	case int, int32, int64:
		return "integer"
	case float32, float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "string"
	}
}
