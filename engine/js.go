package engine

import (
	"fmt"

	"github.com/dop251/goja"
	"github.com/hupe1980/polymesh/core"
	"github.com/hupe1980/polymesh/logging"
)

// JSOptions configures the JavaScript engine.
type JSOptions struct {
	Logger logging.Logger
}

// JS executes snippets on an embedded goja runtime. Each Execute call gets a
// fresh runtime seeded from the shared environment; environment names become
// globals and registered host functions become callable. After the run every
// global the snippet created or reassigned is synced back, so its state is
// visible to every other engine.
type JS struct {
	logger logging.Logger
}

// NewJS creates the JavaScript engine.
func NewJS(optFns ...func(o *JSOptions)) *JS {
	opts := JSOptions{Logger: logging.NoOpLogger{}}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &JS{logger: opts.Logger}
}

// Name implements Engine.
func (j *JS) Name() string { return "js" }

// IsExecution implements Engine.
func (j *JS) IsExecution() bool { return true }

// Execute implements Engine.
func (j *JS) Execute(ctx *core.Context, env *core.Environment, source string) (any, error) {
	vm := goja.New()

	for _, name := range env.Names() {
		v, _ := env.Get(name)
		unwrapped, err := Unwrap(v)
		if err != nil {
			return nil, err
		}
		if err := vm.Set(name, unwrapped); err != nil {
			return nil, fmt.Errorf("seed %q: %w", name, err)
		}
	}

	// host callables never sync back as values
	bound := map[string]bool{"remember": true}
	for _, name := range env.FunctionNames() {
		name := name
		bound[name] = true
		fn := func(args ...any) (any, error) {
			return env.CallFunction(name, args...)
		}
		if err := vm.Set(name, fn); err != nil {
			return nil, fmt.Errorf("bind %q: %w", name, err)
		}
	}

	if err := vm.Set("remember", func(content string) int64 {
		if ctx.Incognito() {
			return 0
		}
		return ctx.Memory().Remember(content).ID
	}); err != nil {
		return nil, err
	}

	value, err := vm.RunString(source)
	if err != nil {
		return nil, fmt.Errorf("js: %w", err)
	}

	// sync mutated and newly created globals back into the shared
	// environment; goja builtins are non-enumerable and stay out of Keys
	global := vm.GlobalObject()
	for _, name := range global.Keys() {
		if bound[name] || !core.ValidIdentifier(name) {
			continue
		}
		gv := global.Get(name)
		if gv == nil || goja.IsUndefined(gv) {
			continue
		}
		exported := gv.Export()
		if !marshallable(exported) {
			j.logger.Debug("marshal.skip", "engine", j.Name(), "key", name)
			continue
		}
		env.Set(name, exported)
	}

	ctx.SetLastLanguage(j.Name())

	var result any
	if value != nil && !goja.IsUndefined(value) && !goja.IsNull(value) {
		result = value.Export()
	}
	return MarshalResult(ctx, j.Name(), result), nil
}
