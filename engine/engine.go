// Package engine defines the execution engine abstraction and its concrete
// implementations: a native expression evaluator, an embedded JavaScript
// runtime and a Python subprocess bridge. A heuristic Detector routes each
// source snippet to the engine most likely to run it, falling back to the
// reasoning engine when nothing scores.
//
// Engines share one Environment per context; values crossing an engine
// boundary are marshalled by value when primitive and proxied through the
// object registry otherwise.
package engine

import (
	"github.com/hupe1980/polymesh/core"
)

// Capabilities describes what an engine can do. All fields derive from
// whether the engine executes code; the reasoning engine is the only
// non-executing engine.
type Capabilities struct {
	// Executes reports whether the engine runs code rather than
	// delegating to a language model.
	Executes bool

	// SharesEnvironment reports whether the engine reads and writes the
	// shared Environment directly.
	SharesEnvironment bool

	// ProducesHandles reports whether the engine can return registry
	// handles for non-primitive results.
	ProducesHandles bool
}

// Engine runs source text against the shared environment of a context.
type Engine interface {
	// Name returns the language tag used by dispatch ("native", "js",
	// "python", "reasoning").
	Name() string

	// IsExecution reports whether the engine executes code. The reasoning
	// engine returns false.
	IsExecution() bool

	// Execute runs a source snippet. The result is a primitive value or a
	// *registry.RemoteRef for values that cannot cross the boundary by
	// value.
	Execute(ctx *core.Context, env *core.Environment, source string) (any, error)
}

// CapabilitiesOf derives the capability set of an engine.
func CapabilitiesOf(e Engine) Capabilities {
	exec := e.IsExecution()
	return Capabilities{
		Executes:          exec,
		SharesEnvironment: exec,
		ProducesHandles:   exec,
	}
}
