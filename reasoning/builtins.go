package reasoning

import (
	"context"
	"fmt"

	"github.com/hupe1980/polymesh/backend"
	"github.com/hupe1980/polymesh/core"
)

// builtin verb names, reserved against effect definitions
const (
	verbReadValue    = "read_value"
	verbWriteValue   = "write_value"
	verbReadAttr     = "read_attr"
	verbWriteAttr    = "write_attr"
	verbCallFunction = "call_function"
	verbRememberFact = "remember_fact"
	verbDone         = "done"
)

// builtin executes one of the built-in verbs. Unknown verbs and argument
// failures produce textual results, never hard errors.
func (l *Loop) builtin(_ context.Context, cctx *core.Context, env *core.Environment, call backend.ToolUse) (string, bool, any) {
	switch call.Name {
	case verbReadValue:
		name, err := stringArg(call.Input, "name")
		if err != nil {
			return renderResult(nil, err), false, nil
		}
		v, ok := env.Get(name)
		if !ok {
			return fmt.Sprintf("error: no value named %q", name), false, nil
		}
		return renderResult(v, nil), false, nil

	case verbWriteValue:
		name, err := stringArg(call.Input, "name")
		if err != nil {
			return renderResult(nil, err), false, nil
		}
		if err := core.CheckIdentifier(name); err != nil {
			return renderResult(nil, err), false, nil
		}
		env.Set(name, call.Input["value"])
		return "ok", false, nil

	case verbReadAttr:
		name, err := stringArg(call.Input, "name")
		if err != nil {
			return renderResult(nil, err), false, nil
		}
		attr, err := stringArg(call.Input, "attr")
		if err != nil {
			return renderResult(nil, err), false, nil
		}
		obj, ok := env.Get(name)
		if !ok {
			return fmt.Sprintf("error: no value named %q", name), false, nil
		}
		v, err := env.GetAttr(obj, attr)
		return renderResult(v, err), false, nil

	case verbWriteAttr:
		name, err := stringArg(call.Input, "name")
		if err != nil {
			return renderResult(nil, err), false, nil
		}
		attr, err := stringArg(call.Input, "attr")
		if err != nil {
			return renderResult(nil, err), false, nil
		}
		obj, ok := env.Get(name)
		if !ok {
			return fmt.Sprintf("error: no value named %q", name), false, nil
		}
		err = env.SetAttr(obj, attr, call.Input["value"])
		return renderResult(nil, err), false, nil

	case verbCallFunction:
		name, err := stringArg(call.Input, "name")
		if err != nil {
			return renderResult(nil, err), false, nil
		}
		var args []any
		if raw, ok := call.Input["args"].([]any); ok {
			args = raw
		}
		// receiver methods are advertised alongside registered functions,
		// so unregistered names fall through to the receiver
		var out any
		if _, registered := env.Function(name); !registered && env.Receiver() != nil {
			out, err = env.CallReceiver(name, args...)
		} else {
			out, err = env.CallFunction(name, args...)
		}
		return renderResult(out, err), false, nil

	case verbRememberFact:
		content, err := stringArg(call.Input, "content")
		if err != nil {
			return renderResult(nil, err), false, nil
		}
		if cctx.Incognito() {
			return "error: facts cannot be stored in an incognito section", false, nil
		}
		fact := cctx.Memory().Remember(content)
		return fmt.Sprintf("remembered fact %d", fact.ID), false, nil

	case verbDone:
		return "done", true, call.Input["result"]
	}

	return fmt.Sprintf("unhandled tool: %q", call.Name), false, nil
}

func stringArg(input map[string]any, key string) (string, error) {
	v, ok := input[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string, got %T", key, v)
	}
	return s, nil
}

// builtinDefinitions enumerates the built-in verbs as tool definitions.
func builtinDefinitions() []backend.ToolDefinition {
	str := func() map[string]any { return map[string]any{"type": "string"} }
	obj := func(props map[string]any, required ...string) map[string]any {
		schema := map[string]any{"type": "object", "properties": props}
		if len(required) > 0 {
			schema["required"] = required
		}
		return schema
	}

	return []backend.ToolDefinition{
		{
			Name:        verbReadValue,
			Description: "Read a named value from the shared environment.",
			InputSchema: obj(map[string]any{"name": str()}, "name"),
		},
		{
			Name:        verbWriteValue,
			Description: "Write a named value into the shared environment.",
			InputSchema: obj(map[string]any{"name": str(), "value": map[string]any{}}, "name"),
		},
		{
			Name:        verbReadAttr,
			Description: "Read an attribute of a named environment value.",
			InputSchema: obj(map[string]any{"name": str(), "attr": str()}, "name", "attr"),
		},
		{
			Name:        verbWriteAttr,
			Description: "Write an attribute of a named environment value.",
			InputSchema: obj(map[string]any{"name": str(), "attr": str(), "value": map[string]any{}}, "name", "attr"),
		},
		{
			Name:        verbCallFunction,
			Description: "Call a registered host function or receiver method with positional arguments.",
			InputSchema: obj(map[string]any{"name": str(), "args": map[string]any{"type": "array"}}, "name"),
		},
		{
			Name:        verbRememberFact,
			Description: "Store a durable fact in long-term memory.",
			InputSchema: obj(map[string]any{"content": str()}, "content"),
		},
		{
			Name:        verbDone,
			Description: "Finish the current task, optionally returning a result.",
			InputSchema: obj(map[string]any{"result": map[string]any{}}),
		},
	}
}
