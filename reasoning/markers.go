package reasoning

import (
	"fmt"
	"strings"

	"github.com/hupe1980/polymesh/backend"
	"github.com/hupe1980/polymesh/core"
	"github.com/hupe1980/polymesh/memory"
	"github.com/hupe1980/polymesh/registry"
)

// Marker wraps an environment name in the angle bracket form the model is
// told to use when referring to shared state.
func Marker(name string) string {
	return "<" + name + ">"
}

// markedNames returns the environment names the prompt references through
// angle bracket markers, in sorted environment order.
func markedNames(env *core.Environment, prompt string) []string {
	var names []string
	for _, name := range env.Names() {
		if strings.Contains(prompt, Marker(name)) {
			names = append(names, name)
		}
	}
	return names
}

// systemPrompt renders the standing context of a reasoning round: the
// environment surface, long-term facts and rolling summaries. When the
// prompt references values by marker only those are serialized; otherwise
// the whole environment is listed. Incognito sections see a notice instead
// of the memory sections.
func (l *Loop) systemPrompt(cctx *core.Context, env *core.Environment, mem *memory.Memory, prompt string) string {
	var b strings.Builder

	b.WriteString("You operate on a shared environment. Refer to environment values by their ")
	b.WriteString("angle bracket markers and manipulate them only through the provided tools.\n")

	names := markedNames(env, prompt)
	if len(names) == 0 {
		names = env.Names()
	}
	if len(names) > 0 {
		b.WriteString("\nEnvironment values:\n")
		for _, name := range names {
			v, _ := env.Get(name)
			b.WriteString(fmt.Sprintf("  %s = %s\n", Marker(name), describeValue(v)))
		}
	}

	if fns := env.FunctionNames(); len(fns) > 0 {
		b.WriteString("\nCallable functions: ")
		b.WriteString(strings.Join(fns, ", "))
		b.WriteString("\n")
	}

	if methods := env.ReceiverMethods(); len(methods) > 0 {
		b.WriteString("Receiver methods: ")
		b.WriteString(strings.Join(methods, ", "))
		b.WriteString("\n")
	}

	if l.opts.Effects != nil {
		if names := l.opts.Effects.Names(); len(names) > 0 {
			b.WriteString("Available effects: ")
			b.WriteString(strings.Join(names, ", "))
			b.WriteString("\n")
		}
	}

	if cctx.Incognito() {
		b.WriteString("\nThis is an incognito section: stored memory is withheld and nothing will be remembered.\n")
		return b.String()
	}

	if summaries := mem.Summaries(); len(summaries) > 0 {
		b.WriteString("\nEarlier conversation, summarized:\n")
		for _, s := range summaries {
			b.WriteString("  " + s + "\n")
		}
	}

	if facts := mem.Facts(); len(facts) > 0 {
		b.WriteString("\nKnown facts:\n")
		for _, f := range facts {
			b.WriteString(fmt.Sprintf("  [%d] %s\n", f.ID, f.Content))
		}
	}

	return b.String()
}

// describeValue renders a value for the system prompt without dumping large
// structures verbatim.
func describeValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		if len(val) > 80 {
			return fmt.Sprintf("%q... (%d chars)", val[:80], len(val))
		}
		return fmt.Sprintf("%q", val)
	case *registry.RemoteRef:
		return val.String()
	case bool, int, int32, int64, float32, float64:
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("(%s)", registry.TypeTag(v))
	}
}

// toolDefinitions assembles the tool surface of one round: built-in verbs
// plus every defined effect. Incognito sections do not advertise
// remember_fact.
func (l *Loop) toolDefinitions(cctx *core.Context) []backend.ToolDefinition {
	all := builtinDefinitions()
	defs := make([]backend.ToolDefinition, 0, len(all))
	for _, d := range all {
		if cctx.Incognito() && d.Name == verbRememberFact {
			continue
		}
		defs = append(defs, d)
	}

	if l.opts.Effects != nil {
		for _, name := range l.opts.Effects.Names() {
			def, _ := l.opts.Effects.Lookup(name)
			defs = append(defs, backend.ToolDefinition{
				Name:        def.Name,
				Description: def.Description,
				InputSchema: def.Schema(),
			})
		}
	}

	return defs
}
