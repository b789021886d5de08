// Package reasoning implements the natural language engine: a tool-calling
// loop that alternates between backend rounds and verb dispatch against the
// shared environment. Defined effects and pushed overrides take priority over
// the built-in verbs; the loop ends when the model calls done or the
// iteration cap trips.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/polymesh/backend"
	"github.com/hupe1980/polymesh/core"
	"github.com/hupe1980/polymesh/effect"
	"github.com/hupe1980/polymesh/internal/util"
	"github.com/hupe1980/polymesh/logging"
	"github.com/hupe1980/polymesh/memory"
)

// DefaultMaxIterations caps backend rounds per reasoning call.
const DefaultMaxIterations = 10

// IterationCapError reports a reasoning call that exhausted its round budget
// without reaching done. Distinct from transport failures so callers can
// raise the cap instead of retrying.
type IterationCapError struct {
	Limit int
}

func (e *IterationCapError) Error() string {
	return fmt.Sprintf("reasoning loop exceeded %d iterations without completing", e.Limit)
}

// Options configures a reasoning Loop.
type Options struct {
	// Model names the model driving the loop.
	Model string

	// MaxTokens bounds each backend round.
	MaxTokens int64

	// MaxIterations caps backend rounds per call.
	MaxIterations int

	// Effects holds the host-defined side effects exposed as tools.
	Effects *effect.Registry

	// Compactor, when set, collapses old rounds under memory pressure.
	// Compaction only ever runs for the outermost call.
	Compactor *memory.Compactor

	// Logger receives loop diagnostics.
	Logger logging.Logger
}

// Loop is the reasoning engine. One Loop serves one context at a time; run
// parallel conversations on separate contexts, not separate goroutines over
// one Loop.
type Loop struct {
	chat backend.ChatBackend
	opts Options

	overrides []Override
}

// New creates a reasoning Loop driven by the given backend.
func New(chat backend.ChatBackend, optFns ...func(o *Options)) *Loop {
	opts := Options{
		MaxIterations: DefaultMaxIterations,
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Loop{chat: chat, opts: opts}
}

// Name implements engine.Engine.
func (l *Loop) Name() string { return "reasoning" }

// IsExecution implements engine.Engine. The reasoning engine delegates to a
// model instead of executing code.
func (l *Loop) IsExecution() bool { return false }

// Execute implements engine.Engine by treating the source as the prompt.
func (l *Loop) Execute(cctx *core.Context, env *core.Environment, source string) (any, error) {
	return l.Run(context.Background(), cctx, env, source)
}

// Run drives one reasoning call to completion. Nested calls get a fresh
// short-term history that is restored exactly once on return; long-term
// facts are shared across depths. The returned value is whatever the model
// passed to done, or its final text when it finishes without calling it.
func (l *Loop) Run(ctx context.Context, cctx *core.Context, env *core.Environment, prompt string) (any, error) {
	depth := cctx.EnterCall()
	defer cctx.ExitCall()

	mem := cctx.Memory()

	// prompt templates expand against the current environment snapshot
	prompt, err := renderPrompt(env, prompt)
	if err != nil {
		return nil, err
	}

	if depth > 1 {
		saved := mem.Turns()
		restored := false
		restore := func() {
			if !restored {
				restored = true
				mem.ReplaceTurns(saved)
			}
		}
		defer restore()
		mem.ReplaceTurns(nil)
	}

	if cctx.Mock != nil {
		return l.runMock(cctx, env, prompt)
	}

	mem.AppendTurn("user", prompt)
	messages := []backend.Message{{Role: "user", Content: prompt}}

	for i := 0; i < l.maxIterations(); i++ {
		// never compact inside an incognito section: its turns are discarded
		// on exit and must not be folded into a surviving summary
		if depth == 1 && !cctx.Incognito() && l.opts.Compactor != nil && l.opts.Compactor.ShouldCompact(mem, l.opts.Model) {
			l.opts.Compactor.Schedule(ctx, mem)
			l.opts.Compactor.Wait()
			messages = rebuildFromTurns(mem.Turns())
		}

		req := backend.Request{
			System:    l.systemPrompt(cctx, env, mem, prompt),
			Messages:  messages,
			Tools:     l.toolDefinitions(cctx),
			Model:     l.opts.Model,
			MaxTokens: l.opts.MaxTokens,
		}

		blocks, err := l.chat.Chat(ctx, req)
		if err != nil {
			return nil, err
		}

		text, toolCalls := splitBlocks(blocks)
		if text != "" {
			mem.AppendTurn("assistant", text)
		}

		if len(toolCalls) == 0 {
			messages = append(messages, backend.Message{Role: "assistant", Content: text})
			return text, nil
		}

		messages = append(messages, backend.Message{
			Role:      "assistant",
			Content:   text,
			ToolCalls: toolCalls,
		})

		var finished bool
		var final any
		for _, call := range toolCalls {
			result, done, doneValue := l.dispatch(ctx, cctx, env, call)
			if done {
				finished = true
				final = doneValue
			}
			mem.AppendTurn("tool", fmt.Sprintf("%s -> %s", call.Name, result))
			messages = append(messages, backend.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
			})
		}
		if finished {
			mem.AppendTurn("assistant", "task completed: "+renderResult(final, nil))
			return final, nil
		}
	}

	return nil, &IterationCapError{Limit: l.maxIterations()}
}

func (l *Loop) maxIterations() int {
	if l.opts.MaxIterations > 0 {
		return l.opts.MaxIterations
	}
	return DefaultMaxIterations
}

// dispatch resolves one tool call, consulting overrides first, then defined
// effects, then the built-in verbs. Failures and handler panics become
// textual results so the model can react; only transport failures abort the
// loop.
func (l *Loop) dispatch(ctx context.Context, cctx *core.Context, env *core.Environment, call backend.ToolUse) (result string, done bool, doneValue any) {
	defer func() {
		if r := recover(); r != nil {
			l.opts.Logger.Warn("reasoning.dispatch.panic", "verb", call.Name, "panic", fmt.Sprintf("%v", r))
			result = fmt.Sprintf("error: panic: %v", r)
			done = false
			doneValue = nil
		}
	}()

	if ov, ok := l.topOverride(call.Name); ok {
		out, err := ov.Handler(call.Input)
		return renderResult(out, err), false, nil
	}

	if l.opts.Effects != nil {
		if _, ok := l.opts.Effects.Lookup(call.Name); ok {
			out, err := l.opts.Effects.Invoke(call.Name, call.Input)
			return renderResult(out, err), false, nil
		}
	}

	return l.builtin(ctx, cctx, env, call)
}

// renderResult flattens a dispatch outcome into the textual tool result the
// model sees next round.
func renderResult(out any, err error) string {
	if err != nil {
		return fmt.Sprintf("error: %s", err.Error())
	}
	if out == nil {
		return "ok"
	}
	if s, ok := out.(string); ok {
		return s
	}
	if data, jerr := json.Marshal(out); jerr == nil {
		return string(data)
	}
	return fmt.Sprintf("%v", out)
}

func splitBlocks(blocks []backend.ContentBlock) (text string, toolCalls []backend.ToolUse) {
	for _, b := range blocks {
		if b.ToolUse != nil {
			toolCalls = append(toolCalls, *b.ToolUse)
			continue
		}
		if b.Text != "" {
			if text != "" {
				text += "\n"
			}
			text += b.Text
		}
	}
	return text, toolCalls
}

// renderPrompt expands {{.name}} template markers in a prompt from the
// environment's current values.
func renderPrompt(env *core.Environment, prompt string) (string, error) {
	state := make(map[string]any)
	for _, name := range env.Names() {
		v, _ := env.Get(name)
		state[name] = v
	}
	rendered, err := util.RenderTemplate(prompt, state)
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return rendered, nil
}

// rebuildFromTurns reconstructs the message list after compaction trimmed
// the history. Tool pairing is dropped intentionally; compacted rounds are
// represented by their textual transcript.
func rebuildFromTurns(turns []memory.Turn) []backend.Message {
	messages := make([]backend.Message, 0, len(turns))
	for _, t := range turns {
		role := t.Role
		if role == "tool" {
			role = "user"
		}
		messages = append(messages, backend.Message{Role: role, Content: t.Content})
	}
	return messages
}
