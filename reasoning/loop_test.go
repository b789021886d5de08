package reasoning

import (
	"context"
	"strings"
	"testing"

	"github.com/hupe1980/polymesh/backend"
	"github.com/hupe1980/polymesh/core"
	"github.com/hupe1980/polymesh/effect"
	"github.com/hupe1980/polymesh/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolRound(name string, input map[string]any) []backend.ContentBlock {
	return []backend.ContentBlock{backend.ToolUseBlock("call-"+name, name, input)}
}

func doneRound(result any) []backend.ContentBlock {
	return toolRound("done", map[string]any{"result": result})
}

func TestRunReturnsDoneResult(t *testing.T) {
	chat := backend.NewScriptedBackend(
		toolRound("write_value", map[string]any{"name": "x", "value": float64(7)}),
		doneRound("finished"),
	)
	loop := New(chat)
	cctx := core.NewContext()
	env := core.NewEnvironment()

	out, err := loop.Run(context.Background(), cctx, env, "set x to seven")
	require.NoError(t, err)
	assert.Equal(t, "finished", out)

	v, ok := env.Get("x")
	require.True(t, ok)
	assert.Equal(t, float64(7), v)
}

func TestRunReturnsFinalTextWithoutDone(t *testing.T) {
	chat := backend.NewScriptedBackend(
		[]backend.ContentBlock{backend.TextBlock("plain answer")},
	)
	loop := New(chat)

	out, err := loop.Run(context.Background(), core.NewContext(), core.NewEnvironment(), "just answer")
	require.NoError(t, err)
	assert.Equal(t, "plain answer", out)
}

func TestIterationCap(t *testing.T) {
	// every round reads a value and never finishes; round four must not happen
	chat := backend.NewScriptedBackend(
		toolRound("read_value", map[string]any{"name": "x"}),
	)
	loop := New(chat, func(o *Options) { o.MaxIterations = 3 })
	cctx := core.NewContext()
	env := core.NewEnvironment()
	env.Set("x", 1)

	_, err := loop.Run(context.Background(), cctx, env, "loop forever")

	var caperr *IterationCapError
	require.ErrorAs(t, err, &caperr)
	assert.Equal(t, 3, caperr.Limit)
	assert.Len(t, chat.Requests(), 3)
}

func TestTransportErrorsAreFatal(t *testing.T) {
	chat := &erroringBackend{}
	loop := New(chat)

	_, err := loop.Run(context.Background(), core.NewContext(), core.NewEnvironment(), "anything")

	var terr *backend.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 503, terr.Status)
}

func TestBuiltinVerbs(t *testing.T) {
	type record struct{ Count int }

	chat := backend.NewScriptedBackend(
		toolRound("write_value", map[string]any{"name": "greeting", "value": "hello"}),
		toolRound("read_value", map[string]any{"name": "greeting"}),
		toolRound("write_attr", map[string]any{"name": "rec", "attr": "Count", "value": float64(3)}),
		toolRound("read_attr", map[string]any{"name": "rec", "attr": "Count"}),
		toolRound("call_function", map[string]any{"name": "double", "args": []any{float64(21)}}),
		toolRound("remember_fact", map[string]any{"content": "greeting is hello"}),
		doneRound(nil),
	)
	loop := New(chat)
	cctx := core.NewContext()
	env := core.NewEnvironment(func(o *core.EnvironmentOptions) { o.AttrSafelist = []string{"Count"} })
	rec := &record{}
	env.Set("rec", rec)
	require.NoError(t, env.RegisterFunction("double", func(args ...any) (any, error) {
		return args[0].(float64) * 2, nil
	}))

	_, err := loop.Run(context.Background(), cctx, env, "exercise the verbs")
	require.NoError(t, err)

	assert.Equal(t, 3, rec.Count)
	v, _ := env.Get("greeting")
	assert.Equal(t, "hello", v)

	facts := cctx.Memory().Facts()
	require.Len(t, facts, 1)
	assert.Equal(t, "greeting is hello", facts[0].Content)

	// the tool results round-tripped as text
	reqs := chat.Requests()
	last := reqs[len(reqs)-1]
	var joined strings.Builder
	for _, m := range last.Messages {
		joined.WriteString(m.Content + "\n")
	}
	assert.Contains(t, joined.String(), "42")
	assert.Contains(t, joined.String(), "hello")
}

func TestVerbFailuresAreTextualNotFatal(t *testing.T) {
	chat := backend.NewScriptedBackend(
		toolRound("read_value", map[string]any{"name": "missing"}),
		toolRound("bogus_verb", map[string]any{}),
		doneRound("survived"),
	)
	loop := New(chat)

	out, err := loop.Run(context.Background(), core.NewContext(), core.NewEnvironment(), "push through errors")
	require.NoError(t, err)
	assert.Equal(t, "survived", out)

	reqs := chat.Requests()
	var joined strings.Builder
	for _, m := range reqs[len(reqs)-1].Messages {
		joined.WriteString(m.Content + "\n")
	}
	assert.Contains(t, joined.String(), "error:")
	assert.Contains(t, joined.String(), "bogus_verb")
}

func TestEffectsTakePriorityOverBuiltins(t *testing.T) {
	effects := effect.NewRegistry()
	var invoked map[string]any
	require.NoError(t, effects.Define(effect.Definition{
		Name:        "page_oncall",
		Description: "Page the on-call engineer.",
		Params: []effect.Param{
			{Name: "message", Type: "string", Required: true},
			{Name: "severity", Default: "low"},
		},
		Handler: func(args map[string]any) (any, error) {
			invoked = args
			return "paged", nil
		},
	}))

	chat := backend.NewScriptedBackend(
		toolRound("page_oncall", map[string]any{"message": "disk full"}),
		doneRound(nil),
	)
	loop := New(chat, func(o *Options) { o.Effects = effects })

	_, err := loop.Run(context.Background(), core.NewContext(), core.NewEnvironment(), "alert someone")
	require.NoError(t, err)

	require.NotNil(t, invoked)
	assert.Equal(t, "disk full", invoked["message"])
	assert.Equal(t, "low", invoked["severity"])

	// effect appears in the advertised tools
	req := chat.Requests()[0]
	names := make([]string, 0, len(req.Tools))
	for _, td := range req.Tools {
		names = append(names, td.Name)
	}
	assert.Contains(t, names, "page_oncall")
	assert.Contains(t, names, "done")
}

func TestOverridesShadowEverything(t *testing.T) {
	chat := backend.NewScriptedBackend(
		toolRound("read_value", map[string]any{"name": "x"}),
		doneRound(nil),
	)
	loop := New(chat)
	loop.PushOverride(Override{Verb: "read_value", Handler: func(map[string]any) (any, error) {
		return "from first override", nil
	}})
	loop.PushOverride(Override{Verb: "read_value", Handler: func(map[string]any) (any, error) {
		return "from second override", nil
	}})

	cctx := core.NewContext()
	env := core.NewEnvironment()
	env.Set("x", "real value")

	_, err := loop.Run(context.Background(), cctx, env, "read x")
	require.NoError(t, err)

	var joined strings.Builder
	for _, m := range chat.Requests()[1].Messages {
		joined.WriteString(m.Content + "\n")
	}
	assert.Contains(t, joined.String(), "from second override", "last pushed override wins")
	assert.NotContains(t, joined.String(), "real value")

	require.True(t, loop.PopOverride())
	require.True(t, loop.PopOverride())
	assert.False(t, loop.PopOverride())
}

func TestNestedRunsIsolateShortTermHistory(t *testing.T) {
	deepestChat := backend.NewScriptedBackend(
		toolRound("call_function", map[string]any{"name": "probe_depth"}),
		doneRound("deepest result"),
	)
	deepest := New(deepestChat)

	innerChat := backend.NewScriptedBackend(
		toolRound("call_function", map[string]any{"name": "descend"}),
		doneRound("inner result"),
	)
	inner := New(innerChat)

	cctx := core.NewContext()
	cctx.Memory().SeedFacts([]memory.Fact{{ID: 1, Content: "the customer is ACME"}})
	env := core.NewEnvironment()
	require.NoError(t, env.RegisterFunction("delegate", func(args ...any) (any, error) {
		assert.Equal(t, 1, cctx.Depth(), "outer call active during delegation")
		return inner.Run(context.Background(), cctx, env, "nested prompt")
	}))
	require.NoError(t, env.RegisterFunction("descend", func(args ...any) (any, error) {
		assert.Equal(t, 2, cctx.Depth(), "second level active before descending")
		return deepest.Run(context.Background(), cctx, env, "deepest prompt")
	}))
	require.NoError(t, env.RegisterFunction("probe_depth", func(args ...any) (any, error) {
		assert.Equal(t, 3, cctx.Depth(), "third level runs at depth three")
		return nil, nil
	}))

	outerChat := backend.NewScriptedBackend(
		toolRound("call_function", map[string]any{"name": "delegate"}),
		doneRound("outer result"),
	)
	outer := New(outerChat)

	out, err := outer.Run(context.Background(), cctx, env, "outer prompt")
	require.NoError(t, err)
	assert.Equal(t, "outer result", out)
	assert.Equal(t, 0, cctx.Depth(), "depth unwinds fully")

	// each nested call saw a fresh history, not the enclosing transcript
	innerReq := innerChat.Requests()[0]
	require.Len(t, innerReq.Messages, 1)
	assert.Equal(t, "nested prompt", innerReq.Messages[0].Content)

	deepestReq := deepestChat.Requests()[0]
	require.Len(t, deepestReq.Messages, 1)
	assert.Equal(t, "deepest prompt", deepestReq.Messages[0].Content)

	// long-term facts reach every depth through the system prompt
	assert.Contains(t, innerReq.System, "the customer is ACME")
	assert.Contains(t, deepestReq.System, "the customer is ACME")

	// and the outer transcript kept its own turns after restore
	var sawOuter bool
	for _, turn := range cctx.Memory().Turns() {
		if turn.Content == "outer prompt" {
			sawOuter = true
		}
		assert.NotEqual(t, "nested prompt", turn.Content, "nested turns do not leak outward")
		assert.NotEqual(t, "deepest prompt", turn.Content, "nested turns do not leak outward")
	}
	assert.True(t, sawOuter)
}

func TestMockedContextsNeverReachBackend(t *testing.T) {
	mock := core.NewMockSession().
		StubContains("summarize", core.MockResult{
			Writes: map[string]any{"summary": "short version"},
			Facts:  []string{"report was summarized"},
			Result: "done",
			Text:   "I summarized the report.",
		})

	chat := &erroringBackend{}
	loop := New(chat)
	cctx := core.NewContext(func(o *core.ContextOptions) { o.Mock = mock })
	env := core.NewEnvironment()

	out, err := loop.Run(context.Background(), cctx, env, "please summarize the report")
	require.NoError(t, err)
	assert.Equal(t, "done", out)

	v, _ := env.Get("summary")
	assert.Equal(t, "short version", v)
	require.Len(t, cctx.Memory().Facts(), 1)

	_, err = loop.Run(context.Background(), cctx, env, "unmatched prompt")
	var merr *MockMatchError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "unmatched prompt", merr.Prompt)
}

func TestCompactionCollapsesOldRounds(t *testing.T) {
	compactChat := backend.NewScriptedBackend(
		[]backend.ContentBlock{backend.TextBlock("earlier rounds summarized")},
	)
	compactor := memory.NewCompactor(compactChat, func(o *memory.CompactorOptions) {
		o.KeepRecent = 1
		o.Pressure = 0 // force compaction on every round
		o.ContextWindow = 1
	})

	chat := backend.NewScriptedBackend(doneRound(nil))
	loop := New(chat, func(o *Options) { o.Compactor = compactor })

	cctx := core.NewContext()
	mem := cctx.Memory()
	for i := 0; i < 4; i++ {
		mem.AppendTurn("user", "old question")
		mem.AppendTurn("assistant", "old answer")
	}

	_, err := loop.Run(context.Background(), cctx, core.NewEnvironment(), "new question")
	require.NoError(t, err)

	userTurns := 0
	for _, turn := range mem.Turns() {
		if turn.Role == "user" {
			userTurns++
		}
	}
	assert.LessOrEqual(t, userTurns, 1)
	require.Len(t, mem.Summaries(), 1)
	assert.Equal(t, "earlier rounds summarized", mem.Summaries()[0])
}

func TestSumAcrossRounds(t *testing.T) {
	// model adds 1..5 into total across rounds then reports it
	rounds := make([][]backend.ContentBlock, 0, 7)
	rounds = append(rounds, toolRound("write_value", map[string]any{"name": "total", "value": float64(0)}))
	for i := 1; i <= 5; i++ {
		rounds = append(rounds, toolRound("call_function", map[string]any{
			"name": "accumulate",
			"args": []any{float64(i)},
		}))
	}
	rounds = append(rounds, doneRound("summed"))

	chat := backend.NewScriptedBackend(rounds...)
	loop := New(chat, func(o *Options) { o.MaxIterations = 10 })
	cctx := core.NewContext()
	env := core.NewEnvironment()
	require.NoError(t, env.RegisterFunction("accumulate", func(args ...any) (any, error) {
		current, _ := env.Get("total")
		total := current.(float64) + args[0].(float64)
		env.Set("total", total)
		return total, nil
	}))

	out, err := loop.Run(context.Background(), cctx, env, "sum one through five")
	require.NoError(t, err)
	assert.Equal(t, "summed", out)

	total, _ := env.Get("total")
	assert.Equal(t, float64(15), total)
}

func TestPromptTemplatesExpandFromEnvironment(t *testing.T) {
	chat := backend.NewScriptedBackend(
		[]backend.ContentBlock{backend.TextBlock("ok")},
	)
	loop := New(chat)
	cctx := core.NewContext()
	env := core.NewEnvironment()
	env.Set("customer", "ACME")

	_, err := loop.Run(context.Background(), cctx, env, "Draft a renewal mail for {{.customer}}")
	require.NoError(t, err)

	req := chat.Requests()[0]
	assert.Equal(t, "Draft a renewal mail for ACME", req.Messages[0].Content)
}

type erroringBackend struct{}

func (erroringBackend) Chat(context.Context, backend.Request) ([]backend.ContentBlock, error) {
	return nil, &backend.TransportError{Status: 503, Message: "unavailable"}
}

func TestIncognitoWithholdsFactTooling(t *testing.T) {
	chat := backend.NewScriptedBackend(
		toolRound("remember_fact", map[string]any{"content": "should not stick"}),
		doneRound(nil),
	)
	loop := New(chat)
	cctx := core.NewContext()
	env := core.NewEnvironment()
	cctx.Memory().Remember("stored before incognito")

	err := cctx.WithIncognito(func() error {
		_, err := loop.Run(context.Background(), cctx, env, "handle this privately")
		return err
	})
	require.NoError(t, err)

	reqs := chat.Requests()
	for _, def := range reqs[0].Tools {
		assert.NotEqual(t, "remember_fact", def.Name, "incognito rounds must not advertise fact storage")
	}
	assert.Contains(t, reqs[0].System, "incognito")
	assert.NotContains(t, reqs[0].System, "stored before incognito")

	// the attempted call failed textually and the loop carried on
	require.Len(t, cctx.Memory().Facts(), 1)
	assert.Equal(t, "stored before incognito", cctx.Memory().Facts()[0].Content)

	// nothing said inside the section survives it
	for _, turn := range cctx.Memory().Turns() {
		assert.NotEqual(t, "handle this privately", turn.Content)
	}
}

type orderDesk struct {
	pings int
}

func (d *orderDesk) Ping() string {
	d.pings++
	return "pong"
}

func TestCallFunctionReachesReceiverMethods(t *testing.T) {
	chat := backend.NewScriptedBackend(
		toolRound("call_function", map[string]any{"name": "Ping"}),
		doneRound(nil),
	)
	loop := New(chat)
	cctx := core.NewContext()
	desk := &orderDesk{}
	env := core.NewEnvironment(func(o *core.EnvironmentOptions) { o.Receiver = desk })

	_, err := loop.Run(context.Background(), cctx, env, "check the desk")
	require.NoError(t, err)
	assert.Equal(t, 1, desk.pings)

	// the advertised method answered through the tool result
	var joined strings.Builder
	for _, m := range chat.Requests()[1].Messages {
		joined.WriteString(m.Content + "\n")
	}
	assert.Contains(t, joined.String(), "pong")
}

func TestIncognitoRunLeavesNoTranscript(t *testing.T) {
	chat := backend.NewScriptedBackend(
		[]backend.ContentBlock{backend.TextBlock("a private answer")},
	)
	loop := New(chat)
	cctx := core.NewContext()
	env := core.NewEnvironment()
	cctx.Memory().AppendTurn("user", "earlier public turn")

	err := cctx.WithIncognito(func() error {
		out, err := loop.Run(context.Background(), cctx, env, "private prompt")
		require.NoError(t, err)
		assert.Equal(t, "a private answer", out)
		return nil
	})
	require.NoError(t, err)

	turns := cctx.Memory().Turns()
	require.Len(t, turns, 1, "incognito turns are discarded on exit")
	assert.Equal(t, "earlier public turn", turns[0].Content)
}

func TestDispatchRecoversFromPanics(t *testing.T) {
	effects := effect.NewRegistry()
	require.NoError(t, effects.Define(effect.Definition{
		Name:        "explode",
		Description: "Always panics.",
		Handler: func(map[string]any) (any, error) {
			panic("boom")
		},
	}))

	chat := backend.NewScriptedBackend(
		toolRound("explode", nil),
		doneRound("survived"),
	)
	loop := New(chat, func(o *Options) { o.Effects = effects })

	out, err := loop.Run(context.Background(), core.NewContext(), core.NewEnvironment(), "trigger it")
	require.NoError(t, err)
	assert.Equal(t, "survived", out)

	var joined strings.Builder
	for _, m := range chat.Requests()[1].Messages {
		joined.WriteString(m.Content + "\n")
	}
	assert.Contains(t, joined.String(), "panic: boom")
}

func TestSystemPromptFollowsMarkers(t *testing.T) {
	chat := backend.NewScriptedBackend(
		[]backend.ContentBlock{backend.TextBlock("noted")},
	)
	loop := New(chat)
	cctx := core.NewContext()
	env := core.NewEnvironment()
	env.Set("alpha", "visible")
	env.Set("beta", "irrelevant")

	_, err := loop.Run(context.Background(), cctx, env, "summarize <alpha> for me")
	require.NoError(t, err)

	sys := chat.Requests()[0].System
	assert.Contains(t, sys, "<alpha>")
	assert.NotContains(t, sys, "<beta>", "unreferenced values stay out when markers are present")

	// without markers the whole environment is listed
	_, err = loop.Run(context.Background(), cctx, env, "describe everything")
	require.NoError(t, err)
	sys = chat.Requests()[1].System
	assert.Contains(t, sys, "<alpha>")
	assert.Contains(t, sys, "<beta>")
}
