package polymesh

import (
	"bytes"
	"context"
	"testing"

	"github.com/hupe1980/polymesh/backend"
	"github.com/hupe1980/polymesh/core"
	"github.com/hupe1980/polymesh/effect"
	"github.com/hupe1980/polymesh/logging"
	"github.com/hupe1980/polymesh/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchRoutesAcrossEngines(t *testing.T) {
	mesh := New(backend.NewScriptedBackend())

	// javascript snippet runs on the embedded runtime
	out, err := mesh.Dispatch(context.Background(), "const x = 2 + 3; x")
	require.NoError(t, err)
	assert.Equal(t, int64(5), out)

	// the result landed nowhere, but environment writes travel
	_, err = mesh.Dispatch(context.Background(), "$set shared 42")
	require.NoError(t, err)

	v, ok := mesh.Environment().Get("shared")
	require.True(t, ok)
	assert.Equal(t, int64(42), v)
}

func TestDispatchSendsProseToReasoning(t *testing.T) {
	chat := backend.NewScriptedBackend(
		[]backend.ContentBlock{backend.TextBlock("it depends")},
	)
	mesh := New(chat)

	out, err := mesh.Dispatch(context.Background(), "what should we do about the backlog")
	require.NoError(t, err)
	assert.Equal(t, "it depends", out)
	require.Len(t, chat.Requests(), 1)
}

func TestRunOnUnknownEngineFails(t *testing.T) {
	mesh := New(backend.NewScriptedBackend())
	_, err := mesh.RunOn(context.Background(), "cobol", "MOVE 1 TO X")
	require.Error(t, err)
}

func TestEffectsReachTheLoop(t *testing.T) {
	chat := backend.NewScriptedBackend(
		[]backend.ContentBlock{backend.ToolUseBlock("c1", "ring_bell", map[string]any{})},
		[]backend.ContentBlock{backend.ToolUseBlock("c2", "done", map[string]any{"result": "rang"})},
	)
	mesh := New(chat)

	rang := false
	require.NoError(t, mesh.Effects().Define(effect.Definition{
		Name:        "ring_bell",
		Description: "Ring the bell.",
		Handler: func(map[string]any) (any, error) {
			rang = true
			return "ding", nil
		},
	}))

	out, err := mesh.Run(context.Background(), "ring the bell")
	require.NoError(t, err)
	assert.Equal(t, "rang", out)
	assert.True(t, rang)
}

func TestMockedMeshNeverCallsBackend(t *testing.T) {
	mock := core.NewMockSession().
		StubContains("greet", core.MockResult{Result: "hello there"})

	mesh := New(backend.NewScriptedBackend(), func(o *Options) { o.Mock = mock })

	out, err := mesh.Run(context.Background(), "greet the user")
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)
}

func TestResetClearsState(t *testing.T) {
	mesh := New(backend.NewScriptedBackend())
	mesh.Environment().Set("x", 1)
	mesh.Context().Memory().AppendTurn("user", "hi")

	mesh.Reset()

	assert.False(t, mesh.Environment().Has("x"))
	assert.Empty(t, mesh.Context().Memory().Turns())
}

func TestValuesCrossEngineBoundaries(t *testing.T) {
	mesh := New(backend.NewScriptedBackend())

	mesh.Environment().Set("items", []any{int64(1), int64(2), int64(3)})

	out, err := mesh.RunOn(context.Background(), "js", "items.length")
	require.NoError(t, err)
	assert.Equal(t, int64(3), out)

	out, err = mesh.RunOn(context.Background(), "native", "$get items")
	require.NoError(t, err)
	ref, ok := out.(*registry.RemoteRef)
	require.True(t, ok, "container results travel as handles")
	n, err := ref.Call("length")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "native", mesh.Context().LastLanguage())
}

func TestMeshLoggerRecordsEngineAndBackendCalls(t *testing.T) {
	var buf bytes.Buffer
	ml := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.LogLevelDebug,
		Format: "json",
		Output: &buf,
	})

	chat := backend.NewScriptedBackend(
		[]backend.ContentBlock{backend.TextBlock("noted")},
	)
	mesh := New(chat, func(o *Options) { o.Logger = ml })

	_, err := mesh.Dispatch(context.Background(), "$set x 1")
	require.NoError(t, err)

	_, err = mesh.Run(context.Background(), "say something")
	require.NoError(t, err)

	logs := buf.String()
	assert.Contains(t, logs, "Engine run completed")
	assert.Contains(t, logs, "Backend call completed")
	assert.Contains(t, logs, "context_id")
	assert.Contains(t, logs, "Operation completed", "dispatch timing is recorded")
}
