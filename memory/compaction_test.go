package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/hupe1980/polymesh/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conversation(rounds int) []Turn {
	var turns []Turn
	for i := 0; i < rounds; i++ {
		turns = append(turns,
			Turn{Role: "user", Content: "question " + strings.Repeat("x", i+1)},
			Turn{Role: "assistant", Content: "answer " + strings.Repeat("y", i+1)},
		)
	}
	return turns
}

func TestContextWindowLookup(t *testing.T) {
	assert.Equal(t, 200000, ContextWindow("claude-sonnet-4-20250514"))
	assert.Equal(t, 128000, ContextWindow("gpt-4o-mini"))
	assert.Equal(t, 8192, ContextWindow("gpt-4-0613"), "gpt-4 without turbo/o suffix")
	assert.Equal(t, DefaultContextWindow, ContextWindow("unknown-model"))
}

func TestSplitRoundsKeepsRecentUserRounds(t *testing.T) {
	turns := conversation(5)

	collapsed, kept := splitRounds(turns, 2)

	require.Len(t, kept, 4, "two user rounds of two turns each")
	assert.Equal(t, "user", kept[0].Role)
	assert.Len(t, collapsed, 6)

	// fewer rounds than the keep count means nothing collapses
	collapsed, kept = splitRounds(conversation(1), 2)
	assert.Empty(t, collapsed)
	assert.Len(t, kept, 2)
}

func TestScheduleCollapsesAndSummarizes(t *testing.T) {
	m := New("test")
	m.ReplaceTurns(conversation(5))

	chat := backend.NewScriptedBackend(
		[]backend.ContentBlock{backend.TextBlock("summary of early rounds")},
	)

	var gotSummary string
	var gotCollapsed int
	c := NewCompactor(chat, func(o *CompactorOptions) {
		o.KeepRecent = 2
		o.OnCompact = func(summary string, collapsed int) {
			gotSummary = summary
			gotCollapsed = collapsed
		}
	})

	started := c.Schedule(context.Background(), m)
	require.True(t, started)

	// history is trimmed synchronously, before the summary lands
	assert.Len(t, m.Turns(), 4)

	c.Wait()

	require.Len(t, m.Summaries(), 1)
	assert.Equal(t, "summary of early rounds", m.Summaries()[0])
	assert.Equal(t, "summary of early rounds", gotSummary)
	assert.Equal(t, 6, gotCollapsed)
}

func TestScheduleNoOpWhenNothingToCollapse(t *testing.T) {
	m := New("test")
	m.ReplaceTurns(conversation(2))

	chat := backend.NewScriptedBackend()
	c := NewCompactor(chat, func(o *CompactorOptions) { o.KeepRecent = 2 })

	assert.False(t, c.Schedule(context.Background(), m))
	assert.Empty(t, chat.Requests())
}

func TestScheduleSwallowsBackendFailure(t *testing.T) {
	m := New("test")
	m.ReplaceTurns(conversation(5))

	chat := &failingBackend{}
	c := NewCompactor(chat, func(o *CompactorOptions) { o.KeepRecent = 1 })

	require.True(t, c.Schedule(context.Background(), m))
	c.Wait()

	assert.Empty(t, m.Summaries(), "failed compaction produces no summary")
	assert.Len(t, m.Turns(), 2, "trimmed history stays trimmed")
}

func TestShouldCompactUsesPressureThreshold(t *testing.T) {
	m := New("test")
	c := NewCompactor(backend.NewScriptedBackend(), func(o *CompactorOptions) {
		o.Pressure = 0.5
		o.ContextWindow = 100
	})

	assert.False(t, c.ShouldCompact(m, "any-model"))

	// 50 tokens estimated from 200 characters hits the 0.5 * 100 threshold
	m.AppendTurn("user", strings.Repeat("a", 196))
	assert.True(t, c.ShouldCompact(m, "any-model"))
}

func TestCompactionErrorUnwraps(t *testing.T) {
	cause := context.DeadlineExceeded
	err := &CompactionError{Namespace: "ns", Cause: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "ns")
}

type failingBackend struct{}

func (failingBackend) Chat(context.Context, backend.Request) ([]backend.ContentBlock, error) {
	return nil, &backend.TransportError{Status: 500, Message: "boom"}
}
