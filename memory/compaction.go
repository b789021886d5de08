package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/polymesh/backend"
	"github.com/hupe1980/polymesh/logging"
)

// DefaultContextWindow is assumed when a model name matches no known family.
const DefaultContextWindow = 8192

// contextWindows maps model family prefixes to their context window size in
// tokens. Lookup is by longest matching prefix.
var contextWindows = map[string]int{
	"claude-3-5":    200000,
	"claude-3":      200000,
	"claude-sonnet": 200000,
	"claude-opus":   200000,
	"claude-haiku":  200000,
	"gpt-4o":        128000,
	"gpt-4-turbo":   128000,
	"gpt-4":         8192,
	"gpt-3.5":       16384,
	"o1":            200000,
	"o3":            200000,
}

// ContextWindow returns the context window size for a model name, matching
// by family prefix and defaulting to DefaultContextWindow.
func ContextWindow(model string) int {
	best := 0
	size := DefaultContextWindow
	for prefix, window := range contextWindows {
		if strings.HasPrefix(model, prefix) && len(prefix) > best {
			best = len(prefix)
			size = window
		}
	}
	return size
}

// CompactionError wraps a failed compaction attempt. It is logged, never
// propagated; a failed compaction leaves memory untouched except for the
// rounds already split off.
type CompactionError struct {
	Namespace string
	Cause     error
}

func (e *CompactionError) Error() string {
	return fmt.Sprintf("compaction failed for %q: %v", e.Namespace, e.Cause)
}

func (e *CompactionError) Unwrap() error { return e.Cause }

// CompactorOptions configures a Compactor.
type CompactorOptions struct {
	// Model names the model used for the summarization call. Hosts usually
	// point this at a cheaper model than the main loop's.
	Model string

	// KeepRecent is the number of most recent user rounds kept verbatim.
	KeepRecent int

	// Pressure is the fraction of the context window at which compaction
	// triggers, between 0 and 1.
	Pressure float64

	// ContextWindow overrides the window size; 0 means look it up from the
	// model name.
	ContextWindow int

	// OnCompact is invoked after a successful compaction with the produced
	// summary and the number of turns collapsed.
	OnCompact func(summary string, collapsed int)

	// Logger receives compaction diagnostics.
	Logger logging.Logger
}

// Compactor collapses old conversation rounds into summaries when estimated
// token usage crosses the pressure threshold. The summarization call runs on
// a background goroutine; at most one compaction is in flight per Compactor.
//
// Schedule splits the history synchronously, so the main loop immediately
// sees the trimmed short-term state. Only the summary arrives asynchronously;
// callers that need it in the next prompt join with Wait first.
type Compactor struct {
	chat backend.ChatBackend
	opts CompactorOptions

	mu       sync.Mutex
	inFlight bool
	done     chan struct{}
}

// NewCompactor creates a Compactor backed by the given chat backend.
func NewCompactor(chat backend.ChatBackend, optFns ...func(o *CompactorOptions)) *Compactor {
	opts := CompactorOptions{
		KeepRecent: 2,
		Pressure:   0.8,
		Logger:     logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Compactor{chat: chat, opts: opts}
}

// ShouldCompact reports whether the memory's estimated token usage exceeds
// the pressure threshold for the given model.
func (c *Compactor) ShouldCompact(m *Memory, model string) bool {
	window := c.opts.ContextWindow
	if window == 0 {
		window = ContextWindow(model)
	}
	return float64(m.EstimateTokens()) >= c.opts.Pressure*float64(window)
}

// Schedule starts a compaction of the memory unless one is already running.
// It synchronously splits the short-term history, keeping the most recent
// KeepRecent user rounds, then summarizes the collapsed prefix on a
// background goroutine. Failures are logged and swallowed; the collapsed
// turns are not restored. Returns whether a compaction was started.
func (c *Compactor) Schedule(ctx context.Context, m *Memory) bool {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return false
	}

	collapsed, kept := splitRounds(m.Turns(), c.opts.KeepRecent)
	if len(collapsed) == 0 {
		c.mu.Unlock()
		return false
	}
	m.ReplaceTurns(kept)

	c.inFlight = true
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			c.inFlight = false
			c.mu.Unlock()
			close(done)
		}()
		c.summarize(ctx, m, collapsed)
	}()

	return true
}

// Wait blocks until the in-flight compaction, if any, has finished.
func (c *Compactor) Wait() {
	c.mu.Lock()
	done := c.done
	running := c.inFlight
	c.mu.Unlock()

	if running && done != nil {
		<-done
	}
}

func (c *Compactor) summarize(ctx context.Context, m *Memory, collapsed []Turn) {
	var b strings.Builder
	for _, t := range collapsed {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}

	req := backend.Request{
		System: "Summarize the following conversation excerpt in a short paragraph. " +
			"Preserve decisions, results and open items; drop pleasantries.",
		Messages: []backend.Message{{Role: "user", Content: b.String()}},
		Model:    c.opts.Model,
	}

	blocks, err := c.chat.Chat(ctx, req)
	if err != nil {
		cerr := &CompactionError{Namespace: m.Namespace(), Cause: err}
		c.opts.Logger.Warn("memory.compaction.failed", "error", cerr.Error())
		return
	}

	var summary strings.Builder
	for _, blk := range blocks {
		if blk.Text != "" {
			summary.WriteString(blk.Text)
		}
	}
	if summary.Len() == 0 {
		c.opts.Logger.Warn("memory.compaction.failed", "error", "empty summary")
		return
	}

	m.AddSummary(summary.String())
	c.opts.Logger.Debug("memory.compaction.done", "namespace", m.Namespace(), "collapsed", len(collapsed))

	if c.opts.OnCompact != nil {
		c.opts.OnCompact(summary.String(), len(collapsed))
	}
}

// splitRounds partitions turns so that the most recent keepRecent user
// rounds, each a user turn plus everything after it up to the next user
// turn, stay verbatim. Everything before them is returned as the collapsed
// prefix.
func splitRounds(turns []Turn, keepRecent int) (collapsed, kept []Turn) {
	if keepRecent <= 0 {
		return turns, nil
	}

	seen := 0
	cut := 0
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == "user" {
			seen++
			if seen == keepRecent {
				cut = i
				break
			}
		}
	}
	if seen < keepRecent {
		return nil, turns
	}
	return turns[:cut], turns[cut:]
}
