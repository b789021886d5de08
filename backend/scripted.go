package backend

import (
	"context"
	"sync"
)

// ScriptedBackend is a deterministic in-memory ChatBackend for tests and
// examples. Each Chat call pops the next scripted block sequence; once the
// script is exhausted it keeps replaying the final entry (or an empty text
// block when nothing was scripted).
type ScriptedBackend struct {
	mu       sync.Mutex
	script   [][]ContentBlock
	pos      int
	requests []Request
}

// NewScriptedBackend constructs a ScriptedBackend with the given rounds.
func NewScriptedBackend(rounds ...[]ContentBlock) *ScriptedBackend {
	return &ScriptedBackend{script: rounds}
}

// Enqueue appends one more scripted response round.
func (b *ScriptedBackend) Enqueue(blocks ...ContentBlock) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.script = append(b.script, blocks)
}

// Chat implements ChatBackend by replaying the script in order.
func (b *ScriptedBackend) Chat(_ context.Context, req Request) ([]ContentBlock, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	if len(b.script) == 0 {
		return []ContentBlock{TextBlock("")}, nil
	}
	if b.pos >= len(b.script) {
		return b.script[len(b.script)-1], nil
	}
	blocks := b.script[b.pos]
	b.pos++
	return blocks, nil
}

// Requests returns every request seen so far, in order.
func (b *ScriptedBackend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Request, len(b.requests))
	copy(out, b.requests)
	return out
}

// Calls reports how many Chat invocations have occurred.
func (b *ScriptedBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}
