// Package backend defines the chat backend abstraction consumed by the
// reasoning engine and the compaction worker. Provider adapters normalize
// vendor HTTP APIs into canonical content blocks; non-success responses
// surface as *TransportError carrying the HTTP status.
package backend

import (
	"context"
	"fmt"
	"time"
)

// Message is one turn of the conversation sent to a backend. Assistant turns
// that requested tools carry the originating ToolUse blocks so adapters can
// reconstruct provider-correct call/result pairing; tool result turns carry
// the ToolCallID they answer.
type Message struct {
	Role       string    `json:"role"` // "user", "assistant", "tool"
	Content    string    `json:"content"`
	ToolCalls  []ToolUse `json:"tool_calls,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
}

// ToolUse is a function call request surfaced by a backend. Unified across
// vendors so the dispatch loop does not need per-provider branching.
type ToolUse struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ContentBlock is one element of a backend response: either plain text or a
// tool use request. Exactly one of the fields is populated.
type ContentBlock struct {
	Text    string   `json:"text,omitempty"`
	ToolUse *ToolUse `json:"tool_use,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock { return ContentBlock{Text: text} }

// ToolUseBlock builds a tool use content block.
func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{ToolUse: &ToolUse{ID: id, Name: name, Input: input}}
}

// ToolDefinition declaratively exposes a callable to the backend.
// InputSchema is a minimal JSON Schema object {type, properties, required}.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Request captures the normalized backend input produced by the reasoning loop.
type Request struct {
	System    string           `json:"system"`
	Messages  []Message        `json:"messages"`
	Tools     []ToolDefinition `json:"tools,omitempty"`
	Model     string           `json:"model"`
	MaxTokens int64            `json:"max_tokens"`
}

// ChatBackend is the minimal interface required to drive generation.
// Implementations must apply a bounded per-call timeout and map transport
// failures (network errors, non-2xx statuses) to *TransportError.
type ChatBackend interface {
	Chat(ctx context.Context, req Request) ([]ContentBlock, error)
}

// TransportError reports a failed backend round trip. It is fatal to the
// reasoning loop and distinct from iteration cap violations.
type TransportError struct {
	Status  int    // HTTP status when known, 0 for network failures
	Message string
	Cause   error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend transport error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend transport error: %s", e.Message)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// DefaultTimeout bounds a single backend round trip when the caller has not
// applied a deadline already.
const DefaultTimeout = 120 * time.Second

// WithTimeout derives a context with DefaultTimeout unless one is set.
func WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultTimeout)
}
