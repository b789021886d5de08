package core

import (
	"github.com/google/uuid"
	"github.com/hupe1980/polymesh/logging"
	"github.com/hupe1980/polymesh/memory"
	"github.com/hupe1980/polymesh/registry"
)

// ContextOptions configures a Context instance.
type ContextOptions struct {
	// ID identifies the context in logs and storage. Defaults to a random
	// UUID.
	ID string

	// Namespace scopes long-term fact persistence. Defaults to the ID.
	Namespace string

	// Store persists long-term facts for the lazily created memory.
	Store memory.Store

	// Mock, when set, answers reasoning prompts from stubs instead of a
	// live backend.
	Mock *MockSession

	// Logger receives context diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Context is the per-conversation execution state threaded through every
// engine call: the shared object registry, lazily initialized memory, the
// nesting depth of reasoning calls and the sticky language hint used by
// dispatch.
//
// A Context belongs to one conversation at a time and is not safe for
// concurrent use; run parallel conversations on separate contexts.
type Context struct {
	id        string
	namespace string
	store     memory.Store
	logger    logging.Logger

	registry  *registry.Registry
	mem       *memory.Memory
	depth     int
	incognito int
	// short-term snapshots taken on incognito entry, restored on exit
	incognitoTurns [][]memory.Turn
	lastLang       string

	// Mock answers reasoning prompts during tests. Nil in production.
	Mock *MockSession
}

// NewContext constructs a fresh Context.
func NewContext(optFns ...func(o *ContextOptions)) *Context {
	opts := ContextOptions{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Namespace == "" {
		opts.Namespace = opts.ID
	}

	return &Context{
		id:        opts.ID,
		namespace: opts.Namespace,
		store:     opts.Store,
		logger:    opts.Logger,
		registry:  registry.New(func(o *registry.Options) { o.Logger = opts.Logger }),
		Mock:      opts.Mock,
	}
}

// ID returns the context identifier.
func (c *Context) ID() string { return c.id }

// Registry returns the shared object registry.
func (c *Context) Registry() *registry.Registry { return c.registry }

// Memory returns the context memory, creating it on first use so contexts
// that never touch memory pay nothing for it.
func (c *Context) Memory() *memory.Memory {
	if c.mem == nil {
		c.mem = memory.New(c.namespace, func(o *memory.Options) {
			if c.store != nil {
				o.Store = c.store
			}
			o.Logger = c.logger
		})
	}
	return c.mem
}

// Depth returns the current reasoning nesting depth. Zero means no reasoning
// call is active; the outermost call runs at depth one.
func (c *Context) Depth() int { return c.depth }

// EnterCall increments the nesting depth and returns the new depth.
func (c *Context) EnterCall() int {
	c.depth++
	return c.depth
}

// ExitCall decrements the nesting depth. It never goes below zero.
func (c *Context) ExitCall() {
	if c.depth > 0 {
		c.depth--
	}
}

// Incognito reports whether the context is inside an incognito section.
func (c *Context) Incognito() bool { return c.incognito > 0 }

// EnterIncognito opens an incognito section: fact persistence is suppressed
// and short-term turns recorded inside the section are discarded when it
// ends. Sections nest; each exit restores the history captured at the
// matching enter.
func (c *Context) EnterIncognito() {
	c.incognitoTurns = append(c.incognitoTurns, c.Memory().Turns())
	c.incognito++
}

// ExitIncognito leaves the innermost incognito section, restoring the
// short-term history to what it was on entry. It never goes below zero.
func (c *Context) ExitIncognito() {
	if c.incognito == 0 {
		return
	}
	c.incognito--
	last := len(c.incognitoTurns) - 1
	c.Memory().ReplaceTurns(c.incognitoTurns[last])
	c.incognitoTurns = c.incognitoTurns[:last]
}

// WithIncognito runs fn with memory capture suppressed, restoring the
// previous (memory, incognito) state on return so nested incognito sections
// compose.
func (c *Context) WithIncognito(fn func() error) error {
	c.EnterIncognito()
	defer c.ExitIncognito()
	return fn()
}

// LastLanguage returns the language of the most recent execution engine run,
// used as the sticky bonus during dispatch. Empty before any run.
func (c *Context) LastLanguage() string { return c.lastLang }

// SetLastLanguage records the language of an execution engine run.
func (c *Context) SetLastLanguage(lang string) { c.lastLang = lang }

// Logger returns the context logger.
func (c *Context) Logger() logging.Logger { return c.logger }

// Reset clears registry handles, memory and bookkeeping while keeping the
// identity and configuration of the context.
func (c *Context) Reset() {
	c.registry.Clear()
	if c.mem != nil {
		c.mem.Reset()
	}
	c.depth = 0
	c.incognito = 0
	c.incognitoTurns = nil
	c.lastLang = ""
}
