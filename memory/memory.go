package memory

import (
	"time"

	"github.com/hupe1980/polymesh/logging"
)

// Turn is one short-term conversation message.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Fact is one durable long-term memory entry. IDs are per-context monotonic
// and never reused within a context.
type Fact struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Options configures a Memory instance.
type Options struct {
	// Store persists long-term facts. Defaults to an InMemoryStore.
	Store Store

	// Namespacer resolves the persistence namespace. Defaults to the
	// identity of the configured namespace string.
	Namespacer Namespacer

	// Logger receives persistence diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Namespacer resolves the storage namespace for a context. The default
// implementation returns the configured namespace unchanged; hosts plug
// their own naming collaborator here.
type Namespacer func(namespace string) string

// Memory holds the conversational state of one context: volatile short-term
// turns, persisted long-term facts and rolling compaction summaries.
//
// Memory is context-local and never shared across contexts, so it requires
// no locking of its own. The only concurrent reader is the compaction
// worker, which synchronizes through the Compactor.
type Memory struct {
	namespace  string
	shortTerm  []Turn
	longTerm   []Fact
	summaries  []string
	nextFactID int64
	store      Store
	namespacer Namespacer
	logger     logging.Logger
}

// New constructs a Memory for the given namespace, loading any previously
// persisted facts. Missing or corrupt storage degrades to an empty list.
func New(namespace string, optFns ...func(o *Options)) *Memory {
	opts := Options{
		Store:      NewInMemoryStore(),
		Namespacer: func(ns string) string { return ns },
		Logger:     logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	m := &Memory{
		namespace:  namespace,
		nextFactID: 1,
		store:      opts.Store,
		namespacer: opts.Namespacer,
		logger:     opts.Logger,
	}

	facts, err := opts.Store.Load(m.resolvedNamespace())
	if err != nil {
		// load never raises to callers; an unreadable store is an empty one
		m.logger.Warn("memory.load.failed", "namespace", m.resolvedNamespace(), "error", err.Error())
		facts = nil
	}
	m.longTerm = facts
	for _, f := range facts {
		if f.ID >= m.nextFactID {
			m.nextFactID = f.ID + 1
		}
	}

	return m
}

func (m *Memory) resolvedNamespace() string {
	return m.namespacer(m.namespace)
}

// Namespace returns the unresolved namespace this memory persists under.
func (m *Memory) Namespace() string { return m.namespace }

// AppendTurn records one short-term message.
func (m *Memory) AppendTurn(role, content string) {
	m.shortTerm = append(m.shortTerm, Turn{Role: role, Content: content})
}

// Turns returns a copy of the short-term history.
func (m *Memory) Turns() []Turn {
	out := make([]Turn, len(m.shortTerm))
	copy(out, m.shortTerm)
	return out
}

// ReplaceTurns swaps the short-term history wholesale. Used by the reasoning
// loop to isolate nested calls and by compaction to drop collapsed rounds.
func (m *Memory) ReplaceTurns(turns []Turn) {
	m.shortTerm = append([]Turn(nil), turns...)
}

// Remember appends a durable fact, assigns it the next monotonic id and
// persists the long-term list.
func (m *Memory) Remember(content string) Fact {
	fact := Fact{ID: m.nextFactID, Content: content, CreatedAt: time.Now()}
	m.nextFactID++
	m.longTerm = append(m.longTerm, fact)
	m.persist()
	return fact
}

// Forget removes exactly the fact with the given id and re-persists the
// rest. It reports whether a fact was removed.
func (m *Memory) Forget(id int64) bool {
	for i, f := range m.longTerm {
		if f.ID == id {
			m.longTerm = append(m.longTerm[:i], m.longTerm[i+1:]...)
			m.persist()
			return true
		}
	}
	return false
}

// Facts returns a copy of the long-term facts.
func (m *Memory) Facts() []Fact {
	out := make([]Fact, len(m.longTerm))
	copy(out, m.longTerm)
	return out
}

// SeedFacts replaces the long-term facts without persisting them, for hosts
// and tests that import state from elsewhere. The fact counter resumes past
// the highest seeded ID.
func (m *Memory) SeedFacts(facts []Fact) {
	m.longTerm = append([]Fact(nil), facts...)
	for _, f := range facts {
		if f.ID >= m.nextFactID {
			m.nextFactID = f.ID + 1
		}
	}
}

// Summaries returns a copy of the rolling compaction summaries.
func (m *Memory) Summaries() []string {
	out := make([]string, len(m.summaries))
	copy(out, m.summaries)
	return out
}

// AddSummary appends one compaction summary.
func (m *Memory) AddSummary(summary string) {
	m.summaries = append(m.summaries, summary)
}

// EstimateTokens is the cheap length heuristic used to trigger compaction:
// total character length over short-term, long-term and summaries divided
// by four. Exact token accounting is deliberately out of scope.
func (m *Memory) EstimateTokens() int {
	chars := 0
	for _, t := range m.shortTerm {
		chars += len(t.Role) + len(t.Content)
	}
	for _, f := range m.longTerm {
		chars += len(f.Content)
	}
	for _, s := range m.summaries {
		chars += len(s)
	}
	return chars / 4
}

// Reset drops all state without touching persisted storage.
func (m *Memory) Reset() {
	m.shortTerm = nil
	m.longTerm = nil
	m.summaries = nil
	m.nextFactID = 1
}

func (m *Memory) persist() {
	if err := m.store.Save(m.resolvedNamespace(), m.longTerm); err != nil {
		m.logger.Warn("memory.persist.failed", "namespace", m.resolvedNamespace(), "error", err.Error())
	}
}
