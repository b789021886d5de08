// Package polymesh provides a high-level façade over the execution engines,
// the reasoning loop and the shared environment, enabling rapid construction
// of mixed-language orchestration flows. Most applications interact with
// this package by:
//  1. Creating a Mesh via New() with a chat backend
//  2. Binding values, functions and effects onto the shared environment
//  3. Feeding source snippets or prompts through Dispatch or Run
//
// The façade delegates language detection to engine.Detector and keeps one
// Context and Environment per Mesh. All defaults are safe for local
// development and testing; production deployments typically supply a durable
// fact store and a structured logger.
package polymesh

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/polymesh/backend"
	"github.com/hupe1980/polymesh/config"
	"github.com/hupe1980/polymesh/core"
	"github.com/hupe1980/polymesh/effect"
	"github.com/hupe1980/polymesh/engine"
	"github.com/hupe1980/polymesh/logging"
	"github.com/hupe1980/polymesh/memory"
	"github.com/hupe1980/polymesh/reasoning"
)

// Options configures the Mesh instance.
type Options struct {
	// Config carries the tunable knobs (models, caps, compaction).
	Config config.Config

	// Store persists long-term facts (defaults to an in-memory store).
	Store memory.Store

	// CompactBackend drives compaction summaries. Defaults to the main
	// backend.
	CompactBackend backend.ChatBackend

	// Mock, when set, answers reasoning prompts from stubs instead of the
	// backend.
	Mock *core.MockSession

	// Logger (defaults to NoOp logger if nil). Supplying a
	// *logging.MeshLogger additionally enables structured engine run and
	// backend call metrics.
	Logger logging.Logger
}

// Mesh is the high-level façade aggregating the engines, the detector and
// the per-conversation state.
type Mesh struct {
	opts     Options
	ctx      *core.Context
	env      *core.Environment
	effects  *effect.Registry
	detector *engine.Detector
	engines  map[string]engine.Engine
	loop     *reasoning.Loop
	mlog     *logging.MeshLogger
}

// loggedBackend decorates a ChatBackend with per-call latency metrics.
type loggedBackend struct {
	inner backend.ChatBackend
	mlog  *logging.MeshLogger
}

func (b *loggedBackend) Chat(ctx context.Context, req backend.Request) ([]backend.ContentBlock, error) {
	start := time.Now()
	blocks, err := b.inner.Chat(ctx, req)
	b.mlog.LogBackendCall(req.Model, time.Since(start), err == nil, err)
	return blocks, err
}

// New creates a new Mesh driven by the given chat backend. Any unset option
// falls back to an in-memory or no-op implementation.
func New(chat backend.ChatBackend, optFns ...func(o *Options)) *Mesh {
	opts := Options{
		Config: config.Default(),
		Store:  memory.NewInMemoryStore(),
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.CompactBackend == nil {
		opts.CompactBackend = chat
	}

	ctx := core.NewContext(func(o *core.ContextOptions) {
		o.Namespace = opts.Config.Namespace
		o.Store = opts.Store
		o.Mock = opts.Mock
		o.Logger = opts.Logger
	})

	var mlog *logging.MeshLogger
	if ml, ok := opts.Logger.(*logging.MeshLogger); ok {
		mlog = ml.WithContextID(ctx.ID())
	}

	loopChat := chat
	if mlog != nil {
		loopChat = &loggedBackend{inner: chat, mlog: mlog.WithComponent("backend")}
	}

	effects := effect.NewRegistry()

	compactor := memory.NewCompactor(opts.CompactBackend, func(o *memory.CompactorOptions) {
		o.Model = opts.Config.CompactModelOrDefault()
		o.KeepRecent = opts.Config.KeepRecentRounds
		o.Pressure = opts.Config.MemoryPressure
		o.Logger = opts.Logger
	})

	loop := reasoning.New(loopChat, func(o *reasoning.Options) {
		o.Model = opts.Config.Model
		o.MaxIterations = opts.Config.MaxIterations
		o.Effects = effects
		o.Compactor = compactor
		o.Logger = opts.Logger
	})

	engines := map[string]engine.Engine{}
	for _, e := range []engine.Engine{
		engine.NewNative(func(o *engine.NativeOptions) { o.Logger = opts.Logger }),
		engine.NewJS(func(o *engine.JSOptions) { o.Logger = opts.Logger }),
		engine.NewPython(func(o *engine.PythonOptions) {
			o.Interpreter = opts.Config.PythonInterpreter
			o.Logger = opts.Logger
		}),
		loop,
	} {
		engines[e.Name()] = e
	}

	return &Mesh{
		opts:     opts,
		ctx:      ctx,
		env:      core.NewEnvironment(),
		effects:  effects,
		detector: engine.NewDetector(func(o *engine.DetectorOptions) { o.Logger = opts.Logger }),
		engines:  engines,
		loop:     loop,
		mlog:     mlog,
	}
}

// Context returns the mesh's execution context.
func (m *Mesh) Context() *core.Context { return m.ctx }

// Environment returns the shared environment.
func (m *Mesh) Environment() *core.Environment { return m.env }

// Effects returns the effect registry for host side effect definitions.
func (m *Mesh) Effects() *effect.Registry { return m.effects }

// Loop returns the reasoning loop, e.g. for pushing verb overrides.
func (m *Mesh) Loop() *reasoning.Loop { return m.loop }

// RegisterEngine adds or replaces an execution engine.
func (m *Mesh) RegisterEngine(e engine.Engine) {
	m.engines[e.Name()] = e
}

// Dispatch detects the language of a source snippet and runs it on the
// matching engine. Snippets that look like prose go to the reasoning loop.
func (m *Mesh) Dispatch(ctx context.Context, source string) (any, error) {
	if m.mlog != nil {
		defer m.mlog.StartTimer("dispatch")()
	}
	lang := m.detector.Detect(m.ctx, source)
	return m.RunOn(ctx, lang, source)
}

// RunOn executes a snippet on a named engine, bypassing detection.
func (m *Mesh) RunOn(ctx context.Context, name, source string) (any, error) {
	e, ok := m.engines[name]
	if !ok {
		return nil, fmt.Errorf("no engine named %q", name)
	}

	start := time.Now()
	var out any
	var err error
	if e == m.loop {
		out, err = m.loop.Run(ctx, m.ctx, m.env, source)
	} else {
		out, err = e.Execute(m.ctx, m.env, source)
	}
	if m.mlog != nil {
		m.mlog.LogEngineRun(name, time.Since(start), err == nil, err)
	}
	return out, err
}

// Run sends a prompt straight to the reasoning loop.
func (m *Mesh) Run(ctx context.Context, prompt string) (any, error) {
	return m.loop.Run(ctx, m.ctx, m.env, prompt)
}

// Reset clears the mesh's conversational state while keeping its wiring.
func (m *Mesh) Reset() {
	m.ctx.Reset()
	m.env = core.NewEnvironment()
}
