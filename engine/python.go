package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/hupe1980/polymesh/core"
	"github.com/hupe1980/polymesh/logging"
)

// pythonHarness is the bridge script run by the interpreter. It receives a
// JSON payload {source, env} on stdin, executes the source with env as its
// globals and writes {result, env, error} back on stdout. Expressions are
// evaluated for their value; statement blocks report the value bound to "_".
const pythonHarness = `
import json, sys

payload = json.load(sys.stdin)
g = dict(payload.get("env", {}))
result = None
err = None
try:
    src = payload["source"]
    try:
        result = eval(compile(src, "<snippet>", "eval"), g)
    except SyntaxError:
        exec(compile(src, "<snippet>", "exec"), g)
        result = g.get("_")
except Exception as e:
    err = "%s: %s" % (type(e).__name__, e)

def jsonable(v):
    try:
        json.dumps(v)
        return True
    except Exception:
        return False

out = {
    "error": err,
    "result": result if jsonable(result) else repr(result),
    "env": {k: v for k, v in g.items() if not k.startswith("__") and jsonable(v)},
}
json.dump(out, sys.stdout)
`

// DefaultPythonTimeout bounds one interpreter invocation.
const DefaultPythonTimeout = 30 * time.Second

// PythonOptions configures the Python engine.
type PythonOptions struct {
	// Interpreter is the executable to invoke. Defaults to python3.
	Interpreter string

	// Timeout bounds one invocation. Defaults to DefaultPythonTimeout.
	Timeout time.Duration

	Logger logging.Logger
}

// Python executes snippets by spawning an interpreter subprocess and talking
// a small JSON protocol over stdio. Each invocation is hermetic: the shared
// environment is serialized in, the snippet runs, and JSON-representable
// globals are synced back. Values that do not survive JSON serialization are
// skipped with a debug log entry instead of failing the run.
type Python struct {
	interpreter string
	timeout     time.Duration
	logger      logging.Logger
}

// NewPython creates the Python engine.
func NewPython(optFns ...func(o *PythonOptions)) *Python {
	opts := PythonOptions{
		Interpreter: "python3",
		Timeout:     DefaultPythonTimeout,
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Python{interpreter: opts.Interpreter, timeout: opts.Timeout, logger: opts.Logger}
}

// Name implements Engine.
func (p *Python) Name() string { return "python" }

// IsExecution implements Engine.
func (p *Python) IsExecution() bool { return true }

type pythonPayload struct {
	Source string         `json:"source"`
	Env    map[string]any `json:"env"`
}

type pythonReply struct {
	Error  string         `json:"error"`
	Result any            `json:"result"`
	Env    map[string]any `json:"env"`
}

// Execute implements Engine.
func (p *Python) Execute(ctx *core.Context, env *core.Environment, source string) (any, error) {
	runCtx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	payload := pythonPayload{Source: source, Env: p.exportEnv(env)}
	input, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("python: encode payload: %w", err)
	}

	cmd := exec.CommandContext(runCtx, p.interpreter, "-c", pythonHarness)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("python: interpreter timed out after %s", p.timeout)
		}
		return nil, fmt.Errorf("python: interpreter failed: %v (%s)", err, stderr.String())
	}

	var reply pythonReply
	if err := json.Unmarshal(stdout.Bytes(), &reply); err != nil {
		return nil, fmt.Errorf("python: decode reply: %w", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("python: %s", reply.Error)
	}

	for k, v := range reply.Env {
		if !core.ValidIdentifier(k) {
			continue
		}
		env.Set(k, v)
	}

	ctx.SetLastLanguage(p.Name())
	return MarshalResult(ctx, p.Name(), reply.Result), nil
}

// exportEnv serializes the JSON-representable slice of the environment.
// Handles, functions and other non-serializable values stay behind; the
// snippet reaches them through host functions instead.
func (p *Python) exportEnv(env *core.Environment) map[string]any {
	out := make(map[string]any)
	for _, name := range env.Names() {
		v, _ := env.Get(name)
		unwrapped, err := Unwrap(v)
		if err != nil {
			p.logger.Debug("marshal.skip", "engine", p.Name(), "key", name, "error", err.Error())
			continue
		}
		if _, err := json.Marshal(unwrapped); err != nil {
			p.logger.Debug("marshal.skip", "engine", p.Name(), "key", name)
			continue
		}
		out[name] = unwrapped
	}
	return out
}
