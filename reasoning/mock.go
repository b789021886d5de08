package reasoning

import (
	"fmt"

	"github.com/hupe1980/polymesh/core"
)

// MockMatchError reports a prompt that reached a mocked context without any
// stub claiming it. Deliberately loud: a silent fallthrough to a live
// backend would defeat the point of mocking.
type MockMatchError struct {
	Prompt string
}

func (e *MockMatchError) Error() string {
	return fmt.Sprintf("no mock stub matched prompt: %q (register a stub via StubLiteral, StubContains, StubPattern or StubFunc before running)", e.Prompt)
}

// runMock resolves a reasoning call against the context's mock session
// instead of a backend: the matched stub's writes are applied to the
// environment, its facts are remembered and its result returned.
func (l *Loop) runMock(cctx *core.Context, env *core.Environment, prompt string) (any, error) {
	res, ok := cctx.Mock.Match(prompt)
	if !ok {
		return nil, &MockMatchError{Prompt: prompt}
	}

	mem := cctx.Memory()
	mem.AppendTurn("user", prompt)

	for name, value := range res.Writes {
		if err := core.CheckIdentifier(name); err != nil {
			return nil, err
		}
		env.Set(name, value)
	}

	if !cctx.Incognito() {
		for _, fact := range res.Facts {
			mem.Remember(fact)
		}
	}

	if res.Text != "" {
		mem.AppendTurn("assistant", res.Text)
	}

	return res.Result, nil
}
