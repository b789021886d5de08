package core

import (
	"regexp"
	"strings"
)

// MockResult is the canned outcome a stub produces for a reasoning prompt:
// environment writes to apply, facts to remember, the value the call returns
// and the assistant text recorded in the transcript.
type MockResult struct {
	Writes map[string]any
	Facts  []string
	Result any
	Text   string
}

type mockStub struct {
	match func(prompt string) bool
	fn    func(prompt string) (MockResult, bool)
	res   MockResult
}

// MockSession answers reasoning prompts from pre-registered stubs so tests
// and offline runs never reach a live backend. Stubs are consulted in
// registration order and the first match wins.
type MockSession struct {
	stubs []mockStub
	seen  []string
}

// NewMockSession creates an empty mock session.
func NewMockSession() *MockSession {
	return &MockSession{}
}

// StubLiteral answers prompts that equal the given text exactly.
func (s *MockSession) StubLiteral(prompt string, res MockResult) *MockSession {
	s.stubs = append(s.stubs, mockStub{
		match: func(p string) bool { return p == prompt },
		res:   res,
	})
	return s
}

// StubContains answers prompts containing the given substring.
func (s *MockSession) StubContains(substr string, res MockResult) *MockSession {
	s.stubs = append(s.stubs, mockStub{
		match: func(p string) bool { return strings.Contains(p, substr) },
		res:   res,
	})
	return s
}

// StubPattern answers prompts matching the given regular expression.
func (s *MockSession) StubPattern(pattern string, res MockResult) *MockSession {
	re := regexp.MustCompile(pattern)
	s.stubs = append(s.stubs, mockStub{
		match: re.MatchString,
		res:   res,
	})
	return s
}

// StubFunc delegates matching and the result to a function. The function
// reports whether it handled the prompt.
func (s *MockSession) StubFunc(fn func(prompt string) (MockResult, bool)) *MockSession {
	s.stubs = append(s.stubs, mockStub{fn: fn})
	return s
}

// Match resolves a prompt against the registered stubs, first match wins.
// Every prompt is recorded regardless of outcome.
func (s *MockSession) Match(prompt string) (MockResult, bool) {
	s.seen = append(s.seen, prompt)
	for _, stub := range s.stubs {
		if stub.fn != nil {
			if res, ok := stub.fn(prompt); ok {
				return res, true
			}
			continue
		}
		if stub.match(prompt) {
			return stub.res, true
		}
	}
	return MockResult{}, false
}

// Prompts returns every prompt presented to the session in order.
func (s *MockSession) Prompts() []string {
	out := make([]string, len(s.seen))
	copy(out, s.seen)
	return out
}
