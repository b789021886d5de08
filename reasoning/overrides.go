package reasoning

// Override intercepts a verb before effects and built-ins see it. Used by
// hosts to stub or wrap individual verbs for one section of a conversation.
type Override struct {
	// Verb names the tool call this override intercepts.
	Verb string

	// Handler produces the textual tool result material.
	Handler func(input map[string]any) (any, error)
}

// PushOverride puts an override on top of the stack. When several overrides
// target the same verb the last pushed one wins.
func (l *Loop) PushOverride(ov Override) {
	l.overrides = append(l.overrides, ov)
}

// PopOverride removes the most recently pushed override, reporting whether
// one existed.
func (l *Loop) PopOverride() bool {
	if len(l.overrides) == 0 {
		return false
	}
	l.overrides = l.overrides[:len(l.overrides)-1]
	return true
}

// WithOverride runs fn with the override active, popping it on return.
func (l *Loop) WithOverride(ov Override, fn func() error) error {
	l.PushOverride(ov)
	defer l.PopOverride()
	return fn()
}

// topOverride finds the highest override for a verb.
func (l *Loop) topOverride(verb string) (Override, bool) {
	for i := len(l.overrides) - 1; i >= 0; i-- {
		if l.overrides[i].Verb == verb {
			return l.overrides[i], true
		}
	}
	return Override{}, false
}
