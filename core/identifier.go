package core

import (
	"fmt"
	"regexp"
)

// identifierPattern is the strict shape every verb, variable, attribute and
// function name must satisfy before it is used at a dispatch boundary.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// InvalidIdentifierError reports a name that failed strict identifier
// validation. It is caught at the dispatch boundary and rendered as a
// textual tool result, never a hard failure.
type InvalidIdentifierError struct {
	Name string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid identifier: %q", e.Name)
}

// ValidIdentifier reports whether name matches the strict identifier shape.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// CheckIdentifier returns an *InvalidIdentifierError when name is not a
// valid identifier.
func CheckIdentifier(name string) error {
	if !ValidIdentifier(name) {
		return &InvalidIdentifierError{Name: name}
	}
	return nil
}
