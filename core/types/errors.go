package types

import (
	"errors"
	"fmt"
)

// ErrInvariant marks engine-invariant violations. These indicate a protocol
// engine bug, never a user error, and abort the unit of work that hit them.
var ErrInvariant = errors.New("engine invariant violated")

var (
	ErrEmptyOnion     = errors.New("types: empty onion")
	ErrMalformedOnion = errors.New("types: malformed onion layer")
	ErrMalformedHash  = errors.New("types: malformed hash")
)

// Invariantf formats an engine-invariant error wrapping ErrInvariant.
func Invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}

// IsInvariant reports whether err belongs to the fatal engine-invariant class.
func IsInvariant(err error) bool {
	return errors.Is(err, ErrInvariant)
}
