package topology

import (
	"errors"
	"fmt"

	"lnsim/core/types"
)

var (
	// ErrKnownChannel is returned when a channel id is inserted twice. Callers
	// treat it as a no-op.
	ErrKnownChannel = errors.New("topology: channel already known")
	// ErrUnknownEdge means a policy update arrived for an edge the view has never
	// seen, i.e. before its announcement.
	ErrUnknownEdge = fmt.Errorf("%w: topology: update for unknown edge", types.ErrInvariant)
	// ErrInvalidChannel rejects malformed channel descriptions.
	ErrInvalidChannel = errors.New("topology: invalid channel")
)

// IsKnownChannel reports whether err is a duplicate insertion.
func IsKnownChannel(err error) bool {
	return errors.Is(err, ErrKnownChannel)
}
