package p2p

import (
	"errors"
	"fmt"

	"lnsim/core/types"
)

var (
	// ErrInvalidPayload indicates that a peer supplied a gossip message with invalid contents.
	ErrInvalidPayload = errors.New("p2p: invalid payload")
	// ErrNotGossip is returned when a non-gossip message is handed to the relay.
	ErrNotGossip = errors.New("p2p: not a gossip message")
	// ErrInvalidRelayConfig rejects non-positive hop or age bounds.
	ErrInvalidRelayConfig = fmt.Errorf("%w: p2p: invalid relay configuration", types.ErrInvariant)
)

// IsInvalidPayload reports whether the error originated from a malformed or invalid payload.
func IsInvalidPayload(err error) bool {
	return errors.Is(err, ErrInvalidPayload)
}
