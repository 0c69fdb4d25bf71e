package p2p

import (
	"fmt"

	"lnsim/core/types"
)

// RelayPolicy bounds how far and for how long a gossip message travels.
type RelayPolicy struct {
	MaxHops int
	MaxAge  uint64
}

// Validate checks that both bounds are usable.
func (p RelayPolicy) Validate() error {
	if p.MaxHops < 0 {
		return fmt.Errorf("%w: max hops %d", ErrInvalidRelayConfig, p.MaxHops)
	}
	return nil
}

// ShouldRelay reports whether a message stamped at timestamp that has already
// been forwarded forwardings times may travel one more hop at height.
func (p RelayPolicy) ShouldRelay(height, timestamp uint64, forwardings int) bool {
	return forwardings < p.MaxHops && !p.Stale(height, timestamp)
}

// Stale reports whether a message is older than MaxAge at height.
func (p RelayPolicy) Stale(height, timestamp uint64) bool {
	return timestamp < height && height-timestamp > p.MaxAge
}

// Forward returns a copy of payload with its forwarding counter incremented.
func Forward(payload types.Payload) (types.Payload, error) {
	switch msg := payload.(type) {
	case *types.ChannelAnnouncement:
		cp := *msg
		cp.Forwardings++
		return &cp, nil
	case *types.ChannelUpdate:
		cp := *msg
		cp.Forwardings++
		return &cp, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrNotGossip, payload)
	}
}

// Header extracts the relay-relevant fields of a gossip payload.
func Header(payload types.Payload) (timestamp uint64, forwardings int, err error) {
	switch msg := payload.(type) {
	case *types.ChannelAnnouncement:
		return msg.Timestamp, msg.Forwardings, nil
	case *types.ChannelUpdate:
		return msg.Timestamp, msg.Forwardings, nil
	default:
		return 0, 0, fmt.Errorf("%w: %T", ErrNotGossip, payload)
	}
}

// Targets returns peers minus the sender, preserving order.
func Targets(peers []types.NodeID, sender types.NodeID) []types.NodeID {
	out := make([]types.NodeID, 0, len(peers))
	for _, p := range peers {
		if p == sender {
			continue
		}
		out = append(out, p)
	}
	return out
}
