package network

import (
	"fmt"
	"log/slog"

	"lnsim/channel"
	"lnsim/core"
	"lnsim/core/types"
)

// Send delivers msg to the destination node's inbox. Delivery never blocks on
// the destination's tick.
func (n *Network) Send(msg *types.Message) error {
	if msg == nil || msg.Payload == nil {
		return fmt.Errorf("%w: empty message", core.ErrUnknownMessage)
	}
	n.mu.RLock()
	dest, ok := n.nodes[msg.To]
	n.mu.RUnlock()
	if !ok {
		n.metrics.undeliverable.Inc()
		return fmt.Errorf("%w: %s", ErrUnknownNode, msg.To)
	}
	dest.Enqueue(msg)
	n.metrics.messages.WithLabelValues(msg.Type().String()).Inc()
	return nil
}

// Identity resolves a node id to its public identity.
func (n *Network) Identity(id types.NodeID) (types.Identity, bool) {
	node, ok := n.Node(id)
	if !ok {
		return types.Identity{}, false
	}
	return node.Identity(), true
}

// RegisterChannel adds a confirmed ledger to the registry. Both endpoints
// resolve the same ledger through Channel.
func (n *Network) RegisterChannel(ch *channel.Channel) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, dup := n.channels[ch.ID()]; dup {
		return fmt.Errorf("network: channel %s registered twice", ch.ID())
	}
	n.channels[ch.ID()] = ch
	n.metrics.channels.Set(float64(len(n.channels)))
	n.metrics.capacity.Add(float64(ch.Capacity()))
	n.logger.Debug("channel registered",
		slog.String("channel", string(ch.ID())),
		slog.Int64("capacity", ch.Capacity()))
	return nil
}

// Channel returns the shared ledger for id.
func (n *Network) Channel(id types.ChannelID) (*channel.Channel, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ch, ok := n.channels[id]
	return ch, ok
}

// QueueDepth returns the total number of undelivered messages.
func (n *Network) QueueDepth() int {
	total := 0
	for _, node := range n.Nodes() {
		total += node.Pending()
	}
	n.metrics.queueDepth.Set(float64(total))
	return total
}
