package core

import (
	"log/slog"

	"lnsim/core/types"
	"lnsim/p2p"
	"lnsim/topology"
)

func (n *Node) processAnnouncement(from types.NodeID, ann *types.ChannelAnnouncement) error {
	n.gossip.RecordGossip(p2p.DirectionIn, types.MsgTypeChannelAnnouncement)
	if handled, err := n.finalizeAccepted(ann); handled || err != nil {
		return err
	}
	if !n.seen.FirstAnnouncement(ann.ChannelID) {
		n.gossip.RecordDuplicate(types.MsgTypeChannelAnnouncement)
		return nil
	}
	if err := n.graph.AddAnnouncedEdge(ann); err != nil {
		if topology.IsKnownChannel(err) {
			n.logger.Debug("announcement for known channel", slog.String("channel", string(ann.ChannelID)))
			return nil
		}
		return err
	}
	n.relay(from, ann)
	return nil
}

// processUpdate applies a policy update. An update for an edge the view has
// never seen is an invariant violation and is not marked as seen, so a later
// copy is evaluated again.
func (n *Node) processUpdate(from types.NodeID, upd *types.ChannelUpdate) error {
	n.gossip.RecordGossip(p2p.DirectionIn, types.MsgTypeChannelUpdate)
	if n.seen.SeenUpdate(upd) {
		n.gossip.RecordDuplicate(types.MsgTypeChannelUpdate)
		return nil
	}
	if _, err := n.graph.UpdatePolicy(upd.Signer, upd.ChannelID, upd.Policy, upd.Timestamp); err != nil {
		return err
	}
	n.seen.MarkUpdate(upd)
	n.relay(from, upd)
	return nil
}

// relay forwards an accepted gossip message to every channel peer except the
// sender, unless it reached its hop or age bound.
func (n *Node) relay(from types.NodeID, payload types.Payload) {
	timestamp, forwardings, err := p2p.Header(payload)
	if err != nil {
		n.logger.Warn("relay failed", slog.Any("error", err))
		return
	}
	if !n.cfg.Relay.ShouldRelay(n.chain.Height(), timestamp, forwardings) {
		n.gossip.RecordNotRelayed(payload.MsgType())
		return
	}
	for _, peer := range p2p.Targets(n.ChannelPeers(), from) {
		next, err := p2p.Forward(payload)
		if err != nil {
			n.logger.Warn("relay failed", slog.Any("error", err))
			return
		}
		n.send(peer, next)
		n.gossip.RecordGossip(p2p.DirectionRelay, payload.MsgType())
	}
}

// syncPeer sends a newly connected peer every other channel in the view,
// each announcement followed by the policies known for it. Updates relayed
// later then never reach the peer ahead of their announcement.
func (n *Node) syncPeer(peer types.NodeID, skip types.ChannelID) {
	for _, cs := range n.graph.Snapshot().Channels {
		info := cs.Info
		if info.ID == skip {
			continue
		}
		a, okA := n.env.Identity(info.NodeA)
		b, okB := n.env.Identity(info.NodeB)
		if !okA || !okB {
			n.logger.Warn("sync skipped channel with unknown endpoint", slog.String("channel", string(info.ID)))
			continue
		}
		n.send(peer, &types.ChannelAnnouncement{
			ChannelID: info.ID,
			NodeA:     info.NodeA,
			NodeB:     info.NodeB,
			PubKeyA:   a.PubKey,
			PubKeyB:   b.PubKey,
			Capacity:  info.Capacity,
			Timestamp: info.Height,
		})
		n.gossip.RecordGossip(p2p.DirectionOut, types.MsgTypeChannelAnnouncement)
		for i, signer := range [2]types.NodeID{info.NodeA, info.NodeB} {
			if cs.Policies[i] == nil {
				continue
			}
			n.send(peer, &types.ChannelUpdate{
				ChannelID: info.ID,
				Signer:    signer,
				Policy:    *cs.Policies[i],
				Timestamp: cs.Stamps[i],
			})
			n.gossip.RecordGossip(p2p.DirectionOut, types.MsgTypeChannelUpdate)
		}
	}
}

// purgeUnpriced drops channels that stayed unpriced longer than the gossip
// age bound. It runs at most once per block.
func (n *Node) purgeUnpriced() error {
	height := n.chain.Height()
	n.mu.Lock()
	if height == n.lastPurge {
		n.mu.Unlock()
		return nil
	}
	n.lastPurge = height
	n.mu.Unlock()

	purged := n.graph.PurgeUnpriced(height, n.cfg.Relay.MaxAge)
	for _, id := range purged {
		n.seen.ForgetAnnouncement(id)
	}
	if len(purged) > 0 {
		n.logger.Debug("purged unpriced channels", slog.Int("count", len(purged)))
	}
	return nil
}
