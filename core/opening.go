package core

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/google/uuid"

	"lnsim/channel"
	"lnsim/core/types"
	"lnsim/p2p"
	"lnsim/topology"
)

// ProposalState is the opening state machine position of a channel proposal.
type ProposalState string

const (
	ProposalProposed         ProposalState = "proposed"
	ProposalAccepted         ProposalState = "accepted"
	ProposalFundingSubmitted ProposalState = "funding_submitted"
)

// Proposal tracks an opening in progress with one peer. At most one exists
// per peer, whichever side initiated it.
type Proposal struct {
	TemporaryID  types.ChannelID `json:"temporaryId"`
	Peer         types.NodeID    `json:"peer"`
	Initiator    bool            `json:"initiator"`
	Capacity     int64           `json:"capacity"`
	Reserve      int64           `json:"reserve"`
	FeeRate      int64           `json:"feeRate"`
	State        ProposalState   `json:"state"`
	FundingTx    string          `json:"fundingTx,omitempty"`
	TargetHeight uint64          `json:"targetHeight,omitempty"`
}

// ReserveFor returns the channel reserve both sides keep for capacity.
func ReserveFor(capacity int64, fraction float64) int64 {
	if fraction <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(capacity) * fraction))
}

// OpenChannel proposes a channel of capacity to peer, funded entirely by this
// node. The funding transaction pays feeRate once the peer accepts.
func (n *Node) OpenChannel(peer types.NodeID, capacity, feeRate int64) error {
	if peer == n.identity.ID {
		return ErrSelfChannel
	}
	if capacity <= 0 {
		return fmt.Errorf("%w: capacity %d", channel.ErrInvalidAmount, capacity)
	}
	remote, ok := n.env.Identity(peer)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}
	p := &Proposal{
		TemporaryID: types.TemporaryChannelID(n.identity.PubKey, remote.PubKey),
		Peer:        peer,
		Initiator:   true,
		Capacity:    capacity,
		Reserve:     ReserveFor(capacity, n.cfg.ReserveFraction),
		FeeRate:     feeRate,
		State:       ProposalProposed,
	}
	n.mu.Lock()
	if _, exists := n.proposals[peer]; exists {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProposalPending, peer)
	}
	n.proposals[peer] = p
	n.mu.Unlock()

	n.send(peer, &types.OpenChannel{
		TemporaryID:  p.TemporaryID,
		Capacity:     capacity,
		Reserve:      p.Reserve,
		FeeRate:      feeRate,
		ToSelfDelay:  n.cfg.ToSelfDelay,
		FunderPubKey: n.identity.PubKey,
	})
	n.logger.Debug("channel proposed", slog.String("peer", string(peer)), slog.Int64("capacity", capacity))
	return nil
}

func (n *Node) processOpenChannel(from types.NodeID, msg *types.OpenChannel) error {
	reject := func(reason string) error {
		n.send(from, &types.AcceptChannel{TemporaryID: msg.TemporaryID, Reason: reason, AcceptorPubKey: n.identity.PubKey})
		n.logger.Debug("channel rejected", slog.String("peer", string(from)), slog.String("reason", reason))
		return nil
	}
	if from == n.identity.ID {
		return reject("self channel")
	}
	if msg.Capacity <= 0 {
		return reject("invalid capacity")
	}
	if want := ReserveFor(msg.Capacity, n.cfg.ReserveFraction); msg.Reserve != want {
		return reject(fmt.Sprintf("reserve mismatch: want %d, got %d", want, msg.Reserve))
	}
	if want := types.TemporaryChannelID(msg.FunderPubKey, n.identity.PubKey); msg.TemporaryID != want {
		return reject("temporary id mismatch")
	}

	n.mu.Lock()
	if _, exists := n.proposals[from]; exists {
		n.mu.Unlock()
		return reject("proposal already pending")
	}
	n.proposals[from] = &Proposal{
		TemporaryID: msg.TemporaryID,
		Peer:        from,
		Capacity:    msg.Capacity,
		Reserve:     msg.Reserve,
		FeeRate:     msg.FeeRate,
		State:       ProposalAccepted,
	}
	n.mu.Unlock()

	n.send(from, &types.AcceptChannel{TemporaryID: msg.TemporaryID, Accepted: true, AcceptorPubKey: n.identity.PubKey})
	return nil
}

func (n *Node) processAcceptChannel(from types.NodeID, msg *types.AcceptChannel) error {
	n.mu.Lock()
	p, ok := n.proposals[from]
	if !ok || !p.Initiator || p.TemporaryID != msg.TemporaryID || p.State != ProposalProposed {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s from %s", ErrStaleAccept, msg.TemporaryID, from)
	}
	if !msg.Accepted {
		delete(n.proposals, from)
		n.stats.ChannelsRejected++
		n.mu.Unlock()
		n.logger.Debug("channel proposal declined", slog.String("peer", string(from)), slog.String("reason", msg.Reason))
		return nil
	}
	n.mu.Unlock()

	tx := &types.Transaction{
		ID:      n.newTxID(),
		Type:    types.TxTypeFunding,
		Amount:  p.Capacity,
		Parties: []types.NodeID{n.identity.ID, from},
		FeeRate: p.FeeRate,
		Size:    n.cfg.FundingTxSize,
	}
	if err := n.chain.Submit(tx); err != nil {
		n.mu.Lock()
		delete(n.proposals, from)
		n.mu.Unlock()
		return fmt.Errorf("submit funding for %s: %w", p.TemporaryID, err)
	}
	n.mu.Lock()
	p.FundingTx = tx.ID
	p.State = ProposalFundingSubmitted
	p.TargetHeight = n.chain.Height() + n.cfg.MinimumDepth
	n.mu.Unlock()
	n.logger.Debug("funding submitted", slog.String("peer", string(from)), slog.String("tx", tx.ID))
	return nil
}

// newTxID draws a transaction id from the node's seeded generator so runs
// are reproducible.
func (n *Node) newTxID() string {
	var id uuid.UUID
	n.Rand(func(r *rand.Rand) {
		var err error
		id, err = uuid.NewRandomFromReader(rngReader{r})
		if err != nil {
			id = uuid.Nil
		}
	})
	return id.String()
}

type rngReader struct{ r *rand.Rand }

func (rr rngReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(rr.r.Uint32())
	}
	return len(p), nil
}

// checkFundings finalizes initiated channels whose funding reached the
// minimum depth.
func (n *Node) checkFundings() error {
	height := n.chain.Height()
	var ready []*Proposal
	n.mu.Lock()
	for _, p := range n.proposals {
		if p.Initiator && p.State == ProposalFundingSubmitted && height >= p.TargetHeight {
			ready = append(ready, p)
		}
	}
	n.mu.Unlock()

	for _, p := range ready {
		loc, mined := n.chain.Locate(p.FundingTx)
		if !mined {
			n.mu.Lock()
			p.TargetHeight = height + 1
			n.mu.Unlock()
			continue
		}
		if n.chain.Confirmations(p.FundingTx) < n.cfg.MinimumDepth {
			n.mu.Lock()
			p.TargetHeight = loc.Height + n.cfg.MinimumDepth - 1
			n.mu.Unlock()
			continue
		}
		if err := n.finalizeInitiated(p, loc, height); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) finalizeInitiated(p *Proposal, loc types.TxLocation, height uint64) error {
	remote, ok := n.env.Identity(p.Peer)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, p.Peer)
	}
	ch := channel.New(loc.ShortChannelID(), n.identity, remote, p.Capacity, p.Reserve, channel.SideA)
	ch.SetFundingTx(p.FundingTx)
	if err := n.env.RegisterChannel(ch); err != nil {
		return err
	}
	ch.SetPolicy(channel.SideA, n.policy)

	n.mu.Lock()
	delete(n.proposals, p.Peer)
	n.channels[ch.ID()] = ch
	n.stats.ChannelsOpened++
	n.mu.Unlock()

	ann := &types.ChannelAnnouncement{
		ChannelID: ch.ID(),
		NodeA:     n.identity.ID,
		NodeB:     remote.ID,
		PubKeyA:   n.identity.PubKey,
		PubKeyB:   remote.PubKey,
		Capacity:  ch.Capacity(),
		Timestamp: height,
	}
	n.logger.Info("channel open",
		slog.String("channel", string(ch.ID())),
		slog.String("peer", string(p.Peer)),
		slog.Int64("capacity", p.Capacity))
	if err := n.announceOwn(ann, height); err != nil {
		return err
	}
	n.syncPeer(remote.ID, ch.ID())
	return nil
}

// finalizeAccepted completes the acceptor's side when the initiator's
// announcement for its accepted proposal arrives.
func (n *Node) finalizeAccepted(ann *types.ChannelAnnouncement) (bool, error) {
	if ann.NodeB != n.identity.ID {
		return false, nil
	}
	n.mu.Lock()
	p, ok := n.proposals[ann.NodeA]
	n.mu.Unlock()
	if !ok || p.Initiator || p.TemporaryID != types.TemporaryChannelID(ann.PubKeyA, ann.PubKeyB) {
		return false, nil
	}
	ch, ok := n.env.Channel(ann.ChannelID)
	if !ok {
		return true, fmt.Errorf("%w: %s", ErrUnlinkedChannel, ann.ChannelID)
	}
	side, err := ch.SideOf(n.identity.ID)
	if err != nil {
		return true, types.Invariantf("%v", err)
	}
	ch.SetPolicy(side, n.policy)

	n.mu.Lock()
	delete(n.proposals, ann.NodeA)
	n.channels[ch.ID()] = ch
	n.stats.ChannelsOpened++
	n.mu.Unlock()

	own := *ann
	own.Forwardings = 0
	if err := n.announceOwn(&own, n.chain.Height()); err != nil {
		return true, err
	}
	n.syncPeer(ann.NodeA, ch.ID())
	return true, nil
}

// announceOwn inserts a channel this node is party to into its own view and
// sends the announcement plus its own policy update to every channel peer.
func (n *Node) announceOwn(ann *types.ChannelAnnouncement, height uint64) error {
	n.seen.FirstAnnouncement(ann.ChannelID)
	err := n.graph.AddChannel(topology.ChannelInfo{
		ID:       ann.ChannelID,
		NodeA:    ann.NodeA,
		NodeB:    ann.NodeB,
		Capacity: ann.Capacity,
		Height:   ann.Timestamp,
	})
	if err != nil && !topology.IsKnownChannel(err) {
		return err
	}
	upd := &types.ChannelUpdate{
		ChannelID: ann.ChannelID,
		Signer:    n.identity.ID,
		Policy:    n.policy,
		Timestamp: height,
	}
	if _, err := n.graph.UpdatePolicy(upd.Signer, upd.ChannelID, upd.Policy, upd.Timestamp); err != nil {
		return err
	}
	n.seen.MarkUpdate(upd)

	for _, peer := range n.ChannelPeers() {
		a := *ann
		u := *upd
		n.send(peer, &a)
		n.send(peer, &u)
		n.gossip.RecordGossip(p2p.DirectionOut, types.MsgTypeChannelAnnouncement)
		n.gossip.RecordGossip(p2p.DirectionOut, types.MsgTypeChannelUpdate)
	}
	return nil
}

// AddConfirmedChannel wires a channel that was confirmed outside the opening
// protocol, as done by topology import. The ledger must already be registered.
func (n *Node) AddConfirmedChannel(ch *channel.Channel, policy types.Policy) error {
	side, err := ch.SideOf(n.identity.ID)
	if err != nil {
		return err
	}
	ch.SetPolicy(side, policy)
	n.mu.Lock()
	n.channels[ch.ID()] = ch
	n.stats.ChannelsOpened++
	n.mu.Unlock()
	return n.LearnChannel(ch)
}

// LearnChannel inserts a confirmed channel and any policies it carries into
// the node's view without gossiping it.
func (n *Node) LearnChannel(ch *channel.Channel) error {
	height := n.chain.Height()
	a, b := ch.Node(channel.SideA), ch.Node(channel.SideB)
	err := n.graph.AddChannel(topology.ChannelInfo{ID: ch.ID(), NodeA: a, NodeB: b, Capacity: ch.Capacity(), Height: height})
	if err != nil && !topology.IsKnownChannel(err) {
		return err
	}
	n.seen.FirstAnnouncement(ch.ID())
	for _, d := range []channel.Direction{channel.SideA, channel.SideB} {
		if pol, ok := ch.Policy(d); ok {
			if _, err := n.graph.UpdatePolicy(ch.Node(d), ch.ID(), pol, height); err != nil {
				return err
			}
		}
	}
	return nil
}

// OpenProposals returns the number of openings still in progress.
func (n *Node) OpenProposals() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.proposals)
}
