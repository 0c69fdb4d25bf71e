package core

import (
	"fmt"
	"sort"

	"lnsim/channel"
	"lnsim/core/types"
	"lnsim/topology"
)

// ForwardLink pairs an outgoing HTLC with the incoming leg it mirrors.
type ForwardLink struct {
	Out types.HTLCKey `json:"out"`
	In  types.HTLCKey `json:"in"`
}

// State is the persisted form of a node agent. Channels are stored in full;
// the network dedups them by id and relinks the shared ledgers in a second
// pass through LinkChannels.
type State struct {
	Identity  types.Identity    `json:"identity"`
	Profile   string            `json:"profile"`
	Policy    types.Policy      `json:"policy"`
	Ticks     uint64            `json:"ticks"`
	RNG       []byte            `json:"rng"`
	LastPurge uint64            `json:"lastPurge"`
	Channels  []channel.State   `json:"channels"`
	Proposals []Proposal        `json:"proposals"`
	Graph     topology.State    `json:"graph"`
	Seen      []types.ChannelID `json:"seen"`
	Invoices  []types.Invoice   `json:"invoices"`
	Payments  []PaymentResult   `json:"payments"`
	Offered   []types.HTLC      `json:"offered"`
	Received  []types.HTLC      `json:"received"`
	Forwards  []ForwardLink     `json:"forwards"`
	Stats     Stats             `json:"stats"`
}

// Snapshot captures the node. Callers drain the inboxes first so no message
// is lost between snapshot and restore.
func (n *Node) Snapshot() (State, error) {
	n.rngMu.Lock()
	rngState, err := n.pcg.MarshalBinary()
	n.rngMu.Unlock()
	if err != nil {
		return State{}, fmt.Errorf("snapshot rng of %s: %w", n.identity.ID, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	st := State{
		Identity:  n.identity,
		Profile:   n.profile,
		Policy:    n.policy,
		Ticks:     n.ticks.Load(),
		RNG:       rngState,
		LastPurge: n.lastPurge,
		Graph:     n.graph.Snapshot(),
		Seen:      n.seen.Announcements(),
		Stats:     n.stats.clone(),
	}
	for _, ch := range n.channelsLocked() {
		st.Channels = append(st.Channels, ch.Snapshot())
	}
	for _, p := range n.proposals {
		st.Proposals = append(st.Proposals, *p)
	}
	sort.Slice(st.Proposals, func(i, j int) bool { return st.Proposals[i].Peer < st.Proposals[j].Peer })
	for _, inv := range n.invoices {
		st.Invoices = append(st.Invoices, *inv)
	}
	sort.Slice(st.Invoices, func(i, j int) bool { return st.Invoices[i].PaymentHash.String() < st.Invoices[j].PaymentHash.String() })
	for _, res := range n.sent {
		st.Payments = append(st.Payments, res.clone())
	}
	sort.Slice(st.Payments, func(i, j int) bool { return st.Payments[i].PaymentHash.String() < st.Payments[j].PaymentHash.String() })
	st.Offered = sortedHTLCs(n.offered)
	st.Received = sortedHTLCs(n.received)
	for out, in := range n.forwards {
		st.Forwards = append(st.Forwards, ForwardLink{Out: out, In: in})
	}
	sort.Slice(st.Forwards, func(i, j int) bool { return keyLess(st.Forwards[i].Out, st.Forwards[j].Out) })
	return st, nil
}

func sortedHTLCs(m map[types.HTLCKey]*types.HTLC) []types.HTLC {
	out := make([]types.HTLC, 0, len(m))
	for _, h := range m {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return keyLess(out[i].Key(), out[j].Key()) })
	return out
}

func keyLess(a, b types.HTLCKey) bool {
	if a.ChannelID != b.ChannelID {
		return a.ChannelID < b.ChannelID
	}
	return a.ID < b.ID
}

// Restore rebuilds a node from st. Its channels stay unresolved until
// LinkChannels runs.
func Restore(opts Options, st State) (*Node, error) {
	opts.Identity = st.Identity
	opts.Profile = st.Profile
	opts.Policy = st.Policy
	n, err := NewNode(opts)
	if err != nil {
		return nil, err
	}
	if len(st.RNG) > 0 {
		if err := n.pcg.UnmarshalBinary(st.RNG); err != nil {
			return nil, fmt.Errorf("restore rng of %s: %w", st.Identity.ID, err)
		}
	}
	graph, err := topology.Restore(st.Graph)
	if err != nil {
		return nil, fmt.Errorf("restore graph of %s: %w", st.Identity.ID, err)
	}
	n.graph = graph
	for _, id := range st.Seen {
		n.seen.FirstAnnouncement(id)
	}
	n.ticks.Store(st.Ticks)
	n.lastPurge = st.LastPurge
	n.stats = st.Stats.clone()

	for i := range st.Proposals {
		p := st.Proposals[i]
		n.proposals[p.Peer] = &p
	}
	for i := range st.Invoices {
		inv := st.Invoices[i]
		n.invoices[inv.PaymentHash] = &inv
	}
	for i := range st.Payments {
		res := st.Payments[i]
		n.sent[res.PaymentHash] = &res
	}
	for i := range st.Offered {
		h := st.Offered[i]
		n.offered[h.Key()] = &h
	}
	for i := range st.Received {
		h := st.Received[i]
		n.received[h.Key()] = &h
	}
	for _, link := range st.Forwards {
		n.forwards[link.Out] = link.In
	}
	// Sender HTLCs outlive the goroutine that waited on them; their outcome
	// is still processed but nobody is waiting.
	for key, h := range n.offered {
		if _, fwd := n.forwards[key]; fwd {
			continue
		}
		n.attempts[key] = &attempt{key: key, hash: h.PaymentHash, done: make(chan struct{}), abandoned: true}
	}
	n.pendingLinks = make([]types.ChannelID, 0, len(st.Channels))
	for _, cs := range st.Channels {
		n.pendingLinks = append(n.pendingLinks, cs.ID)
	}
	return n, nil
}

// LinkChannels resolves the channel ids of a restored node to the shared
// ledgers held by the registry.
func (n *Node) LinkChannels(lookup func(types.ChannelID) (*channel.Channel, bool)) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, id := range n.pendingLinks {
		ch, ok := lookup(id)
		if !ok {
			return fmt.Errorf("%w: %s at %s", ErrUnlinkedChannel, id, n.identity.ID)
		}
		if _, err := ch.SideOf(n.identity.ID); err != nil {
			return types.Invariantf("%v", err)
		}
		n.channels[id] = ch
	}
	n.pendingLinks = nil
	return nil
}
