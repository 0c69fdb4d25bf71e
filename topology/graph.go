package topology

import (
	"fmt"
	"sort"
	"sync"

	"lnsim/core/types"
)

// Edge is one direction of a channel as a node believes it to be. A nil
// Policy marks a known-but-unpriced edge.
type Edge struct {
	ChannelID   types.ChannelID `json:"channelId"`
	Source      types.NodeID    `json:"source"`
	Destination types.NodeID    `json:"destination"`
	Capacity    int64           `json:"capacity"`
	Policy      *types.Policy   `json:"policy,omitempty"`
}

// Priced reports whether the edge carries a forwarding policy.
func (e Edge) Priced() bool {
	return e.Policy != nil
}

// ChannelInfo describes a channel to insert.
type ChannelInfo struct {
	ID       types.ChannelID `json:"id"`
	NodeA    types.NodeID    `json:"nodeA"`
	NodeB    types.NodeID    `json:"nodeB"`
	Capacity int64           `json:"capacity"`
	// Height is the block height the channel became known at.
	Height uint64 `json:"height"`
}

type entry struct {
	info ChannelInfo
	// policies[0] is NodeA's outgoing policy, policies[1] NodeB's.
	policies [2]*types.Policy
	stamps   [2]uint64
}

func (e *entry) edge(fromA bool) Edge {
	if fromA {
		return Edge{e.info.ID, e.info.NodeA, e.info.NodeB, e.info.Capacity, copyPolicy(e.policies[0])}
	}
	return Edge{e.info.ID, e.info.NodeB, e.info.NodeA, e.info.Capacity, copyPolicy(e.policies[1])}
}

func copyPolicy(p *types.Policy) *types.Policy {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// Graph is a node's local view of the network. It is safe for concurrent use;
// readers get copies.
type Graph struct {
	mu       sync.RWMutex
	channels map[types.ChannelID]*entry
	adj      map[types.NodeID][]types.ChannelID
}

// NewGraph returns an empty view.
func NewGraph() *Graph {
	return &Graph{
		channels: make(map[types.ChannelID]*entry),
		adj:      make(map[types.NodeID][]types.ChannelID),
	}
}

// AddChannel inserts both directed edges of info. A channel id is inserted at
// most once; repeats return ErrKnownChannel and change nothing.
func (g *Graph) AddChannel(info ChannelInfo) error {
	if info.ID == "" || info.NodeA == "" || info.NodeB == "" || info.NodeA == info.NodeB {
		return fmt.Errorf("%w: %+v", ErrInvalidChannel, info)
	}
	if info.Capacity <= 0 {
		return fmt.Errorf("%w: capacity %d", ErrInvalidChannel, info.Capacity)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.channels[info.ID]; ok {
		return fmt.Errorf("%w: %s", ErrKnownChannel, info.ID)
	}
	g.channels[info.ID] = &entry{info: info}
	g.link(info.NodeA, info.ID)
	g.link(info.NodeB, info.ID)
	return nil
}

// AddAnnouncedEdge inserts the channel described by a gossip announcement.
func (g *Graph) AddAnnouncedEdge(ann *types.ChannelAnnouncement) error {
	return g.AddChannel(ChannelInfo{
		ID:       ann.ChannelID,
		NodeA:    ann.NodeA,
		NodeB:    ann.NodeB,
		Capacity: ann.Capacity,
		Height:   ann.Timestamp,
	})
}

func (g *Graph) link(node types.NodeID, id types.ChannelID) {
	ids := g.adj[node]
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	g.adj[node] = ids
}

func (g *Graph) unlink(node types.NodeID, id types.ChannelID) {
	ids := g.adj[node]
	for i, cur := range ids {
		if cur == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(g.adj, node)
		return
	}
	g.adj[node] = ids
}

// UpdatePolicy sets the policy signer applies on its outgoing edge of channel
// id. Updates older than the stored one are ignored and report false. An
// update for an edge the view does not know is an engine invariant violation.
func (g *Graph) UpdatePolicy(signer types.NodeID, id types.ChannelID, policy types.Policy, timestamp uint64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.channels[id]
	if !ok {
		return false, fmt.Errorf("%w: %s signed by %s", ErrUnknownEdge, id, signer)
	}
	var side int
	switch signer {
	case e.info.NodeA:
		side = 0
	case e.info.NodeB:
		side = 1
	default:
		return false, fmt.Errorf("%w: %s is not an endpoint of %s", ErrUnknownEdge, signer, id)
	}
	if e.policies[side] != nil && timestamp < e.stamps[side] {
		return false, nil
	}
	p := policy
	e.policies[side] = &p
	e.stamps[side] = timestamp
	return true, nil
}

func (g *Graph) removeLocked(id types.ChannelID) bool {
	e, ok := g.channels[id]
	if !ok {
		return false
	}
	delete(g.channels, id)
	g.unlink(e.info.NodeA, id)
	g.unlink(e.info.NodeB, id)
	return true
}

// PurgeUnpriced drops channels that have had no policy on either direction
// for more than maxAge blocks at height, and returns their ids.
func (g *Graph) PurgeUnpriced(height, maxAge uint64) []types.ChannelID {
	g.mu.Lock()
	defer g.mu.Unlock()
	var purged []types.ChannelID
	for id, e := range g.channels {
		if e.policies[0] != nil || e.policies[1] != nil {
			continue
		}
		if height <= e.info.Height || height-e.info.Height <= maxAge {
			continue
		}
		purged = append(purged, id)
	}
	sort.Slice(purged, func(i, j int) bool { return purged[i] < purged[j] })
	for _, id := range purged {
		g.removeLocked(id)
	}
	return purged
}

// Outgoing returns the directed edges leaving node, ordered by channel id.
func (g *Graph) Outgoing(node types.NodeID) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := g.adj[node]
	out := make([]Edge, 0, len(ids))
	for _, id := range ids {
		e := g.channels[id]
		out = append(out, e.edge(e.info.NodeA == node))
	}
	return out
}

// Edge returns the directed edge of channel id leaving from.
func (g *Graph) Edge(id types.ChannelID, from types.NodeID) (Edge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.channels[id]
	if !ok {
		return Edge{}, false
	}
	switch from {
	case e.info.NodeA:
		return e.edge(true), true
	case e.info.NodeB:
		return e.edge(false), true
	default:
		return Edge{}, false
	}
}

// Channel returns the stored description of id.
func (g *Graph) Channel(id types.ChannelID) (ChannelInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.channels[id]
	if !ok {
		return ChannelInfo{}, false
	}
	return e.info, true
}

// HasChannel reports whether id is known.
func (g *Graph) HasChannel(id types.ChannelID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.channels[id]
	return ok
}

// NumChannels returns the number of known channels.
func (g *Graph) NumChannels() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.channels)
}

// NumEdges returns the number of directed edges, two per channel.
func (g *Graph) NumEdges() int {
	return 2 * g.NumChannels()
}

// Nodes returns every node with at least one known channel, sorted.
func (g *Graph) Nodes() []types.NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]types.NodeID, 0, len(g.adj))
	for n := range g.adj {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
