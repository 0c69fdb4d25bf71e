package topology

import (
	"sort"

	"lnsim/core/types"
)

// ChannelState is the persisted form of one known channel.
type ChannelState struct {
	Info     ChannelInfo      `json:"info"`
	Policies [2]*types.Policy `json:"policies"`
	Stamps   [2]uint64        `json:"stamps"`
}

// State is the persisted form of a Graph, ordered by channel id.
type State struct {
	Channels []ChannelState `json:"channels"`
}

// Snapshot copies the view.
func (g *Graph) Snapshot() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	st := State{Channels: make([]ChannelState, 0, len(g.channels))}
	for _, e := range g.channels {
		st.Channels = append(st.Channels, ChannelState{
			Info:     e.info,
			Policies: [2]*types.Policy{copyPolicy(e.policies[0]), copyPolicy(e.policies[1])},
			Stamps:   e.stamps,
		})
	}
	sort.Slice(st.Channels, func(i, j int) bool { return st.Channels[i].Info.ID < st.Channels[j].Info.ID })
	return st
}

// Restore rebuilds a Graph from a snapshot.
func Restore(st State) (*Graph, error) {
	g := NewGraph()
	for _, cs := range st.Channels {
		if err := g.AddChannel(cs.Info); err != nil {
			return nil, err
		}
		e := g.channels[cs.Info.ID]
		e.policies = [2]*types.Policy{copyPolicy(cs.Policies[0]), copyPolicy(cs.Policies[1])}
		e.stamps = cs.Stamps
	}
	return g, nil
}
