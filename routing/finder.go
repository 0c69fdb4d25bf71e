// Package routing implements path finders over a node's topology view. All
// finders are read-only and deterministic for a fixed graph snapshot.
package routing

import (
	"fmt"
	"strings"

	"lnsim/core/types"
	"lnsim/topology"
)

// Graph is the read-only adjacency a finder walks. Outgoing must return edges
// in a stable order.
type Graph interface {
	Outgoing(node types.NodeID) []topology.Edge
}

// Path is an ordered edge sequence from sender to destination.
type Path []topology.Edge

// Hops returns the number of edges.
func (p Path) Hops() int {
	return len(p)
}

// Nodes returns the visited node ids including both endpoints.
func (p Path) Nodes() []types.NodeID {
	if len(p) == 0 {
		return nil
	}
	out := make([]types.NodeID, 0, len(p)+1)
	out = append(out, p[0].Source)
	for _, e := range p {
		out = append(out, e.Destination)
	}
	return out
}

// Priced reports whether every edge carries a policy.
func (p Path) Priced() bool {
	for _, e := range p {
		if !e.Priced() {
			return false
		}
	}
	return true
}

// MinCapacity returns the smallest edge capacity.
func (p Path) MinCapacity() int64 {
	if len(p) == 0 {
		return 0
	}
	min := p[0].Capacity
	for _, e := range p[1:] {
		if e.Capacity < min {
			min = e.Capacity
		}
	}
	return min
}

func (p Path) String() string {
	parts := make([]string, 0, len(p))
	for _, n := range p.Nodes() {
		parts = append(parts, string(n))
	}
	return strings.Join(parts, "->")
}

// Finder produces up to max paths from start to end. An unreachable
// destination yields an empty result, not an error.
type Finder interface {
	Name() string
	FindPaths(g Graph, start, end types.NodeID, max int) []Path
}

// Finder names accepted by NewFinder.
const (
	HopBFSName         = "bfs"
	AllShortestHopName = "all-shortest"
	UniformCostName    = "ucs"
	FeeWeightedName    = "ucs-fee"
)

// NewFinder returns the finder registered under name.
func NewFinder(name string) (Finder, error) {
	switch name {
	case HopBFSName:
		return HopBFS{}, nil
	case AllShortestHopName:
		return AllShortestHop{}, nil
	case UniformCostName:
		return UniformCost{Weight: UnitWeight}, nil
	case FeeWeightedName, "":
		return UniformCost{Weight: FeeWeight, label: FeeWeightedName}, nil
	default:
		return nil, fmt.Errorf("routing: unknown path finder %q", name)
	}
}

// backtrack expands a multi-parent DAG rooted at start into every path that
// ends at end, in parent order, stopping after max results.
func backtrack(parents map[types.NodeID][]topology.Edge, start, end types.NodeID, max int) []Path {
	var out []Path
	onPath := map[types.NodeID]bool{end: true}
	var rev []topology.Edge
	var walk func(node types.NodeID)
	walk = func(node types.NodeID) {
		if max > 0 && len(out) >= max {
			return
		}
		if node == start {
			p := make(Path, len(rev))
			for i := range rev {
				p[i] = rev[len(rev)-1-i]
			}
			out = append(out, p)
			return
		}
		for _, e := range parents[node] {
			if onPath[e.Source] {
				continue
			}
			onPath[e.Source] = true
			rev = append(rev, e)
			walk(e.Source)
			rev = rev[:len(rev)-1]
			delete(onPath, e.Source)
		}
	}
	walk(end)
	return out
}
