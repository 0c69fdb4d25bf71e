package routing

import (
	"github.com/google/btree"

	"lnsim/core/types"
	"lnsim/topology"
)

// WeightFunc returns the cost of traversing e. ok=false excludes the edge.
type WeightFunc func(e topology.Edge) (cost int64, ok bool)

// UnitWeight counts hops.
func UnitWeight(topology.Edge) (int64, bool) {
	return 1, true
}

// FeeWeight charges base fee + fee ppm + cltv delta of the edge policy and
// skips unpriced edges.
func FeeWeight(e topology.Edge) (int64, bool) {
	if e.Policy == nil {
		return 0, false
	}
	return e.Policy.Weight(), true
}

// UniformCost is a Dijkstra-style search. It relaxes on strictly lower cost,
// keeps every parent on ties and stops expanding once the destination is
// popped, then emits every path tied at the optimal cost.
type UniformCost struct {
	Weight WeightFunc
	label  string
}

func (u UniformCost) Name() string {
	if u.label != "" {
		return u.label
	}
	return UniformCostName
}

type frontierItem struct {
	cost int64
	seq  uint64
	node types.NodeID
}

func frontierLess(a, b frontierItem) bool {
	if a.cost != b.cost {
		return a.cost < b.cost
	}
	return a.seq < b.seq
}

func (u UniformCost) FindPaths(g Graph, start, end types.NodeID, max int) []Path {
	if start == end {
		return nil
	}
	weight := u.Weight
	if weight == nil {
		weight = UnitWeight
	}
	frontier := btree.NewG[frontierItem](8, frontierLess)
	var seq uint64
	push := func(node types.NodeID, cost int64) {
		frontier.ReplaceOrInsert(frontierItem{cost: cost, seq: seq, node: node})
		seq++
	}

	best := map[types.NodeID]int64{start: 0}
	parents := map[types.NodeID][]topology.Edge{}
	done := map[types.NodeID]bool{}
	push(start, 0)

	found := false
	for frontier.Len() > 0 {
		item, _ := frontier.DeleteMin()
		if done[item.node] || item.cost > best[item.node] {
			continue
		}
		done[item.node] = true
		if item.node == end {
			found = true
			break
		}
		for _, e := range g.Outgoing(item.node) {
			if e.Destination == start {
				continue
			}
			w, ok := weight(e)
			if !ok || w < 0 {
				continue
			}
			nc := item.cost + w
			cur, seen := best[e.Destination]
			switch {
			case !seen || nc < cur:
				best[e.Destination] = nc
				parents[e.Destination] = []topology.Edge{e}
				push(e.Destination, nc)
			case nc == cur:
				parents[e.Destination] = append(parents[e.Destination], e)
			}
		}
	}
	if !found {
		return nil
	}
	return backtrack(parents, start, end, max)
}

// Cost sums weight over p, reporting false if any edge is excluded.
func Cost(p Path, weight WeightFunc) (int64, bool) {
	var total int64
	for _, e := range p {
		w, ok := weight(e)
		if !ok {
			return 0, false
		}
		total += w
	}
	return total, true
}
