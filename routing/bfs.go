package routing

import (
	"lnsim/core/types"
	"lnsim/topology"
)

// HopBFS is a single-parent breadth-first search. Every edge that reaches the
// destination yields a path, so several routes of similar hop count may be
// returned, shortest first. Edge weights are ignored.
type HopBFS struct{}

func (HopBFS) Name() string { return HopBFSName }

func (HopBFS) FindPaths(g Graph, start, end types.NodeID, max int) []Path {
	if start == end {
		return nil
	}
	parent := map[types.NodeID]topology.Edge{}
	visited := map[types.NodeID]bool{start: true}
	queue := []types.NodeID{start}
	var out []Path
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, e := range g.Outgoing(node) {
			if e.Destination == end {
				out = append(out, tracePath(parent, start, node, e))
				if max > 0 && len(out) >= max {
					return out
				}
				continue
			}
			if visited[e.Destination] {
				continue
			}
			visited[e.Destination] = true
			parent[e.Destination] = e
			queue = append(queue, e.Destination)
		}
	}
	return out
}

func tracePath(parent map[types.NodeID]topology.Edge, start, node types.NodeID, last topology.Edge) Path {
	var rev []topology.Edge
	rev = append(rev, last)
	for node != start {
		e := parent[node]
		rev = append(rev, e)
		node = e.Source
	}
	p := make(Path, len(rev))
	for i := range rev {
		p[i] = rev[len(rev)-1-i]
	}
	return p
}

// AllShortestHop is a layered breadth-first search that keeps every parent at
// the minimum depth and emits all paths tied at the minimum hop count.
type AllShortestHop struct{}

func (AllShortestHop) Name() string { return AllShortestHopName }

func (AllShortestHop) FindPaths(g Graph, start, end types.NodeID, max int) []Path {
	if start == end {
		return nil
	}
	depth := map[types.NodeID]int{start: 0}
	parents := map[types.NodeID][]topology.Edge{}
	layer := []types.NodeID{start}
	for d := 0; len(layer) > 0; d++ {
		if _, ok := depth[end]; ok {
			break
		}
		var next []types.NodeID
		for _, node := range layer {
			for _, e := range g.Outgoing(node) {
				nd, seen := depth[e.Destination]
				switch {
				case !seen:
					depth[e.Destination] = d + 1
					parents[e.Destination] = []topology.Edge{e}
					next = append(next, e.Destination)
				case nd == d+1:
					parents[e.Destination] = append(parents[e.Destination], e)
				}
			}
		}
		layer = next
	}
	if _, ok := depth[end]; !ok {
		return nil
	}
	return backtrack(parents, start, end, max)
}
