package graph

import (
	"sort"

	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/types"
)

// checkCycles fails when any asset that is not cycle-tolerant lies on a
// cycle. An asset is on a cycle exactly when it belongs to a strongly
// connected component with more than one member or a self edge, so cycles
// made only of tolerant assets are kept as they are.
func checkCycles(g *types.ModuleGraph) error {
	for _, scc := range components(g) {
		if len(scc) == 1 && !selfEdge(g, scc[0]) {
			continue
		}
		sort.Slice(scc, func(i, j int) bool { return scc[i] < scc[j] })
		for _, id := range scc {
			if !g.Nodes[id].CycleTolerant {
				return errors.NewCycleDetected(cycleThrough(g, id, scc))
			}
		}
	}
	return nil
}

func selfEdge(g *types.ModuleGraph, id types.AssetID) bool {
	for _, dep := range g.Nodes[id].Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}

// components returns the strongly connected components of g (Tarjan),
// visiting nodes in lexical order so the result is deterministic.
func components(g *types.ModuleGraph) [][]types.AssetID {
	var (
		index   = 0
		indices = make(map[types.AssetID]int, len(g.Nodes))
		lowlink = make(map[types.AssetID]int, len(g.Nodes))
		onStack = make(map[types.AssetID]bool, len(g.Nodes))
		stack   []types.AssetID
		out     [][]types.AssetID
	)

	var connect func(id types.AssetID)
	connect = func(id types.AssetID) {
		indices[id] = index
		lowlink[id] = index
		index++
		stack = append(stack, id)
		onStack[id] = true

		for _, dep := range g.Nodes[id].Dependencies {
			if _, ok := g.Nodes[dep]; !ok {
				continue
			}
			if _, seen := indices[dep]; !seen {
				connect(dep)
				lowlink[id] = min(lowlink[id], lowlink[dep])
			} else if onStack[dep] {
				lowlink[id] = min(lowlink[id], indices[dep])
			}
		}

		if lowlink[id] == indices[id] {
			var scc []types.AssetID
			for {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[top] = false
				scc = append(scc, top)
				if top == id {
					break
				}
			}
			out = append(out, scc)
		}
	}

	for _, id := range g.SortedIDs() {
		if _, seen := indices[id]; !seen {
			connect(id)
		}
	}
	return out
}

// cycleThrough returns the shortest cycle from start back to itself using
// only members of scc, closed by repeating start.
func cycleThrough(g *types.ModuleGraph, start types.AssetID, scc []types.AssetID) []types.AssetID {
	member := make(map[types.AssetID]bool, len(scc))
	for _, id := range scc {
		member[id] = true
	}

	parent := make(map[types.AssetID]types.AssetID)
	queue := []types.AssetID{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range g.Nodes[cur].Dependencies {
			if !member[dep] {
				continue
			}
			if dep == start {
				path := []types.AssetID{start}
				for n := cur; n != start; n = parent[n] {
					path = append(path, n)
				}
				// path holds start followed by the walk back from cur.
				for i, j := 1, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return append(path, start)
			}
			if _, seen := parent[dep]; !seen && dep != start {
				parent[dep] = cur
				queue = append(queue, dep)
			}
		}
	}
	return []types.AssetID{start, start}
}
