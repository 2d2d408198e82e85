package types

import (
	"fmt"
	"sort"
)

// Generation identifies one complete build pass. Generations increase
// monotonically for the lifetime of a process.
type Generation uint64

// EmitMode controls how a module's final content reaches the output.
type EmitMode string

const (
	// EmitBundle places the module into the bundle of every entry that reaches it.
	EmitBundle EmitMode = "bundle"
	// EmitFile writes the module as a standalone output file.
	EmitFile EmitMode = "file"
	// EmitNone drops the primary content; only side emissions survive.
	EmitNone EmitMode = "none"
)

// Valid reports whether the mode is one of the known emit modes.
func (m EmitMode) Valid() bool {
	switch m {
	case EmitBundle, EmitFile, EmitNone:
		return true
	default:
		return false
	}
}

// TransformRef names an external transform plus its transform-specific options.
type TransformRef struct {
	Name    string         `mapstructure:"name" yaml:"name" json:"name"`
	Options map[string]any `mapstructure:"options" yaml:"options,omitempty" json:"options,omitempty"`
}

// Emission is a side-channel fragment produced by a transform.
type Emission struct {
	Channel string
	Content []byte
}

// ModuleNode is one asset in the module graph. It is mutated only by the
// graph builder while the node is being processed and is read-only once the
// graph is finalized.
type ModuleNode struct {
	ID AssetID
	// Raw is the file content before any transform ran.
	Raw []byte
	// Content is the output of the last transform in the chain.
	Content []byte
	// Dependencies lists resolved dependencies in discovery order, without duplicates.
	Dependencies []AssetID
	// Imports maps every discovered specifier to the asset it resolved to.
	Imports   map[string]AssetID
	Emissions []Emission

	Emit          EmitMode
	Filename      string
	CycleTolerant bool
	Cached        bool
}

// EmissionsFor returns the concatenated content the node emitted on channel.
func (n *ModuleNode) EmissionsFor(channel string) ([]byte, bool) {
	var out []byte
	found := false
	for _, e := range n.Emissions {
		if e.Channel == channel {
			out = append(out, e.Content...)
			found = true
		}
	}
	return out, found
}

// Entry is a named build entry point.
type Entry struct {
	Name string
	ID   AssetID
}

// ModuleGraph is the directed dependency graph produced by one build generation.
type ModuleGraph struct {
	Generation Generation
	Entries    []Entry
	Nodes      map[AssetID]*ModuleNode
}

// NewModuleGraph creates an empty graph for the given generation.
func NewModuleGraph(gen Generation) *ModuleGraph {
	return &ModuleGraph{
		Generation: gen,
		Nodes:      make(map[AssetID]*ModuleNode),
	}
}

// Node returns the node for id.
func (g *ModuleGraph) Node(id AssetID) (*ModuleNode, bool) {
	n, ok := g.Nodes[id]
	return n, ok
}

// Validate checks that every dependency edge points at a node in the graph.
func (g *ModuleGraph) Validate() error {
	for _, e := range g.Entries {
		if _, ok := g.Nodes[e.ID]; !ok {
			return fmt.Errorf("entry %q refers to missing module %s", e.Name, e.ID)
		}
	}
	for _, id := range g.SortedIDs() {
		for _, dep := range g.Nodes[id].Dependencies {
			if _, ok := g.Nodes[dep]; !ok {
				return fmt.Errorf("module %s has dangling dependency %s", id, dep)
			}
		}
	}
	return nil
}

// SortedIDs returns all node IDs in lexical order.
func (g *ModuleGraph) SortedIDs() []AssetID {
	ids := make([]AssetID, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Order returns every node reachable from the entries in dependency-first
// order: entries are walked in declared order, each node's dependencies are
// walked depth-first in declared order and the node itself follows them.
// Every node appears once. A back edge of a cycle is skipped, so the first
// node of a cycle to be reached is emitted after the rest of the cycle.
func (g *ModuleGraph) Order() []AssetID {
	roots := make([]AssetID, len(g.Entries))
	for i, e := range g.Entries {
		roots[i] = e.ID
	}
	return g.OrderFrom(roots...)
}

// OrderFrom is Order restricted to the nodes reachable from roots.
func (g *ModuleGraph) OrderFrom(roots ...AssetID) []AssetID {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[AssetID]int, len(g.Nodes))
	order := make([]AssetID, 0, len(g.Nodes))

	var visit func(id AssetID)
	visit = func(id AssetID) {
		if state[id] != unvisited {
			return
		}
		node, ok := g.Nodes[id]
		if !ok {
			return
		}
		state[id] = onStack
		for _, dep := range node.Dependencies {
			visit(dep)
		}
		state[id] = done
		order = append(order, id)
	}

	for _, root := range roots {
		visit(root)
	}
	return order
}
