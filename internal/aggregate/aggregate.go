// Package aggregate merges side-channel emissions into shared artifacts.
package aggregate

import (
	"github.com/conneroisu/weft/internal/config"
	"github.com/conneroisu/weft/internal/types"
)

// Aggregate returns one aggregate per declared channel. Every node's
// emissions for a channel are concatenated in graph.Order(), so a module's
// dependencies contribute before the module itself. Channels nobody emitted
// to still get an empty aggregate.
func Aggregate(graph *types.ModuleGraph, channels []config.AggregateConfig) map[string]*types.Aggregate {
	out := make(map[string]*types.Aggregate, len(channels))
	for _, ch := range channels {
		out[ch.Channel] = &types.Aggregate{
			Channel:  ch.Channel,
			Filename: ch.Filename,
			Content:  []byte{},
		}
	}
	if len(out) == 0 {
		return out
	}

	for _, id := range graph.Order() {
		node := graph.Nodes[id]
		for _, e := range node.Emissions {
			agg, ok := out[e.Channel]
			if !ok {
				continue
			}
			agg.Content = append(agg.Content, e.Content...)
			if n := len(agg.Sources); n == 0 || agg.Sources[n-1] != id {
				agg.Sources = append(agg.Sources, id)
			}
		}
	}
	return out
}
