package build

import (
	"fmt"
	"time"

	"github.com/conneroisu/weft/internal/bundle"
	"github.com/conneroisu/weft/internal/metrics"
	"github.com/conneroisu/weft/internal/output"
	"github.com/conneroisu/weft/internal/types"
)

// plan lays out the output of a generation: standalone files first, so that
// bundles can refer to their served paths, then one bundle per entry, then
// the aggregates in declared order.
func (e *Engine) plan(g *types.ModuleGraph, aggs map[string]*types.Aggregate) (*output.Snapshot, error) {
	start := time.Now()
	snap := output.NewSnapshot(g.Generation)

	files := make(map[types.AssetID]string)
	for _, id := range g.Order() {
		node := g.Nodes[id]
		if node.Emit != types.EmitFile {
			continue
		}
		name := assetNaming(id.Rel(e.cfg.Context), node.Content).Expand(node.Filename)
		cleaned, err := output.CleanPath(name)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", id, err)
		}
		if err := snap.Add(cleaned, node.Content, id); err != nil {
			return nil, fmt.Errorf("plan %s: %w", id, err)
		}
		files[id] = cleaned
	}
	e.metrics.ObserveStageDuration(metrics.StagePlan, time.Since(start))

	start = time.Now()
	opts := bundle.Options{
		Context: e.cfg.Context,
		PublicPath: func(id types.AssetID) string {
			if p, ok := files[id]; ok {
				return "/" + p
			}
			return ""
		},
	}
	for _, entry := range g.Entries {
		content, err := bundle.Bundle(g, entry, opts)
		if err != nil {
			return nil, err
		}
		if content == nil {
			continue
		}
		name := Naming{Name: entry.Name, Ext: "js", Content: content}.Expand(e.cfg.Output.Filename)
		if err := snap.Add(name, content, g.OrderFrom(entry.ID)...); err != nil {
			return nil, fmt.Errorf("plan bundle %q: %w", entry.Name, err)
		}
	}
	e.metrics.ObserveStageDuration(metrics.StageBundle, time.Since(start))

	for _, ac := range e.cfg.Aggregates {
		agg := aggs[ac.Channel]
		if err := snap.Add(agg.Filename, agg.Content, agg.Sources...); err != nil {
			return nil, fmt.Errorf("plan aggregate %q: %w", agg.Channel, err)
		}
	}

	return snap, nil
}
