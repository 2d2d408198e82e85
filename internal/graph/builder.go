// Package graph builds the module graph of one build generation.
//
// Builder discovers modules breadth-first from the entry points with a
// bounded pool of workers. Each worker looks up the asset's rule, reads it,
// runs its transform chain and resolves the discovered specifiers; unseen
// assets are queued. Once discovery is complete the graph is checked for
// cycles that involve assets not marked cycle-tolerant.
package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/afero"

	"github.com/conneroisu/weft/internal/config"
	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/logging"
	"github.com/conneroisu/weft/internal/matcher"
	"github.com/conneroisu/weft/internal/resolver"
	"github.com/conneroisu/weft/internal/transform"
	"github.com/conneroisu/weft/internal/types"
)

// Cache stores transform results of cacheable assets across generations.
// inputs is the digest of the files the asset's rule declares as extra
// inputs, nil when it declares none.
type Cache interface {
	Lookup(id types.AssetID, raw []byte, chain []types.TransformRef, inputs []byte) (transform.Result, bool)
	Store(id types.AssetID, raw []byte, chain []types.TransformRef, inputs []byte, result transform.Result)
}

// Builder constructs module graphs.
type Builder struct {
	// fs is where asset content is read from
	fs afero.Fs
	// matcher supplies each asset's transform chain and flags
	matcher *matcher.Registry
	// resolver turns discovered specifiers into asset IDs
	resolver *resolver.Resolver
	// executor runs transform chains
	executor *transform.Executor
	// cache is consulted for cacheable rules; may be nil
	cache Cache
	// workers bounds the number of assets processed concurrently
	workers int
	logger  logging.Logger
}

// Options configures a Builder.
type Options struct {
	Workers int
	Cache   Cache
}

// NewBuilder creates a graph builder.
func NewBuilder(
	fs afero.Fs,
	m *matcher.Registry,
	r *resolver.Resolver,
	exec *transform.Executor,
	opts Options,
	logger logging.Logger,
) *Builder {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Builder{
		fs:       fs,
		matcher:  m,
		resolver: r,
		executor: exec,
		cache:    opts.Cache,
		workers:  opts.Workers,
		logger:   logger.WithComponent("graph"),
	}
}

// discovery is the shared state of one Build call.
type discovery struct {
	mu       sync.Mutex
	cond     *sync.Cond
	visited  map[types.AssetID]bool
	queue    []types.AssetID
	inflight int
	nodes    map[types.AssetID]*types.ModuleNode
	err      error
	// inputs holds the declared input digest per rule index; read-only
	inputs map[int][]byte
}

// Build resolves the entries in declared order and constructs the graph of
// everything they reach. The first failure aborts the build; no partial
// graph is returned.
func (b *Builder) Build(ctx context.Context, gen types.Generation, entries []config.EntryPoint) (*types.ModuleGraph, error) {
	perf := logging.StartOperation(b.logger, "graph.build")

	graph := types.NewModuleGraph(gen)
	d := &discovery{
		visited: make(map[types.AssetID]bool),
		nodes:   graph.Nodes,
	}
	d.cond = sync.NewCond(&d.mu)

	if b.cache != nil {
		inputs, err := b.digestInputs()
		if err != nil {
			perf.EndWithError(ctx, err)
			return nil, err
		}
		d.inputs = inputs
	}

	for _, entry := range entries {
		id, err := b.resolver.ResolveEntry(entry.Specifier)
		if err != nil {
			err = errors.NewResolveFailed("", err)
			perf.EndWithError(ctx, err)
			return nil, err
		}
		graph.Entries = append(graph.Entries, types.Entry{Name: entry.Name, ID: id})
		if !d.visited[id] {
			d.visited[id] = true
			d.queue = append(d.queue, id)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < b.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.worker(ctx, cancel, d)
		}()
	}
	wg.Wait()

	if d.err == nil {
		d.err = ctx.Err()
	}
	if d.err == nil {
		d.err = checkCycles(graph)
	}
	if d.err == nil {
		d.err = graph.Validate()
	}
	if d.err != nil {
		perf.EndWithError(ctx, d.err, "generation", uint64(gen))
		return nil, d.err
	}

	perf.End(ctx, "generation", uint64(gen), "modules", len(graph.Nodes))
	return graph, nil
}

func (b *Builder) worker(ctx context.Context, cancel context.CancelFunc, d *discovery) {
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && d.inflight > 0 && d.err == nil {
			d.cond.Wait()
		}
		if d.err != nil || len(d.queue) == 0 {
			d.mu.Unlock()
			d.cond.Broadcast()
			return
		}
		id := d.queue[0]
		d.queue = d.queue[1:]
		d.inflight++
		d.mu.Unlock()

		node, err := b.process(ctx, id, d.inputs)

		d.mu.Lock()
		d.inflight--
		switch {
		case err != nil:
			if d.err == nil {
				d.err = err
				cancel()
			}
		case d.err == nil:
			d.nodes[id] = node
			for _, dep := range node.Dependencies {
				if !d.visited[dep] {
					d.visited[dep] = true
					d.queue = append(d.queue, dep)
				}
			}
		}
		d.cond.Broadcast()
		d.mu.Unlock()
	}
}

// process builds the node for id. It touches no shared state; inputs is
// only read.
func (b *Builder) process(ctx context.Context, id types.AssetID, inputs map[int][]byte) (*types.ModuleNode, error) {
	match, _ := b.matcher.ResolveChain(id)

	raw, err := afero.ReadFile(b.fs, id.Path())
	if err != nil {
		return nil, errors.NewResolveFailed(id, fmt.Errorf("read %s: %w", id.Path(), err))
	}

	// A chain reading files outside the asset is only cached when its rule
	// declares those files.
	digest := inputs[match.Rule]
	cacheable := match.Cacheable && b.cache != nil &&
		(digest != nil || !b.executor.ReadsExternalFiles(match.Chain))

	var (
		result transform.Result
		cached bool
	)
	if cacheable {
		result, cached = b.cache.Lookup(id, raw, match.Chain, digest)
	}
	if !cached {
		result, err = b.executor.Run(ctx, id, raw, match.Chain)
		if err != nil {
			return nil, errors.NewTransformFailed(id, err)
		}
		if cacheable {
			b.cache.Store(id, raw, match.Chain, digest, result)
		}
	}

	node := &types.ModuleNode{
		ID:            id,
		Raw:           raw,
		Content:       result.Content,
		Imports:       make(map[string]types.AssetID, len(result.Dependencies)),
		Emissions:     result.Emissions,
		Emit:          match.Emit,
		Filename:      match.Filename,
		CycleTolerant: match.CycleTolerant,
		Cached:        cached,
	}

	seen := make(map[types.AssetID]bool, len(result.Dependencies))
	for _, spec := range result.Dependencies {
		dep, err := b.resolver.Resolve(spec, id)
		if err != nil {
			return nil, errors.NewResolveFailed(id, err)
		}
		node.Imports[spec] = dep
		if !seen[dep] {
			seen[dep] = true
			node.Dependencies = append(node.Dependencies, dep)
		}
	}

	b.logger.Debug(ctx, "Processed module",
		"asset", id.String(),
		"dependencies", len(node.Dependencies),
		"cached", cached)
	return node, nil
}
