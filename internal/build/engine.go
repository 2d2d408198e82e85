// Package build runs complete build generations: module graph construction,
// aggregation, bundling and output planning, and writing the planned output.
package build

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/conneroisu/weft/internal/aggregate"
	"github.com/conneroisu/weft/internal/config"
	"github.com/conneroisu/weft/internal/graph"
	"github.com/conneroisu/weft/internal/logging"
	"github.com/conneroisu/weft/internal/matcher"
	"github.com/conneroisu/weft/internal/metrics"
	"github.com/conneroisu/weft/internal/output"
	"github.com/conneroisu/weft/internal/resolver"
	"github.com/conneroisu/weft/internal/transform"
	"github.com/conneroisu/weft/internal/types"
)

// Result is the outcome of one successful generation.
type Result struct {
	Generation types.Generation
	Graph      *types.ModuleGraph
	Aggregates map[string]*types.Aggregate
	Snapshot   *output.Snapshot
	Duration   time.Duration
}

// Engine owns the build pipeline of one project.
type Engine struct {
	// cfg is the normalized project configuration
	cfg *config.Config
	// fs is used both for reading sources and writing output
	fs afero.Fs
	// matcher maps assets to transform chains
	matcher *matcher.Registry
	// resolver is reset at the start of every generation
	resolver *resolver.Resolver
	// transforms holds every transform rules may reference
	transforms *transform.Registry
	// builder constructs the module graph
	builder *graph.Builder
	// cache holds transform results of cacheable rules; nil when disabled
	cache *TransformCache
	// writer persists snapshots to the output directory
	writer *output.Writer
	// metrics receives build observations
	metrics metrics.Recorder
	// generation is the last generation handed out
	generation atomic.Uint64
	logger     logging.Logger
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	fs         afero.Fs
	logger     logging.Logger
	metrics    metrics.Recorder
	transforms []transform.Transformer
}

// WithFS sets the filesystem. The default is the OS filesystem.
func WithFS(fs afero.Fs) Option {
	return func(o *engineOptions) { o.fs = fs }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(o *engineOptions) { o.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec metrics.Recorder) Option {
	return func(o *engineOptions) { o.metrics = rec }
}

// WithTransforms registers additional transforms next to the built-ins.
func WithTransforms(ts ...transform.Transformer) Option {
	return func(o *engineOptions) { o.transforms = append(o.transforms, ts...) }
}

// NewEngine wires the pipeline for cfg. cfg must already be normalized.
// Rules referencing unknown transforms or unknown transform options are
// rejected here rather than in the middle of a build.
func NewEngine(cfg *config.Config, opts ...Option) (*Engine, error) {
	o := engineOptions{
		fs:      afero.NewOsFs(),
		logger:  logging.Discard(),
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.WithComponent("build")

	transforms := transform.Builtins(cfg.Context, o.logger)
	for _, t := range o.transforms {
		if err := transforms.Register(t); err != nil {
			return nil, err
		}
	}

	m, err := matcher.New(cfg.Module.Rules, cfg.Module.NoParse)
	if err != nil {
		return nil, err
	}
	for _, rule := range m.Rules() {
		if err := transforms.Validate(rule.Chain); err != nil {
			return nil, fmt.Errorf("module.rules[%d]: %w", rule.Index, err)
		}
		if rule.Cacheable && len(rule.Inputs) == 0 && transforms.ReadsExternalFiles(rule.Chain) {
			logger.Info(context.Background(), "Rule runs an external command without declared inputs, not caching it",
				"rule", rule.Index)
		}
	}

	res := resolver.New(o.fs, resolver.Options{
		Context:    cfg.Context,
		Extensions: cfg.Resolve.Extensions,
		Modules:    cfg.Resolve.Modules,
	})
	exec := transform.NewExecutor(transforms, m.IsNoParse, o.logger)

	e := &Engine{
		cfg:        cfg,
		fs:         o.fs,
		matcher:    m,
		resolver:   res,
		transforms: transforms,
		metrics:    o.metrics,
		logger:     logger,
		writer: output.NewWriter(o.fs, output.Options{
			Clean:   cfg.Clean.Enabled,
			Verbose: cfg.Clean.Verbose,
			Dry:     cfg.Clean.Dry,
		}, o.logger),
	}

	graphOpts := graph.Options{Workers: cfg.Build.Workers}
	if cfg.Build.CacheSize > 0 {
		e.cache, err = NewTransformCache(cfg.Build.CacheSize, o.metrics)
		if err != nil {
			return nil, err
		}
		graphOpts.Cache = e.cache
	}
	e.builder = graph.NewBuilder(o.fs, m, res, exec, graphOpts, o.logger)

	return e, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Cache returns the transform cache, or nil when caching is disabled.
func (e *Engine) Cache() *TransformCache {
	return e.cache
}

// NextGeneration reserves the next generation number.
func (e *Engine) NextGeneration() types.Generation {
	return types.Generation(e.generation.Add(1))
}

// Build runs a complete generation under a fresh generation number.
func (e *Engine) Build(ctx context.Context) (*Result, error) {
	return e.BuildGeneration(ctx, e.NextGeneration())
}

// BuildGeneration runs a complete generation numbered gen. Any failure
// aborts the generation and no result is returned.
func (e *Engine) BuildGeneration(ctx context.Context, gen types.Generation) (*Result, error) {
	start := time.Now()
	e.logger.Info(ctx, "Build started", "generation", uint64(gen))

	res, err := e.build(ctx, gen)
	duration := time.Since(start)
	e.metrics.ObserveBuildDuration(duration)

	if err != nil {
		outcome := metrics.OutcomeFailed
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			outcome = metrics.OutcomeCanceled
		}
		e.metrics.IncBuildOutcome(outcome)
		e.logger.Error(ctx, err, "Build failed",
			"generation", uint64(gen),
			"duration", duration)
		return nil, err
	}

	res.Duration = duration
	e.metrics.IncBuildOutcome(metrics.OutcomeSuccess)
	e.metrics.SetGeneration(uint64(gen))
	e.metrics.SetModules(len(res.Graph.Nodes))
	e.logger.Info(ctx, "Build finished",
		"generation", uint64(gen),
		"modules", len(res.Graph.Nodes),
		"files", res.Snapshot.Len(),
		"duration", duration)
	return res, nil
}

func (e *Engine) build(ctx context.Context, gen types.Generation) (*Result, error) {
	e.resolver.Reset()

	stage := time.Now()
	g, err := e.builder.Build(ctx, gen, e.cfg.Entries())
	if err != nil {
		return nil, err
	}
	e.metrics.ObserveStageDuration(metrics.StageGraph, time.Since(stage))

	stage = time.Now()
	aggs := aggregate.Aggregate(g, e.cfg.Aggregates)
	e.metrics.ObserveStageDuration(metrics.StageAggregate, time.Since(stage))

	snap, err := e.plan(g, aggs)
	if err != nil {
		return nil, err
	}

	return &Result{
		Generation: gen,
		Graph:      g,
		Aggregates: aggs,
		Snapshot:   snap,
	}, nil
}

// Write persists res to the configured output directory.
func (e *Engine) Write(ctx context.Context, res *Result) error {
	stage := time.Now()
	defer func() { e.metrics.ObserveStageDuration(metrics.StageWrite, time.Since(stage)) }()
	return e.writer.Write(ctx, e.cfg.Output.Path, res.Snapshot)
}
