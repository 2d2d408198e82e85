package transform

import (
	"context"
	"fmt"

	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/logging"
	"github.com/conneroisu/weft/internal/types"
)

// Result is the outcome of a complete chain.
type Result struct {
	Content []byte
	// Dependencies are the discovered specifiers across all stages, in
	// discovery order without duplicates. Always empty for no-parse assets.
	Dependencies []string
	Emissions    []types.Emission
}

// Executor applies transform chains.
type Executor struct {
	registry *Registry
	noParse  func(types.AssetID) bool
	logger   logging.Logger
}

// NewExecutor creates an executor. noParse reports which assets are opaque;
// nil means none are.
func NewExecutor(registry *Registry, noParse func(types.AssetID) bool, logger logging.Logger) *Executor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Executor{
		registry: registry,
		noParse:  noParse,
		logger:   logger.WithComponent("transform"),
	}
}

// ReadsExternalFiles reports whether the result of chain may depend on files
// other than the asset itself.
func (e *Executor) ReadsExternalFiles(chain []types.TransformRef) bool {
	return e.registry.ReadsExternalFiles(chain)
}

// Run executes chain over raw strictly in order. The first failing stage
// aborts the chain with a StageFailed error; its output is never applied.
func (e *Executor) Run(ctx context.Context, id types.AssetID, raw []byte, chain []types.TransformRef) (Result, error) {
	noParse := e.noParse != nil && e.noParse(id)

	var (
		result  Result
		seen    = make(map[string]bool)
		content = raw
	)
	for i, ref := range chain {
		if err := ctx.Err(); err != nil {
			return Result{}, errors.NewStageFailed(id, i, ref.Name, err)
		}

		t, ok := e.registry.Get(ref.Name)
		if !ok {
			return Result{}, errors.NewStageFailed(id, i, ref.Name,
				fmt.Errorf("unknown transform %q", ref.Name))
		}
		if err := checkOptions(t, ref.Options); err != nil {
			return Result{}, errors.NewStageFailed(id, i, ref.Name, err)
		}

		out, err := t.Transform(ctx, Input{
			ID:      id,
			Content: content,
			Options: ref.Options,
			NoParse: noParse,
		})
		if err != nil {
			return Result{}, errors.NewStageFailed(id, i, ref.Name, err)
		}

		content = out.Content
		if !noParse {
			for _, spec := range out.Dependencies {
				if !seen[spec] {
					seen[spec] = true
					result.Dependencies = append(result.Dependencies, spec)
				}
			}
		}
		result.Emissions = append(result.Emissions, out.Emissions...)
	}

	if content == nil {
		content = []byte{}
	}
	result.Content = content

	e.logger.Debug(ctx, "Transformed asset",
		"asset", id.String(),
		"stages", len(chain),
		"dependencies", len(result.Dependencies),
		"emissions", len(result.Emissions))
	return result, nil
}
