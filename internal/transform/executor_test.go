package transform

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/types"
)

// stage is a configurable transform for chain tests.
type stage struct {
	name    string
	options []string
	fn      func(in Input) (Output, error)
}

func (s stage) Name() string      { return s.name }
func (s stage) Options() []string { return s.options }
func (s stage) Transform(_ context.Context, in Input) (Output, error) {
	return s.fn(in)
}

func suffix(name, text string, deps ...string) stage {
	return stage{name: name, fn: func(in Input) (Output, error) {
		return Output{
			Content:      append(append([]byte(nil), in.Content...), text...),
			Dependencies: deps,
			Emissions:    []types.Emission{{Channel: "trace", Content: []byte(name)}},
		}, nil
	}}
}

func newTestRegistry(t *testing.T, stages ...Transformer) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, s := range stages {
		require.NoError(t, r.Register(s))
	}
	return r
}

func chain(names ...string) []types.TransformRef {
	refs := make([]types.TransformRef, len(names))
	for i, name := range names {
		refs[i] = types.TransformRef{Name: name}
	}
	return refs
}

func TestExecutorRunsStagesInOrder(t *testing.T) {
	reg := newTestRegistry(t,
		suffix("a", "-a", "./x", "./y"),
		suffix("b", "-b", "./y", "./z"),
	)
	exec := NewExecutor(reg, nil, nil)

	res, err := exec.Run(context.Background(), "/p/m.js", []byte("raw"), chain("a", "b"))
	require.NoError(t, err)

	assert.Equal(t, "raw-a-b", string(res.Content))
	assert.Equal(t, []string{"./x", "./y", "./z"}, res.Dependencies)
	require.Len(t, res.Emissions, 2)
	assert.Equal(t, "a", string(res.Emissions[0].Content))
	assert.Equal(t, "b", string(res.Emissions[1].Content))
}

func TestExecutorEmptyChainForwardsRaw(t *testing.T) {
	exec := NewExecutor(NewRegistry(), nil, nil)
	res, err := exec.Run(context.Background(), "/p/logo.png", []byte{1, 2, 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, res.Content)
	assert.Empty(t, res.Dependencies)
}

func TestExecutorNoParseDiscardsDependencies(t *testing.T) {
	var sawNoParse bool
	probe := stage{name: "probe", fn: func(in Input) (Output, error) {
		sawNoParse = in.NoParse
		return Output{Content: in.Content, Dependencies: []string{"./ignored"}}, nil
	}}
	reg := newTestRegistry(t, probe)
	exec := NewExecutor(reg, func(id types.AssetID) bool {
		return strings.HasSuffix(id.Path(), ".elm")
	}, nil)

	res, err := exec.Run(context.Background(), "/p/Main.elm", []byte(`import Html`), chain("probe"))
	require.NoError(t, err)
	assert.True(t, sawNoParse)
	assert.Empty(t, res.Dependencies)
	assert.Equal(t, "import Html", string(res.Content))
}

func TestExecutorStageFailureAborts(t *testing.T) {
	var ranAfter bool
	fail := stage{name: "fail", fn: func(in Input) (Output, error) {
		return Output{Content: []byte("partial")}, fmt.Errorf("syntax error")
	}}
	after := stage{name: "after", fn: func(in Input) (Output, error) {
		ranAfter = true
		return Output{Content: in.Content}, nil
	}}
	reg := newTestRegistry(t, suffix("ok", "-ok"), fail, after)
	exec := NewExecutor(reg, nil, nil)

	res, err := exec.Run(context.Background(), "/p/a.css", []byte("x"), chain("ok", "fail", "after"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrStageFailed)
	assert.False(t, ranAfter)
	assert.Nil(t, res.Content)

	var te *errors.TransformError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 1, te.Stage)
	assert.Equal(t, "fail", te.Transform)
	assert.Equal(t, types.AssetID("/p/a.css"), te.Asset)
	assert.Contains(t, err.Error(), "syntax error")
}

func TestExecutorUnknownTransform(t *testing.T) {
	exec := NewExecutor(NewRegistry(), nil, nil)
	_, err := exec.Run(context.Background(), "/p/a.js", nil, chain("missing"))
	assert.ErrorIs(t, err, errors.ErrStageFailed)
	assert.Contains(t, err.Error(), `unknown transform "missing"`)
}

func TestExecutorRejectsUnknownOptions(t *testing.T) {
	reg := newTestRegistry(t, stage{name: "opt", options: []string{"known"}, fn: func(in Input) (Output, error) {
		return Output{Content: in.Content}, nil
	}})
	exec := NewExecutor(reg, nil, nil)

	_, err := exec.Run(context.Background(), "/p/a.js", nil, []types.TransformRef{
		{Name: "opt", Options: map[string]any{"known": 1, "typo": true}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "typo")

	_, err = exec.Run(context.Background(), "/p/a.js", nil, []types.TransformRef{
		{Name: "opt", Options: map[string]any{"known": 1}},
	})
	assert.NoError(t, err)
}

func TestExecutorCanceledContext(t *testing.T) {
	reg := newTestRegistry(t, suffix("a", "-a"))
	exec := NewExecutor(reg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := exec.Run(ctx, "/p/a.js", nil, chain("a"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errors.ErrStageFailed)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Identity{}))
	assert.Error(t, r.Register(Identity{}))
	assert.Error(t, r.Register(stage{name: ""}))

	_, ok := r.Get("identity")
	assert.True(t, ok)
	assert.Equal(t, []string{"identity"}, r.Names())

	assert.NoError(t, r.Validate(chain("identity")))
	assert.Error(t, r.Validate(chain("identity", "nope")))
	assert.Error(t, r.Validate([]types.TransformRef{{Name: "identity", Options: map[string]any{"x": 1}}}))
}

func TestBuiltinsRegistered(t *testing.T) {
	r := Builtins("", nil)
	assert.Equal(t,
		[]string{"css", "exec", "extract", "file", "html", "identity", "markdown", "script"},
		r.Names())
}

func TestReadsExternalFiles(t *testing.T) {
	r := Builtins("", nil)
	assert.False(t, r.ReadsExternalFiles(chain("css", "extract")))
	assert.True(t, r.ReadsExternalFiles(chain("identity", "exec")))
	assert.False(t, r.ReadsExternalFiles(chain("unknown")))
}
