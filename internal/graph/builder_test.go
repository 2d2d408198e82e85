package graph

import (
	"context"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/weft/internal/config"
	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/matcher"
	"github.com/conneroisu/weft/internal/resolver"
	"github.com/conneroisu/weft/internal/transform"
	"github.com/conneroisu/weft/internal/types"
)

var scriptRule = config.RuleConfig{
	Test: `\.js$`,
	Use:  []types.TransformRef{{Name: "script"}},
}

type fixture struct {
	fs      afero.Fs
	rules   []config.RuleConfig
	noParse []string
	workers int
	cache   Cache
}

func newFixture(files map[string]string, rules ...config.RuleConfig) *fixture {
	fs := afero.NewMemMapFs()
	for path, content := range files {
		_ = afero.WriteFile(fs, path, []byte(content), 0o644)
	}
	if len(rules) == 0 {
		rules = []config.RuleConfig{scriptRule}
	}
	return &fixture{fs: fs, rules: rules, workers: 1}
}

func (f *fixture) build(t *testing.T, entries ...string) (*types.ModuleGraph, error) {
	t.Helper()
	m, err := matcher.New(f.rules, f.noParse)
	require.NoError(t, err)
	r := resolver.New(f.fs, resolver.Options{
		Context:    "/p",
		Extensions: []string{".js", ".css"},
		Modules:    []string{"node_modules"},
	})
	exec := transform.NewExecutor(transform.Builtins("", nil), m.IsNoParse, nil)
	b := NewBuilder(f.fs, m, r, exec, Options{Workers: f.workers, Cache: f.cache}, nil)

	eps := make([]config.EntryPoint, len(entries))
	for i, e := range entries {
		eps[i] = config.EntryPoint{Name: e, Specifier: "./" + e}
	}
	return b.Build(context.Background(), 1, eps)
}

func ids(paths ...string) []types.AssetID {
	out := make([]types.AssetID, len(paths))
	for i, p := range paths {
		out[i] = types.AssetID(p)
	}
	return out
}

func TestBuildAcyclicGraph(t *testing.T) {
	f := newFixture(map[string]string{
		"/p/index.js":                  `import a from './a'; import b from './b'; import 'lib';`,
		"/p/a.js":                      `import b from './b';`,
		"/p/b.js":                      `export default 1;`,
		"/p/node_modules/lib/index.js": `module.exports = {};`,
		"/p/unreferenced.js":           `import x from './nowhere';`,
	})

	g, err := f.build(t, "index")
	require.NoError(t, err)

	assert.Equal(t, types.Generation(1), g.Generation)
	require.Len(t, g.Entries, 1)
	assert.Equal(t, types.Entry{Name: "index", ID: "/p/index.js"}, g.Entries[0])
	assert.Len(t, g.Nodes, 4)

	index, ok := g.Node("/p/index.js")
	require.True(t, ok)
	assert.Equal(t, ids("/p/a.js", "/p/b.js", "/p/node_modules/lib/index.js"), index.Dependencies)
	assert.Equal(t, types.AssetID("/p/a.js"), index.Imports["./a"])
	assert.Equal(t, types.AssetID("/p/node_modules/lib/index.js"), index.Imports["lib"])
	assert.Equal(t, types.EmitBundle, index.Emit)

	assert.Equal(t, ids("/p/b.js", "/p/a.js", "/p/node_modules/lib/index.js", "/p/index.js"), g.Order())
	assert.NoError(t, g.Validate())
}

func TestBuildDuplicateSpecifiersShareOneEdge(t *testing.T) {
	f := newFixture(map[string]string{
		"/p/index.js": `import a from './a'; const again = require('./a.js');`,
		"/p/a.js":     ``,
	})

	g, err := f.build(t, "index")
	require.NoError(t, err)

	index := g.Nodes["/p/index.js"]
	assert.Equal(t, ids("/p/a.js"), index.Dependencies)
	assert.Len(t, index.Imports, 2)
}

func TestBuildCycleBetweenIntolerantAssetsFails(t *testing.T) {
	f := newFixture(map[string]string{
		"/p/index.js": `import './x';`,
		"/p/x.js":     `import './y';`,
		"/p/y.js":     `import './x';`,
	})

	g, err := f.build(t, "index")
	require.Error(t, err)
	assert.Nil(t, g)
	assert.ErrorIs(t, err, errors.ErrCycleDetected)

	var be *errors.BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ids("/p/x.js", "/p/y.js", "/p/x.js"), be.Path)
}

func TestBuildSelfImportFails(t *testing.T) {
	f := newFixture(map[string]string{
		"/p/index.js": `import './index';`,
	})

	_, err := f.build(t, "index")
	require.ErrorIs(t, err, errors.ErrCycleDetected)

	var be *errors.BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ids("/p/index.js", "/p/index.js"), be.Path)
}

func TestBuildCycleBetweenTolerantAssetsIsKept(t *testing.T) {
	tolerant := scriptRule
	tolerant.CycleTolerant = true
	f := newFixture(map[string]string{
		"/p/index.js": `import './x';`,
		"/p/x.js":     `import './y';`,
		"/p/y.js":     `import './x';`,
	}, tolerant)

	g, err := f.build(t, "index")
	require.NoError(t, err)
	assert.Equal(t, ids("/p/y.js"), g.Nodes["/p/x.js"].Dependencies)
	assert.Equal(t, ids("/p/x.js"), g.Nodes["/p/y.js"].Dependencies)
	assert.Equal(t, ids("/p/y.js", "/p/x.js", "/p/index.js"), g.Order())
}

func TestBuildCycleWithOneIntolerantMemberFails(t *testing.T) {
	f := newFixture(map[string]string{
		"/p/index.js": `import './x';`,
		"/p/x.js":     `import './y.mjs';`,
		"/p/y.mjs":    `import './x.js';`,
	},
		config.RuleConfig{Test: `\.js$`, CycleTolerant: true, Use: []types.TransformRef{{Name: "script"}}},
		config.RuleConfig{Test: `\.mjs$`, Use: []types.TransformRef{{Name: "script"}}},
	)

	_, err := f.build(t, "index")
	require.ErrorIs(t, err, errors.ErrCycleDetected)

	var be *errors.BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ids("/p/y.mjs", "/p/x.js", "/p/y.mjs"), be.Path)
}

func TestBuildResolveFailure(t *testing.T) {
	f := newFixture(map[string]string{
		"/p/index.js": `import './a';`,
		"/p/a.js":     `import './missing';`,
	})

	_, err := f.build(t, "index")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrResolveFailed)
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.Equal(t, types.AssetID("/p/a.js"), errors.AssetOf(err))
}

func TestBuildMissingEntry(t *testing.T) {
	f := newFixture(map[string]string{})
	_, err := f.build(t, "index")
	assert.ErrorIs(t, err, errors.ErrResolveFailed)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestBuildTransformFailure(t *testing.T) {
	f := newFixture(map[string]string{
		"/p/index.js": `import './a.css';`,
		"/p/a.css":    `body{}`,
	},
		scriptRule,
		config.RuleConfig{Test: `\.css$`, Use: []types.TransformRef{{Name: "extract"}}},
	)

	_, err := f.build(t, "index")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTransformFailed)
	assert.ErrorIs(t, err, errors.ErrStageFailed)
	assert.Equal(t, types.AssetID("/p/a.css"), errors.AssetOf(err))
}

func TestBuildNoParseSkipsDiscovery(t *testing.T) {
	f := newFixture(map[string]string{
		"/p/index.js":  `import './vendor.js';`,
		"/p/vendor.js": `require('./not-there');`,
	})
	f.noParse = []string{`vendor\.js$`}

	g, err := f.build(t, "index")
	require.NoError(t, err)
	assert.Empty(t, g.Nodes["/p/vendor.js"].Dependencies)
	assert.Equal(t, `require('./not-there');`, string(g.Nodes["/p/vendor.js"].Content))
}

func TestBuildSideEmissionsAndPassthrough(t *testing.T) {
	f := newFixture(map[string]string{
		"/p/index.js": `import './a.css'; import './logo.png';`,
		"/p/a.css":    `a{}`,
		"/p/logo.png": "\x89PNG",
	},
		scriptRule,
		config.RuleConfig{Test: `\.css$`, Use: []types.TransformRef{
			{Name: "css"},
			{Name: "extract", Options: map[string]any{"channel": "styles"}},
		}},
	)

	g, err := f.build(t, "index")
	require.NoError(t, err)

	css := g.Nodes["/p/a.css"]
	assert.Equal(t, types.EmitNone, css.Emit)
	assert.Empty(t, css.Content)
	content, ok := css.EmissionsFor("styles")
	require.True(t, ok)
	assert.Equal(t, "a{}", string(content))

	png := g.Nodes["/p/logo.png"]
	assert.Equal(t, types.EmitFile, png.Emit)
	assert.Equal(t, "[path]", png.Filename)
	assert.Equal(t, "\x89PNG", string(png.Content))
}

func TestBuildMultipleEntriesInDeclaredOrder(t *testing.T) {
	f := newFixture(map[string]string{
		"/p/main.js":   `import './shared';`,
		"/p/admin.js":  `import './shared';`,
		"/p/shared.js": ``,
	})

	g, err := f.build(t, "main", "admin")
	require.NoError(t, err)
	require.Len(t, g.Entries, 2)
	assert.Equal(t, "main", g.Entries[0].Name)
	assert.Equal(t, "admin", g.Entries[1].Name)
	assert.Equal(t, ids("/p/shared.js", "/p/main.js", "/p/admin.js"), g.Order())
}

func TestBuildParallelMatchesSerial(t *testing.T) {
	files := map[string]string{"/p/index.js": ""}
	src := ""
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		src += "import './" + name + "';\n"
		files["/p/"+name+".js"] = "import './leaf';"
	}
	files["/p/index.js"] = src
	files["/p/leaf.js"] = ""

	serial := newFixture(files)
	want, err := serial.build(t, "index")
	require.NoError(t, err)

	parallel := newFixture(files)
	parallel.workers = 8
	for i := 0; i < 5; i++ {
		got, err := parallel.build(t, "index")
		require.NoError(t, err)
		assert.Equal(t, want.Order(), got.Order())
		for id, node := range want.Nodes {
			assert.Equal(t, node.Dependencies, got.Nodes[id].Dependencies)
		}
	}
}

type recordingCache struct {
	mu      sync.Mutex
	results map[types.AssetID]transform.Result
	lookups int
}

func (c *recordingCache) Lookup(id types.AssetID, _ []byte, _ []types.TransformRef, _ []byte) (transform.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups++
	r, ok := c.results[id]
	return r, ok
}

func (c *recordingCache) Store(id types.AssetID, _ []byte, _ []types.TransformRef, _ []byte, r transform.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[id] = r
}

func TestBuildUsesCacheForCacheableRules(t *testing.T) {
	cacheable := scriptRule
	cacheable.Cacheable = true
	f := newFixture(map[string]string{
		"/p/index.js": `import './a';`,
		"/p/a.js":     ``,
	}, cacheable)
	cache := &recordingCache{results: make(map[types.AssetID]transform.Result)}
	f.cache = cache

	g, err := f.build(t, "index")
	require.NoError(t, err)
	assert.False(t, g.Nodes["/p/index.js"].Cached)
	assert.Len(t, cache.results, 2)

	g, err = f.build(t, "index")
	require.NoError(t, err)
	assert.True(t, g.Nodes["/p/index.js"].Cached)
	assert.Equal(t, ids("/p/a.js"), g.Nodes["/p/index.js"].Dependencies)
	assert.Equal(t, 4, cache.lookups)
}

func TestBuildSkipsCacheForOtherRules(t *testing.T) {
	f := newFixture(map[string]string{"/p/index.js": ``})
	cache := &recordingCache{results: make(map[types.AssetID]transform.Result)}
	f.cache = cache

	_, err := f.build(t, "index")
	require.NoError(t, err)
	assert.Zero(t, cache.lookups)
	assert.Empty(t, cache.results)
}
