package graph

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/weft/internal/config"
	"github.com/conneroisu/weft/internal/matcher"
)

func TestDigestInputs(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/p/src/A.elm", []byte("a"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/p/src/B.elm", []byte("b"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/p/elm.json", []byte("{}"), 0o644))

	m, err := matcher.New([]config.RuleConfig{
		{Test: `\.elm$`, Cacheable: true, Inputs: []string{"/p/src", "/p/elm.json", "/p/missing"}},
		{Test: `\.js$`, Inputs: []string{"/p/src"}},
		{Test: `\.css$`, Cacheable: true},
	}, nil)
	require.NoError(t, err)
	b := NewBuilder(fs, m, nil, nil, Options{}, nil)

	first, err := b.digestInputs()
	require.NoError(t, err)
	require.Contains(t, first, 0)
	assert.NotContains(t, first, 1)
	assert.NotContains(t, first, 2)

	again, err := b.digestInputs()
	require.NoError(t, err)
	assert.Equal(t, first[0], again[0])

	require.NoError(t, afero.WriteFile(fs, "/p/src/B.elm", []byte("b2"), 0o644))
	edited, err := b.digestInputs()
	require.NoError(t, err)
	assert.NotEqual(t, first[0], edited[0])

	require.NoError(t, afero.WriteFile(fs, "/p/src/nested/C.elm", []byte("c"), 0o644))
	added, err := b.digestInputs()
	require.NoError(t, err)
	assert.NotEqual(t, edited[0], added[0])
}
