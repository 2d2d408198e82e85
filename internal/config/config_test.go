package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/weft/internal/errors"
)

func newViper(t *testing.T, values map[string]interface{}) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	v.Set("context", t.TempDir())
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestLoadDefaults(t *testing.T) {
	v := newViper(t, nil)

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(cfg.Context))
	assert.Equal(t, filepath.Join(cfg.Context, "dist"), cfg.Output.Path)
	assert.Equal(t, "[name].js", cfg.Output.Filename)
	assert.Equal(t, []string{"./index.js"}, cfg.Entry)
	assert.Equal(t, []string{".js"}, cfg.Resolve.Extensions)
	assert.Equal(t, []string{"node_modules"}, cfg.Resolve.Modules)
	assert.NotEmpty(t, cfg.Module.Rules)
	assert.Equal(t, []AggregateConfig{{Channel: "styles", Filename: "styles.css"}}, cfg.Aggregates)
	assert.Equal(t, 300*time.Millisecond, cfg.Development.Debounce)
	assert.Equal(t, "index.html", cfg.Server.Fallback)
	assert.True(t, cfg.Server.HistoryAPIFallback)
	assert.Equal(t, []string{cfg.Context}, cfg.Watch.Paths)
	assert.Equal(t, []string{"node_modules", ".git", "elm-stuff"}, cfg.Watch.Ignore)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	content := `
context: .
entry:
  - ./src/main.js
  - ./src/admin.js
output:
  path: public
  filename: "[name].bundle.js"
resolve:
  extensions: [".js", ".elm"]
  modules: [node_modules, vendor]
module:
  no_parse: ['\.elm$']
  rules:
    - test: '\.elm$'
      exclude: [elm-stuff, node_modules]
      use:
        - name: exec
          options:
            command: elm
      cacheable: true
      inputs: [src, elm.json]
aggregates:
  - channel: styles
    filename: app.css
development:
  debounce: 50ms
`
	path := filepath.Join(dir, ".weft.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	v := viper.New()
	ConfigureViper(v, path)
	require.NoError(t, v.ReadInConfig())
	v.Set("context", dir)

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "public"), cfg.Output.Path)
	assert.Equal(t, []string{".js", ".elm"}, cfg.Resolve.Extensions)
	assert.Equal(t, []string{"node_modules", "vendor"}, cfg.Resolve.Modules)
	require.Len(t, cfg.Module.Rules, 1)
	rule := cfg.Module.Rules[0]
	assert.Equal(t, `\.elm$`, rule.Test)
	assert.True(t, rule.Cacheable)
	require.Len(t, rule.Use, 1)
	assert.Equal(t, "exec", rule.Use[0].Name)
	assert.Equal(t, "elm", rule.Use[0].Options["command"])
	assert.Equal(t, []string{filepath.Join(dir, "src"), filepath.Join(dir, "elm.json")}, rule.Inputs)
	assert.Equal(t, 50*time.Millisecond, cfg.Development.Debounce)

	entries := cfg.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, EntryPoint{Name: "main", Specifier: "./src/main.js"}, entries[0])
	assert.Equal(t, EntryPoint{Name: "admin", Specifier: "./src/admin.js"}, entries[1])
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("WEFT_SERVER_PORT", "9123")

	v := viper.New()
	ConfigureViper(v, filepath.Join(t.TempDir(), "missing.yml"))
	v.Set("context", t.TempDir())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 9123, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		values    map[string]interface{}
		wantField string
	}{
		{
			name:      "no entries",
			values:    map[string]interface{}{"entry": []string{}},
			wantField: "entry",
		},
		{
			name:      "duplicate entry names",
			values:    map[string]interface{}{"entry": []string{"./a/index.js", "./b/index.js"}},
			wantField: "entry",
		},
		{
			name:      "output equals context",
			values:    map[string]interface{}{"output.path": "."},
			wantField: "output.path",
		},
		{
			name: "invalid rule regex",
			values: map[string]interface{}{"module.rules": []map[string]interface{}{
				{"test": "(", "use": []map[string]interface{}{{"name": "identity"}}},
			}},
			wantField: "module.rules[0].test",
		},
		{
			name: "invalid emit mode",
			values: map[string]interface{}{"module.rules": []map[string]interface{}{
				{"test": `\.js$`, "emit": "inline"},
			}},
			wantField: "module.rules[0].emit",
		},
		{
			name:      "port out of range",
			values:    map[string]interface{}{"server.port": 70000},
			wantField: "server.port",
		},
		{
			name:      "dangerous host",
			values:    map[string]interface{}{"server.host": "localhost;rm"},
			wantField: "server.host",
		},
		{
			name:      "bad extension",
			values:    map[string]interface{}{"resolve.extensions": []string{"js"}},
			wantField: "resolve.extensions[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(newViper(t, tt.values))
			require.Error(t, err)

			var vec *errors.ValidationErrorCollection
			require.ErrorAs(t, err, &vec)
			fields := make([]string, 0, len(vec.Errors))
			for _, fe := range vec.Errors {
				fields = append(fields, fe.FieldName)
			}
			assert.Contains(t, fields, tt.wantField)
		})
	}
}

func TestEntriesStripsVariant(t *testing.T) {
	cfg := &Config{Entry: []string{"./app.ts?legacy"}}
	assert.Equal(t, []EntryPoint{{Name: "app", Specifier: "./app.ts?legacy"}}, cfg.Entries())
}
