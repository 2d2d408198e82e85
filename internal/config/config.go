// Package config provides configuration management for weft using Viper for
// loading from files, environment variables and command-line flags.
//
// A project is described by a .weft.yml file declaring entry points, the
// output directory, module resolution settings, matcher rules with their
// transform chains, aggregate channels and dev server options. Every value
// can be overridden with a WEFT_ prefixed environment variable
// (WEFT_SERVER_PORT=9000) and variables may be kept in a .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/conneroisu/weft/internal/types"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "WEFT"

type Config struct {
	Context     string            `mapstructure:"context" yaml:"context"`
	Requires    string            `mapstructure:"requires" yaml:"requires,omitempty"`
	Entry       []string          `mapstructure:"entry" yaml:"entry"`
	Output      OutputConfig      `mapstructure:"output" yaml:"output"`
	Clean       CleanConfig       `mapstructure:"clean" yaml:"clean"`
	Resolve     ResolveConfig     `mapstructure:"resolve" yaml:"resolve"`
	Module      ModuleConfig      `mapstructure:"module" yaml:"module"`
	Aggregates  []AggregateConfig `mapstructure:"aggregates" yaml:"aggregates"`
	Build       BuildConfig       `mapstructure:"build" yaml:"build"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Development DevelopmentConfig `mapstructure:"development" yaml:"development"`
	Watch       WatchConfig       `mapstructure:"watch" yaml:"watch"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

type OutputConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
	// Filename names entry bundles; [name] expands to the entry name.
	Filename string `mapstructure:"filename" yaml:"filename"`
}

type CleanConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Verbose bool `mapstructure:"verbose" yaml:"verbose"`
	Dry     bool `mapstructure:"dry" yaml:"dry"`
}

type ResolveConfig struct {
	Extensions []string `mapstructure:"extensions" yaml:"extensions"`
	Modules    []string `mapstructure:"modules" yaml:"modules"`
}

type ModuleConfig struct {
	NoParse []string     `mapstructure:"no_parse" yaml:"no_parse,omitempty"`
	Rules   []RuleConfig `mapstructure:"rules" yaml:"rules"`
}

// RuleConfig declares one matcher rule. Test and Exclude are regular
// expressions matched against the slash-separated absolute asset path.
type RuleConfig struct {
	Test          string               `mapstructure:"test" yaml:"test"`
	Exclude       []string             `mapstructure:"exclude" yaml:"exclude,omitempty"`
	Use           []types.TransformRef `mapstructure:"use" yaml:"use"`
	Cacheable     bool                 `mapstructure:"cacheable" yaml:"cacheable,omitempty"`
	CycleTolerant bool                 `mapstructure:"cycle_tolerant" yaml:"cycle_tolerant,omitempty"`
	NoParse       bool                 `mapstructure:"no_parse" yaml:"no_parse,omitempty"`
	Emit          string               `mapstructure:"emit" yaml:"emit,omitempty"`
	Filename      string               `mapstructure:"filename" yaml:"filename,omitempty"`
	// Inputs lists files or directories, relative to the context, that an
	// external command reads besides the asset itself. Cached results of
	// the rule are keyed on their contents too.
	Inputs []string `mapstructure:"inputs" yaml:"inputs,omitempty"`
}

type AggregateConfig struct {
	Channel  string `mapstructure:"channel" yaml:"channel"`
	Filename string `mapstructure:"filename" yaml:"filename"`
}

type BuildConfig struct {
	Workers   int `mapstructure:"workers" yaml:"workers"`
	CacheSize int `mapstructure:"cache_size" yaml:"cache_size"`
}

type ServerConfig struct {
	Host               string   `mapstructure:"host" yaml:"host"`
	Port               int      `mapstructure:"port" yaml:"port"`
	Fallback           string   `mapstructure:"fallback" yaml:"fallback"`
	HistoryAPIFallback bool     `mapstructure:"history_api_fallback" yaml:"history_api_fallback"`
	WriteToDisk        bool     `mapstructure:"write_to_disk" yaml:"write_to_disk"`
	AllowedOrigins     []string `mapstructure:"allowed_origins" yaml:"allowed_origins,omitempty"`
}

type DevelopmentConfig struct {
	HotReload    bool          `mapstructure:"hot_reload" yaml:"hot_reload"`
	Debounce     time.Duration `mapstructure:"debounce" yaml:"debounce"`
	ErrorOverlay bool          `mapstructure:"error_overlay" yaml:"error_overlay"`
}

type WatchConfig struct {
	Paths  []string `mapstructure:"paths" yaml:"paths,omitempty"`
	Ignore []string `mapstructure:"ignore" yaml:"ignore"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// EntryPoint is a named entry specifier.
type EntryPoint struct {
	Name      string
	Specifier string
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("context", ".")
	v.SetDefault("entry", []string{"./index.js"})
	v.SetDefault("output.path", "dist")
	v.SetDefault("output.filename", "[name].js")
	v.SetDefault("clean.enabled", true)
	v.SetDefault("clean.verbose", false)
	v.SetDefault("clean.dry", false)
	v.SetDefault("resolve.extensions", []string{".js"})
	v.SetDefault("resolve.modules", []string{"node_modules"})
	v.SetDefault("build.workers", runtime.NumCPU())
	v.SetDefault("build.cache_size", 512)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.fallback", "index.html")
	v.SetDefault("server.history_api_fallback", true)
	v.SetDefault("server.write_to_disk", false)
	v.SetDefault("development.hot_reload", true)
	v.SetDefault("development.debounce", 300*time.Millisecond)
	v.SetDefault("development.error_overlay", true)
	v.SetDefault("watch.ignore", []string{"node_modules", ".git", "elm-stuff"})
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// DefaultRules returns the rule set used when a project declares none.
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{
			Test:    `\.m?js$`,
			Exclude: []string{`/node_modules/`},
			Use:     []types.TransformRef{{Name: "script"}},
		},
		{
			Test: `\.css$`,
			Use: []types.TransformRef{
				{Name: "css"},
				{Name: "extract", Options: map[string]any{"channel": "styles"}},
			},
		},
		{
			Test: `\.html?$`,
			Use: []types.TransformRef{
				{Name: "html"},
				{Name: "file", Options: map[string]any{"name": "[name].[ext]"}},
			},
		},
		{
			Test: `\.md$`,
			Use: []types.TransformRef{
				{Name: "markdown"},
				{Name: "file", Options: map[string]any{"name": "[name].html"}},
			},
		},
	}
}

// ConfigureViper wires config file discovery and environment overrides into v.
// cfgFile takes precedence over WEFT_CONFIG_FILE, which takes precedence over
// .weft.yml in the working directory.
func ConfigureViper(v *viper.Viper, cfgFile string) {
	// Variables already present in the environment win over .env.
	_ = godotenv.Load()

	switch {
	case cfgFile != "":
		v.SetConfigFile(cfgFile)
	case os.Getenv(EnvPrefix+"_CONFIG_FILE") != "":
		v.SetConfigFile(os.Getenv(EnvPrefix + "_CONFIG_FILE"))
	default:
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".weft")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
}

// Load reads the configuration held by the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals, completes and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Normalize fills unset values and makes every path absolute relative to the
// project context.
func (c *Config) Normalize() error {
	if c.Context == "" {
		c.Context = "."
	}
	ctxDir, err := filepath.Abs(c.Context)
	if err != nil {
		return fmt.Errorf("resolving context %q: %w", c.Context, err)
	}
	c.Context = ctxDir

	if c.Output.Path == "" {
		c.Output.Path = "dist"
	}
	if !filepath.IsAbs(c.Output.Path) {
		c.Output.Path = filepath.Join(c.Context, c.Output.Path)
	}
	c.Output.Path = filepath.Clean(c.Output.Path)
	if c.Output.Filename == "" {
		c.Output.Filename = "[name].js"
	}

	if len(c.Module.Rules) == 0 {
		c.Module.Rules = DefaultRules()
	}
	for i := range c.Module.Rules {
		for j, p := range c.Module.Rules[i].Inputs {
			if !filepath.IsAbs(p) {
				c.Module.Rules[i].Inputs[j] = filepath.Join(c.Context, p)
			}
		}
	}
	if len(c.Aggregates) == 0 && c.usesChannel("styles") {
		c.Aggregates = []AggregateConfig{{Channel: "styles", Filename: "styles.css"}}
	}
	for i, agg := range c.Aggregates {
		if agg.Filename == "" {
			c.Aggregates[i].Filename = agg.Channel
		}
	}

	if c.Build.Workers <= 0 {
		c.Build.Workers = runtime.NumCPU()
	}
	if c.Server.Fallback == "" {
		c.Server.Fallback = "index.html"
	}
	if c.Development.Debounce <= 0 {
		c.Development.Debounce = 300 * time.Millisecond
	}
	if len(c.Watch.Paths) == 0 {
		c.Watch.Paths = []string{c.Context}
	}
	for i, p := range c.Watch.Paths {
		if !filepath.IsAbs(p) {
			c.Watch.Paths[i] = filepath.Join(c.Context, p)
		}
	}
	return nil
}

func (c *Config) usesChannel(channel string) bool {
	for _, rule := range c.Module.Rules {
		for _, ref := range rule.Use {
			if ch, ok := ref.Options["channel"].(string); ok && ch == channel {
				return true
			}
		}
	}
	return false
}

// Entries returns the entry specifiers with their derived names, in declared order.
// The name is the base name of the specifier without its extension.
func (c *Config) Entries() []EntryPoint {
	entries := make([]EntryPoint, 0, len(c.Entry))
	for _, spec := range c.Entry {
		spec = strings.TrimSpace(spec)
		name, _, _ := strings.Cut(filepath.Base(spec), "?")
		name = strings.TrimSuffix(name, filepath.Ext(name))
		entries = append(entries, EntryPoint{Name: name, Specifier: spec})
	}
	return entries
}

// Addr returns the dev server listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
