package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/types"
	"github.com/conneroisu/weft/internal/version"
)

var dangerousHostChars = []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}

// Validate checks a normalized configuration for correctness and returns an
// *errors.ValidationErrorCollection describing every invalid field.
func Validate(cfg *Config) error {
	vec := &errors.ValidationErrorCollection{}

	if err := version.Satisfies(cfg.Requires, version.GetVersion()); err != nil {
		vec.AddField("requires", cfg.Requires, err.Error())
	}

	validateEntries(cfg, vec)
	validateOutput(cfg, vec)
	validateRules(cfg, vec)
	validateAggregates(cfg, vec)
	validateServer(&cfg.Server, vec)

	for i, ext := range cfg.Resolve.Extensions {
		if ext != "" && !strings.HasPrefix(ext, ".") {
			vec.AddField(fmt.Sprintf("resolve.extensions[%d]", i), ext, "extension must start with a dot")
		}
	}

	if cfg.Build.Workers < 1 {
		vec.AddField("build.workers", cfg.Build.Workers, "must be at least 1")
	}
	if cfg.Build.CacheSize < 0 {
		vec.AddField("build.cache_size", cfg.Build.CacheSize, "must not be negative")
	}

	return vec.ErrOrNil()
}

func validateEntries(cfg *Config, vec *errors.ValidationErrorCollection) {
	if len(cfg.Entry) == 0 {
		vec.AddField("entry", cfg.Entry, "at least one entry is required")
		return
	}
	seen := make(map[string]string)
	for _, e := range cfg.Entries() {
		if e.Specifier == "" {
			vec.AddField("entry", e.Specifier, "entry specifier cannot be empty")
			continue
		}
		if prev, ok := seen[e.Name]; ok {
			vec.AddField("entry", e.Specifier,
				fmt.Sprintf("entry name %q already used by %q", e.Name, prev),
				"rename one of the entry files")
			continue
		}
		seen[e.Name] = e.Specifier
	}
}

func validateOutput(cfg *Config, vec *errors.ValidationErrorCollection) {
	out := cfg.Output.Path
	if out == "" {
		vec.AddField("output.path", out, "output path cannot be empty")
		return
	}
	// The output directory is wiped on every build.
	rel, err := filepath.Rel(out, cfg.Context)
	if err == nil && (rel == "." || !strings.HasPrefix(rel, "..")) {
		vec.AddField("output.path", out, "output path must not contain the project context",
			"use a dedicated directory such as dist")
	}
	if !strings.Contains(cfg.Output.Filename, "[name]") && len(cfg.Entry) > 1 {
		vec.AddField("output.filename", cfg.Output.Filename,
			"filename must contain [name] when there are multiple entries")
	}
	if strings.Contains(cfg.Output.Filename, "..") {
		vec.AddField("output.filename", cfg.Output.Filename, "filename contains path traversal")
	}
}

func validateRules(cfg *Config, vec *errors.ValidationErrorCollection) {
	for i, pattern := range cfg.Module.NoParse {
		if _, err := regexp.Compile(pattern); err != nil {
			vec.AddField(fmt.Sprintf("module.no_parse[%d]", i), pattern, err.Error())
		}
	}
	for i, rule := range cfg.Module.Rules {
		field := fmt.Sprintf("module.rules[%d]", i)
		if rule.Test == "" {
			vec.AddField(field+".test", rule.Test, "test pattern is required")
		} else if _, err := regexp.Compile(rule.Test); err != nil {
			vec.AddField(field+".test", rule.Test, err.Error())
		}
		for j, ex := range rule.Exclude {
			if _, err := regexp.Compile(ex); err != nil {
				vec.AddField(fmt.Sprintf("%s.exclude[%d]", field, j), ex, err.Error())
			}
		}
		for j, ref := range rule.Use {
			if strings.TrimSpace(ref.Name) == "" {
				vec.AddField(fmt.Sprintf("%s.use[%d].name", field, j), ref.Name, "transform name is required")
			}
		}
		if rule.Emit != "" && !types.EmitMode(rule.Emit).Valid() {
			vec.AddField(field+".emit", rule.Emit, "emit must be one of bundle, file, none")
		}
	}
}

func validateAggregates(cfg *Config, vec *errors.ValidationErrorCollection) {
	seen := make(map[string]bool)
	for i, agg := range cfg.Aggregates {
		field := fmt.Sprintf("aggregates[%d]", i)
		if agg.Channel == "" {
			vec.AddField(field+".channel", agg.Channel, "channel is required")
		}
		if seen[agg.Channel] {
			vec.AddField(field+".channel", agg.Channel, "channel declared more than once")
		}
		seen[agg.Channel] = true
		if strings.Contains(agg.Filename, "..") || filepath.IsAbs(agg.Filename) {
			vec.AddField(field+".filename", agg.Filename, "filename must be relative to the output directory")
		}
	}
}

func validateServer(server *ServerConfig, vec *errors.ValidationErrorCollection) {
	// Port 0 lets the system pick a port in tests.
	if server.Port < 0 || server.Port > 65535 {
		vec.AddField("server.port", server.Port, fmt.Sprintf("port %d is not in valid range 0-65535", server.Port))
	}
	for _, char := range dangerousHostChars {
		if strings.Contains(server.Host, char) {
			vec.AddField("server.host", server.Host, "host contains dangerous character: "+char)
			break
		}
	}
	if strings.Contains(server.Fallback, "..") {
		vec.AddField("server.fallback", server.Fallback, "fallback contains path traversal")
	}
}
