// Package matcher maps asset identifiers to their transform chain.
//
// Rules are evaluated in declaration order and the first matching rule wins.
// Exclusion patterns of a rule are checked before its inclusion pattern: a
// matching exclusion skips the rule entirely. An asset that matches no rule is
// an opaque passthrough.
package matcher

import (
	"fmt"
	"regexp"

	"github.com/conneroisu/weft/internal/config"
	"github.com/conneroisu/weft/internal/types"
)

// Transform names the matcher derives emit behaviour from.
const (
	fileTransform    = "file"
	extractTransform = "extract"
)

// Rule is a compiled matcher rule.
type Rule struct {
	Index         int
	Test          *regexp.Regexp
	Exclude       []*regexp.Regexp
	Chain         []types.TransformRef
	Cacheable     bool
	CycleTolerant bool
	NoParse       bool
	Emit          types.EmitMode
	Filename      string
	Inputs        []string
}

// Match is the result of resolving an asset against the registry.
type Match struct {
	// Rule is the index of the matching rule, or -1 for passthrough.
	Rule          int
	Chain         []types.TransformRef
	Cacheable     bool
	CycleTolerant bool
	NoParse       bool
	Emit          types.EmitMode
	// Filename is the output naming template for EmitFile assets.
	Filename string
	// Inputs are the absolute paths the rule's commands read besides the
	// asset itself.
	Inputs []string
}

// Registry is an immutable, ordered rule set.
type Registry struct {
	rules   []Rule
	noParse []*regexp.Regexp
}

// New compiles a registry from rule declarations and registry-wide no-parse
// patterns.
func New(rules []config.RuleConfig, noParse []string) (*Registry, error) {
	reg := &Registry{rules: make([]Rule, 0, len(rules))}

	for i, rc := range rules {
		test, err := regexp.Compile(rc.Test)
		if err != nil {
			return nil, fmt.Errorf("rule %d: invalid test pattern: %w", i, err)
		}
		rule := Rule{
			Index:         i,
			Test:          test,
			Chain:         append([]types.TransformRef(nil), rc.Use...),
			Cacheable:     rc.Cacheable,
			CycleTolerant: rc.CycleTolerant,
			NoParse:       rc.NoParse,
			Emit:          types.EmitMode(rc.Emit),
			Filename:      rc.Filename,
			Inputs:        append([]string(nil), rc.Inputs...),
		}
		for j, ex := range rc.Exclude {
			re, err := regexp.Compile(ex)
			if err != nil {
				return nil, fmt.Errorf("rule %d: invalid exclude pattern %d: %w", i, j, err)
			}
			rule.Exclude = append(rule.Exclude, re)
		}
		rule.Emit, rule.Filename = emitFor(rule)
		reg.rules = append(reg.rules, rule)
	}

	for i, pattern := range noParse {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("no_parse pattern %d: %w", i, err)
		}
		reg.noParse = append(reg.noParse, re)
	}

	return reg, nil
}

// emitFor derives the emit mode and filename template of a rule. An explicit
// emit setting wins; otherwise an extract stage drops the primary content and
// a file stage emits the asset standalone under its name option.
func emitFor(rule Rule) (types.EmitMode, string) {
	mode, filename := rule.Emit, rule.Filename
	for _, ref := range rule.Chain {
		switch ref.Name {
		case extractTransform:
			if mode == "" {
				mode = types.EmitNone
			}
		case fileTransform:
			if mode == "" {
				mode = types.EmitFile
			}
			if name, ok := ref.Options["name"].(string); ok && filename == "" {
				filename = name
			}
		}
	}
	if mode == "" {
		mode = types.EmitBundle
	}
	if mode == types.EmitFile && filename == "" {
		filename = "[path]"
	}
	return mode, filename
}

// ResolveChain returns the chain and flags for id. The boolean is false when
// no rule matched and the asset is an opaque passthrough. It is a pure
// function of the rule set and the asset path.
func (r *Registry) ResolveChain(id types.AssetID) (Match, bool) {
	subject := string(id)
	for i := range r.rules {
		rule := &r.rules[i]
		if rule.excluded(subject) || !rule.Test.MatchString(subject) {
			continue
		}
		return Match{
			Rule:          rule.Index,
			Chain:         rule.Chain,
			Cacheable:     rule.Cacheable,
			CycleTolerant: rule.CycleTolerant,
			NoParse:       rule.NoParse || r.matchesNoParse(subject),
			Emit:          rule.Emit,
			Filename:      rule.Filename,
			Inputs:        rule.Inputs,
		}, true
	}

	return Match{
		Rule:     -1,
		NoParse:  true,
		Emit:     types.EmitFile,
		Filename: "[path]",
	}, false
}

// IsNoParse reports whether dependency discovery must be skipped for id.
func (r *Registry) IsNoParse(id types.AssetID) bool {
	m, _ := r.ResolveChain(id)
	return m.NoParse
}

// Rules returns the compiled rules in declaration order.
func (r *Registry) Rules() []Rule {
	return append([]Rule(nil), r.rules...)
}

// TransformNames returns every transform name referenced by the rules.
func (r *Registry) TransformNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, rule := range r.rules {
		for _, ref := range rule.Chain {
			if !seen[ref.Name] {
				seen[ref.Name] = true
				names = append(names, ref.Name)
			}
		}
	}
	return names
}

func (rule *Rule) excluded(subject string) bool {
	for _, ex := range rule.Exclude {
		if ex.MatchString(subject) {
			return true
		}
	}
	return false
}

func (r *Registry) matchesNoParse(subject string) bool {
	for _, re := range r.noParse {
		if re.MatchString(subject) {
			return true
		}
	}
	return false
}
