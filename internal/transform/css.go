package transform

import (
	"context"
	"regexp"
	"strings"
)

var cssImport = regexp.MustCompile(`@import\s+(?:url\(\s*)?["']?([^"')\s;]+)["']?\s*\)?[^;]*;`)

// CSS discovers local @import specifiers in stylesheets. Local @import rules
// are removed from the content since the imported stylesheet reaches the
// output as a module of its own, ahead of the importing one.
//
// A local URL without a leading ./, ../ or / is relative to the stylesheet,
// as it is in CSS. A ~ prefix looks the rest up in the module roots.
type CSS struct{}

func (CSS) Name() string      { return "css" }
func (CSS) Options() []string { return []string{"imports"} }

func (CSS) Transform(_ context.Context, in Input) (Output, error) {
	imports, err := boolOption(in.Options, "imports", true)
	if err != nil {
		return Output{}, err
	}
	out := Output{Content: in.Content}
	if in.NoParse || !imports {
		return out, nil
	}
	out.Content = cssImport.ReplaceAllFunc(in.Content, func(rule []byte) []byte {
		spec := string(cssImport.FindSubmatch(rule)[1])
		if isRemote(spec) {
			return rule
		}
		out.Dependencies = append(out.Dependencies, cssSpecifier(spec))
		return nil
	})
	return out, nil
}

// cssSpecifier maps a local @import URL to a resolver specifier.
func cssSpecifier(ref string) string {
	switch {
	case strings.HasPrefix(ref, "~"):
		return strings.TrimPrefix(ref, "~")
	case strings.HasPrefix(ref, "./"), strings.HasPrefix(ref, "../"), strings.HasPrefix(ref, "/"):
		return ref
	default:
		return "./" + ref
	}
}

// isRemote reports whether a reference points outside the project.
func isRemote(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http:") ||
		strings.HasPrefix(lower, "https:") ||
		strings.HasPrefix(lower, "//") ||
		strings.HasPrefix(lower, "data:") ||
		strings.HasPrefix(lower, "mailto:")
}
