package transform

import (
	"context"
	"regexp"
)

// scriptImport matches static imports, re-exports, require calls and dynamic
// imports with a string-literal specifier.
var scriptImport = regexp.MustCompile(
	`(?:\bimport\s*\(\s*|\brequire\s*\(\s*|\bimport\s+(?:[\w*{}\s,$]+?\s+from\s+)?|\bexport\s+[\w*{}\s,$]+?\s+from\s+)["']([^"'\n]+)["']`)

// Script discovers module specifiers in JavaScript-like sources.
type Script struct{}

func (Script) Name() string      { return "script" }
func (Script) Options() []string { return nil }

func (Script) Transform(_ context.Context, in Input) (Output, error) {
	out := Output{Content: in.Content}
	if in.NoParse {
		return out, nil
	}
	for _, m := range scriptImport.FindAllSubmatch(in.Content, -1) {
		out.Dependencies = append(out.Dependencies, string(m[1]))
	}
	return out, nil
}
