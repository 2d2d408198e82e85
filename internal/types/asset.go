// Package types provides the data model shared by the weft build engine:
// asset identifiers, module nodes, module graphs and aggregates.
// It has no dependencies on other weft packages to avoid import cycles.
package types

import (
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// AssetID is a normalized absolute identifier for a source asset. It is the
// slash-separated absolute path of the asset, optionally followed by
// "?variant" when the same file is consumed with a different transform input.
type AssetID string

// NewAssetID builds an AssetID from a filesystem path and an optional variant.
// The path is cleaned, made absolute, converted to forward slashes and NFC
// normalized so that the same file always maps to the same identifier.
func NewAssetID(p, variant string) AssetID {
	if !filepath.IsAbs(p) {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
	}
	p = norm.NFC.String(filepath.ToSlash(filepath.Clean(p)))
	if variant != "" {
		return AssetID(p + "?" + variant)
	}
	return AssetID(p)
}

// Path returns the filesystem path of the asset in OS-specific form.
func (id AssetID) Path() string {
	p, _, _ := strings.Cut(string(id), "?")
	return filepath.FromSlash(p)
}

// Variant returns the query-like variant key, or "" when there is none.
func (id AssetID) Variant() string {
	_, v, _ := strings.Cut(string(id), "?")
	return v
}

// Ext returns the file extension of the asset path including the dot.
func (id AssetID) Ext() string {
	return path.Ext(filepath.ToSlash(id.Path()))
}

// Rel returns the asset path relative to root using forward slashes. Paths
// outside root keep their ".." segments replaced by "_" so they can still be
// used as output names without escaping the output directory.
func (id AssetID) Rel(root string) string {
	rel, err := filepath.Rel(root, id.Path())
	if err != nil {
		rel = id.Path()
	}
	rel = filepath.ToSlash(rel)
	parts := strings.Split(rel, "/")
	for i, part := range parts {
		if part == ".." {
			parts[i] = "_"
		}
	}
	return strings.TrimPrefix(strings.Join(parts, "/"), "/")
}

// String implements fmt.Stringer.
func (id AssetID) String() string {
	return string(id)
}
