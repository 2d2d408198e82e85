package build

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
)

// hashLength is the number of hex digits [hash] expands to.
const hashLength = 8

// Naming describes the values an output filename template can reference.
type Naming struct {
	// Name is the base name without extension, or the entry name for bundles.
	Name string
	// Ext is the extension without the leading dot.
	Ext string
	// Path is the context-relative, slash-separated source path.
	Path    string
	Content []byte
}

// Expand substitutes [name], [ext], [hash], [path] and [dir] in template.
// [dir] is the directory part of [path] with a trailing slash, or empty.
func (n Naming) Expand(template string) string {
	dir := path.Dir(n.Path)
	if dir == "." || dir == "/" || n.Path == "" {
		dir = ""
	} else {
		dir += "/"
	}
	hash := ""
	if strings.Contains(template, "[hash]") {
		hash = contentHash(n.Content)
	}
	r := strings.NewReplacer(
		"[name]", n.Name,
		"[ext]", n.Ext,
		"[hash]", hash,
		"[path]", n.Path,
		"[dir]", dir,
	)
	return r.Replace(template)
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:hashLength]
}

// assetNaming derives the naming values of a source asset.
func assetNaming(rel string, content []byte) Naming {
	base := path.Base(rel)
	ext := path.Ext(base)
	return Naming{
		Name:    strings.TrimSuffix(base, ext),
		Ext:     strings.TrimPrefix(ext, "."),
		Path:    rel,
		Content: content,
	}
}
