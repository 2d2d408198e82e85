// Package output holds the planned artifacts of a build generation and
// writes them to the output directory.
package output

import (
	"fmt"
	"mime"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/conneroisu/weft/internal/types"
)

// File is one planned output artifact.
type File struct {
	// Path is slash-separated and relative to the output directory.
	Path        string
	Content     []byte
	ContentType string
	// Sources are the assets the file was produced from.
	Sources []types.AssetID
}

// Snapshot is the complete, immutable-once-published artifact set of one
// generation. The dev server serves it from memory; the writer persists it.
type Snapshot struct {
	Generation types.Generation
	files      map[string]*File
}

// NewSnapshot creates an empty snapshot.
func NewSnapshot(gen types.Generation) *Snapshot {
	return &Snapshot{Generation: gen, files: make(map[string]*File)}
}

// CleanPath normalizes an output-relative path. It rejects paths that would
// escape the output directory.
func CleanPath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	cleaned := path.Clean("/" + p)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("empty output path %q", p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("output path %q escapes the output directory", p)
		}
	}
	return cleaned, nil
}

// Add plans a file. Two sources planning the same path is an error.
func (s *Snapshot) Add(p string, content []byte, sources ...types.AssetID) error {
	cleaned, err := CleanPath(p)
	if err != nil {
		return err
	}
	if existing, ok := s.files[cleaned]; ok {
		return fmt.Errorf("output path %q planned twice (%v and %v)", cleaned, existing.Sources, sources)
	}
	s.files[cleaned] = &File{
		Path:        cleaned,
		Content:     content,
		ContentType: ContentType(cleaned, content),
		Sources:     sources,
	}
	return nil
}

// Get returns the file planned at p.
func (s *Snapshot) Get(p string) (*File, bool) {
	cleaned, err := CleanPath(p)
	if err != nil {
		return nil, false
	}
	f, ok := s.files[cleaned]
	return f, ok
}

// Paths returns every planned path in lexical order.
func (s *Snapshot) Paths() []string {
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of planned files.
func (s *Snapshot) Len() int {
	return len(s.files)
}

// Size returns the total content size in bytes.
func (s *Snapshot) Size() int {
	total := 0
	for _, f := range s.files {
		total += len(f.Content)
	}
	return total
}

// ContentType derives a file's MIME type from its extension, sniffing the
// content when the extension is unknown.
func ContentType(p string, content []byte) string {
	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		return ct
	}
	return http.DetectContentType(content)
}
