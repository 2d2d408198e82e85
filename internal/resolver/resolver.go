// Package resolver maps module specifiers to concrete assets.
//
// Resolution order for a specifier requested by an asset:
//
//  1. relative ("./", "../") and absolute specifiers are interpreted against
//     the directory of the requesting asset;
//  2. when no file exists at that exact path, each configured extension is
//     appended in declared order, then each index<ext> inside a directory;
//  3. bare specifiers are looked up in each module root in declared order,
//     applying the same exact-then-extension steps in every root.
//
// The first existing candidate wins. Results are memoized for the current
// build generation only; Reset must be called between generations.
package resolver

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/types"
)

// Options configures a Resolver.
type Options struct {
	// Context is the project root. Relative module roots and entry
	// specifiers resolve against it.
	Context string
	// Extensions are tried in order when a specifier has no exact match.
	Extensions []string
	// Modules are the module-root directories searched for bare specifiers.
	Modules []string
}

// Resolver resolves specifiers against a filesystem.
type Resolver struct {
	fs   afero.Fs
	opts Options

	mu   sync.Mutex
	memo map[memoKey]types.AssetID
}

type memoKey struct {
	specifier string
	dir       string
}

// New creates a resolver reading from fs.
func New(fs afero.Fs, opts Options) *Resolver {
	if opts.Context == "" {
		opts.Context = "."
	}
	if abs, err := filepath.Abs(opts.Context); err == nil {
		opts.Context = abs
	}
	return &Resolver{
		fs:   fs,
		opts: opts,
		memo: make(map[memoKey]types.AssetID),
	}
}

// Reset drops every memoized resolution. Call it at the start of each build
// generation so results always reflect current filesystem state.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memo = make(map[memoKey]types.AssetID)
}

// ResolveEntry resolves an entry specifier relative to the project context.
// Entry specifiers without a "./" prefix are treated as paths, not as bare
// module names, unless no such path exists.
func (r *Resolver) ResolveEntry(specifier string) (types.AssetID, error) {
	if !isRelative(specifier) && !filepath.IsAbs(specifier) {
		if id, err := r.resolveFrom("./"+specifier, r.opts.Context); err == nil {
			return id, nil
		}
	}
	return r.resolveFrom(specifier, r.opts.Context)
}

// Resolve resolves specifier as requested from the asset from.
func (r *Resolver) Resolve(specifier string, from types.AssetID) (types.AssetID, error) {
	id, err := r.resolveFrom(specifier, filepath.Dir(from.Path()))
	if err != nil {
		if re, ok := err.(*errors.ResolveError); ok {
			re.From = from
		}
		return "", err
	}
	return id, nil
}

func (r *Resolver) resolveFrom(specifier, dir string) (types.AssetID, error) {
	key := memoKey{specifier: specifier, dir: dir}

	r.mu.Lock()
	if id, ok := r.memo[key]; ok {
		r.mu.Unlock()
		return id, nil
	}
	r.mu.Unlock()

	request, variant, _ := strings.Cut(specifier, "?")
	if request == "" {
		return "", errors.NewNotFound(specifier, "", nil)
	}

	var tried []string
	var bases []string
	switch {
	case filepath.IsAbs(request):
		bases = []string{filepath.Clean(request)}
	case isRelative(request):
		bases = []string{filepath.Join(dir, filepath.FromSlash(request))}
	default:
		for _, root := range r.opts.Modules {
			if !filepath.IsAbs(root) {
				root = filepath.Join(r.opts.Context, root)
			}
			bases = append(bases, filepath.Join(root, filepath.FromSlash(request)))
		}
	}

	for _, base := range bases {
		for _, candidate := range r.candidates(base) {
			tried = append(tried, candidate)
			if r.isFile(candidate) {
				id := types.NewAssetID(candidate, variant)
				r.mu.Lock()
				r.memo[key] = id
				r.mu.Unlock()
				return id, nil
			}
		}
	}

	return "", errors.NewNotFound(specifier, "", tried)
}

// candidates lists the paths tried for one base path, in order.
func (r *Resolver) candidates(base string) []string {
	out := make([]string, 0, 2+2*len(r.opts.Extensions))
	out = append(out, base)
	for _, ext := range r.opts.Extensions {
		out = append(out, base+ext)
	}
	for _, ext := range r.opts.Extensions {
		out = append(out, filepath.Join(base, "index"+ext))
	}
	return out
}

func (r *Resolver) isFile(path string) bool {
	info, err := r.fs.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func isRelative(specifier string) bool {
	return specifier == "." || specifier == ".." ||
		strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../")
}
