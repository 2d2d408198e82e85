// Package transform runs asset content through ordered chains of named
// transforms.
//
// A transform is looked up by name in a Registry. Each stage consumes the
// previous stage's output and may report dependency specifiers and tagged
// side emissions alongside its primary content.
package transform

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/conneroisu/weft/internal/types"
)

// Input is what a transform stage receives.
type Input struct {
	ID      types.AssetID
	Content []byte
	Options map[string]any
	// NoParse is set for opaque assets. Transforms should skip dependency
	// discovery; anything they report is discarded anyway.
	NoParse bool
}

// Output is what a transform stage produces.
type Output struct {
	Content []byte
	// Dependencies lists discovered specifiers in discovery order.
	Dependencies []string
	Emissions    []types.Emission
}

// Transformer is implemented by every transform.
type Transformer interface {
	// Name returns the name rules refer to the transform by.
	Name() string
	// Options returns the option keys the transform recognizes.
	Options() []string
	// Transform processes one stage.
	Transform(ctx context.Context, in Input) (Output, error)
}

// ExternalReader is implemented by transforms whose output may depend on
// files other than the asset content they are given.
type ExternalReader interface {
	ReadsExternalFiles() bool
}

// Registry holds transforms keyed by name.
type Registry struct {
	transforms map[string]Transformer
	mutex      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{transforms: make(map[string]Transformer)}
}

// Register adds t. Names must be unique.
func (r *Registry) Register(t Transformer) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	name := t.Name()
	if name == "" {
		return fmt.Errorf("transform name cannot be empty")
	}
	if _, exists := r.transforms[name]; exists {
		return fmt.Errorf("transform %q already registered", name)
	}
	r.transforms[name] = t
	return nil
}

// Get returns the transform registered under name.
func (r *Registry) Get(name string) (Transformer, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	t, ok := r.transforms[name]
	return t, ok
}

// Names returns the registered names in lexical order.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	names := make([]string, 0, len(r.transforms))
	for name := range r.transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReadsExternalFiles reports whether any stage of chain reads files beyond
// its input content.
func (r *Registry) ReadsExternalFiles(chain []types.TransformRef) bool {
	for _, ref := range chain {
		t, ok := r.Get(ref.Name)
		if !ok {
			continue
		}
		if er, ok := t.(ExternalReader); ok && er.ReadsExternalFiles() {
			return true
		}
	}
	return false
}

// Validate checks that every referenced transform exists and that only
// recognized option keys are set.
func (r *Registry) Validate(chain []types.TransformRef) error {
	for i, ref := range chain {
		t, ok := r.Get(ref.Name)
		if !ok {
			return fmt.Errorf("stage %d: unknown transform %q (available: %s)",
				i, ref.Name, strings.Join(r.Names(), ", "))
		}
		if err := checkOptions(t, ref.Options); err != nil {
			return fmt.Errorf("stage %d: %w", i, err)
		}
	}
	return nil
}

func checkOptions(t Transformer, options map[string]any) error {
	if len(options) == 0 {
		return nil
	}
	known := make(map[string]bool)
	for _, key := range t.Options() {
		known[key] = true
	}
	var unknown []string
	for key := range options {
		if !known[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("transform %q does not recognize option(s) %s",
		t.Name(), strings.Join(unknown, ", "))
}
