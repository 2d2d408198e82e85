// Package errors defines the typed error taxonomy of the weft build engine.
//
// Every failure that aborts a build generation is one of ResolveError,
// TransformError, BuildError or IOError. Each carries a Kind that can be
// matched with the standard errors.Is against the exported sentinels:
//
//	if errors.Is(err, weferrors.ErrCycleDetected) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/conneroisu/weft/internal/types"
)

// Kind classifies an engine error.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindStageFailed     Kind = "stage_failed"
	KindCycleDetected   Kind = "cycle_detected"
	KindResolveFailed   Kind = "resolve_failed"
	KindTransformFailed Kind = "transform_failed"
	KindWriteFailed     Kind = "write_failed"
	KindDeleteFailed    Kind = "delete_failed"
)

// Sentinels for errors.Is matching.
var (
	ErrNotFound        = &ResolveError{Kind: KindNotFound}
	ErrStageFailed     = &TransformError{Kind: KindStageFailed}
	ErrCycleDetected   = &BuildError{Kind: KindCycleDetected}
	ErrResolveFailed   = &BuildError{Kind: KindResolveFailed}
	ErrTransformFailed = &BuildError{Kind: KindTransformFailed}
	ErrWriteFailed     = &IOError{Kind: KindWriteFailed}
	ErrDeleteFailed    = &IOError{Kind: KindDeleteFailed}
)

// ResolveError reports a specifier that could not be resolved to an asset.
type ResolveError struct {
	Kind      Kind
	Specifier string
	From      types.AssetID
	// Tried lists the candidate paths checked, in order.
	Tried []string
}

// Error implements the error interface.
func (e *ResolveError) Error() string {
	msg := fmt.Sprintf("cannot resolve %q", e.Specifier)
	if e.From != "" {
		msg += " from " + e.From.String()
	}
	if len(e.Tried) > 0 {
		msg += fmt.Sprintf(" (tried %d candidates)", len(e.Tried))
	}
	return msg
}

// Is implements error comparison by kind.
func (e *ResolveError) Is(target error) bool {
	var t *ResolveError
	return errors.As(target, &t) && t.Kind == e.Kind
}

// NewNotFound creates a NotFound resolve error.
func NewNotFound(specifier string, from types.AssetID, tried []string) *ResolveError {
	return &ResolveError{Kind: KindNotFound, Specifier: specifier, From: from, Tried: tried}
}

// TransformError reports a failing stage of a transform chain.
type TransformError struct {
	Kind      Kind
	Asset     types.AssetID
	Stage     int
	Transform string
	Cause     error
}

// Error implements the error interface.
func (e *TransformError) Error() string {
	msg := fmt.Sprintf("transform stage %d (%s) failed", e.Stage, e.Transform)
	if e.Asset != "" {
		msg += " for " + e.Asset.String()
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *TransformError) Unwrap() error { return e.Cause }

// Is implements error comparison by kind.
func (e *TransformError) Is(target error) bool {
	var t *TransformError
	return errors.As(target, &t) && t.Kind == e.Kind
}

// NewStageFailed creates a StageFailed transform error.
func NewStageFailed(asset types.AssetID, stage int, transform string, cause error) *TransformError {
	return &TransformError{Kind: KindStageFailed, Asset: asset, Stage: stage, Transform: transform, Cause: cause}
}

// BuildError reports a failure that aborted graph construction.
type BuildError struct {
	Kind  Kind
	Asset types.AssetID
	// Path holds the offending cycle for KindCycleDetected, closed by
	// repeating its first element.
	Path  []types.AssetID
	Cause error
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	switch e.Kind {
	case KindCycleDetected:
		parts := make([]string, len(e.Path))
		for i, id := range e.Path {
			parts[i] = id.String()
		}
		return "dependency cycle detected: " + strings.Join(parts, " -> ")
	case KindResolveFailed:
		return fmt.Sprintf("resolve failed in %s: %v", e.Asset, e.Cause)
	case KindTransformFailed:
		return fmt.Sprintf("transform failed for %s: %v", e.Asset, e.Cause)
	default:
		if e.Cause != nil {
			return fmt.Sprintf("build failed for %s: %v", e.Asset, e.Cause)
		}
		return "build failed for " + e.Asset.String()
	}
}

// Unwrap returns the underlying cause.
func (e *BuildError) Unwrap() error { return e.Cause }

// Is implements error comparison by kind.
func (e *BuildError) Is(target error) bool {
	var t *BuildError
	return errors.As(target, &t) && t.Kind == e.Kind
}

// NewCycleDetected creates a CycleDetected build error.
func NewCycleDetected(path []types.AssetID) *BuildError {
	var asset types.AssetID
	if len(path) > 0 {
		asset = path[0]
	}
	return &BuildError{Kind: KindCycleDetected, Asset: asset, Path: path}
}

// NewResolveFailed wraps a resolve error with the asset that requested it.
func NewResolveFailed(asset types.AssetID, cause error) *BuildError {
	return &BuildError{Kind: KindResolveFailed, Asset: asset, Cause: cause}
}

// NewTransformFailed wraps a transform error with the asset being processed.
func NewTransformFailed(asset types.AssetID, cause error) *BuildError {
	return &BuildError{Kind: KindTransformFailed, Asset: asset, Cause: cause}
}

// IOError reports a failure touching the output directory.
type IOError struct {
	Kind  Kind
	Path  string
	Cause error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	op := "write"
	if e.Kind == KindDeleteFailed {
		op = "delete"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v", op, e.Path, e.Cause)
	}
	return op + " " + e.Path
}

// Unwrap returns the underlying cause.
func (e *IOError) Unwrap() error { return e.Cause }

// Is implements error comparison by kind.
func (e *IOError) Is(target error) bool {
	var t *IOError
	return errors.As(target, &t) && t.Kind == e.Kind
}

// NewWriteFailed creates a WriteFailed I/O error.
func NewWriteFailed(path string, cause error) *IOError {
	return &IOError{Kind: KindWriteFailed, Path: path, Cause: cause}
}

// NewDeleteFailed creates a DeleteFailed I/O error.
func NewDeleteFailed(path string, cause error) *IOError {
	return &IOError{Kind: KindDeleteFailed, Path: path, Cause: cause}
}

// KindOf returns the Kind of the outermost engine error in err's chain, or "".
func KindOf(err error) Kind {
	var (
		be *BuildError
		te *TransformError
		re *ResolveError
		ie *IOError
	)
	switch {
	case errors.As(err, &be):
		return be.Kind
	case errors.As(err, &ie):
		return ie.Kind
	case errors.As(err, &te):
		return te.Kind
	case errors.As(err, &re):
		return re.Kind
	}
	return ""
}

// AssetOf returns the asset most responsible for err, or "".
func AssetOf(err error) types.AssetID {
	var (
		be *BuildError
		te *TransformError
		re *ResolveError
	)
	switch {
	case errors.As(err, &be) && be.Asset != "":
		return be.Asset
	case errors.As(err, &te) && te.Asset != "":
		return te.Asset
	case errors.As(err, &re):
		return re.From
	}
	return ""
}
