package output

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/logging"
)

// StagingInfix separates the output directory name from the staging suffix.
const StagingInfix = ".weft-"

// Options controls how previous output is treated.
type Options struct {
	// Clean replaces the output directory as a whole. When false, files are
	// written into the existing directory and stale files are kept.
	Clean bool
	// Verbose logs every removed top-level entry.
	Verbose bool
	// Dry logs what would be removed and leaves both the old output and the
	// staged output in place.
	Dry bool
}

// Writer persists snapshots.
type Writer struct {
	fs     afero.Fs
	opts   Options
	logger logging.Logger
}

// NewWriter creates a writer on fs.
func NewWriter(fs afero.Fs, opts Options, logger logging.Logger) *Writer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Writer{fs: fs, opts: opts, logger: logger.WithComponent("output")}
}

// Write replaces dir with the contents of snap. Files are staged in a sibling
// directory first; the previous dir is then removed and the staged directory
// renamed into place. Nothing is rolled back: a failure after the removal
// leaves dir absent until the next successful write.
func (w *Writer) Write(ctx context.Context, dir string, snap *Snapshot) error {
	perf := logging.StartOperation(w.logger, "output.write")

	if !w.opts.Clean {
		if err := w.writeFiles(ctx, dir, snap); err != nil {
			perf.EndWithError(ctx, err)
			return err
		}
		perf.End(ctx, "dir", dir, "files", snap.Len())
		return nil
	}

	staging := dir + StagingInfix + uuid.NewString()
	if err := w.writeFiles(ctx, staging, snap); err != nil {
		w.discard(ctx, staging)
		perf.EndWithError(ctx, err)
		return err
	}

	if w.opts.Dry {
		w.reportRemovals(ctx, dir, "Would remove")
		w.logger.Info(ctx, "Dry run: staged output left in place", "staging", staging, "dir", dir)
		perf.End(ctx, "dir", dir, "files", snap.Len(), "dry", true)
		return nil
	}

	exists, err := afero.Exists(w.fs, dir)
	if err != nil {
		err = errors.NewDeleteFailed(dir, err)
		w.discard(ctx, staging)
		perf.EndWithError(ctx, err)
		return err
	}
	if exists {
		if w.opts.Verbose {
			w.reportRemovals(ctx, dir, "Removed")
		}
		if err := w.fs.RemoveAll(dir); err != nil {
			err = errors.NewDeleteFailed(dir, err)
			w.discard(ctx, staging)
			perf.EndWithError(ctx, err)
			return err
		}
	}

	if err := w.fs.Rename(staging, dir); err != nil {
		err = errors.NewWriteFailed(dir, err)
		perf.EndWithError(ctx, err)
		return err
	}

	perf.End(ctx, "dir", dir, "files", snap.Len(), "bytes", snap.Size())
	return nil
}

func (w *Writer) writeFiles(ctx context.Context, root string, snap *Snapshot) error {
	if err := w.fs.MkdirAll(root, 0o755); err != nil {
		return errors.NewWriteFailed(root, err)
	}
	for _, p := range snap.Paths() {
		if err := ctx.Err(); err != nil {
			return errors.NewWriteFailed(root, err)
		}
		f, _ := snap.Get(p)
		target := filepath.Join(root, filepath.FromSlash(f.Path))
		if err := w.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.NewWriteFailed(target, err)
		}
		if err := afero.WriteFile(w.fs, target, f.Content, 0o644); err != nil {
			return errors.NewWriteFailed(target, err)
		}
	}
	return nil
}

// discard removes a staging directory best-effort.
func (w *Writer) discard(ctx context.Context, staging string) {
	if err := w.fs.RemoveAll(staging); err != nil {
		w.logger.Warn(ctx, err, "Failed to remove staging directory", "dir", staging)
	}
}

func (w *Writer) reportRemovals(ctx context.Context, dir, verb string) {
	entries, err := afero.ReadDir(w.fs, dir)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn(ctx, err, "Failed to list output directory", "dir", dir)
		}
		return
	}
	for _, e := range entries {
		w.logger.Info(ctx, verb, "path", filepath.Join(dir, e.Name()))
	}
}
