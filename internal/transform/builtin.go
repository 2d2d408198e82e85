package transform

import (
	"bytes"
	"context"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/conneroisu/weft/internal/logging"
	"github.com/conneroisu/weft/internal/types"
)

// Builtins returns a registry holding every built-in transform. External
// commands run in dir.
func Builtins(dir string, logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	r := NewRegistry()
	for _, t := range []Transformer{
		Identity{},
		Script{},
		CSS{},
		Extract{},
		HTML{},
		NewMarkdown(),
		File{},
		NewExec(dir, logger),
	} {
		// Built-in names are distinct, so registration cannot fail.
		_ = r.Register(t)
	}
	return r
}

// Identity forwards content unchanged.
type Identity struct{}

func (Identity) Name() string      { return "identity" }
func (Identity) Options() []string { return nil }

func (Identity) Transform(_ context.Context, in Input) (Output, error) {
	return Output{Content: in.Content}, nil
}

// File marks an asset for standalone emission. The naming template in its
// "name" option is read by the matcher; the content is forwarded unchanged.
type File struct{}

func (File) Name() string      { return "file" }
func (File) Options() []string { return []string{"name"} }

func (File) Transform(_ context.Context, in Input) (Output, error) {
	if _, err := stringOption(in.Options, "name", ""); err != nil {
		return Output{}, err
	}
	return Output{Content: in.Content}, nil
}

// Extract moves the whole content onto a side channel and leaves the primary
// content empty.
type Extract struct{}

func (Extract) Name() string      { return "extract" }
func (Extract) Options() []string { return []string{"channel"} }

func (Extract) Transform(_ context.Context, in Input) (Output, error) {
	channel, err := stringOption(in.Options, "channel", "")
	if err != nil {
		return Output{}, err
	}
	if channel == "" {
		return Output{}, fmt.Errorf("option \"channel\" is required")
	}
	return Output{
		Content: []byte{},
		Emissions: []types.Emission{{
			Channel: channel,
			Content: bytes.Clone(in.Content),
		}},
	}, nil
}

// Markdown renders CommonMark (plus GFM tables and strikethrough) to HTML.
type Markdown struct {
	md goldmark.Markdown
}

// NewMarkdown creates the markdown transform.
func NewMarkdown() *Markdown {
	return &Markdown{md: goldmark.New(goldmark.WithExtensions(extension.GFM))}
}

func (*Markdown) Name() string      { return "markdown" }
func (*Markdown) Options() []string { return nil }

func (m *Markdown) Transform(_ context.Context, in Input) (Output, error) {
	var buf bytes.Buffer
	if err := m.md.Convert(in.Content, &buf); err != nil {
		return Output{}, fmt.Errorf("render markdown: %w", err)
	}
	return Output{Content: buf.Bytes()}, nil
}
