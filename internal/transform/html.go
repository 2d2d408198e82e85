package transform

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTML discovers relative script, stylesheet and image references in HTML
// documents. Root-relative and remote references point at served output and
// are left alone.
type HTML struct{}

func (HTML) Name() string      { return "html" }
func (HTML) Options() []string { return []string{"discover"} }

func (HTML) Transform(_ context.Context, in Input) (Output, error) {
	discover, err := boolOption(in.Options, "discover", true)
	if err != nil {
		return Output{}, err
	}
	out := Output{Content: in.Content}
	if in.NoParse || !discover {
		return out, nil
	}

	doc, err := html.Parse(bytes.NewReader(in.Content))
	if err != nil {
		return Output{}, fmt.Errorf("parse html: %w", err)
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if ref := htmlReference(n); ref != "" {
				out.Dependencies = append(out.Dependencies, ref)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out, nil
}

func htmlReference(n *html.Node) string {
	var ref string
	switch n.DataAtom {
	case atom.Script, atom.Img:
		ref = attr(n, "src")
	case atom.Link:
		if !hasToken(attr(n, "rel"), "stylesheet") {
			return ""
		}
		ref = attr(n, "href")
	default:
		return ""
	}
	if strings.HasPrefix(ref, "./") || strings.HasPrefix(ref, "../") {
		return ref
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func hasToken(list, token string) bool {
	for _, field := range strings.Fields(list) {
		if strings.EqualFold(field, token) {
			return true
		}
	}
	return false
}
