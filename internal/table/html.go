package table

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// ParseHTML reads an HTML document, normalised by the HTML5 parsing
// algorithm, into a table rooted at a document node. Element and attribute
// names are stored lower case and without namespace.
func ParseHTML(r io.Reader, opts Options) (*Table, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	b := NewBuilder()
	b.OpenDocument(opts.Name)
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := addHTML(b, c, opts); err != nil {
			return nil, err
		}
	}
	if err := b.Close(); err != nil {
		return nil, err
	}
	return b.Table()
}

func addHTML(b *Builder, n *html.Node, opts Options) error {
	switch n.Type {
	case html.ElementNode:
		b.OpenElement([]byte(n.Data), nil)
		for _, a := range n.Attr {
			name := a.Key
			if a.Namespace != "" {
				name = a.Namespace + ":" + a.Key
			}
			if err := b.Attribute([]byte(name), nil, []byte(a.Val)); err != nil {
				return err
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := addHTML(b, c, opts); err != nil {
				return err
			}
		}
		return b.Close()
	case html.TextNode:
		if opts.KeepWhitespace || strings.TrimSpace(n.Data) != "" {
			b.Text([]byte(n.Data))
		}
	case html.CommentNode:
		b.Comment([]byte(n.Data))
	}
	// doctype and error nodes carry nothing worth storing
	return nil
}
