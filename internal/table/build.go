package table

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/i5heu/ouroboros-xmldb/internal/nodes"
)

const xmlNamespace = "http://www.w3.org/XML/1998/namespace"

// Builder appends nodes to a table in document order.
type Builder struct {
	t     *Table
	open  []int
	attrs bool
}

// NewBuilder returns a builder for a fresh table.
func NewBuilder() *Builder {
	return &Builder{t: New()}
}

func (b *Builder) add(r row) int {
	pre := len(b.t.rows)
	r.dist = pre + 1
	if len(b.open) > 0 {
		r.dist = pre - b.open[len(b.open)-1]
	}
	r.size = 1
	r.asize = 1
	b.t.rows = append(b.t.rows, r)
	return pre
}

// OpenDocument starts a document node.
func (b *Builder) OpenDocument(name string) {
	pre := b.add(row{kind: nodes.Document, value: []byte(name)})
	b.open = append(b.open, pre)
	b.attrs = false
}

// OpenElement starts an element. Attributes and namespaces may follow until
// the first child is added.
func (b *Builder) OpenElement(name, uri []byte) {
	pre := b.add(row{kind: nodes.Element, name: bytes.Clone(name), uri: bytes.Clone(uri)})
	b.open = append(b.open, pre)
	b.attrs = true
}

// Attribute adds an attribute to the element opened last, or a standalone
// attribute when no element is open.
func (b *Builder) Attribute(name, uri, value []byte) error {
	if len(b.open) > 0 && !b.attrs {
		return fmt.Errorf("attribute %q after child content: %w", name, ErrInvalidTarget)
	}
	b.add(row{kind: nodes.Attribute, name: bytes.Clone(name), uri: bytes.Clone(uri), value: bytes.Clone(value)})
	if len(b.open) > 0 {
		b.t.rows[b.open[len(b.open)-1]].asize++
	}
	return nil
}

// Namespace declares prefix on the element opened last.
func (b *Builder) Namespace(prefix, uri []byte) error {
	if len(b.open) == 0 || b.t.rows[b.open[len(b.open)-1]].kind != nodes.Element {
		return fmt.Errorf("namespace %q outside an element: %w", prefix, ErrInvalidTarget)
	}
	b.t.ns = append(b.t.ns, nodes.Namespace{
		Pre:    b.open[len(b.open)-1],
		Prefix: bytes.Clone(prefix),
		URI:    bytes.Clone(uri),
	})
	return nil
}

func (b *Builder) Text(value []byte) {
	b.attrs = false
	b.add(row{kind: nodes.Text, value: bytes.Clone(value)})
}

func (b *Builder) Comment(value []byte) {
	b.attrs = false
	b.add(row{kind: nodes.Comment, value: bytes.Clone(value)})
}

func (b *Builder) ProcessingInstruction(target, value []byte) {
	b.attrs = false
	b.add(row{kind: nodes.ProcessingInstruction, name: bytes.Clone(target), value: bytes.Clone(value)})
}

// Close ends the element or document opened last.
func (b *Builder) Close() error {
	if len(b.open) == 0 {
		return errors.New("table: close without open node")
	}
	pre := b.open[len(b.open)-1]
	b.open = b.open[:len(b.open)-1]
	b.t.rows[pre].size = len(b.t.rows) - pre
	b.attrs = false
	return nil
}

// Table returns the built table. All opened nodes must be closed.
func (b *Builder) Table() (*Table, error) {
	if len(b.open) > 0 {
		return nil, fmt.Errorf("table: %d unclosed nodes", len(b.open))
	}
	return b.t, nil
}

// Options controls parsing.
type Options struct {
	// Name is stored as the value of the document node.
	Name string
	// KeepWhitespace retains whitespace-only text nodes.
	KeepWhitespace bool
}

// Parse reads an XML document into a table rooted at a document node.
func Parse(r io.Reader, opts Options) (*Table, error) {
	b := NewBuilder()
	b.OpenDocument(opts.Name)
	if err := parseXML(b, r, opts); err != nil {
		return nil, err
	}
	if err := b.Close(); err != nil {
		return nil, err
	}
	return b.Table()
}

// ParseFragment reads well-balanced XML content with any number of
// top-level nodes and no document node. Whitespace-only text is dropped.
func ParseFragment(s string) (*Table, error) {
	b := NewBuilder()
	if err := parseXML(b, strings.NewReader(s), Options{}); err != nil {
		return nil, err
	}
	return b.Table()
}

// Attributes builds a table holding only standalone attributes, given as
// name/value pairs.
func Attributes(pairs ...string) (*Table, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("table: odd number of attribute arguments: %d", len(pairs))
	}
	b := NewBuilder()
	for i := 0; i < len(pairs); i += 2 {
		if err := b.Attribute([]byte(pairs[i]), nil, []byte(pairs[i+1])); err != nil {
			return nil, err
		}
	}
	return b.Table()
}

type scope map[string]string

func parseXML(b *Builder, r io.Reader, opts Options) error {
	dec := xml.NewDecoder(r)
	scopes := []scope{{"xml": xmlNamespace}}
	var open []string
	var text []byte
	pendingText := false

	lookup := func(prefix string) (string, bool) {
		for i := len(scopes) - 1; i >= 0; i-- {
			if uri, ok := scopes[i][prefix]; ok {
				return uri, true
			}
		}
		return "", false
	}
	flush := func() {
		if !pendingText {
			return
		}
		if opts.KeepWhitespace || len(bytes.TrimSpace(text)) > 0 {
			b.Text(text)
		}
		text = text[:0]
		pendingText = false
	}

	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("parse xml: %w", err)
		}

		switch tok := tok.(type) {
		case xml.StartElement:
			flush()
			sc := scope{}
			for _, a := range tok.Attr {
				if prefix, ok := declaredPrefix(a.Name); ok {
					sc[prefix] = a.Value
				}
			}
			scopes = append(scopes, sc)
			open = append(open, qname(tok.Name))

			uri, ok := lookup(tok.Name.Space)
			if !ok && tok.Name.Space != "" {
				return fmt.Errorf("parse xml: unbound prefix %q on <%s>", tok.Name.Space, qname(tok.Name))
			}
			b.OpenElement([]byte(qname(tok.Name)), []byte(uri))
			for _, a := range tok.Attr {
				if prefix, ok := declaredPrefix(a.Name); ok {
					if err := b.Namespace([]byte(prefix), []byte(a.Value)); err != nil {
						return err
					}
				}
			}
			for _, a := range tok.Attr {
				if _, ok := declaredPrefix(a.Name); ok {
					continue
				}
				var auri string
				if a.Name.Space != "" {
					auri, ok = lookup(a.Name.Space)
					if !ok {
						return fmt.Errorf("parse xml: unbound prefix %q on attribute %s", a.Name.Space, qname(a.Name))
					}
				}
				if err := b.Attribute([]byte(qname(a.Name)), []byte(auri), []byte(a.Value)); err != nil {
					return err
				}
			}

		case xml.EndElement:
			flush()
			if len(open) == 0 {
				return fmt.Errorf("parse xml: </%s> without open element", qname(tok.Name))
			}
			if top := open[len(open)-1]; qname(tok.Name) != top {
				return fmt.Errorf("parse xml: </%s> closes <%s>", qname(tok.Name), top)
			}
			open = open[:len(open)-1]
			scopes = scopes[:len(scopes)-1]
			if err := b.Close(); err != nil {
				return fmt.Errorf("parse xml: %w", err)
			}

		case xml.CharData:
			text = append(text, tok...)
			pendingText = true

		case xml.Comment:
			flush()
			b.Comment(tok)

		case xml.ProcInst:
			if tok.Target == "xml" {
				continue
			}
			flush()
			b.ProcessingInstruction([]byte(tok.Target), tok.Inst)

		case xml.Directive:
			// doctype declarations are not stored
		}
	}
	flush()
	if len(open) > 0 {
		return fmt.Errorf("parse xml: <%s> not closed", open[len(open)-1])
	}
	return nil
}

func qname(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

// declaredPrefix reports whether n is a namespace declaration attribute
// and returns the declared prefix, empty for the default namespace.
func declaredPrefix(n xml.Name) (string, bool) {
	switch {
	case n.Space == "xmlns":
		return n.Local, true
	case n.Space == "" && n.Local == "xmlns":
		return "", true
	}
	return "", false
}
