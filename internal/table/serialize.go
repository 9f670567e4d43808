package table

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"

	"github.com/i5heu/ouroboros-xmldb/internal/nodes"
)

// Serialize writes the whole table as XML. A document node contributes
// only its children.
func (t *Table) Serialize(w io.Writer) error {
	return t.SerializeRange(w, 0, len(t.rows))
}

// SerializeRange writes the subtrees in [start, end) as XML. The range must
// start and end on subtree boundaries.
func (t *Table) SerializeRange(w io.Writer, start, end int) error {
	if start < 0 || end > len(t.rows) || end < start {
		return fmt.Errorf("serialize [%d, %d): %w", start, end, ErrOutOfRange)
	}
	bw := bufio.NewWriter(w)
	for pre := start; pre < end; {
		next, err := t.writeNode(bw, pre)
		if err != nil {
			return err
		}
		pre = next
	}
	return bw.Flush()
}

func (t *Table) writeNode(w *bufio.Writer, pre int) (int, error) {
	r := t.rows[pre]
	switch r.kind {
	case nodes.Document:
		for p := pre + r.asize; p < pre+r.size; {
			next, err := t.writeNode(w, p)
			if err != nil {
				return 0, err
			}
			p = next
		}
	case nodes.Element:
		w.WriteByte('<')
		w.Write(r.name)
		for _, n := range t.Namespaces(pre, pre+1) {
			w.WriteString(" xmlns")
			if len(n.Prefix) > 0 {
				w.WriteByte(':')
				w.Write(n.Prefix)
			}
			w.WriteString(`="`)
			xml.EscapeText(w, n.URI)
			w.WriteByte('"')
		}
		for p := pre + 1; p < pre+r.asize; p++ {
			w.WriteByte(' ')
			t.writeAttribute(w, p)
		}
		if r.size == r.asize {
			w.WriteString("/>")
			break
		}
		w.WriteByte('>')
		for p := pre + r.asize; p < pre+r.size; {
			next, err := t.writeNode(w, p)
			if err != nil {
				return 0, err
			}
			p = next
		}
		w.WriteString("</")
		w.Write(r.name)
		w.WriteByte('>')
	case nodes.Attribute:
		// only reached for standalone attributes
		t.writeAttribute(w, pre)
	case nodes.Text:
		if err := xml.EscapeText(w, r.value); err != nil {
			return 0, err
		}
	case nodes.Comment:
		w.WriteString("<!--")
		w.Write(r.value)
		w.WriteString("-->")
	case nodes.ProcessingInstruction:
		w.WriteString("<?")
		w.Write(r.name)
		if len(r.value) > 0 {
			w.WriteByte(' ')
			w.Write(r.value)
		}
		w.WriteString("?>")
	default:
		return 0, fmt.Errorf("serialize %s at %d: %w", r.kind, pre, ErrInvalidTarget)
	}
	return pre + r.size, nil
}

func (t *Table) writeAttribute(w *bufio.Writer, pre int) {
	r := t.rows[pre]
	w.Write(r.name)
	w.WriteString(`="`)
	xml.EscapeText(w, r.value)
	w.WriteByte('"')
}
