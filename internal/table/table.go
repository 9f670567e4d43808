// Package table implements an in-memory XML node table addressed by
// pre-order position. Every node stores its parent as a distance relative
// to its own position and its subtree size, so a subtree always occupies a
// contiguous range of rows.
package table

import (
	"bytes"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/i5heu/ouroboros-xmldb/internal/nodes"
)

var (
	ErrOutOfRange    = errors.New("table: position out of range")
	ErrInvalidTarget = errors.New("table: invalid target")
	ErrKindMismatch  = errors.New("table: kind mismatch")
)

var tableIDs atomic.Uint64

type row struct {
	kind  nodes.Kind
	dist  int
	size  int
	asize int
	name  []byte
	uri   []byte
	value []byte
}

// Table is a pre-order node table. It is not safe for concurrent use; the
// owner serializes writers.
type Table struct {
	id   uint64
	rows []row
	ns   []nodes.Namespace
}

// New returns an empty table.
func New() *Table {
	return &Table{id: tableIDs.Add(1)}
}

// ID returns a process-unique identifier of the table.
func (t *Table) ID() uint64 { return t.id }

func (t *Table) Size() int { return len(t.rows) }

func (t *Table) Kind(pre int) nodes.Kind { return t.rows[pre].kind }
func (t *Table) Dist(pre int) int        { return t.rows[pre].dist }
func (t *Table) Parent(pre int) int      { return pre - t.rows[pre].dist }
func (t *Table) SizeOf(pre int) int      { return t.rows[pre].size }
func (t *Table) AttSize(pre int) int     { return t.rows[pre].asize }
func (t *Table) Name(pre int) []byte     { return t.rows[pre].name }
func (t *Table) URI(pre int) []byte      { return t.rows[pre].uri }
func (t *Table) Value(pre int) []byte    { return t.rows[pre].value }

func (t *Table) NamespaceCount() int { return len(t.ns) }

func (t *Table) Namespaces(start, end int) []nodes.Namespace {
	var out []nodes.Namespace
	for _, n := range t.ns {
		if n.Pre >= start && n.Pre < end {
			out = append(out, n)
		}
	}
	return out
}

// SetDist overwrites the stored parent distance of pre.
func (t *Table) SetDist(pre, dist int) error {
	if pre < 0 || pre >= len(t.rows) {
		return fmt.Errorf("set distance at %d: %w", pre, ErrOutOfRange)
	}
	t.rows[pre].dist = dist
	return nil
}

// Insert copies the clip as new children of parent, starting at pre.
func (t *Table) Insert(pre, parent int, clip nodes.Clip) error {
	if err := t.checkInsert(pre, parent); err != nil {
		return err
	}
	if pre < parent+t.rows[parent].asize {
		return fmt.Errorf("insert at %d: inside the attributes of %d: %w", pre, parent, ErrInvalidTarget)
	}
	p := parent + t.rows[parent].asize
	for p < pre {
		p += t.rows[p].size
	}
	if p != pre {
		return fmt.Errorf("insert at %d: not a child boundary of %d: %w", pre, parent, ErrInvalidTarget)
	}
	t.insert(pre, parent, clip)
	return nil
}

// InsertAttribute copies an attribute-only clip into the attribute list of
// parent at pre.
func (t *Table) InsertAttribute(pre, parent int, clip nodes.Clip) error {
	if err := t.checkInsert(pre, parent); err != nil {
		return err
	}
	if pre > parent+t.rows[parent].asize {
		return fmt.Errorf("insert attribute at %d: behind the attributes of %d: %w", pre, parent, ErrInvalidTarget)
	}
	src := clip.Source()
	for p := clip.Start(); p < clip.End(); p++ {
		if src.Kind(p) != nodes.Attribute {
			return fmt.Errorf("insert attribute at %d: clip holds a %s: %w", pre, src.Kind(p), ErrKindMismatch)
		}
	}
	t.insert(pre, parent, clip)
	t.rows[parent].asize += clip.Size()
	return nil
}

func (t *Table) checkInsert(pre, parent int) error {
	if parent < 0 || parent >= len(t.rows) {
		return fmt.Errorf("insert under %d: %w", parent, ErrOutOfRange)
	}
	if !t.rows[parent].kind.HasSubtree() {
		return fmt.Errorf("insert under %s %d: %w", t.rows[parent].kind, parent, ErrInvalidTarget)
	}
	if pre <= parent || pre > parent+t.rows[parent].size {
		return fmt.Errorf("insert at %d outside parent %d: %w", pre, parent, ErrOutOfRange)
	}
	return nil
}

func (t *Table) insert(pre, parent int, clip nodes.Clip) {
	n := clip.Size()
	if n == 0 {
		return
	}

	added := t.copyRows(pre, parent, clip)
	t.rows = append(t.rows[:pre], append(added, t.rows[pre:]...)...)

	t.shiftNamespaces(pre, n)
	for _, d := range clip.Source().Namespaces(clip.Start(), clip.End()) {
		t.addNamespace(nodes.Namespace{
			Pre:    d.Pre - clip.Start() + pre,
			Prefix: bytes.Clone(d.Prefix),
			URI:    bytes.Clone(d.URI),
		})
	}

	t.resize(parent, n)
	t.fixFollowing(pre+n, parent)
}

// copyRows clones the clip rows. Clip roots are attached to parent, inner
// rows keep their relative distances.
func (t *Table) copyRows(pre, parent int, clip nodes.Clip) []row {
	src := clip.Source()
	out := make([]row, 0, clip.Size())
	for i := 0; i < clip.Size(); i++ {
		p := clip.Start() + i
		r := row{
			kind:  src.Kind(p),
			dist:  src.Dist(p),
			size:  src.SizeOf(p),
			asize: src.AttSize(p),
			name:  bytes.Clone(src.Name(p)),
			uri:   bytes.Clone(src.URI(p)),
			value: bytes.Clone(src.Value(p)),
		}
		if src.Parent(p) < clip.Start() {
			r.dist = pre + i - parent
		}
		out = append(out, r)
	}
	return out
}

// Delete removes the subtree rooted at pre.
func (t *Table) Delete(pre int) error {
	if pre < 0 || pre >= len(t.rows) {
		return fmt.Errorf("delete at %d: %w", pre, ErrOutOfRange)
	}
	r := t.rows[pre]
	parent := pre - r.dist
	n := r.size

	if r.kind == nodes.Attribute && parent >= 0 {
		t.rows[parent].asize--
	}
	t.rows = append(t.rows[:pre], t.rows[pre+n:]...)
	t.dropNamespaces(pre, pre+n)
	t.shiftNamespaces(pre, -n)

	t.resize(parent, -n)
	t.fixFollowing(pre, parent)
	return nil
}

// Replace overwrites the subtree at pre with the clip in place. The target
// must not be an attribute.
func (t *Table) Replace(pre int, clip nodes.Clip) error {
	if pre < 0 || pre >= len(t.rows) {
		return fmt.Errorf("replace at %d: %w", pre, ErrOutOfRange)
	}
	r := t.rows[pre]
	if r.kind == nodes.Attribute {
		return fmt.Errorf("replace attribute at %d in place: %w", pre, ErrInvalidTarget)
	}
	parent := pre - r.dist
	n := r.size

	added := t.copyRows(pre, parent, clip)
	tail := append([]row(nil), t.rows[pre+n:]...)
	t.rows = append(append(t.rows[:pre], added...), tail...)

	diff := clip.Size() - n
	t.dropNamespaces(pre, pre+n)
	t.shiftNamespaces(pre+n, diff)
	if clip.Size() > 0 {
		for _, d := range clip.Source().Namespaces(clip.Start(), clip.End()) {
			t.addNamespace(nodes.Namespace{
				Pre:    d.Pre - clip.Start() + pre,
				Prefix: bytes.Clone(d.Prefix),
				URI:    bytes.Clone(d.URI),
			})
		}
	}

	t.resize(parent, diff)
	t.fixFollowing(pre+clip.Size(), parent)
	return nil
}

// Rename sets the name and namespace URI of an element, attribute or
// processing instruction. A prefix or default namespace not yet bound to
// uri is declared on the element (the owner element for an attribute). An
// empty uri on a prefixed name takes the prefix's current binding.
func (t *Table) Rename(pre int, kind nodes.Kind, name, uri []byte) error {
	if err := t.checkRow(pre, kind); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	switch kind {
	case nodes.Element, nodes.Attribute:
		var err error
		if uri, err = t.bindName(pre, kind, name, uri); err != nil {
			return fmt.Errorf("rename %s at %d to %s: %w", kind, pre, name, err)
		}
	case nodes.ProcessingInstruction:
		uri = nil
	default:
		return fmt.Errorf("rename %s at %d: %w", kind, pre, ErrInvalidTarget)
	}
	t.rows[pre].name = bytes.Clone(name)
	t.rows[pre].uri = bytes.Clone(uri)
	return nil
}

// bindName makes name resolve to uri at pre and returns the URI to store.
// Nothing is changed when it fails.
func (t *Table) bindName(pre int, kind nodes.Kind, name, uri []byte) ([]byte, error) {
	var prefix []byte
	if i := bytes.IndexByte(name, ':'); i >= 0 {
		prefix = name[:i]
	}

	owner := pre
	if kind == nodes.Attribute {
		owner = t.Parent(pre)
		if len(prefix) == 0 {
			if len(uri) > 0 {
				return nil, fmt.Errorf("unprefixed attribute with namespace %q: %w", uri, ErrInvalidTarget)
			}
			return nil, nil
		}
	}
	if owner < 0 || t.rows[owner].kind != nodes.Element {
		return uri, nil
	}

	bound, ok := t.binding(owner, prefix)
	if len(uri) == 0 && len(prefix) > 0 {
		if !ok {
			return nil, fmt.Errorf("unbound prefix %q: %w", prefix, ErrInvalidTarget)
		}
		return bound, nil
	}
	if bytes.Equal(bound, uri) {
		return uri, nil
	}
	if string(prefix) == "xml" || string(prefix) == "xmlns" {
		return nil, fmt.Errorf("prefix %q is reserved: %w", prefix, ErrInvalidTarget)
	}
	for _, n := range t.Namespaces(owner, owner+1) {
		if bytes.Equal(n.Prefix, prefix) {
			return nil, fmt.Errorf("prefix %q is bound to %q at %d: %w", prefix, n.URI, owner, ErrInvalidTarget)
		}
	}
	for p := owner; p < owner+t.rows[owner].size; p++ {
		if p == pre || !t.usesPrefix(p, prefix) {
			continue
		}
		if !bytes.Equal(t.rows[p].uri, uri) {
			return nil, fmt.Errorf("prefix %q is used by node %d with namespace %q: %w", prefix, p, t.rows[p].uri, ErrInvalidTarget)
		}
	}
	t.addNamespace(nodes.Namespace{Pre: owner, Prefix: bytes.Clone(prefix), URI: bytes.Clone(uri)})
	return uri, nil
}

// binding returns the URI bound to prefix in scope of element pre.
func (t *Table) binding(pre int, prefix []byte) ([]byte, bool) {
	if string(prefix) == "xml" {
		return []byte(xmlNamespace), true
	}
	for p := pre; p >= 0; p = t.Parent(p) {
		for _, n := range t.Namespaces(p, p+1) {
			if bytes.Equal(n.Prefix, prefix) {
				return n.URI, true
			}
		}
	}
	return nil, false
}

func (t *Table) usesPrefix(pre int, prefix []byte) bool {
	r := t.rows[pre]
	if r.kind != nodes.Element && r.kind != nodes.Attribute {
		return false
	}
	i := bytes.IndexByte(r.name, ':')
	if i < 0 {
		return len(prefix) == 0 && r.kind == nodes.Element
	}
	return bytes.Equal(r.name[:i], prefix)
}

// UpdateValue replaces the value of a text, comment, processing instruction
// or attribute node.
func (t *Table) UpdateValue(pre int, kind nodes.Kind, value []byte) error {
	if err := t.checkRow(pre, kind); err != nil {
		return fmt.Errorf("update value: %w", err)
	}
	if kind.HasSubtree() {
		return fmt.Errorf("update value of %s at %d: %w", kind, pre, ErrInvalidTarget)
	}
	t.rows[pre].value = bytes.Clone(value)
	return nil
}

func (t *Table) checkRow(pre int, kind nodes.Kind) error {
	if pre < 0 || pre >= len(t.rows) {
		return fmt.Errorf("%d: %w", pre, ErrOutOfRange)
	}
	if t.rows[pre].kind != kind {
		return fmt.Errorf("%d is a %s, not a %s: %w", pre, t.rows[pre].kind, kind, ErrKindMismatch)
	}
	return nil
}

// resize adds n to the size of parent and every ancestor of it.
func (t *Table) resize(parent, n int) {
	for p := parent; p >= 0; p -= t.rows[p].dist {
		t.rows[p].size += n
	}
}

// fixFollowing recomputes the distance of the node at pre, the first row
// behind a change below parent. The ancestor chain of parent must be intact.
func (t *Table) fixFollowing(pre, parent int) {
	if pre >= len(t.rows) {
		return
	}
	for p := parent; p >= 0; p -= t.rows[p].dist {
		if p+t.rows[p].size > pre {
			t.rows[pre].dist = pre - p
			return
		}
	}
	t.rows[pre].dist = pre + 1
}

func (t *Table) addNamespace(n nodes.Namespace) {
	i := len(t.ns)
	for i > 0 && t.ns[i-1].Pre > n.Pre {
		i--
	}
	t.ns = append(t.ns, nodes.Namespace{})
	copy(t.ns[i+1:], t.ns[i:])
	t.ns[i] = n
}

func (t *Table) shiftNamespaces(from, n int) {
	for i := range t.ns {
		if t.ns[i].Pre >= from {
			t.ns[i].Pre += n
		}
	}
}

func (t *Table) dropNamespaces(start, end int) {
	kept := t.ns[:0]
	for _, n := range t.ns {
		if n.Pre < start || n.Pre >= end {
			kept = append(kept, n)
		}
	}
	t.ns = kept
}

// Verify checks sizes, attribute sizes and distances against a
// recomputation from the row order, and that namespace declarations sit on
// elements in PRE order.
func (t *Table) Verify() error {
	var stack []int
	for pre, r := range t.rows {
		for len(stack) > 0 && stack[len(stack)-1]+t.rows[stack[len(stack)-1]].size <= pre {
			stack = stack[:len(stack)-1]
		}
		want := pre + 1
		if len(stack) > 0 {
			top := stack[len(stack)-1]
			want = pre - top
			if pre+r.size > top+t.rows[top].size {
				return fmt.Errorf("node %d overlaps the end of its parent %d", pre, top)
			}
			if r.kind == nodes.Attribute && pre >= top+t.rows[top].asize {
				return fmt.Errorf("attribute %d outside the attribute list of %d", pre, top)
			}
			if r.kind != nodes.Attribute && pre < top+t.rows[top].asize {
				return fmt.Errorf("%s %d inside the attribute list of %d", r.kind, pre, top)
			}
		}
		if r.dist != want {
			return fmt.Errorf("node %d: distance %d, want %d", pre, r.dist, want)
		}
		if r.size < 1 || r.asize < 1 || r.asize > r.size || pre+r.size > len(t.rows) {
			return fmt.Errorf("node %d: size %d, attribute size %d", pre, r.size, r.asize)
		}
		if !r.kind.HasSubtree() && r.size != 1 {
			return fmt.Errorf("%s %d has size %d", r.kind, pre, r.size)
		}
		stack = append(stack, pre)
	}
	for i, n := range t.ns {
		if n.Pre < 0 || n.Pre >= len(t.rows) || t.rows[n.Pre].kind != nodes.Element {
			return fmt.Errorf("namespace %q declared at %d, not an element", n.Prefix, n.Pre)
		}
		if i > 0 && t.ns[i-1].Pre > n.Pre {
			return fmt.Errorf("namespace at %d listed after %d", n.Pre, t.ns[i-1].Pre)
		}
	}
	return nil
}
