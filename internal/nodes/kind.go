// Package nodes holds the types shared by the node table and the update
// engine: node kinds, namespace declarations, read-only table views and
// clips.
package nodes

import "fmt"

// Kind is the category of a node in a pre-order node table.
type Kind uint8

const (
	Document Kind = iota
	Element
	Text
	Attribute
	Comment
	ProcessingInstruction
)

func (k Kind) String() string {
	switch k {
	case Document:
		return "document"
	case Element:
		return "element"
	case Text:
		return "text"
	case Attribute:
		return "attribute"
	case Comment:
		return "comment"
	case ProcessingInstruction:
		return "processing-instruction"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// HasSubtree reports whether nodes of this kind can own descendants.
func (k Kind) HasSubtree() bool {
	return k == Document || k == Element
}

// Namespace is a namespace declaration attached to the element at Pre.
type Namespace struct {
	Pre    int
	Prefix []byte
	URI    []byte
}

// Source is a read-only view of a node table.
type Source interface {
	// Size returns the number of nodes in the table.
	Size() int
	Kind(pre int) Kind
	// Dist returns the stored distance to the parent. Roots store pre+1.
	Dist(pre int) int
	// Parent returns pre-Dist(pre), which is -1 for roots.
	Parent(pre int) int
	// SizeOf returns the subtree size of pre, attributes included.
	SizeOf(pre int) int
	// AttSize returns 1 plus the number of attributes of pre.
	AttSize(pre int) int
	Name(pre int) []byte
	URI(pre int) []byte
	Value(pre int) []byte
	NamespaceCount() int
	// Namespaces returns the declarations attached to elements in [start, end).
	Namespaces(start, end int) []Namespace
}
