// Package update applies batches of structural updates to a pre-order node
// table. Every update in a batch addresses its target with the PRE value it
// had before the batch; the List reorders and shift-corrects them so they
// can be applied in one pass.
package update

import (
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-xmldb/internal/nodes"
)

var (
	// ErrBatchAborted wraps the store error that stopped a batch.
	ErrBatchAborted = errors.New("update: batch aborted")
	// ErrClipAliasesTarget is returned when a clip reads from the store the
	// batch writes to.
	ErrClipAliasesTarget = errors.New("update: clip reads from the target store")
)

// Store is the node table a batch is applied to.
type Store interface {
	nodes.Source

	Insert(pre, parent int, clip nodes.Clip) error
	InsertAttribute(pre, parent int, clip nodes.Clip) error
	Delete(pre int) error
	Replace(pre int, clip nodes.Clip) error
	Rename(pre int, kind nodes.Kind, name, uri []byte) error
	UpdateValue(pre int, kind nodes.Kind, value []byte) error
	SetDist(pre, dist int) error
}

// Update is one of Delete, Insert, InsertAttribute, Replace, Rename and
// UpdateValue. Values are immutable once constructed.
type Update interface {
	// Location is the target PRE before any update of the batch is applied.
	Location() int
	// Shift is the change in node count once the update is applied.
	Shift() int
	// Span is the number of nodes removed at Location.
	Span() int
	// AffectedFrom is the first PRE whose parent distance may need repair,
	// or -1.
	AffectedFrom() int
	Destructive() bool
	InsertionClip() (nodes.Clip, bool)
	Parent() (int, bool)
	fmt.Stringer

	isUpdate()
}

// Delete removes the subtree at a node.
type Delete struct {
	pre  int
	size int
	kind nodes.Kind
}

// NewDelete deletes the subtree at pre of the before-snapshot src.
func NewDelete(src nodes.Source, pre int) Delete {
	return Delete{pre: pre, size: src.SizeOf(pre), kind: src.Kind(pre)}
}

func (u Delete) Location() int                     { return u.pre }
func (u Delete) Shift() int                        { return -u.size }
func (u Delete) Span() int                         { return u.size }
func (u Delete) AffectedFrom() int                 { return u.pre }
func (u Delete) Destructive() bool                 { return true }
func (u Delete) InsertionClip() (nodes.Clip, bool) { return nodes.Clip{}, false }
func (u Delete) Parent() (int, bool)               { return 0, false }
func (u Delete) String() string                    { return fmt.Sprintf("delete(%d, %d nodes)", u.pre, u.size) }
func (Delete) isUpdate()                           {}

// Insert places a clip as children of parent in front of the node at pre.
type Insert struct {
	pre    int
	parent int
	clip   nodes.Clip
}

func NewInsert(pre, parent int, clip nodes.Clip) Insert {
	return Insert{pre: pre, parent: parent, clip: clip}
}

func (u Insert) Location() int                     { return u.pre }
func (u Insert) Shift() int                        { return u.clip.Size() }
func (u Insert) Span() int                         { return 0 }
func (u Insert) AffectedFrom() int                 { return u.pre }
func (u Insert) Destructive() bool                 { return false }
func (u Insert) InsertionClip() (nodes.Clip, bool) { return u.clip, true }
func (u Insert) Parent() (int, bool)               { return u.parent, true }
func (u Insert) String() string {
	return fmt.Sprintf("insert(%d, parent %d, %d nodes)", u.pre, u.parent, u.clip.Size())
}
func (Insert) isUpdate() {}

// InsertAttribute adds the attributes of a clip to the element parent.
type InsertAttribute struct {
	pre    int
	parent int
	clip   nodes.Clip
}

func NewInsertAttribute(pre, parent int, clip nodes.Clip) InsertAttribute {
	return InsertAttribute{pre: pre, parent: parent, clip: clip}
}

func (u InsertAttribute) Location() int                     { return u.pre }
func (u InsertAttribute) Shift() int                        { return u.clip.Size() }
func (u InsertAttribute) Span() int                         { return 0 }
func (u InsertAttribute) AffectedFrom() int                 { return u.pre }
func (u InsertAttribute) Destructive() bool                 { return false }
func (u InsertAttribute) InsertionClip() (nodes.Clip, bool) { return u.clip, true }
func (u InsertAttribute) Parent() (int, bool)               { return u.parent, true }
func (u InsertAttribute) String() string {
	return fmt.Sprintf("insert-attribute(%d, parent %d, %d nodes)", u.pre, u.parent, u.clip.Size())
}
func (InsertAttribute) isUpdate() {}

// Replace swaps the subtree at a node for a clip.
type Replace struct {
	pre  int
	size int
	kind nodes.Kind
	clip nodes.Clip
}

// NewReplace replaces the subtree at pre of the before-snapshot src.
func NewReplace(src nodes.Source, pre int, clip nodes.Clip) Replace {
	return Replace{pre: pre, size: src.SizeOf(pre), kind: src.Kind(pre), clip: clip}
}

func (u Replace) Location() int                     { return u.pre }
func (u Replace) Shift() int                        { return u.clip.Size() - u.size }
func (u Replace) Span() int                         { return u.size }
func (u Replace) AffectedFrom() int                 { return u.pre }
func (u Replace) Destructive() bool                 { return true }
func (u Replace) InsertionClip() (nodes.Clip, bool) { return u.clip, true }
func (u Replace) Parent() (int, bool)               { return 0, false }
func (u Replace) String() string {
	return fmt.Sprintf("replace(%d, %d nodes with %d)", u.pre, u.size, u.clip.Size())
}
func (Replace) isUpdate() {}

// Rename sets the name of an element, attribute or processing instruction.
type Rename struct {
	pre  int
	kind nodes.Kind
	name []byte
	uri  []byte
}

// NewRename panics on an empty name; names are validated before an update
// is built.
func NewRename(src nodes.Source, pre int, name, uri []byte) Rename {
	if len(name) == 0 {
		panic(fmt.Sprintf("update: rename of %d to an empty name", pre))
	}
	return Rename{
		pre:  pre,
		kind: src.Kind(pre),
		name: append([]byte(nil), name...),
		uri:  append([]byte(nil), uri...),
	}
}

func (u Rename) Location() int                     { return u.pre }
func (u Rename) Shift() int                        { return 0 }
func (u Rename) Span() int                         { return 0 }
func (u Rename) AffectedFrom() int                 { return -1 }
func (u Rename) Destructive() bool                 { return false }
func (u Rename) InsertionClip() (nodes.Clip, bool) { return nodes.Clip{}, false }
func (u Rename) Parent() (int, bool)               { return 0, false }
func (u Rename) String() string                    { return fmt.Sprintf("rename(%d, %q)", u.pre, u.name) }
func (Rename) isUpdate()                           {}

// UpdateValue sets the value of a text, comment, processing instruction or
// attribute node.
type UpdateValue struct {
	pre   int
	kind  nodes.Kind
	value []byte
}

func NewUpdateValue(src nodes.Source, pre int, value []byte) UpdateValue {
	return UpdateValue{pre: pre, kind: src.Kind(pre), value: append([]byte(nil), value...)}
}

func (u UpdateValue) Location() int                     { return u.pre }
func (u UpdateValue) Shift() int                        { return 0 }
func (u UpdateValue) Span() int                         { return 0 }
func (u UpdateValue) AffectedFrom() int                 { return -1 }
func (u UpdateValue) Destructive() bool                 { return false }
func (u UpdateValue) InsertionClip() (nodes.Clip, bool) { return nodes.Clip{}, false }
func (u UpdateValue) Parent() (int, bool)               { return 0, false }
func (u UpdateValue) String() string                    { return fmt.Sprintf("update-value(%d, %q)", u.pre, u.value) }
func (UpdateValue) isUpdate()                           {}

// InsertInto appends clip as the last children of target.
func InsertInto(src nodes.Source, target int, clip nodes.Clip) Insert {
	return NewInsert(target+src.SizeOf(target), target, clip)
}

// InsertIntoLast is InsertInto.
func InsertIntoLast(src nodes.Source, target int, clip nodes.Clip) Insert {
	return InsertInto(src, target, clip)
}

// InsertIntoFirst inserts clip in front of the first child of target.
func InsertIntoFirst(src nodes.Source, target int, clip nodes.Clip) Insert {
	return NewInsert(target+src.AttSize(target), target, clip)
}

// InsertBefore inserts clip as preceding siblings of target.
func InsertBefore(src nodes.Source, target int, clip nodes.Clip) Insert {
	return NewInsert(target, src.Parent(target), clip)
}

// InsertAfter inserts clip as following siblings of target.
func InsertAfter(src nodes.Source, target int, clip nodes.Clip) Insert {
	return NewInsert(target+src.SizeOf(target), src.Parent(target), clip)
}

// InsertAttributes appends the attributes of clip to target.
func InsertAttributes(src nodes.Source, target int, clip nodes.Clip) InsertAttribute {
	return NewInsertAttribute(target+src.AttSize(target), target, clip)
}
