// Package batchfile reads update batches written as YAML and resolves them
// against a document into an update list.
//
//	document: books
//	updates:
//	  - op: insert-into
//	    target: 1
//	    xml: <book>Dune</book>
//	  - op: rename
//	    target: 4
//	    name: title
package batchfile

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/i5heu/ouroboros-xmldb/internal/nodes"
	"github.com/i5heu/ouroboros-xmldb/internal/table"
	"github.com/i5heu/ouroboros-xmldb/internal/update"
	"github.com/i5heu/ouroboros-xmldb/internal/workerpool"
	"gopkg.in/yaml.v2"
)

const (
	OpInsertInto      = "insert-into"
	OpInsertIntoFirst = "insert-into-first"
	OpInsertBefore    = "insert-before"
	OpInsertAfter     = "insert-after"
	OpInsertAttribute = "insert-attribute"
	OpDelete          = "delete"
	OpReplace         = "replace"
	OpRename          = "rename"
	OpUpdateValue     = "update-value"
)

var ErrInvalidEntry = errors.New("batchfile: invalid entry")

// Entries are resolved in parallel; fragment parsing dominates large batches.
var resolvers = sync.OnceValue(func() *workerpool.WorkerPool {
	return workerpool.NewWorkerPool(workerpool.Config{})
})

type Batch struct {
	Document string  `yaml:"document"`
	Updates  []Entry `yaml:"updates"`
}

// Entry is one update. Target is the PRE of the node in the document as
// it was before the batch.
type Entry struct {
	Op         string        `yaml:"op"`
	Target     *int          `yaml:"target"`
	XML        string        `yaml:"xml,omitempty"`
	Attributes yaml.MapSlice `yaml:"attributes,omitempty"`
	Name       string        `yaml:"name,omitempty"`
	URI        string        `yaml:"uri,omitempty"`
	Value      string        `yaml:"value,omitempty"`
}

// Parse decodes a batch. Unknown fields are rejected.
func Parse(r io.Reader) (*Batch, error) {
	dec := yaml.NewDecoder(r)
	dec.SetStrict(true)

	var b Batch
	if err := dec.Decode(&b); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("batchfile: empty input")
		}
		return nil, fmt.Errorf("batchfile: %w", err)
	}
	if b.Document == "" {
		return nil, errors.New("batchfile: no document named")
	}
	for i, e := range b.Updates {
		if e.Target == nil {
			return nil, fmt.Errorf("entry %d (%s): no target: %w", i, e.Op, ErrInvalidEntry)
		}
	}
	return &b, nil
}

// Build resolves every entry against doc and adds the updates to l. Either
// all entries are added or none.
func (b *Batch) Build(doc nodes.Source, l *update.List) error {
	type resolved struct {
		u   update.Update
		err error
	}

	room := workerpool.NewRoom[resolved](resolvers(), len(b.Updates))
	for _, e := range b.Updates {
		e := e
		room.NewTask(func() resolved {
			u, err := e.resolve(doc)
			return resolved{u, err}
		})
	}

	built := room.Collect()
	for i, r := range built {
		if r.err != nil {
			return fmt.Errorf("entry %d (%s): %w", i, b.Updates[i].Op, r.err)
		}
	}
	for _, r := range built {
		l.Add(r.u)
	}
	return nil
}

func (e Entry) resolve(doc nodes.Source) (update.Update, error) {
	if e.Target == nil {
		return nil, fmt.Errorf("no target: %w", ErrInvalidEntry)
	}
	pre := *e.Target
	if pre < 0 || pre >= doc.Size() {
		return nil, fmt.Errorf("target %d outside document of %d nodes: %w", pre, doc.Size(), ErrInvalidEntry)
	}
	kind := doc.Kind(pre)

	switch e.Op {
	case OpInsertInto, OpInsertIntoFirst:
		if !kind.HasSubtree() {
			return nil, fmt.Errorf("insert into %s %d: %w", kind, pre, ErrInvalidEntry)
		}
		clip, err := e.fragment(false)
		if err != nil {
			return nil, err
		}
		if e.Op == OpInsertInto {
			return update.InsertInto(doc, pre, clip), nil
		}
		return update.InsertIntoFirst(doc, pre, clip), nil

	case OpInsertBefore, OpInsertAfter:
		if kind == nodes.Attribute || doc.Parent(pre) < 0 {
			return nil, fmt.Errorf("insert next to %s %d: %w", kind, pre, ErrInvalidEntry)
		}
		clip, err := e.fragment(false)
		if err != nil {
			return nil, err
		}
		if e.Op == OpInsertBefore {
			return update.InsertBefore(doc, pre, clip), nil
		}
		return update.InsertAfter(doc, pre, clip), nil

	case OpInsertAttribute:
		if kind != nodes.Element {
			return nil, fmt.Errorf("insert attribute into %s %d: %w", kind, pre, ErrInvalidEntry)
		}
		clip, err := e.attributes(false)
		if err != nil {
			return nil, err
		}
		return update.InsertAttributes(doc, pre, clip), nil

	case OpDelete:
		return update.NewDelete(doc, pre), nil

	case OpReplace:
		var (
			clip nodes.Clip
			err  error
		)
		if kind == nodes.Attribute {
			clip, err = e.attributes(true)
		} else {
			clip, err = e.fragment(true)
		}
		if err != nil {
			return nil, err
		}
		return update.NewReplace(doc, pre, clip), nil

	case OpRename:
		switch kind {
		case nodes.Element, nodes.Attribute, nodes.ProcessingInstruction:
		default:
			return nil, fmt.Errorf("rename %s %d: %w", kind, pre, ErrInvalidEntry)
		}
		if e.Name == "" {
			return nil, fmt.Errorf("rename without name: %w", ErrInvalidEntry)
		}
		return update.NewRename(doc, pre, []byte(e.Name), []byte(e.URI)), nil

	case OpUpdateValue:
		if kind.HasSubtree() {
			return nil, fmt.Errorf("update value of %s %d: %w", kind, pre, ErrInvalidEntry)
		}
		return update.NewUpdateValue(doc, pre, []byte(e.Value)), nil
	}
	return nil, fmt.Errorf("unknown op %q: %w", e.Op, ErrInvalidEntry)
}

func (e Entry) fragment(allowEmpty bool) (nodes.Clip, error) {
	frag, err := table.ParseFragment(e.XML)
	if err != nil {
		return nodes.Clip{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if frag.Size() == 0 && !allowEmpty {
		return nodes.Clip{}, fmt.Errorf("no xml content: %w", ErrInvalidEntry)
	}
	return nodes.WholeClip(frag), nil
}

func (e Entry) attributes(allowEmpty bool) (nodes.Clip, error) {
	if len(e.Attributes) == 0 && !allowEmpty {
		return nodes.Clip{}, fmt.Errorf("no attributes: %w", ErrInvalidEntry)
	}
	pairs := make([]string, 0, 2*len(e.Attributes))
	for _, item := range e.Attributes {
		pairs = append(pairs, fmt.Sprint(item.Key), fmt.Sprint(item.Value))
	}
	attrs, err := table.Attributes(pairs...)
	if err != nil {
		return nodes.Clip{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return nodes.WholeClip(attrs), nil
}
