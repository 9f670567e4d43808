package nodes

import "fmt"

// Clip is a borrowed, read-only range [start, end) of a node table that
// holds one or more complete subtrees.
type Clip struct {
	source    Source
	start     int
	end       int
	fragments int
}

// NewClip references the nodes [start, end) of src. It panics if the range
// is inverted, exceeds src, or cuts through a subtree.
func NewClip(src Source, start, end int) Clip {
	if end < start {
		panic(fmt.Sprintf("nodes: inverted clip range [%d, %d)", start, end))
	}
	if start < 0 || end > src.Size() {
		panic(fmt.Sprintf("nodes: clip range [%d, %d) outside table of size %d", start, end, src.Size()))
	}

	fragments := 0
	pre := start
	for pre < end {
		pre += src.SizeOf(pre)
		fragments++
	}
	if pre != end {
		panic(fmt.Sprintf("nodes: clip range [%d, %d) does not end on a subtree boundary", start, end))
	}

	return Clip{source: src, start: start, end: end, fragments: fragments}
}

// WholeClip references every node of src.
func WholeClip(src Source) Clip {
	return NewClip(src, 0, src.Size())
}

func (c Clip) Source() Source { return c.source }
func (c Clip) Start() int     { return c.start }
func (c Clip) End() int       { return c.end }

// Size returns the number of nodes in the clip.
func (c Clip) Size() int { return c.end - c.start }

// Fragments returns the number of top-level subtrees in the clip.
func (c Clip) Fragments() int { return c.fragments }

// Empty reports whether the clip holds no nodes.
func (c Clip) Empty() bool { return c.end == c.start }

func (c Clip) String() string {
	return fmt.Sprintf("clip[%d,%d) fragments=%d", c.start, c.end, c.fragments)
}
