package update

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/i5heu/ouroboros-xmldb/internal/nodes"
	"github.com/i5heu/ouroboros-xmldb/internal/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newList() *List {
	return NewList(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func parse(t testing.TB, s string) *table.Table {
	t.Helper()
	doc, err := table.Parse(strings.NewReader(s), table.Options{})
	require.NoError(t, err)
	return doc
}

func clipOf(t testing.TB, s string) nodes.Clip {
	t.Helper()
	frag, err := table.ParseFragment(s)
	require.NoError(t, err)
	return nodes.WholeClip(frag)
}

func attrsOf(t testing.TB, pairs ...string) nodes.Clip {
	t.Helper()
	attrs, err := table.Attributes(pairs...)
	require.NoError(t, err)
	return nodes.WholeClip(attrs)
}

func xmlOf(t testing.TB, doc *table.Table) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, doc.Serialize(&buf))
	return buf.String()
}

func applyAll(t testing.TB, doc *table.Table, updates ...Update) *List {
	t.Helper()
	l := newList()
	for _, u := range updates {
		l.Add(u)
	}
	require.NoError(t, l.Apply(doc))
	require.NoError(t, doc.Verify())
	return l
}

// scenarioDoc builds 100 nodes: a document with one root holding leaves
// n2..n9, an element sec at 10 with leaves n11..n59, leaves n60..n79, an
// element grp at 80 with leaves n81..n84 and leaves n85..n99.
func scenarioDoc(t testing.TB) *table.Table {
	t.Helper()
	b := table.NewBuilder()
	leaf := func(pre int) {
		b.OpenElement([]byte(fmt.Sprintf("n%d", pre)), nil)
		require.NoError(t, b.Close())
	}
	leaves := func(from, to int) {
		for p := from; p < to; p++ {
			leaf(p)
		}
	}

	b.OpenDocument("scenario")
	b.OpenElement([]byte("root"), nil)
	leaves(2, 10)
	b.OpenElement([]byte("sec"), nil)
	leaves(11, 60)
	require.NoError(t, b.Close())
	leaves(60, 80)
	b.OpenElement([]byte("grp"), nil)
	leaves(81, 85)
	require.NoError(t, b.Close())
	leaves(85, 100)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	doc, err := b.Table()
	require.NoError(t, err)
	require.Equal(t, 100, doc.Size())
	require.Equal(t, 50, doc.SizeOf(10))
	require.Equal(t, 5, doc.SizeOf(80))
	require.NoError(t, doc.Verify())
	return doc
}

func TestEndToEndScenario( // A
	t *testing.T,
) {
	t.Parallel()

	doc := scenarioDoc(t)
	ins := NewInsert(50, 10, clipOf(t, `<x><y/><z/></x>`))
	del := NewDelete(doc, 80)
	ren := NewRename(doc, 20, []byte("b"), nil)
	require.Equal(t, 3, ins.Shift())
	require.Equal(t, -5, del.Shift())

	l := newList()
	l.Add(ins)
	l.Add(del)
	l.Add(ren)

	plan := l.Plan()
	require.Len(t, plan, 3)
	assert.Equal(t, del, plan[0].Update)
	assert.Equal(t, ins, plan[1].Update)
	assert.Equal(t, ren, plan[2].Update)
	assert.Equal(t, 83, plan[0].Final())
	assert.Equal(t, 50, plan[1].Final())
	assert.Equal(t, 20, plan[2].Final())

	assert.Equal(t, 88, l.TranslatePre(90))
	assert.Equal(t, -1, l.TranslatePre(82))
	assert.Equal(t, 53, l.TranslatePre(50))
	assert.Equal(t, 20, l.TranslatePre(20))

	require.NoError(t, l.Apply(doc))
	require.NoError(t, doc.Verify())

	assert.Equal(t, 98, doc.Size())
	assert.Equal(t, "n90", string(doc.Name(88)))
	assert.Equal(t, "b", string(doc.Name(20)))
	assert.Equal(t, "x", string(doc.Name(50)))
	assert.Equal(t, "n50", string(doc.Name(53)))
	assert.Equal(t, 10, doc.Parent(50))
	assert.Equal(t, 1, doc.Parent(88))

	stats := l.Stats()
	assert.Equal(t, 3, stats.Applied)
	assert.Equal(t, 0, stats.Discarded)
	assert.Equal(t, -2, stats.Shift)
	assert.Greater(t, stats.Repaired, 0)
}

func TestNestedUpdateIsDiscarded( // A
	t *testing.T,
) {
	t.Parallel()

	// e at 5 holds a>text at 6, 7 and seven leaves, 10 nodes in all
	doc := parse(t, `<r><l/><l/><l/><e><a>v</a><l/><l/><l/><l/><l/><l/><l/></e><l/></r>`)
	require.Equal(t, 10, doc.SizeOf(5))
	require.Equal(t, nodes.Text, doc.Kind(7))

	del := NewDelete(doc, 5)
	val := NewUpdateValue(doc, 7, []byte("gone"))

	l := newList()
	l.Add(val)
	l.Add(del)
	plan := l.Plan()
	require.Len(t, plan, 1)
	assert.Equal(t, del, plan[0].Update)
	assert.Equal(t, []Update{val}, l.Discarded())

	require.NoError(t, l.Apply(doc))
	require.NoError(t, doc.Verify())
	assert.Equal(t, `<r><l/><l/><l/><l/></r>`, xmlOf(t, doc))
	assert.Equal(t, 1, l.Stats().Applied)
	assert.Equal(t, 1, l.Stats().Discarded)
}

func TestEliminationRules( // A
	t *testing.T,
) {
	t.Parallel()

	// 0 doc, 1 r, 2 a, 3 b, 4 c, 5 d
	doc := parse(t, `<r><a><b/><c/></a><d/></r>`)

	outer := NewDelete(doc, 2)
	inner := NewDelete(doc, 3)
	twice := NewDelete(doc, 2)
	rename := NewRename(doc, 2, []byte("x"), nil)
	before := InsertBefore(doc, 2, clipOf(t, `<kept/>`))
	into := InsertInto(doc, 2, clipOf(t, `<lost/>`))
	intoFirst := InsertIntoFirst(doc, 2, clipOf(t, `<lost/>`))
	after := InsertAfter(doc, 2, clipOf(t, `<kept2/>`))

	l := applyAll(t, doc, inner, outer, rename, before, into, intoFirst, after, twice)
	assert.ElementsMatch(t, []Update{inner, twice, rename, into, intoFirst}, l.Discarded())
	assert.Equal(t, `<r><kept/><kept2/><d/></r>`, xmlOf(t, doc))
}

func TestCorrectedLocations( // A
	t *testing.T,
) {
	t.Parallel()

	const n, k = 6, 2
	doc := parse(t, "<r>"+strings.Repeat("<l/>", 20)+"</r>")

	l := newList()
	locs := make([]int, n)
	for i := range locs {
		locs[i] = 2 + 3*i
		l.Add(NewInsert(locs[i], 1, clipOf(t, `<x><y/></x>`)))
	}

	finals := make(map[int]int)
	for _, p := range l.Plan() {
		finals[p.Update.Location()] = p.Final()
	}
	for i, p := range locs {
		assert.Equal(t, p+k*i, finals[p], "insert %d at %d", i, p)
	}

	require.NoError(t, l.Apply(doc))
	require.NoError(t, doc.Verify())
	for i, p := range locs {
		assert.Equal(t, "x", string(doc.Name(p+k*i)))
		assert.Equal(t, "y", string(doc.Name(p+k*i+1)))
	}
	assert.Equal(t, 22+n*k, doc.Size())
}

func TestSameLocationOrder( // A
	t *testing.T,
) {
	t.Parallel()

	// 0 doc, 1 r, 2 @a, 3 k
	doc := parse(t, `<r a="1"><k/></r>`)
	applyAll(t, doc,
		NewRename(doc, 3, []byte("kk"), nil),
		InsertBefore(doc, 3, clipOf(t, `<g/>`)),
		InsertIntoFirst(doc, 1, clipOf(t, `<f/>`)),
		InsertAttributes(doc, 1, attrsOf(t, "b", "2")),
	)
	assert.Equal(t, `<r a="1" b="2"><g/><f/><kk/></r>`, xmlOf(t, doc))

	doc = parse(t, `<r a="1"><k/></r>`)
	applyAll(t, doc,
		NewDelete(doc, 3),
		InsertBefore(doc, 3, clipOf(t, `<g/>`)),
	)
	assert.Equal(t, `<r a="1"><g/></r>`, xmlOf(t, doc))
}

func TestDeeperParentFirst( // A
	t *testing.T,
) {
	t.Parallel()

	for _, reverse := range []bool{false, true} {
		// 0 doc, 1 r, 2 a, 3 b, 4 c
		doc := parse(t, `<r><a><b/></a><c/></r>`)
		into := InsertInto(doc, 2, clipOf(t, `<x/>`))
		before := InsertBefore(doc, 4, clipOf(t, `<y/>`))
		require.Equal(t, into.Location(), before.Location())

		if reverse {
			applyAll(t, doc, before, into)
		} else {
			applyAll(t, doc, into, before)
		}
		assert.Equal(t, `<r><a><b/><x/></a><y/><c/></r>`, xmlOf(t, doc), "reverse=%v", reverse)
	}
}

func TestReplaceRoundTrip( // A
	t *testing.T,
) {
	t.Parallel()

	cases := []struct {
		name, doc, want string
	}{
		{"in place", `<r><a><b/></a><c/></r>`, `<r><x><y>t</y></x><c/></r>`},
		{"namespaced target", `<r xmlns:p="urn:p"><a><b/></a><c/></r>`, `<r xmlns:p="urn:p"><x><y>t</y></x><c/></r>`},
	}
	for _, c := range cases {
		doc := parse(t, c.doc)
		rep := NewReplace(doc, 2, clipOf(t, `<x><y>t</y></x>`))
		assert.Equal(t, 1, rep.Shift(), c.name)
		applyAll(t, doc, rep, NewRename(doc, 4, []byte("c"), nil))

		var buf bytes.Buffer
		require.NoError(t, doc.SerializeRange(&buf, 2, 2+doc.SizeOf(2)))
		assert.Equal(t, `<x><y>t</y></x>`, buf.String(), c.name)
		assert.Equal(t, c.want, xmlOf(t, doc), c.name)
	}

	doc := parse(t, `<r><a/></r>`)
	applyAll(t, doc, NewReplace(doc, 2, clipOf(t, `<q:x xmlns:q="urn:q"/>`)))
	assert.Equal(t, `<r><q:x xmlns:q="urn:q"/></r>`, xmlOf(t, doc))

	doc = parse(t, `<r a="1" b="2"><c/></r>`)
	applyAll(t, doc, NewReplace(doc, 2, attrsOf(t, "z", "9", "w", "8")))
	assert.Equal(t, `<r z="9" w="8" b="2"><c/></r>`, xmlOf(t, doc))

	doc = parse(t, `<r a="1"><c/></r>`)
	applyAll(t, doc, NewReplace(doc, 2, nodes.Clip{}))
	assert.Equal(t, `<r><c/></r>`, xmlOf(t, doc))
}

func TestIdempotentRename( // A
	t *testing.T,
) {
	t.Parallel()

	doc := parse(t, `<r><a>t</a></r>`)
	before := xmlOf(t, doc)
	ren := NewRename(doc, 2, []byte("a"), nil)
	assert.Equal(t, 0, ren.Shift())

	l := applyAll(t, doc, ren)
	assert.Equal(t, before, xmlOf(t, doc))
	assert.Equal(t, 0, l.Stats().Repaired)
}

func TestNamespacedRenameRoundTrip( // A
	t *testing.T,
) {
	t.Parallel()

	reparse := func(doc *table.Table) *table.Table {
		back := parse(t, xmlOf(t, doc))
		assert.Equal(t, xmlOf(t, doc), xmlOf(t, back))
		return back
	}

	doc := parse(t, `<r><a/></r>`)
	applyAll(t, doc, NewRename(doc, 2, []byte("p:x"), []byte("urn:p")))
	assert.Equal(t, `<r><p:x xmlns:p="urn:p"/></r>`, xmlOf(t, doc))
	assert.Equal(t, "urn:p", string(reparse(doc).URI(2)))

	doc = parse(t, `<r><a k="1"/></r>`)
	applyAll(t, doc, NewRename(doc, 3, []byte("q:k"), []byte("urn:q")))
	assert.Equal(t, `<r><a xmlns:q="urn:q" q:k="1"/></r>`, xmlOf(t, doc))
	assert.Equal(t, "urn:q", string(reparse(doc).URI(3)))

	doc = parse(t, `<r xmlns:p="urn:p"><a/></r>`)
	applyAll(t, doc, NewRename(doc, 2, []byte("p:a"), nil))
	assert.Equal(t, `<r xmlns:p="urn:p"><p:a/></r>`, xmlOf(t, doc))
	assert.Equal(t, 1, doc.NamespaceCount())
	assert.Equal(t, "urn:p", string(reparse(doc).URI(2)))

	doc = parse(t, `<r><a k="1">t</a></r>`)
	applyAll(t, doc, NewRename(doc, 2, []byte("a"), []byte("urn:d")))
	assert.Equal(t, `<r><a xmlns="urn:d" k="1">t</a></r>`, xmlOf(t, doc))
	back := reparse(doc)
	assert.Equal(t, "urn:d", string(back.URI(2)))
	assert.Empty(t, back.URI(3))
}

func TestConflictingRenameAbortsBatch( // A
	t *testing.T,
) {
	t.Parallel()

	for _, tc := range []struct {
		doc  string
		pre  int
		name string
		uri  string
	}{
		{`<r xmlns:p="urn:p"><a><p:c/></a></r>`, 2, "p:a", "urn:other"},
		{`<r><a/></r>`, 2, "p:a", ""},
		{`<r><a k="1"/></r>`, 3, "k", "urn:k"},
		{`<r><a xmlns:p="urn:p" p:k="1"/></r>`, 2, "p:a", "urn:q"},
		{`<r><a><b/></a></r>`, 2, "a", "urn:d"},
	} {
		doc := parse(t, tc.doc)
		before := xmlOf(t, doc)
		l := newList()
		l.Add(NewRename(doc, tc.pre, []byte(tc.name), []byte(tc.uri)))
		err := l.Apply(doc)
		assert.ErrorIs(t, err, ErrBatchAborted, tc.doc)
		assert.ErrorIs(t, err, table.ErrInvalidTarget, tc.doc)
		assert.Equal(t, before, xmlOf(t, doc), tc.doc)
	}
}

func TestEmptyBatch( // A
	t *testing.T,
) {
	t.Parallel()

	doc := parse(t, `<r/>`)
	l := newList()
	require.NoError(t, l.Apply(doc))
	assert.Equal(t, Stats{}, l.Stats())
	assert.Equal(t, `<r/>`, xmlOf(t, doc))

	assert.Panics(t, func() { l.Apply(doc) })
}

func TestProgrammingErrorsPanic( // A
	t *testing.T,
) {
	t.Parallel()

	doc := parse(t, `<r/>`)
	assert.Panics(t, func() { NewRename(doc, 1, nil, nil) })

	l := newList()
	assert.Panics(t, func() { l.Add(nil) })
	l.Add(NewRename(doc, 1, []byte("s"), nil))
	l.Plan()
	assert.Panics(t, func() { l.Add(NewRename(doc, 1, []byte("t"), nil)) })

	// a planned list can still be applied
	require.NoError(t, l.Apply(doc))
	assert.Equal(t, `<s/>`, xmlOf(t, doc))
}

// failingStore fails every delete.
type failingStore struct {
	*table.Table
	err error
}

func (s *failingStore) Delete(int) error { return s.err }

func TestStoreFailureAbortsBatch( // A
	t *testing.T,
) {
	t.Parallel()

	// 0 doc, 1 r, 2 a, 3 b, 4 c
	doc := parse(t, `<r><a/><b/><c/></r>`)
	disk := errors.New("disk failure")
	s := &failingStore{Table: doc, err: disk}

	l := newList()
	l.Add(NewRename(doc, 2, []byte("never"), nil))
	l.Add(NewDelete(doc, 3))
	l.Add(NewRename(doc, 4, []byte("cc"), nil))

	err := l.Apply(s)
	require.ErrorIs(t, err, ErrBatchAborted)
	assert.ErrorIs(t, err, disk)
	assert.Equal(t, 1, l.Stats().Applied)
	assert.Equal(t, "cc", string(doc.Name(4)))
	assert.Equal(t, "a", string(doc.Name(2)))
}

func TestClipFromTargetIsRejected( // A
	t *testing.T,
) {
	t.Parallel()

	doc := parse(t, `<r><a/></r>`)
	l := newList()
	l.Add(NewRename(doc, 2, []byte("b"), nil))
	l.Add(InsertInto(doc, 1, nodes.NewClip(doc, 2, 3)))

	err := l.Apply(doc)
	assert.ErrorIs(t, err, ErrClipAliasesTarget)
	assert.Equal(t, `<r><a/></r>`, xmlOf(t, doc))
}

// view reads through to a table without embedding it.
type view struct {
	nodes.Source
}

func (v view) Unwrap() nodes.Source { return v.Source }

func TestClipThroughWrapperIsRejected( // A
	t *testing.T,
) {
	t.Parallel()

	doc := parse(t, `<r><a/></r>`)
	wrapped := &failingStore{Table: doc, err: errors.New("unused")}

	l := newList()
	l.Add(InsertInto(doc, 1, nodes.NewClip(doc, 2, 3)))
	assert.ErrorIs(t, l.Apply(wrapped), ErrClipAliasesTarget)

	l = newList()
	l.Add(InsertInto(doc, 1, nodes.NewClip(view{doc}, 2, 3)))
	assert.ErrorIs(t, l.Apply(doc), ErrClipAliasesTarget)
	assert.Equal(t, `<r><a/></r>`, xmlOf(t, doc))

	other := parse(t, `<r><a/></r>`)
	l = newList()
	l.Add(InsertInto(doc, 1, nodes.NewClip(view{other}, 2, 3)))
	require.NoError(t, l.Apply(wrapped))
	assert.Equal(t, `<r><a/><a/></r>`, xmlOf(t, doc))
}

func TestPlacementHelpers( // A
	t *testing.T,
) {
	t.Parallel()

	// 0 doc, 1 r, 2 @k, 3 a, 4 t
	doc := parse(t, `<r k="v"><a>t</a></r>`)
	clip := clipOf(t, `<x/>`)

	assert.Equal(t, NewInsert(5, 1, clip), InsertInto(doc, 1, clip))
	assert.Equal(t, InsertInto(doc, 1, clip), InsertIntoLast(doc, 1, clip))
	assert.Equal(t, NewInsert(3, 1, clip), InsertIntoFirst(doc, 1, clip))
	assert.Equal(t, NewInsert(3, 1, clip), InsertBefore(doc, 3, clip))
	assert.Equal(t, NewInsert(5, 1, clip), InsertAfter(doc, 3, clip))
	assert.Equal(t, 3, InsertAttributes(doc, 1, clip).Location())

	assert.True(t, NewDelete(doc, 3).Destructive())
	assert.Equal(t, 2, NewDelete(doc, 3).Span())
	assert.Equal(t, -1, NewUpdateValue(doc, 4, nil).AffectedFrom())
	parent, ok := InsertAfter(doc, 3, clip).Parent()
	assert.True(t, ok)
	assert.Equal(t, 1, parent)
	assert.Contains(t, NewDelete(doc, 3).String(), "delete(3")
}
