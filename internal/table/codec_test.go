package table

import (
	"bytes"
	"strings"
	"testing"

	"github.com/i5heu/ouroboros-xmldb/internal/nodes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestMarshalRoundTrip( // A
	t *testing.T,
) {
	t.Parallel()

	doc := mustParse(t, `<r xmlns:p="urn:p" a="1"><p:b>t</p:b><!--c--><?pi x?></r>`)
	got, err := Unmarshal(Marshal(doc))
	require.NoError(t, err)

	require.Equal(t, doc.Size(), got.Size())
	for pre := 0; pre < doc.Size(); pre++ {
		assert.Equal(t, doc.Kind(pre), got.Kind(pre))
		assert.Equal(t, doc.Dist(pre), got.Dist(pre))
		assert.Equal(t, doc.SizeOf(pre), got.SizeOf(pre))
		assert.Equal(t, doc.AttSize(pre), got.AttSize(pre))
		assert.Equal(t, string(doc.Name(pre)), string(got.Name(pre)))
		assert.Equal(t, string(doc.URI(pre)), string(got.URI(pre)))
		assert.Equal(t, string(doc.Value(pre)), string(got.Value(pre)))
	}
	assert.Equal(t, xmlOf(t, doc), xmlOf(t, got))
	assert.Equal(t, 1, got.NamespaceCount())

	empty, err := Unmarshal(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Size())
}

func TestUnmarshalRejectsCorruptInput( // A
	t *testing.T,
) {
	t.Parallel()

	_, err := Unmarshal([]byte{0xff})
	assert.ErrorIs(t, err, ErrCorrupt)

	data := Marshal(mustParse(t, `<r><a/></r>`))
	_, err = Unmarshal(data[:len(data)-1])
	assert.ErrorIs(t, err, ErrCorrupt)

	stale := mustParse(t, `<r><a/><b/><c/></r>`)
	require.NoError(t, stale.Insert(2, 1, mustFragment(t, `<x/>`)))
	_, err = Unmarshal(Marshal(stale))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestUnmarshalRejectsStrayNamespaces( // A
	t *testing.T,
) {
	t.Parallel()

	withNamespace := func(data []byte, pre uint64) []byte {
		msg := protowire.AppendTag(nil, fieldNsPre, protowire.VarintType)
		msg = protowire.AppendVarint(msg, pre)
		msg = protowire.AppendTag(msg, fieldNsPrefix, protowire.BytesType)
		msg = protowire.AppendBytes(msg, []byte("p"))
		data = protowire.AppendTag(data, fieldTableNamespace, protowire.BytesType)
		return protowire.AppendBytes(data, msg)
	}

	// 0 doc, 1 r, 2 text
	data := Marshal(mustParse(t, `<r>t</r>`))

	_, err := Unmarshal(withNamespace(data, 1))
	assert.NoError(t, err)

	for _, pre := range []uint64{0, 2, 3, 99, 1 << 63} {
		_, err := Unmarshal(withNamespace(data, pre))
		assert.ErrorIs(t, err, ErrCorrupt, "namespace at %d", pre)
	}

	ordered := Marshal(mustParse(t, `<r xmlns:a="urn:a"><b xmlns:c="urn:c"/></r>`))
	_, err = Unmarshal(withNamespace(ordered, 1))
	assert.ErrorIs(t, err, ErrCorrupt, "out of order")
}

func TestSerializeEscaping( // A
	t *testing.T,
) {
	t.Parallel()

	b := NewBuilder()
	b.OpenElement([]byte("a"), nil)
	require.NoError(t, b.Attribute([]byte("q"), nil, []byte(`x"<y`)))
	b.Text([]byte("1 < 2 & 3"))
	require.NoError(t, b.Close())
	doc, err := b.Table()
	require.NoError(t, err)

	assert.Equal(t, `<a q="x&#34;&lt;y">1 &lt; 2 &amp; 3</a>`, xmlOf(t, doc))

	back, err := ParseFragment(xmlOf(t, doc))
	require.NoError(t, err)
	assert.Equal(t, `x"<y`, string(back.Value(1)))
	assert.Equal(t, "1 < 2 & 3", string(back.Value(2)))
}

func TestSerializeRange( // A
	t *testing.T,
) {
	t.Parallel()

	doc := mustParse(t, `<r><a>1</a><b/></r>`)
	var buf bytes.Buffer
	require.NoError(t, doc.SerializeRange(&buf, 2, 5))
	assert.Equal(t, `<a>1</a><b/>`, buf.String())

	assert.ErrorIs(t, doc.SerializeRange(&buf, 3, 9), ErrOutOfRange)

	attrs, err := Attributes("k", "v")
	require.NoError(t, err)
	assert.Equal(t, `k="v"`, xmlOf(t, attrs))
}

func TestParseHTML( // A
	t *testing.T,
) {
	t.Parallel()

	doc, err := ParseHTML(strings.NewReader(`<!DOCTYPE html><title>T</title><p id=x>a<!--c--><b>b</b>`), Options{Name: "page"})
	require.NoError(t, err)
	require.NoError(t, doc.Verify())

	assert.Equal(t, nodes.Document, doc.Kind(0))
	assert.Equal(t, "page", string(doc.Value(0)))
	assert.Equal(t, `<html><head><title>T</title></head><body><p id="x">a<!--c--><b>b</b></p></body></html>`, xmlOf(t, doc))

	_, err = ParseHTML(strings.NewReader("<p>\n  <b>x</b>\n</p>"), Options{KeepWhitespace: true})
	require.NoError(t, err)
}
