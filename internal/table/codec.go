package table

import (
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-xmldb/internal/nodes"
	"google.golang.org/protobuf/encoding/protowire"
)

// Wire layout, protobuf compatible:
//
//	message Table     { repeated Row rows = 1; repeated Namespace ns = 2; }
//	message Row       { uint32 kind = 1; uint64 dist = 2; uint64 size = 3;
//	                    uint64 asize = 4; bytes name = 5; bytes uri = 6;
//	                    bytes value = 7; }
//	message Namespace { uint64 pre = 1; bytes prefix = 2; bytes uri = 3; }
const (
	fieldTableRow       protowire.Number = 1
	fieldTableNamespace protowire.Number = 2

	fieldRowKind  protowire.Number = 1
	fieldRowDist  protowire.Number = 2
	fieldRowSize  protowire.Number = 3
	fieldRowASize protowire.Number = 4
	fieldRowName  protowire.Number = 5
	fieldRowURI   protowire.Number = 6
	fieldRowValue protowire.Number = 7

	fieldNsPre    protowire.Number = 1
	fieldNsPrefix protowire.Number = 2
	fieldNsURI    protowire.Number = 3
)

var ErrCorrupt = errors.New("table: corrupt encoding")

// Marshal encodes the table.
func Marshal(t *Table) []byte {
	var out, msg []byte
	for _, r := range t.rows {
		msg = msg[:0]
		msg = protowire.AppendTag(msg, fieldRowKind, protowire.VarintType)
		msg = protowire.AppendVarint(msg, uint64(r.kind))
		msg = protowire.AppendTag(msg, fieldRowDist, protowire.VarintType)
		msg = protowire.AppendVarint(msg, uint64(r.dist))
		msg = protowire.AppendTag(msg, fieldRowSize, protowire.VarintType)
		msg = protowire.AppendVarint(msg, uint64(r.size))
		msg = protowire.AppendTag(msg, fieldRowASize, protowire.VarintType)
		msg = protowire.AppendVarint(msg, uint64(r.asize))
		msg = appendBytesField(msg, fieldRowName, r.name)
		msg = appendBytesField(msg, fieldRowURI, r.uri)
		msg = appendBytesField(msg, fieldRowValue, r.value)

		out = protowire.AppendTag(out, fieldTableRow, protowire.BytesType)
		out = protowire.AppendBytes(out, msg)
	}
	for _, n := range t.ns {
		msg = msg[:0]
		msg = protowire.AppendTag(msg, fieldNsPre, protowire.VarintType)
		msg = protowire.AppendVarint(msg, uint64(n.Pre))
		msg = appendBytesField(msg, fieldNsPrefix, n.Prefix)
		msg = appendBytesField(msg, fieldNsURI, n.URI)

		out = protowire.AppendTag(out, fieldTableNamespace, protowire.BytesType)
		out = protowire.AppendBytes(out, msg)
	}
	return out
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// Unmarshal decodes a table produced by Marshal and verifies its structure.
func Unmarshal(data []byte) (*Table, error) {
	t := New()
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType || (num != fieldTableRow && num != fieldTableNamespace) {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		msg, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		if num == fieldTableRow {
			r, err := unmarshalRow(msg)
			if err != nil {
				return 0, err
			}
			t.rows = append(t.rows, r)
		} else {
			ns, err := unmarshalNamespace(msg)
			if err != nil {
				return 0, err
			}
			t.ns = append(t.ns, ns)
		}
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	if err := t.Verify(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return t, nil
}

func unmarshalRow(data []byte) (row, error) {
	var r row
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case typ == protowire.VarintType && num <= fieldRowASize:
			v, n := protowire.ConsumeVarint(b)
			switch num {
			case fieldRowKind:
				r.kind = nodes.Kind(v)
			case fieldRowDist:
				r.dist = int(v)
			case fieldRowSize:
				r.size = int(v)
			case fieldRowASize:
				r.asize = int(v)
			}
			return n, nil
		case typ == protowire.BytesType && num >= fieldRowName && num <= fieldRowValue:
			v, n := protowire.ConsumeBytes(b)
			v = append([]byte(nil), v...)
			switch num {
			case fieldRowName:
				r.name = v
			case fieldRowURI:
				r.uri = v
			case fieldRowValue:
				r.value = v
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return r, err
}

func unmarshalNamespace(data []byte) (nodes.Namespace, error) {
	var ns nodes.Namespace
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldNsPre && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			ns.Pre = int(v)
			return n, nil
		case (num == fieldNsPrefix || num == fieldNsURI) && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			v = append([]byte(nil), v...)
			if num == fieldNsPrefix {
				ns.Prefix = v
			} else {
				ns.URI = v
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return ns, err
}

// consumeFields walks the fields of one message. fn returns the number of
// value bytes it consumed, negative on malformed input.
func consumeFields(data []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		data = data[n:]
		m, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(m))
		}
		data = data[m:]
	}
	return nil
}
