package snapshot

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz/lzma"
)

const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
	CompressionXZ   = "xz"
)

// Stored values start with a one byte codec tag so documents written with
// another compression setting stay readable.
const (
	tagNone byte = iota
	tagZstd
	tagLzma
)

func compress(method string, data []byte) ([]byte, error) {
	switch method {
	case CompressionNone:
		return append([]byte{tagNone}, data...), nil
	case CompressionZstd:
		out, err := compressWithZstd(data)
		if err != nil {
			return nil, err
		}
		return append([]byte{tagZstd}, out...), nil
	case CompressionXZ:
		out, err := compressWithLzma(data)
		if err != nil {
			return nil, err
		}
		return append([]byte{tagLzma}, out...), nil
	}
	return nil, fmt.Errorf("unknown compression %q", method)
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty stored value")
	}
	switch data[0] {
	case tagNone:
		return data[1:], nil
	case tagZstd:
		return decompressWithZstd(data[1:])
	case tagLzma:
		return decompressWithLzma(data[1:])
	}
	return nil, fmt.Errorf("unknown codec tag %d", data[0])
}

func compressWithZstd(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	_, err = enc.Write(data)
	if err != nil {
		return nil, err
	}
	err = enc.Close()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressWithZstd(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create Zstd reader: %w", err)
	}
	defer dec.Close()

	var buf bytes.Buffer
	_, err = io.Copy(&buf, dec)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress Zstd data: %w", err)
	}

	return buf.Bytes(), nil
}

func compressWithLzma(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	_, err = w.Write(data)
	if err != nil {
		return nil, err
	}

	err = w.Close()
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompressWithLzma(data []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
