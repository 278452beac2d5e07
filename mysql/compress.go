package mysql

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pingcap/errors"
)

var (
	zlibMagic = []byte{0x78}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// NewDecompressor wraps a compressed payload in a reader yielding the
// uncompressed stream. The codec is selected by the payload's magic prefix:
// zstd frames start with 0x28 0xB5 0x2F 0xFD, zlib streams with 0x78.
func NewDecompressor(data []byte) (io.Reader, error) {
	switch {
	case bytes.HasPrefix(data, zstdMagic):
		r, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return r.IOReadCloser(), nil
	case bytes.HasPrefix(data, zlibMagic):
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return r, nil
	default:
		return nil, errors.Errorf("unknown compression magic %x", data[:min(4, len(data))])
	}
}

// Decompress inflates a compressed payload selected by its magic prefix.
func Decompress(data []byte) ([]byte, error) {
	r, err := NewDecompressor(data)
	if err != nil {
		return nil, err
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return out, nil
}

// DecompressMariadbData inflates the payload of a MariaDB *_COMPRESSED
// binlog event. The first byte packs 0x80 plus the number of bytes holding
// the uncompressed length; the zlib stream follows.
func DecompressMariadbData(data []byte) ([]byte, error) {
	if len(data) == 0 || data[0]&0x80 == 0 {
		return nil, errors.Errorf("invalid mariadb compressed event header %x", data[:min(1, len(data))])
	}

	lenBytes := int(data[0] & 0x07)
	if len(data) < 1+lenBytes {
		return nil, errors.Trace(ErrMalformedPacket)
	}

	uncompressedLen := BFixedLengthInt(data[1 : 1+lenBytes])

	out, err := Decompress(data[1+lenBytes:])
	if err != nil {
		return nil, err
	}
	if uint64(len(out)) != uncompressedLen {
		return nil, errors.Errorf("uncompressed length mismatch, got %d, want %d", len(out), uncompressedLen)
	}
	return out, nil
}
