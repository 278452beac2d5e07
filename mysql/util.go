package mysql

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/pingcap/errors"
)

// LengthEncodedInt reads a length-encoded integer: values below 0xfb are
// stored in one byte, 0xfc/0xfd/0xfe prefix 2/3/8 byte little-endian values
// and 0xfb denotes NULL.
func LengthEncodedInt(b []byte) (num uint64, isNull bool, n int) {
	if len(b) == 0 {
		return 0, true, 1
	}

	switch b[0] {
	case 0xfb:
		return 0, true, 1
	case 0xfc:
		return uint64(b[1]) | uint64(b[2])<<8, false, 3
	case 0xfd:
		return uint64(b[1]) | uint64(b[2])<<8 | uint64(b[3])<<16, false, 4
	case 0xfe:
		return binary.LittleEndian.Uint64(b[1:9]), false, 9
	}

	return uint64(b[0]), false, 1
}

// PutLengthEncodedInt appends the length-encoded form of n.
func PutLengthEncodedInt(n uint64) []byte {
	switch {
	case n <= 250:
		return []byte{byte(n)}
	case n <= 0xffff:
		return []byte{0xfc, byte(n), byte(n >> 8)}
	case n <= 0xffffff:
		return []byte{0xfd, byte(n), byte(n >> 8), byte(n >> 16)}
	default:
		return []byte{0xfe, byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24),
			byte(n >> 32), byte(n >> 40), byte(n >> 48), byte(n >> 56)}
	}
}

// LengthEncodedString reads a string prefixed by a length-encoded integer.
// Fails with ErrMalformedPacket when the declared length runs past the
// buffer.
func LengthEncodedString(b []byte) ([]byte, bool, int, error) {
	num, isNull, n := LengthEncodedInt(b)
	if num < 1 {
		return nil, isNull, n, nil
	}

	n += int(num)
	if len(b) >= n {
		return b[n-int(num) : n], false, n, nil
	}

	return nil, false, n, errors.Trace(ErrMalformedPacket)
}

// SkipLengthEncodedString returns the total size of a length-encoded string
// without materializing it.
func SkipLengthEncodedString(b []byte) (int, error) {
	num, _, n := LengthEncodedInt(b)
	if num < 1 {
		return n, nil
	}

	n += int(num)
	if len(b) >= n {
		return n, nil
	}
	return n, errors.Trace(ErrMalformedPacket)
}

// PutLengthEncodedString appends b with its length-encoded prefix.
func PutLengthEncodedString(b []byte) []byte {
	data := make([]byte, 0, len(b)+9)
	data = append(data, PutLengthEncodedInt(uint64(len(b)))...)
	data = append(data, b...)
	return data
}

// FixedLengthInt decodes a little-endian unsigned integer of 1 to 8 bytes.
func FixedLengthInt(buf []byte) uint64 {
	var num uint64
	for i, b := range buf {
		num |= uint64(b) << (uint(i) * 8)
	}
	return num
}

// BFixedLengthInt decodes a big-endian unsigned integer of 1 to 8 bytes.
func BFixedLengthInt(buf []byte) uint64 {
	var num uint64
	for i, b := range buf {
		num |= uint64(b) << (uint(len(buf)-i-1) * 8)
	}
	return num
}

// ParseBinary* decode little-endian fixed-width column values.

func ParseBinaryInt8(data []byte) int8 {
	return int8(data[0])
}

func ParseBinaryUint8(data []byte) uint8 {
	return data[0]
}

func ParseBinaryInt16(data []byte) int16 {
	return int16(binary.LittleEndian.Uint16(data))
}

func ParseBinaryUint16(data []byte) uint16 {
	return binary.LittleEndian.Uint16(data)
}

// ParseBinaryInt24 sign-extends a little-endian 24-bit value.
func ParseBinaryInt24(data []byte) int32 {
	u24 := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16
	if u24&0x00800000 != 0 {
		return int32(u24 | 0xff000000)
	}
	return int32(u24)
}

func ParseBinaryUint24(data []byte) uint32 {
	return uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16
}

func ParseBinaryInt32(data []byte) int32 {
	return int32(binary.LittleEndian.Uint32(data))
}

func ParseBinaryUint32(data []byte) uint32 {
	return binary.LittleEndian.Uint32(data)
}

func ParseBinaryInt64(data []byte) int64 {
	return int64(binary.LittleEndian.Uint64(data))
}

func ParseBinaryUint64(data []byte) uint64 {
	return binary.LittleEndian.Uint64(data)
}

func ParseBinaryFloat32(data []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(data))
}

func ParseBinaryFloat64(data []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(data))
}

// RandomBuf generates n random bytes in the printable ASCII range used for
// auth scrambles.
func RandomBuf(size int) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, errors.Trace(err)
	}
	// avoid NUL and '$' which terminate the scramble on some servers
	for i := range buf {
		buf[i] = buf[i]%94 + 33
	}
	return buf, nil
}

// GetNetProto splits "proto://addr" style addresses, defaulting to tcp, and
// treats addresses containing a path separator as unix sockets.
func GetNetProto(addr string) (proto string, address string) {
	if strings.Contains(addr, "/") {
		return "unix", addr
	}
	return "tcp", addr
}

// CompareServerVersions compares two server version strings of the form
// X.Y.Z[-suffix]; the suffix is ignored. Returns -1, 0 or 1.
func CompareServerVersions(a, b string) (int, error) {
	av, err := splitVersion(a)
	if err != nil {
		return 0, err
	}
	bv, err := splitVersion(b)
	if err != nil {
		return 0, err
	}

	for i := 0; i < 3; i++ {
		if av[i] < bv[i] {
			return -1, nil
		}
		if av[i] > bv[i] {
			return 1, nil
		}
	}
	return 0, nil
}

func splitVersion(v string) ([3]int, error) {
	var out [3]int

	// strip any trailing "-log", "-MariaDB", build metadata etc.
	if i := strings.IndexFunc(v, func(r rune) bool {
		return !unicode.IsDigit(r) && r != '.'
	}); i >= 0 {
		v = v[:i]
	}

	seps := strings.Split(v, ".")
	if len(seps) > 3 {
		return out, errors.Errorf("invalid server version %q", v)
	}

	for i, s := range seps {
		if s == "" {
			continue
		}
		x, err := strconv.Atoi(s)
		if err != nil {
			return out, errors.Errorf("invalid server version %q: %v", v, err)
		}
		out[i] = x
	}
	return out, nil
}

// Uint64ToBytes renders a little-endian uint64, used by GTID binary
// encoding.
func Uint64ToBytes(u uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], u)
	return b[:]
}
