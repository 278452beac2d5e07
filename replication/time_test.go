package replication

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFracTimeString(t *testing.T) {
	base := time.Date(2021, 3, 4, 5, 6, 7, 123456000, time.UTC)

	cases := []struct {
		dec    int
		expect string
	}{
		{0, "2021-03-04 05:06:07"},
		{3, "2021-03-04 05:06:07.123"},
		{6, "2021-03-04 05:06:07.123456"},
	}

	for _, c := range cases {
		ft := fracTime{Time: base, Dec: c.dec}
		assert.Equal(t, c.expect, ft.String())
	}
}

func TestFormatZeroTime(t *testing.T) {
	assert.Equal(t, "0000-00-00 00:00:00", formatZeroTime(0, 0))
	assert.Equal(t, "0000-00-00 00:00:00.00", formatZeroTime(0, 2))
	assert.Equal(t, "0000-00-00 00:00:00.000000", formatZeroTime(0, 6))
}

func TestDecodeTimestamp2(t *testing.T) {
	// 2016-10-28 15:30:42 UTC
	sec := time.Date(2016, 10, 28, 15, 30, 42, 0, time.UTC).Unix()

	data := make([]byte, 7)
	binary.BigEndian.PutUint32(data, uint32(sec))

	v, n, err := decodeTimestamp2(data, 0, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	ft, ok := v.(fracTime)
	require.True(t, ok)
	assert.Equal(t, "2016-10-28 15:30:42", ft.String())

	// dec 4: two extra bytes of hundredths of milliseconds
	binary.BigEndian.PutUint16(data[4:], 1234) // 123400 usec
	v, n, err = decodeTimestamp2(data, 4, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	ft = v.(fracTime)
	assert.Equal(t, "2016-10-28 15:30:42.1234", ft.String())

	// zero stays the zero literal
	zero := make([]byte, 4)
	v, _, err = decodeTimestamp2(zero, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "0000-00-00 00:00:00", v)
}

func packDatetime2(year, month, day, hour, minute, second int) []byte {
	ym := year*13 + month
	ymd := int64(ym)<<5 | int64(day)
	hms := int64(hour)<<12 | int64(minute)<<6 | int64(second)
	intPart := ymd<<17 | hms

	data := make([]byte, 8)
	stored := uint64(intPart + DATETIMEF_INT_OFS)
	data[0] = byte(stored >> 32)
	data[1] = byte(stored >> 24)
	data[2] = byte(stored >> 16)
	data[3] = byte(stored >> 8)
	data[4] = byte(stored)
	return data
}

func TestDecodeDatetime2(t *testing.T) {
	data := packDatetime2(2016, 10, 28, 15, 30, 42)
	assert.Equal(t, []byte{0x99, 0x9a, 0xb8, 0xf7, 0xaa}, data[:5])

	v, n, err := decodeDatetime2(data, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	ft, ok := v.(fracTime)
	require.True(t, ok)
	assert.Equal(t, "2016-10-28 15:30:42", ft.String())

	// epoch and max supported datetime
	v, _, err = decodeDatetime2(packDatetime2(1970, 1, 1, 0, 0, 0), 0)
	require.NoError(t, err)
	assert.Equal(t, "1970-01-01 00:00:00", v.(fracTime).String())

	v, _, err = decodeDatetime2(packDatetime2(9999, 12, 31, 23, 59, 59), 0)
	require.NoError(t, err)
	assert.Equal(t, "9999-12-31 23:59:59", v.(fracTime).String())

	// pre-epoch datetimes render as strings without a time.Time trip
	v, _, err = decodeDatetime2(packDatetime2(1677, 9, 21, 0, 12, 43), 0)
	require.NoError(t, err)
	assert.Equal(t, "1677-09-21 00:12:43", v)

	// zero value is stored as the bare bias
	v, _, err = decodeDatetime2(packDatetime2(0, 0, 0, 0, 0, 0), 0)
	require.NoError(t, err)
	assert.Equal(t, "0000-00-00 00:00:00", v)
}

func packTime2(hour, minute, second int) []byte {
	intPart := int64(hour)<<12 | int64(minute)<<6 | int64(second)

	data := make([]byte, 6)
	stored := uint32(intPart + TIMEF_INT_OFS)
	data[0] = byte(stored >> 16)
	data[1] = byte(stored >> 8)
	data[2] = byte(stored)
	return data
}

func TestDecodeTime2(t *testing.T) {
	v, n, err := decodeTime2(packTime2(838, 59, 59), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "838:59:59", v)

	v, n, err = decodeTime2(packTime2(0, 0, 0), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "00:00:00", v)

	// fractional part, dec 2
	data := packTime2(1, 2, 3)
	data[3] = 45
	v, n, err = decodeTime2(data, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "01:02:03.45", v)

	// fractional part, dec 4 and dec 6
	data = packTime2(1, 2, 3)
	binary.BigEndian.PutUint16(data[3:], 4500)
	v, n, err = decodeTime2(data, 4)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "01:02:03.4500", v)

	data = packTime2(1, 2, 3)
	data[3], data[4], data[5] = 0x06, 0xdd, 0xd0 // 450000 usec
	v, n, err = decodeTime2(data, 6)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "01:02:03.450000", v)

	// negative time: stored value below the bias
	neg := int64(-((1 << 12) + (2 << 6) + 3)) // -01:02:03
	stored := uint32(neg + TIMEF_INT_OFS)
	data = []byte{byte(stored >> 16), byte(stored >> 8), byte(stored)}
	v, _, err = decodeTime2(data, 0)
	require.NoError(t, err)
	assert.Equal(t, "-01:02:03", v)

	neg = int64(-((838 << 12) + (59 << 6) + 59))
	stored = uint32(neg + TIMEF_INT_OFS)
	data = []byte{byte(stored >> 16), byte(stored >> 8), byte(stored)}
	v, _, err = decodeTime2(data, 0)
	require.NoError(t, err)
	assert.Equal(t, "-838:59:59", v)
}
