package replication

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/binlogstream/mysql"
)

// buildRawEvent frames a body with a v4 event header.
func buildRawEvent(tp EventType, body []byte) []byte {
	raw := make([]byte, EventHeaderSize+len(body))
	binary.LittleEndian.PutUint32(raw[0:], 1661990400) // timestamp
	raw[4] = byte(tp)
	binary.LittleEndian.PutUint32(raw[5:], 100) // server id
	binary.LittleEndian.PutUint32(raw[9:], uint32(len(raw)))
	binary.LittleEndian.PutUint32(raw[13:], 0) // log pos
	binary.LittleEndian.PutUint16(raw[17:], 0) // flags
	copy(raw[EventHeaderSize:], body)
	return raw
}

// buildFormatDescription builds an FDE body for a 5.7.30 server with every
// post-header length set to 8 and the given checksum algorithm.
func buildFormatDescription(alg byte) []byte {
	body := make([]byte, 2+50+4+1+40+1+4)
	binary.LittleEndian.PutUint16(body, 4)
	copy(body[2:], "5.7.30-log")
	// create timestamp left zero
	body[56] = EventHeaderSize
	for i := 0; i < 40; i++ {
		body[57+i] = 8
	}
	body[97] = alg
	return body
}

func newTestParser(t *testing.T, alg byte) *BinlogParser {
	p := NewBinlogParser()
	p.SetFlavor(mysql.MySQLFlavor)

	ev, err := p.Parse(buildRawEvent(FORMAT_DESCRIPTION_EVENT, buildFormatDescription(alg)))
	require.NoError(t, err)

	fde, ok := ev.Event.(*FormatDescriptionEvent)
	require.True(t, ok)
	require.Equal(t, alg, fde.ChecksumAlgorithm)
	return p
}

func TestParserFormatDescription(t *testing.T) {
	p := newTestParser(t, BINLOG_CHECKSUM_ALG_OFF)

	require.NotNil(t, p.format)
	assert.Equal(t, uint16(4), p.format.Version)
	assert.Equal(t, "5.7.30-log", p.format.ServerVersion)
	assert.Equal(t, uint8(8), p.format.EventTypeHeaderLengths[TABLE_MAP_EVENT-1])
}

func TestParserTableMapAndRows(t *testing.T) {
	p := newTestParser(t, BINLOG_CHECKSUM_ALG_OFF)

	ev, err := p.Parse(buildRawEvent(TABLE_MAP_EVENT, tableMapBody()))
	require.NoError(t, err)

	tm, ok := ev.Event.(*TableMapEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(42), tm.TableID)
	assert.Contains(t, p.tables, uint64(42))

	rowsBody := []byte{
		0x2a, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x01, 0x00, // STMT_END
		0x02,
		0x03,
		0x00,
		0x05, 0x00, 0x01,
	}
	ev, err = p.Parse(buildRawEvent(WRITE_ROWS_EVENTv1, rowsBody))
	require.NoError(t, err)

	re, ok := ev.Event.(*RowsEvent)
	require.True(t, ok)
	require.Len(t, re.Rows, 1)
	assert.Equal(t, []interface{}{int8(5), int16(256)}, re.Rows[0])

	// the statement end flag releases the cached table maps
	assert.Empty(t, p.tables)
}

func TestParserMissingTableMap(t *testing.T) {
	p := newTestParser(t, BINLOG_CHECKSUM_ALG_OFF)

	rowsBody := []byte{
		0x2a, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x01, 0x00,
		0x02,
		0x03,
	}
	_, err := p.Parse(buildRawEvent(WRITE_ROWS_EVENTv1, rowsBody))
	require.Error(t, err)
	assert.Equal(t, ErrMissingTableMapEvent, errors.Cause(err))

	// the streaming reader skips such events instead of failing
	var got []EventType
	r := bytes.NewReader(buildRawEvent(WRITE_ROWS_EVENTv1, rowsBody))
	err = p.ParseReader(r, func(e *BinlogEvent) error {
		got = append(got, e.Header.EventType)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParserChecksum(t *testing.T) {
	p := newTestParser(t, BINLOG_CHECKSUM_ALG_CRC32)
	p.SetVerifyChecksum(true)

	body := make([]byte, 8+len("mysql-bin.000002"))
	binary.LittleEndian.PutUint64(body, 4)
	copy(body[8:], "mysql-bin.000002")
	body = append(body, 0, 0, 0, 0) // checksum placeholder

	raw := buildRawEvent(ROTATE_EVENT, body)
	sum := crc32.ChecksumIEEE(raw[:len(raw)-BinlogChecksumLength])
	binary.LittleEndian.PutUint32(raw[len(raw)-BinlogChecksumLength:], sum)

	ev, err := p.Parse(raw)
	require.NoError(t, err)

	rot, ok := ev.Event.(*RotateEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(4), rot.Position)
	assert.Equal(t, "mysql-bin.000002", string(rot.NextLogName))

	raw[EventHeaderSize] ^= 0xff
	_, err = p.Parse(raw)
	require.Error(t, err)
	assert.Equal(t, mysql.ErrChecksumMismatch, errors.Cause(err))
}

func TestParserRawMode(t *testing.T) {
	p := newTestParser(t, BINLOG_CHECKSUM_ALG_OFF)
	p.SetRawMode(true)

	body := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	ev, err := p.Parse(buildRawEvent(XID_EVENT, body))
	require.NoError(t, err)
	_, ok := ev.Event.(*GenericEvent)
	assert.True(t, ok)

	// rotate events keep the stream position even in raw mode
	rotBody := make([]byte, 8+5)
	binary.LittleEndian.PutUint64(rotBody, 4)
	copy(rotBody[8:], "b.002")
	ev, err = p.Parse(buildRawEvent(ROTATE_EVENT, rotBody))
	require.NoError(t, err)
	_, ok = ev.Event.(*RotateEvent)
	assert.True(t, ok)
}

func TestParseReader(t *testing.T) {
	p := newTestParser(t, BINLOG_CHECKSUM_ALG_OFF)

	var stream bytes.Buffer
	xid := make([]byte, 8)
	binary.LittleEndian.PutUint64(xid, 77)
	stream.Write(buildRawEvent(XID_EVENT, xid))
	stream.Write(buildRawEvent(TABLE_MAP_EVENT, tableMapBody()))

	var types []EventType
	err := p.ParseReader(&stream, func(e *BinlogEvent) error {
		types = append(types, e.Header.EventType)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []EventType{XID_EVENT, TABLE_MAP_EVENT}, types)
}

func TestParserStop(t *testing.T) {
	p := newTestParser(t, BINLOG_CHECKSUM_ALG_OFF)
	p.Stop()

	var stream bytes.Buffer
	stream.Write(buildRawEvent(XID_EVENT, make([]byte, 8)))

	count := 0
	err := p.ParseReader(&stream, func(e *BinlogEvent) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, count)

	p.Resume()
	err = p.ParseReader(&stream, func(e *BinlogEvent) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestParserRowsEventDecodeFunc(t *testing.T) {
	p := newTestParser(t, BINLOG_CHECKSUM_ALG_OFF)

	_, err := p.Parse(buildRawEvent(TABLE_MAP_EVENT, tableMapBody()))
	require.NoError(t, err)

	called := false
	p.SetRowsEventDecodeFunc(func(re *RowsEvent, data []byte) error {
		called = true
		// decode only the header, skipping the row images
		_, err := re.DecodeHeader(data)
		return err
	})

	rowsBody := []byte{
		0x2a, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00,
		0x02,
		0x03,
		0x00,
		0x05, 0x00, 0x01,
	}
	ev, err := p.Parse(buildRawEvent(WRITE_ROWS_EVENTv1, rowsBody))
	require.NoError(t, err)
	require.True(t, called)

	re := ev.Event.(*RowsEvent)
	assert.Equal(t, "t", string(re.Table.Table))
	assert.Empty(t, re.Rows)
}
