package replication

import (
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTransactionPayload(t *testing.T, inner []byte, compress bool) []byte {
	payload := inner
	compression := byte(TransactionPayloadCompressionNone)

	if compress {
		enc, err := zstd.NewWriter(nil)
		require.NoError(t, err)
		payload = enc.EncodeAll(inner, nil)
		require.NoError(t, enc.Close())
		compression = byte(TransactionPayloadCompressionZstd)
	}

	body := []byte{
		byte(TransactionPayloadCOMPRESSION_TYPE), 0x01, compression,
		byte(TransactionPayloadUNCOMPRESSED_SIZE), 0x01, byte(len(inner)),
		byte(TransactionPayloadPAYLOAD_SIZE), 0x01, byte(len(payload)),
		byte(TransactionPayloadOTW_END),
	}
	return append(body, payload...)
}

func TestTransactionPayloadEvent(t *testing.T) {
	for _, compress := range []bool{false, true} {
		p := newTestParser(t, BINLOG_CHECKSUM_ALG_CRC32)

		// inner events never carry a checksum, whatever the outer stream uses
		var inner []byte
		inner = append(inner, buildRawEvent(TABLE_MAP_EVENT, tableMapBody())...)
		inner = append(inner, buildRawEvent(WRITE_ROWS_EVENTv1, []byte{
			0x2a, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x01, 0x00,
			0x02,
			0x03,
			0x00,
			0x05, 0x00, 0x01,
		})...)

		e := p.newTransactionPayloadEvent()
		require.NoError(t, e.Decode(buildTransactionPayload(t, inner, compress)))

		require.Len(t, e.Events, 2)
		assert.Equal(t, TABLE_MAP_EVENT, e.Events[0].Header.EventType)
		assert.Equal(t, WRITE_ROWS_EVENTv1, e.Events[1].Header.EventType)

		re, ok := e.Events[1].Event.(*RowsEvent)
		require.True(t, ok)
		assert.Equal(t, []interface{}{int8(5), int16(256)}, re.Rows[0])

		// wrapped events are flagged so downstream filters can tell
		assert.NotZero(t, e.Events[0].Header.Flags&LOG_EVENT_IGNORABLE_F)
	}
}

func TestTransactionPayloadUnknownCompression(t *testing.T) {
	p := newTestParser(t, BINLOG_CHECKSUM_ALG_OFF)

	body := []byte{
		byte(TransactionPayloadCOMPRESSION_TYPE), 0x01, 0x09,
		byte(TransactionPayloadOTW_END),
	}

	e := p.newTransactionPayloadEvent()
	err := e.Decode(body)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported compression type")
}
