package replication

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pingcap/errors"

	"github.com/kasuganosora/binlogstream/mysql"
)

// TransactionPayloadEvent wraps a whole compressed transaction. Decode
// inflates the payload and parses the contained events into Events; the
// consumer sees them instead of the wrapper.
type TransactionPayloadEvent struct {
	parser           *BinlogParser
	Size             uint64
	UncompressedSize uint64
	CompressionType  uint64
	Payload          []byte
	Events           []*BinlogEvent
}

func (p *BinlogParser) newTransactionPayloadEvent() *TransactionPayloadEvent {
	return &TransactionPayloadEvent{parser: p}
}

func (e *TransactionPayloadEvent) compressionType() string {
	switch e.CompressionType {
	case TransactionPayloadCompressionZstd:
		return "ZSTD"
	case TransactionPayloadCompressionNone:
		return "NONE"
	default:
		return "Unknown"
	}
}

func (e *TransactionPayloadEvent) Dump(w io.Writer) {
	fmt.Fprintf(w, "Payload size: %d\n", e.Size)
	fmt.Fprintf(w, "Payload uncompressed size: %d\n", e.UncompressedSize)
	fmt.Fprintf(w, "Payload compression type: %s\n", e.compressionType())
	fmt.Fprintf(w, "Payload events count: %d\n", len(e.Events))
	fmt.Fprintln(w)
}

func (e *TransactionPayloadEvent) Decode(data []byte) error {
	if err := e.decodeFields(data); err != nil {
		return err
	}
	return e.decodePayload()
}

// decodeFields walks the type-length-value header in front of the
// compressed payload.
func (e *TransactionPayloadEvent) decodeFields(data []byte) error {
	offset := uint64(0)

	for {
		fieldType := mysql.FixedLengthInt(data[offset : offset+1])
		offset++

		if fieldType == TransactionPayloadOTW_END {
			e.Payload = data[offset:]
			break
		}

		fieldLength := mysql.FixedLengthInt(data[offset : offset+1])
		offset++

		switch fieldType {
		case TransactionPayloadPAYLOAD_SIZE:
			e.Size = mysql.FixedLengthInt(data[offset : offset+fieldLength])
		case TransactionPayloadCOMPRESSION_TYPE:
			e.CompressionType = mysql.FixedLengthInt(data[offset : offset+fieldLength])
		case TransactionPayloadUNCOMPRESSED_SIZE:
			e.UncompressedSize = mysql.FixedLengthInt(data[offset : offset+fieldLength])
		}

		offset += fieldLength
	}

	return nil
}

func (e *TransactionPayloadEvent) decodePayload() error {
	var payloadUncompressed []byte

	switch e.CompressionType {
	case TransactionPayloadCompressionZstd:
		decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
		if err != nil {
			return errors.Trace(err)
		}
		defer decoder.Close()

		payloadUncompressed, err = decoder.DecodeAll(e.Payload, nil)
		if err != nil {
			return errors.Trace(err)
		}
	case TransactionPayloadCompressionNone:
		payloadUncompressed = e.Payload
	default:
		return errors.Errorf("transaction payload event has unsupported compression type %d", e.CompressionType)
	}

	// The wrapped events carry no checksum whatever the outer stream
	// uses, so they go through a scratch parser that inherits the format
	// description but has checksums off. e.parser must stay untouched,
	// it is still decoding the outer stream.
	parser := NewBinlogParser()
	parser.format = &FormatDescriptionEvent{
		Version:                e.parser.format.Version,
		ServerVersion:          e.parser.format.ServerVersion,
		CreateTimestamp:        e.parser.format.CreateTimestamp,
		EventHeaderLength:      e.parser.format.EventHeaderLength,
		EventTypeHeaderLengths: e.parser.format.EventTypeHeaderLengths,
		ChecksumAlgorithm:      BINLOG_CHECKSUM_ALG_OFF,
	}
	parser.flavor = e.parser.flavor
	parser.tables = e.parser.tables
	parser.parseTime = e.parser.parseTime
	parser.timestampStringLocation = e.parser.timestampStringLocation
	parser.useDecimal = e.parser.useDecimal
	parser.ignoreJSONDecodeErr = e.parser.ignoreJSONDecodeErr

	offset := uint32(0)
	for {
		payloadUncompressedLength := uint32(len(payloadUncompressed))
		if offset+13 > payloadUncompressedLength {
			break
		}
		eventLength := binary.LittleEndian.Uint32(payloadUncompressed[offset+9 : offset+13])
		if offset+eventLength > payloadUncompressedLength {
			return errors.Errorf("event length of %d with offset %d in uncompressed payload exceeds payload length of %d",
				eventLength, offset, payloadUncompressedLength)
		}
		data := payloadUncompressed[offset : offset+eventLength]

		pe, err := parser.Parse(data)
		if err != nil {
			return errors.Trace(err)
		}
		pe.Header.Flags |= LOG_EVENT_IGNORABLE_F
		e.Events = append(e.Events, pe)

		offset += eventLength
	}

	return nil
}
