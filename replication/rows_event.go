package replication

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/pingcap/errors"
	"github.com/sirupsen/logrus"

	"github.com/kasuganosora/binlogstream/mysql"
)

// ErrMissingTableMapEvent means a rows event referenced a table id the
// decoder has no table map for, usually because the stream was joined
// mid-transaction.
var ErrMissingTableMapEvent = errors.New("invalid table id, no corresponding table map event")

// RowImageType tells decodeImage which image of the row it is reading.
type RowImageType byte

const (
	RowImageTypeWriteAI = RowImageType(iota)
	RowImageTypeUpdateBI
	RowImageTypeUpdateAI
	RowImageTypeDeleteBI
)

// RowsEvent holds the decoded rows of a WRITE/UPDATE/DELETE rows event.
// For updates, before and after images alternate in Rows.
type RowsEvent struct {
	// Version is 0, 1 or 2 depending on the event type.
	Version int

	tableIDSize int
	tables      map[uint64]*TableMapEvent
	needBitmap2 bool

	// compressed is set for the MariaDB *_COMPRESSED_EVENT_V1 types.
	compressed bool

	eventType EventType

	Table *TableMapEvent

	TableID uint64

	Flags uint16

	// ExtraData is only present in v2 events.
	ExtraData []byte

	ColumnCount uint64

	// ColumnBitmap1 marks the columns present in the (first) image,
	// ColumnBitmap2 those of the after image of an update.
	// len = (ColumnCount + 7) / 8
	ColumnBitmap1 []byte
	ColumnBitmap2 []byte

	// Rows holds the decoded values; nil means the column was NULL. A
	// partially updated JSON column decodes to *JsonDiff instead of its
	// document.
	Rows [][]interface{}

	// SkippedColumns lists, per row, the column indexes absent from the
	// image.
	SkippedColumns [][]int

	parseTime               bool
	timestampStringLocation *time.Location
	useDecimal              bool
	ignoreJSONDecodeErr     bool
}

func (e *RowsEvent) Decode(data []byte) error {
	pos, err := e.DecodeHeader(data)
	if err != nil {
		return err
	}
	return e.DecodeData(pos, data)
}

func (e *RowsEvent) DecodeHeader(data []byte) (int, error) {
	pos := 0
	e.TableID = mysql.FixedLengthInt(data[0:e.tableIDSize])
	pos += e.tableIDSize

	e.Flags = binary.LittleEndian.Uint16(data[pos:])
	pos += 2

	if e.Version == 2 {
		dataLen := binary.LittleEndian.Uint16(data[pos:])
		pos += 2

		e.ExtraData = data[pos : pos+int(dataLen-2)]
		pos += int(dataLen - 2)
	}

	var n int
	e.ColumnCount, _, n = mysql.LengthEncodedInt(data[pos:])
	pos += n

	bitCount := bitmapByteSize(int(e.ColumnCount))
	e.ColumnBitmap1 = data[pos : pos+bitCount]
	pos += bitCount

	if e.needBitmap2 {
		e.ColumnBitmap2 = data[pos : pos+bitCount]
		pos += bitCount
	}

	var ok bool
	e.Table, ok = e.tables[e.TableID]
	if !ok {
		if len(e.tables) > 0 {
			return 0, errors.Errorf("invalid table id %d, no corresponding table map event", e.TableID)
		}
		return 0, errors.Annotatef(ErrMissingTableMapEvent, "table id %d", e.TableID)
	}
	return pos, nil
}

func (e *RowsEvent) DecodeData(pos int, data []byte) (err2 error) {
	if e.compressed {
		uncompressed, err := mysql.DecompressMariadbData(data[pos:])
		if err != nil {
			return errors.Trace(err)
		}
		data = uncompressed
		pos = 0
	}

	// Malformed rows payloads show up as slice overruns deep inside
	// decodeValue; turn the panic into an error carrying the context.
	defer func() {
		if r := recover(); r != nil {
			err2 = errors.Errorf("parse rows event panic %v, data %q, parsed rows %#v, table map %#v", r, data, e, e.Table)
		}
	}()

	var n int
	var err error

	rowsLen := 1
	if e.needBitmap2 {
		rowsLen++
	}

	e.SkippedColumns = make([][]int, 0, rowsLen)
	e.Rows = make([][]interface{}, 0, rowsLen)

	var rowImageType RowImageType
	switch e.eventType {
	case WRITE_ROWS_EVENTv0, WRITE_ROWS_EVENTv1, WRITE_ROWS_EVENTv2, MARIADB_WRITE_ROWS_COMPRESSED_EVENT_V1:
		rowImageType = RowImageTypeWriteAI
	case DELETE_ROWS_EVENTv0, DELETE_ROWS_EVENTv1, DELETE_ROWS_EVENTv2, MARIADB_DELETE_ROWS_COMPRESSED_EVENT_V1:
		rowImageType = RowImageTypeDeleteBI
	default:
		rowImageType = RowImageTypeUpdateBI
	}

	for pos < len(data) {
		if n, err = e.decodeImage(data[pos:], e.ColumnBitmap1, rowImageType); err != nil {
			return errors.Trace(err)
		}
		pos += n

		if e.needBitmap2 {
			if n, err = e.decodeImage(data[pos:], e.ColumnBitmap2, RowImageTypeUpdateAI); err != nil {
				return errors.Trace(err)
			}
			pos += n
		}
	}

	return nil
}

func isBitSet(bitmap []byte, i int) bool {
	return bitmap[i>>3]&(1<<(uint(i)&7)) > 0
}

func isBitSetIncr(bitmap []byte, i *int) bool {
	v := isBitSet(bitmap, *i)
	*i++
	return v
}

func (e *RowsEvent) decodeImage(data []byte, bitmap []byte, rowImageType RowImageType) (int, error) {
	pos := 0

	isPartialJsonUpdate := false

	var partialBitmap []byte
	if e.eventType == PARTIAL_UPDATE_ROWS_EVENT && rowImageType == RowImageTypeUpdateAI {
		binlogRowValueOptions, _, n := mysql.LengthEncodedInt(data[pos:])
		pos += n
		isPartialJsonUpdate = binlogRowValueOptions&RowsEventValueOptionPartialJSON != 0
		if isPartialJsonUpdate {
			byteCount := bitmapByteSize(int(e.Table.JsonColumnCount()))
			partialBitmap = data[pos : pos+byteCount]
			pos += byteCount
		}
	}

	row := make([]interface{}, e.ColumnCount)
	skips := make([]int, 0)

	// the null bitmap only covers columns present in the image
	count := 0
	for i := 0; i < int(e.ColumnCount); i++ {
		if isBitSet(bitmap, i) {
			count++
		}
	}
	count = bitmapByteSize(count)

	nullBitmap := data[pos : pos+count]
	pos += count

	partialBitmapIndex := 0
	nullBitmapIndex := 0

	for i := 0; i < int(e.ColumnCount); i++ {
		// The partial bitmap has a bit for every JSON column whether or
		// not it is in the image, so it must be consumed before the
		// image bitmap is consulted.
		isPartial := isPartialJsonUpdate &&
			(rowImageType == RowImageTypeUpdateAI) &&
			(e.Table.ColumnType[i] == mysql.MYSQL_TYPE_JSON) &&
			isBitSetIncr(partialBitmap, &partialBitmapIndex)

		if !isBitSet(bitmap, i) {
			skips = append(skips, i)
			continue
		}

		if isBitSetIncr(nullBitmap, &nullBitmapIndex) {
			row[i] = nil
			continue
		}

		var n int
		var err error
		row[i], n, err = e.decodeValue(data[pos:], e.Table.ColumnType[i], e.Table.ColumnMeta[i], isPartial)
		if err != nil {
			return 0, err
		}
		pos += n
	}

	e.Rows = append(e.Rows, row)
	e.SkippedColumns = append(e.SkippedColumns, skips)
	return pos, nil
}

func (e *RowsEvent) parseFracTime(t interface{}) interface{} {
	v, ok := t.(fracTime)
	if !ok {
		return t
	}

	if !e.parseTime {
		return v.String()
	}

	return v.Time
}

// decodeValue decodes one column value; n is the number of bytes consumed.
func (e *RowsEvent) decodeValue(data []byte, tp byte, meta uint16, isPartial bool) (v interface{}, n int, err error) {
	length := 0

	if tp == mysql.MYSQL_TYPE_STRING {
		if meta >= 256 {
			b0 := uint8(meta >> 8)
			b1 := uint8(meta & 0xFF)

			if b0&0x30 != 0x30 {
				length = int(uint16(b1) | (uint16((b0&0x30)^0x30) << 4))
				tp = b0 | 0x30
			} else {
				length = int(meta & 0xFF)
				tp = b0
			}
		} else {
			length = int(meta)
		}
	}

	switch tp {
	case mysql.MYSQL_TYPE_NULL:
		return nil, 0, nil
	case mysql.MYSQL_TYPE_LONG:
		n = 4
		v = mysql.ParseBinaryInt32(data)
	case mysql.MYSQL_TYPE_TINY:
		n = 1
		v = mysql.ParseBinaryInt8(data)
	case mysql.MYSQL_TYPE_SHORT:
		n = 2
		v = mysql.ParseBinaryInt16(data)
	case mysql.MYSQL_TYPE_INT24:
		n = 3
		v = mysql.ParseBinaryInt24(data)
	case mysql.MYSQL_TYPE_LONGLONG:
		n = 8
		v = mysql.ParseBinaryInt64(data)
	case mysql.MYSQL_TYPE_NEWDECIMAL:
		prec := uint8(meta >> 8)
		scale := uint8(meta & 0xFF)
		v, n, err = decodeDecimal(data, int(prec), int(scale), e.useDecimal)
	case mysql.MYSQL_TYPE_FLOAT:
		n = 4
		v = mysql.ParseBinaryFloat32(data)
	case mysql.MYSQL_TYPE_DOUBLE:
		n = 8
		v = mysql.ParseBinaryFloat64(data)
	case mysql.MYSQL_TYPE_BIT:
		nbits := ((meta >> 8) * 8) + (meta & 0xFF)
		n = int(nbits+7) / 8

		// BIT values are stored big-endian and decode to int64
		v, err = decodeBit(data, int(nbits), n)
	case mysql.MYSQL_TYPE_TIMESTAMP:
		n = 4
		t := binary.LittleEndian.Uint32(data)
		if t == 0 {
			v = formatZeroTime(0, 0)
		} else {
			v = e.parseFracTime(fracTime{
				Time:                    time.Unix(int64(t), 0),
				Dec:                     0,
				timestampStringLocation: e.timestampStringLocation,
			})
		}
	case mysql.MYSQL_TYPE_TIMESTAMP2:
		v, n, err = decodeTimestamp2(data, meta, e.timestampStringLocation)
		v = e.parseFracTime(v)
	case mysql.MYSQL_TYPE_DATETIME:
		n = 8
		i64 := binary.LittleEndian.Uint64(data)
		if i64 == 0 {
			v = formatZeroTime(0, 0)
		} else {
			d := i64 / 1000000
			t := i64 % 1000000
			v = e.parseFracTime(fracTime{
				Time: time.Date(
					int(d/10000),
					time.Month((d%10000)/100),
					int(d%100),
					int(t/10000),
					int((t%10000)/100),
					int(t%100),
					0,
					time.UTC,
				),
				Dec: 0,
			})
		}
	case mysql.MYSQL_TYPE_DATETIME2:
		v, n, err = decodeDatetime2(data, meta)
		v = e.parseFracTime(v)
	case mysql.MYSQL_TYPE_TIME:
		n = 3
		i32 := uint32(mysql.FixedLengthInt(data[0:3]))
		if i32 == 0 {
			v = "00:00:00"
		} else {
			v = fmt.Sprintf("%02d:%02d:%02d", i32/10000, (i32%10000)/100, i32%100)
		}
	case mysql.MYSQL_TYPE_TIME2:
		v, n, err = decodeTime2(data, meta)
	case mysql.MYSQL_TYPE_DATE:
		n = 3
		i32 := uint32(mysql.FixedLengthInt(data[0:3]))
		if i32 == 0 {
			v = "0000-00-00"
		} else {
			v = fmt.Sprintf("%04d-%02d-%02d", i32/(16*32), i32/32%16, i32%32)
		}

	case mysql.MYSQL_TYPE_YEAR:
		n = 1
		year := int(data[0])
		if year == 0 {
			v = year
		} else {
			v = year + 1900
		}
	case mysql.MYSQL_TYPE_ENUM:
		l := meta & 0xFF
		switch l {
		case 1:
			v = int64(data[0])
			n = 1
		case 2:
			v = int64(binary.LittleEndian.Uint16(data))
			n = 2
		default:
			err = fmt.Errorf("unknown ENUM packlen=%d", l)
		}
	case mysql.MYSQL_TYPE_SET:
		n = int(meta & 0xFF)
		nbits := n * 8

		v, err = littleDecodeBit(data, nbits, n)
	case mysql.MYSQL_TYPE_BLOB:
		v, n, err = decodeBlob(data, meta)
	case mysql.MYSQL_TYPE_VARCHAR,
		mysql.MYSQL_TYPE_VAR_STRING:
		length = int(meta)
		v, n = decodeString(data, length)
	case mysql.MYSQL_TYPE_STRING:
		v, n = decodeString(data, length)
	case mysql.MYSQL_TYPE_JSON:
		// the JSON document is framed like a blob of meta bytes length
		length = int(mysql.FixedLengthInt(data[0:meta]))
		n = length + int(meta)

		if isPartial {
			var diff *JsonDiff
			diff, err = e.decodeJsonPartialBinary(data[meta:n])
			if err == nil {
				v = diff
			} else {
				logrus.Errorf("decode JSON diff %q failed %s, fallback to full document", data[meta:n], err)
			}
		}

		if v == nil && err == nil {
			var d []byte
			d, err = e.decodeJsonBinary(data[meta:n])
			if err == nil {
				v = string(d)
			}
		}
	case mysql.MYSQL_TYPE_GEOMETRY:
		// geometry is stored like a blob: SRID (4 bytes) + WKB
		v, n, err = decodeBlob(data, meta)
	default:
		err = fmt.Errorf("unsupport type %d in binlog and don't know how to handle", tp)
	}

	return v, n, err
}

func decodeString(data []byte, length int) (v string, n int) {
	if length < 256 {
		length = int(data[0])

		n = length + 1
		v = string(data[1:n])
	} else {
		length = int(binary.LittleEndian.Uint16(data[0:]))
		n = length + 2
		v = string(data[2:n])
	}

	return
}

func decodeBit(data []byte, nbits int, length int) (value int64, err error) {
	if nbits > 1 {
		switch length {
		case 1:
			value = int64(data[0])
		case 2:
			value = int64(binary.BigEndian.Uint16(data))
		case 3:
			value = int64(mysql.BFixedLengthInt(data[0:3]))
		case 4:
			value = int64(binary.BigEndian.Uint32(data))
		case 5:
			value = int64(mysql.BFixedLengthInt(data[0:5]))
		case 6:
			value = int64(mysql.BFixedLengthInt(data[0:6]))
		case 7:
			value = int64(mysql.BFixedLengthInt(data[0:7]))
		case 8:
			value = int64(binary.BigEndian.Uint64(data))
		default:
			err = fmt.Errorf("invalid bit length %d", length)
		}
	} else {
		if length != 1 {
			err = fmt.Errorf("invalid bit length %d", length)
		} else {
			value = int64(data[0])
		}
	}
	return
}

// littleDecodeBit is decodeBit for SET columns, which store the bitmap
// little-endian.
func littleDecodeBit(data []byte, nbits int, length int) (value int64, err error) {
	if nbits > 1 {
		switch length {
		case 1:
			value = int64(data[0])
		case 2:
			value = int64(binary.LittleEndian.Uint16(data))
		case 3:
			value = int64(mysql.FixedLengthInt(data[0:3]))
		case 4:
			value = int64(binary.LittleEndian.Uint32(data))
		case 5:
			value = int64(mysql.FixedLengthInt(data[0:5]))
		case 6:
			value = int64(mysql.FixedLengthInt(data[0:6]))
		case 7:
			value = int64(mysql.FixedLengthInt(data[0:7]))
		case 8:
			value = int64(binary.LittleEndian.Uint64(data))
		default:
			err = fmt.Errorf("invalid bit length %d", length)
		}
	} else {
		if length != 1 {
			err = fmt.Errorf("invalid bit length %d", length)
		} else {
			value = int64(data[0])
		}
	}
	return
}

func decodeTimestamp2(data []byte, dec uint16, timestampStringLocation *time.Location) (interface{}, int, error) {
	n := int(4 + (dec+1)/2)
	sec := int64(binary.BigEndian.Uint32(data[0:4]))
	usec := int64(0)
	switch dec {
	case 1, 2:
		usec = int64(data[4]) * 10000
	case 3, 4:
		usec = int64(binary.BigEndian.Uint16(data[4:])) * 100
	case 5, 6:
		usec = int64(mysql.BFixedLengthInt(data[4:7]))
	}

	if sec == 0 {
		return formatZeroTime(int(usec), int(dec)), n, nil
	}

	return fracTime{
		Time:                    time.Unix(sec, usec*1000),
		Dec:                     int(dec),
		timestampStringLocation: timestampStringLocation,
	}, n, nil
}

const DATETIMEF_INT_OFS int64 = 0x8000000000

func decodeDatetime2(data []byte, dec uint16) (interface{}, int, error) {
	n := int(5 + (dec+1)/2)

	intPart := int64(mysql.BFixedLengthInt(data[0:5])) - DATETIMEF_INT_OFS
	var frac int64

	switch dec {
	case 1, 2:
		frac = int64(data[5]) * 10000
	case 3, 4:
		frac = int64(binary.BigEndian.Uint16(data[5:7])) * 100
	case 5, 6:
		frac = int64(mysql.BFixedLengthInt(data[5:8]))
	}

	if intPart == 0 {
		return formatZeroTime(int(frac), int(dec)), n, nil
	}

	tmp := intPart<<24 + frac
	if tmp < 0 {
		tmp = -tmp
	}

	ymdhms := tmp >> 24

	ymd := ymdhms >> 17
	ym := ymd >> 5
	hms := ymdhms % (1 << 17)

	day := int(ymd % (1 << 5))
	month := int(ym % 13)
	year := int(ym / 13)

	second := int(hms % (1 << 6))
	minute := int((hms >> 6) % (1 << 6))
	hour := int(hms >> 12)

	// intPart for 1970-01-01 00:00:00 is (1970*13+1)<<5+1 shifted into
	// the packed layout, 107420450816; anything below renders as text so
	// pre-epoch datetimes survive the trip through time.Time.
	if intPart < 107420450816 {
		return formatBeforeUnixZeroTime(year, month, day, hour, minute, second, int(frac), int(dec)), n, nil
	}

	return fracTime{
		Time: time.Date(year, time.Month(month), day, hour, minute, second, int(frac*1000), time.UTC),
		Dec:  int(dec),
	}, n, nil
}

const (
	TIMEF_OFS     int64 = 0x800000000000
	TIMEF_INT_OFS int64 = 0x800000
)

func decodeTime2(data []byte, dec uint16) (string, int, error) {
	n := int(3 + (dec+1)/2)

	tmp := int64(0)
	intPart := int64(0)
	frac := int64(0)
	switch dec {
	case 1, 2:
		intPart = int64(mysql.BFixedLengthInt(data[0:3])) - TIMEF_INT_OFS
		frac = int64(data[3])
		if intPart < 0 && frac > 0 {
			// Negative values store the fractional part in reverse
			// order for binary sort compatibility; the in-memory value
			// is the next integer minus (0x100 - frac).
			intPart++
			frac -= 0x100
		}
		tmp = intPart<<24 + frac*10000
	case 3, 4:
		intPart = int64(mysql.BFixedLengthInt(data[0:3])) - TIMEF_INT_OFS
		frac = int64(binary.BigEndian.Uint16(data[3:5]))
		if intPart < 0 && frac > 0 {
			// same reverse order rule, modulus 0x10000
			intPart++
			frac -= 0x10000
		}
		tmp = intPart<<24 + frac*100

	case 5, 6:
		tmp = int64(mysql.BFixedLengthInt(data[0:6])) - TIMEF_OFS
	default:
		intPart = int64(mysql.BFixedLengthInt(data[0:3])) - TIMEF_INT_OFS
		tmp = intPart << 24
	}

	if intPart == 0 && frac == 0 {
		return "00:00:00", n, nil
	}

	sign := ""
	if tmp < 0 {
		tmp = -tmp
		sign = "-"
	}

	secPart := tmp % (1 << 24)
	hms := tmp >> 24

	hour := (hms >> 12) % (1 << 10) // 10 bits starting at 12th
	minute := (hms >> 6) % (1 << 6) // 6 bits starting at 6th
	second := hms % (1 << 6)        // 6 bits starting at 0th

	if secPart != 0 {
		s := fmt.Sprintf("%s%02d:%02d:%02d.%06d", sign, hour, minute, second, secPart)
		return s[0 : len(s)-(6-int(dec))], n, nil
	}

	return fmt.Sprintf("%s%02d:%02d:%02d", sign, hour, minute, second), n, nil
}

func decodeBlob(data []byte, meta uint16) (v []byte, n int, err error) {
	var length int
	switch meta {
	case 1:
		length = int(data[0])
		v = data[1 : 1+length]
		n = length + 1
	case 2:
		length = int(binary.LittleEndian.Uint16(data))
		v = data[2 : 2+length]
		n = length + 2
	case 3:
		length = int(mysql.FixedLengthInt(data[0:3]))
		v = data[3 : 3+length]
		n = length + 3
	case 4:
		length = int(binary.LittleEndian.Uint32(data))
		v = data[4 : 4+length]
		n = length + 4
	default:
		err = fmt.Errorf("invalid blob packlen = %d", meta)
	}

	return
}

func (e *RowsEvent) Dump(w io.Writer) {
	fmt.Fprintf(w, "TableID: %d\n", e.TableID)
	fmt.Fprintf(w, "Flags: %d\n", e.Flags)
	fmt.Fprintf(w, "Column count: %d\n", e.ColumnCount)

	fmt.Fprintf(w, "Values:\n")
	for _, rows := range e.Rows {
		fmt.Fprintf(w, "--\n")
		for j, d := range rows {
			switch dt := d.(type) {
			case []byte:
				fmt.Fprintf(w, "%d:%q\n", j, dt)
			default:
				fmt.Fprintf(w, "%d:%#v\n", j, d)
			}
		}
	}
	fmt.Fprintln(w)
}
