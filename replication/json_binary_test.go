package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/binlogstream/mysql"
)

func TestDecodeJsonBinaryObject(t *testing.T) {
	// {"a":1} as a small object with an inlined int16
	data := []byte{
		JSONB_SMALL_OBJECT,
		0x01, 0x00, // element count
		0x0c, 0x00, // document size
		0x0b, 0x00, 0x01, 0x00, // key entry: offset 11, length 1
		JSONB_INT16, 0x01, 0x00, // value entry, inlined
		'a',
	}

	e := new(RowsEvent)
	v, err := e.decodeJsonBinary(data)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(v))
}

func TestDecodeJsonBinaryArray(t *testing.T) {
	// [true,null] as a small array of inlined literals
	data := []byte{
		JSONB_SMALL_ARRAY,
		0x02, 0x00,
		0x0a, 0x00,
		JSONB_LITERAL, JSONB_TRUE_LITERAL, 0x00,
		JSONB_LITERAL, JSONB_NULL_LITERAL, 0x00,
	}

	e := new(RowsEvent)
	v, err := e.decodeJsonBinary(data)
	require.NoError(t, err)
	assert.Equal(t, `[true,null]`, string(v))
}

func TestDecodeJsonBinaryScalars(t *testing.T) {
	e := new(RowsEvent)

	v, err := e.decodeJsonBinary([]byte{JSONB_STRING, 0x03, 'a', 'b', 'c'})
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, string(v))

	v, err = e.decodeJsonBinary([]byte{JSONB_INT16, 0xff, 0xff})
	require.NoError(t, err)
	assert.Equal(t, `-1`, string(v))

	v, err = e.decodeJsonBinary([]byte{JSONB_UINT16, 0xff, 0xff})
	require.NoError(t, err)
	assert.Equal(t, `65535`, string(v))

	v, err = e.decodeJsonBinary([]byte{JSONB_LITERAL, JSONB_FALSE_LITERAL})
	require.NoError(t, err)
	assert.Equal(t, `false`, string(v))
}

func TestDecodeJsonBinaryOpaqueDecimal(t *testing.T) {
	// DECIMAL(4,2) value -10.55 nested in a JSON document
	data := []byte{
		JSONB_OPAQUE,
		mysql.MYSQL_TYPE_NEWDECIMAL,
		0x04,       // opaque payload length
		0x04, 0x02, // precision, scale
		117, 200,
	}

	e := new(RowsEvent)
	v, err := e.decodeJsonBinary(data)
	require.NoError(t, err)
	assert.Equal(t, `"-10.55"`, string(v))
}

func TestDecodeJsonBinaryCorruptedDocument(t *testing.T) {
	// document size larger than the data; generated columns written by
	// servers affected by bug #88791 look like this
	data := []byte{JSONB_SMALL_OBJECT, 0x01, 0x00, 0xff, 0x00}

	e := new(RowsEvent)
	_, err := e.decodeJsonBinary(data)
	assert.Error(t, err)

	e.ignoreJSONDecodeErr = true
	v, err := e.decodeJsonBinary(data)
	require.NoError(t, err)
	assert.Equal(t, `null`, string(v))
}

func TestDecodeJsonPartialBinary(t *testing.T) {
	e := new(RowsEvent)

	// replace $.a with 7
	data := []byte{
		byte(JsonDiffOperationReplace),
		0x03, '$', '.', 'a',
		0x03, JSONB_INT16, 0x07, 0x00,
	}
	diff, err := e.decodeJsonPartialBinary(data)
	require.NoError(t, err)
	assert.Equal(t, JsonDiffOperationReplace, diff.Op)
	assert.Equal(t, "$.a", diff.Path)
	assert.Equal(t, "7", diff.Value)

	// remove carries no value
	data = []byte{byte(JsonDiffOperationRemove), 0x03, '$', '.', 'a'}
	diff, err = e.decodeJsonPartialBinary(data)
	require.NoError(t, err)
	assert.Equal(t, JsonDiffOperationRemove, diff.Op)
	assert.Equal(t, "", diff.Value)

	// unknown operation
	_, err = e.decodeJsonPartialBinary([]byte{0x09})
	assert.ErrorIs(t, err, ErrCorruptedJSONDiff)
}

func TestJsonDiffString(t *testing.T) {
	diff := &JsonDiff{Op: JsonDiffOperationInsert, Path: "$.b", Value: "2"}
	assert.Equal(t, "json_diff(op:Insert path:$.b value:2)", diff.String())
}
