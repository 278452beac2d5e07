package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/binlogstream/mysql"
)

func TestCalcPassword(t *testing.T) {
	scramble := []byte{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a,
		0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10, 0x11, 0x12, 0x13, 0x14,
	}

	assert.Nil(t, CalcPassword(scramble, nil))

	a := CalcPassword(append([]byte{}, scramble...), []byte("secret"))
	b := CalcPassword(append([]byte{}, scramble...), []byte("secret"))
	assert.Len(t, a, 20)
	assert.Equal(t, a, b)

	other := append([]byte{}, scramble...)
	other[0] = 0xff
	assert.NotEqual(t, a, CalcPassword(other, []byte("secret")))
}

func TestParseFieldName(t *testing.T) {
	// catalog "def", empty schema/table/org_table, name "Variable_name"
	data := []byte{
		0x03, 'd', 'e', 'f',
		0x00,
		0x00,
		0x00,
		0x0d, 'V', 'a', 'r', 'i', 'a', 'b', 'l', 'e', '_', 'n', 'a', 'm', 'e',
	}

	name, err := parseFieldName(data)
	require.NoError(t, err)
	assert.Equal(t, []byte("Variable_name"), name)
}

func TestParseRowValues(t *testing.T) {
	data := []byte{
		0x0f, 'b', 'i', 'n', 'l', 'o', 'g', '_', 'c', 'h', 'e', 'c', 'k', 's', 'u', 'm',
		0x05, 'C', 'R', 'C', '3', '2',
	}

	row, err := parseRowValues(data, 2)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"binlog_checksum", "CRC32"}, row)

	// NULL column
	row, err = parseRowValues([]byte{0x01, 'x', 0xfb}, 2)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"x", nil}, row)
}

func TestHandleErrorPacket(t *testing.T) {
	c := &Conn{capability: mysql.CLIENT_PROTOCOL_41}

	data := append([]byte{0xff, 0x15, 0x04, '#', '2', '8', '0', '0', '0'},
		[]byte("Access denied")...)

	err := c.handleErrorPacket(data)
	require.Error(t, err)

	myErr, ok := err.(*mysql.MyError)
	require.True(t, ok)
	assert.Equal(t, uint16(1045), myErr.Code)
	assert.Equal(t, "28000", myErr.State)
	assert.Equal(t, "Access denied", myErr.Message)
}
