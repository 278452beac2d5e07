package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/binlogstream/mysql"
)

// tableMapBody builds the body of a table map event for schema "test",
// table "t" with a TINY and a nullable SHORT column, table id 42.
func tableMapBody() []byte {
	data := []byte{
		0x2a, 0x00, 0x00, 0x00, 0x00, 0x00, // table id
		0x01, 0x00, // flags
		0x04, 't', 'e', 's', 't', 0x00,
		0x01, 't', 0x00,
		0x02,       // column count
		0x01, 0x02, // TINY, SHORT
		0x00, // meta block, empty
		0x02, // null bitmap: second column nullable
	}
	return data
}

func TestTableMapEventDecode(t *testing.T) {
	e := &TableMapEvent{tableIDSize: 6}
	require.NoError(t, e.Decode(tableMapBody()))

	assert.Equal(t, uint64(42), e.TableID)
	assert.Equal(t, "test", string(e.Schema))
	assert.Equal(t, "t", string(e.Table))
	assert.Equal(t, uint64(2), e.ColumnCount)
	assert.Equal(t, []byte{mysql.MYSQL_TYPE_TINY, mysql.MYSQL_TYPE_SHORT}, e.ColumnType)

	available, nullable := e.Nullable(0)
	assert.True(t, available)
	assert.False(t, nullable)

	_, nullable = e.Nullable(1)
	assert.True(t, nullable)
}

func TestTableMapEventOptionalMeta(t *testing.T) {
	body := tableMapBody()

	// signedness: first numeric column unsigned
	body = append(body, TABLE_MAP_OPT_META_SIGNEDNESS, 0x01, 0x80)
	// column names: "id", "n"
	body = append(body, TABLE_MAP_OPT_META_COLUMN_NAME, 0x05, 0x02, 'i', 'd', 0x01, 'n')
	// simple primary key on column 0
	body = append(body, TABLE_MAP_OPT_META_SIMPLE_PRIMARY_KEY, 0x01, 0x00)

	e := &TableMapEvent{tableIDSize: 6}
	require.NoError(t, e.Decode(body))

	assert.Equal(t, map[int]bool{0: true, 1: false}, e.UnsignedMap())
	assert.Equal(t, []string{"id", "n"}, e.ColumnNameString())
	assert.Equal(t, []uint64{0}, e.PrimaryKey)
	assert.Equal(t, []uint64{0}, e.PrimaryKeyPrefix)
}

func TestTableMapEventMeta(t *testing.T) {
	// VARCHAR(255) and DECIMAL(10,2): 2-byte metas, one LE and one packed
	data := []byte{
		0x2a, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x01, 0x00,
		0x04, 't', 'e', 's', 't', 0x00,
		0x01, 't', 0x00,
		0x02,
		mysql.MYSQL_TYPE_VARCHAR, mysql.MYSQL_TYPE_NEWDECIMAL,
		0x04,       // meta block length
		0xff, 0x00, // varchar max length 255, LE
		0x0a, 0x02, // decimal precision 10, scale 2
		0x00,
	}

	e := &TableMapEvent{tableIDSize: 6}
	require.NoError(t, e.Decode(data))

	assert.Equal(t, uint16(255), e.ColumnMeta[0])
	assert.Equal(t, uint16(10<<8|2), e.ColumnMeta[1])
}

func TestTableMapEventEnumSetValues(t *testing.T) {
	// ENUM is transported as STRING with the real type in the high meta byte
	data := []byte{
		0x2a, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x01, 0x00,
		0x04, 't', 'e', 's', 't', 0x00,
		0x01, 't', 0x00,
		0x01,
		mysql.MYSQL_TYPE_STRING,
		0x02,
		mysql.MYSQL_TYPE_ENUM, 0x01, // real type enum, pack length 1
		0x00,
	}

	// enum values: 1 column, 2 members "a", "b"
	data = append(data, TABLE_MAP_OPT_META_ENUM_STR_VALUE, 0x05, 0x02, 0x01, 'a', 0x01, 'b')

	e := &TableMapEvent{tableIDSize: 6}
	require.NoError(t, e.Decode(data))

	assert.True(t, e.IsEnumColumn(0))
	assert.Equal(t, map[int][]string{0: {"a", "b"}}, e.EnumStrValueMap())
}

func TestTableMapCharacterColumnFlavor(t *testing.T) {
	mk := func(flavor string) *TableMapEvent {
		return &TableMapEvent{
			flavor:      flavor,
			ColumnCount: 1,
			ColumnType:  []byte{mysql.MYSQL_TYPE_GEOMETRY},
			ColumnMeta:  []uint16{4},
		}
	}

	assert.False(t, mk(mysql.MySQLFlavor).IsCharacterColumn(0))
	assert.True(t, mk(mysql.MariaDBFlavor).IsCharacterColumn(0))
}
