package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPositionCompare(t *testing.T) {
	cases := []struct {
		a, b Position
		want int
	}{
		{Position{"mysql-bin.000001", 100}, Position{"mysql-bin.000001", 100}, 0},
		{Position{"mysql-bin.000001", 200}, Position{"mysql-bin.000001", 100}, 1},
		{Position{"mysql-bin.000002", 0}, Position{"mysql-bin.000001", 4096}, 1},
		{Position{"mysql-bin.000010", 0}, Position{"mysql-bin.000009", 0}, 1},
		{Position{"", 0}, Position{"mysql-bin.000001", 0}, -1},
		{Position{"mysql-bin.000001", 0}, Position{"", 4096}, 1},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, c.a.Compare(c.b), "%s vs %s", c.a, c.b)
	}
}

func TestCompareBinlogFileName(t *testing.T) {
	assert.Equal(t, 0, CompareBinlogFileName("mysql-bin.000001", "mysql-bin.000001"))
	assert.Equal(t, 1, CompareBinlogFileName("mysql-bin.1000000", "mysql-bin.999999"))
	assert.Equal(t, -1, CompareBinlogFileName("binlog.000007", "binlog.000008"))
	assert.Equal(t, -1, CompareBinlogFileName("", "binlog.000008"))
}

func TestPositionString(t *testing.T) {
	assert.Equal(t, "(mysql-bin.000002, 4)", Position{"mysql-bin.000002", 4}.String())
}
