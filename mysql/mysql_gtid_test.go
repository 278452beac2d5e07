package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalParse(t *testing.T) {
	i, err := parseInterval("1-2")
	require.NoError(t, err)
	assert.Equal(t, Interval{1, 3}, i)

	i, err = parseInterval("1")
	require.NoError(t, err)
	assert.Equal(t, Interval{1, 2}, i)

	_, err = parseInterval("1-1-1")
	assert.Error(t, err)

	_, err = parseInterval("5-2")
	assert.Error(t, err)
}

func TestIntervalNormalize(t *testing.T) {
	cases := []struct {
		in   IntervalSlice
		want IntervalSlice
	}{
		{IntervalSlice{{1, 2}, {2, 4}, {2, 3}}, IntervalSlice{{1, 4}}},
		{IntervalSlice{{1, 2}, {4, 5}, {1, 3}}, IntervalSlice{{1, 3}, {4, 5}}},
		{IntervalSlice{{1, 4}, {2, 3}}, IntervalSlice{{1, 4}}},
		{IntervalSlice{}, nil},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, c.in.Normalize())
	}
}

func TestIntervalInsertIdempotent(t *testing.T) {
	s := IntervalSlice{{1, 5}, {9, 12}}.Normalize()

	iv := Interval{4, 10}
	s.InsertInterval(iv)
	once := s.Clone()
	s.InsertInterval(iv)

	assert.True(t, s.Equal(once))
	assert.Equal(t, IntervalSlice{{1, 12}}, s)
}

func TestIntervalContain(t *testing.T) {
	s := IntervalSlice{{2, 5}, {9, 12}}

	assert.True(t, s.Contain(IntervalSlice{{2, 5}}))
	assert.True(t, s.Contain(IntervalSlice{{3, 4}, {9, 10}}))
	assert.False(t, s.Contain(IntervalSlice{{1, 3}}))
	assert.False(t, s.Contain(IntervalSlice{{4, 10}}))
}

func TestIntervalMinus(t *testing.T) {
	s := IntervalSlice{{1, 10}}

	assert.Equal(t, IntervalSlice{{1, 3}, {5, 10}}, s.Minus(IntervalSlice{{3, 5}}))
	assert.Equal(t, IntervalSlice{{5, 10}}, s.Minus(IntervalSlice{{0, 5}}))
	var empty IntervalSlice
	assert.Equal(t, empty, s.Minus(IntervalSlice{{1, 10}}))
	assert.Equal(t, IntervalSlice{{1, 2}, {4, 6}, {8, 10}},
		s.Minus(IntervalSlice{{2, 4}, {6, 8}}))
}

func TestMysqlGTIDSetUnion(t *testing.T) {
	// union of a single transaction with a disjoint range keeps two
	// intervals
	g, err := ParseMysqlGTIDSet("3E11FA47-71CA-11E1-9E33-C80AA9429562:23")
	require.NoError(t, err)
	require.NoError(t, g.Update("3E11FA47-71CA-11E1-9E33-C80AA9429562:28-57"))
	assert.Equal(t, "3e11fa47-71ca-11e1-9e33-c80aa9429562:23:28-57", g.String())

	// adjacent ranges merge
	g, err = ParseMysqlGTIDSet("3E11FA47-71CA-11E1-9E33-C80AA9429562:23-27")
	require.NoError(t, err)
	require.NoError(t, g.Update("3E11FA47-71CA-11E1-9E33-C80AA9429562:28-57"))
	assert.Equal(t, "3e11fa47-71ca-11e1-9e33-c80aa9429562:23-57", g.String())
}

func TestMysqlGTIDSetMultiSource(t *testing.T) {
	g, err := ParseMysqlGTIDSet("de278ad0-2106-11e4-9f8e-6edd0ca20947:1-2,de278ad0-2106-11e4-9f8e-6edd0ca20948:1-2")
	require.NoError(t, err)
	assert.Equal(t, "de278ad0-2106-11e4-9f8e-6edd0ca20947:1-2,de278ad0-2106-11e4-9f8e-6edd0ca20948:1-2", g.String())
	assert.Equal(t, 2, g.Len())
}

func TestMysqlGTIDSetContainEqual(t *testing.T) {
	cases := []struct {
		super   string
		sub     string
		contain bool
	}{
		{"3E11FA47-71CA-11E1-9E33-C80AA9429562:1-57", "3E11FA47-71CA-11E1-9E33-C80AA9429562:23", true},
		{"3E11FA47-71CA-11E1-9E33-C80AA9429562:1-57", "3E11FA47-71CA-11E1-9E33-C80AA9429562:23-77", false},
		{"3E11FA47-71CA-11E1-9E33-C80AA9429562:1-57", "de278ad0-2106-11e4-9f8e-6edd0ca20947:1", false},
	}

	for _, c := range cases {
		super, err := ParseMysqlGTIDSet(c.super)
		require.NoError(t, err)
		sub, err := ParseMysqlGTIDSet(c.sub)
		require.NoError(t, err)

		assert.Equal(t, c.contain, super.Contain(sub), "%s contain %s", c.super, c.sub)
	}

	// contain(a, a) and the equal/contain duality
	a, _ := ParseMysqlGTIDSet("3E11FA47-71CA-11E1-9E33-C80AA9429562:1-57")
	b, _ := ParseMysqlGTIDSet("3E11FA47-71CA-11E1-9E33-C80AA9429562:1-56:57")
	assert.True(t, a.Contain(a))
	assert.True(t, a.Equal(b))
	assert.True(t, a.Contain(b) && b.Contain(a))
}

func TestMysqlGTIDSetMinus(t *testing.T) {
	a, err := ParseMysqlGTIDSet("3E11FA47-71CA-11E1-9E33-C80AA9429562:1-57")
	require.NoError(t, err)
	b, err := ParseMysqlGTIDSet("3E11FA47-71CA-11E1-9E33-C80AA9429562:20-30")
	require.NoError(t, err)

	a.(*MysqlGTIDSet).Minus(b.(*MysqlGTIDSet))
	assert.Equal(t, "3e11fa47-71ca-11e1-9e33-c80aa9429562:1-19:31-57", a.String())

	// subtracting everything drops the UUID entry
	c, err := ParseMysqlGTIDSet("3E11FA47-71CA-11E1-9E33-C80AA9429562:1-57")
	require.NoError(t, err)
	a.(*MysqlGTIDSet).Minus(c.(*MysqlGTIDSet))
	assert.Equal(t, 0, a.Len())
	assert.Equal(t, "", a.String())
}

func TestMysqlGTIDSetEncodeRoundTrip(t *testing.T) {
	in := "3e11fa47-71ca-11e1-9e33-c80aa9429562:23:28-57,de278ad0-2106-11e4-9f8e-6edd0ca20947:1-2"
	g, err := ParseMysqlGTIDSet(in)
	require.NoError(t, err)

	decoded, err := DecodeMysqlGTIDSet(g.Encode())
	require.NoError(t, err)
	assert.True(t, g.Equal(decoded))
	assert.Equal(t, in, decoded.String())
}

func TestMysqlGTIDSetParseErrors(t *testing.T) {
	for _, bad := range []string{
		"not-a-uuid:1-2",
		"3E11FA47-71CA-11E1-9E33-C80AA9429562",
		"3E11FA47-71CA-11E1-9E33-C80AA9429562:5-2",
		"3E11FA47-71CA-11E1-9E33-C80AA9429562:x",
	} {
		_, err := ParseMysqlGTIDSet(bad)
		assert.Error(t, err, "expected parse failure for %q", bad)
	}
}

func TestMysqlGTIDSetClone(t *testing.T) {
	g, err := ParseMysqlGTIDSet("3E11FA47-71CA-11E1-9E33-C80AA9429562:23")
	require.NoError(t, err)

	clone := g.Clone()
	require.NoError(t, clone.Update("3E11FA47-71CA-11E1-9E33-C80AA9429562:24"))

	assert.Equal(t, "3e11fa47-71ca-11e1-9e33-c80aa9429562:23", g.String())
	assert.Equal(t, "3e11fa47-71ca-11e1-9e33-c80aa9429562:23-24", clone.String())
}
