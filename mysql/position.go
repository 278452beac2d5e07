package mysql

import (
	"fmt"
	"strconv"
	"strings"
)

// Position names a point in the primary's binlog: a file plus a byte
// offset within it.
type Position struct {
	Name string
	Pos  uint32
}

// Compare orders positions by binlog file first, then by offset.
func (p Position) Compare(o Position) int {
	if c := CompareBinlogFileName(p.Name, o.Name); c != 0 {
		return c
	}
	switch {
	case p.Pos > o.Pos:
		return 1
	case p.Pos < o.Pos:
		return -1
	default:
		return 0
	}
}

func (p Position) String() string {
	return fmt.Sprintf("(%s, %d)", p.Name, p.Pos)
}

// CompareBinlogFileName orders binlog file names by the numeric suffix of
// the dotted "base.NNNNNN" form, so that "mysql-bin.000010" sorts after
// "mysql-bin.000009" and also after a rolled-over "mysql-bin.999999".
// An empty name sorts before any non-empty name.
func CompareBinlogFileName(a, b string) int {
	// sometimes it's convenient to construct a `Position` with empty name
	switch {
	case a == b:
		return 0
	case a == "":
		return -1
	case b == "":
		return 1
	}

	splitBinlogName := func(n string) (string, int) {
		i := strings.LastIndexByte(n, '.')
		if i < 0 {
			// a valid binlog name is always base.NNNNNN
			panic(fmt.Sprintf("invalid binlog file name %q", n))
		}

		seq, err := strconv.Atoi(n[i+1:])
		if err != nil {
			panic(fmt.Sprintf("invalid binlog file name %q: %v", n, err))
		}

		return n[:i], seq
	}

	aBase, aSeq := splitBinlogName(a)
	bBase, bSeq := splitBinlogName(b)

	// try to compare the binlog name only when they have the same base
	if aBase > bBase {
		return 1
	} else if aBase < bBase {
		return -1
	}

	switch {
	case aSeq > bSeq:
		return 1
	case aSeq < bSeq:
		return -1
	default:
		return 0
	}
}
