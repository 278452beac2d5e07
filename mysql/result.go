package mysql

import "github.com/pingcap/errors"

// Field is a column descriptor from a text-protocol resultset; only the
// name survives decoding, which is all the replication handshake needs.
type Field struct {
	Name []byte
}

// Resultset holds a decoded text-protocol resultset.
type Resultset struct {
	Fields     []Field
	FieldNames map[string]int

	// Values are decoded row values: string for non-NULL, nil for NULL.
	Values [][]interface{}
}

// Result is the outcome of one query: either an OK packet or a resultset.
type Result struct {
	Status uint16

	AffectedRows uint64
	InsertID     uint64

	*Resultset
}

// RowNumber is the number of returned rows, zero for OK results.
func (r *Result) RowNumber() int {
	if r.Resultset == nil {
		return 0
	}
	return len(r.Values)
}

// GetString returns the value at (row, column) rendered as a string; NULL
// yields "".
func (r *Result) GetString(row, column int) (string, error) {
	v, err := r.getValue(row, column)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.Errorf("column %d in row %d is not a string", column, row)
	}
	return s, nil
}

// GetStringByName is GetString addressed by column name.
func (r *Result) GetStringByName(row int, name string) (string, error) {
	column, ok := r.FieldNames[name]
	if !ok {
		return "", errors.Errorf("unknown column %q", name)
	}
	return r.GetString(row, column)
}

func (r *Result) getValue(row, column int) (interface{}, error) {
	if r.Resultset == nil {
		return nil, errors.New("no resultset")
	}
	if row >= len(r.Values) || row < 0 {
		return nil, errors.Errorf("invalid row index %d", row)
	}
	if column >= len(r.Values[row]) || column < 0 {
		return nil, errors.Errorf("invalid column index %d", column)
	}
	return r.Values[row][column], nil
}
