package mysql

import "github.com/pingcap/errors"

// GTIDSet is the flavor-independent capability set the syncer needs from a
// GTID set: render, binary-encode, compare and forward-merge.
type GTIDSet interface {
	String() string

	// Encode the set into the binary form used in binlog dump commands.
	Encode() []byte

	Equal(o GTIDSet) bool

	Contain(o GTIDSet) bool

	// Update unions the text form of one or more GTIDs into the receiver.
	Update(gtidStr string) error

	// Len is the number of UUIDs (MySQL) or domains (MariaDB) tracked.
	Len() int

	Clone() GTIDSet
}

// ParseGTIDSet parses a GTID set in the given flavor's text form.
func ParseGTIDSet(flavor string, s string) (GTIDSet, error) {
	switch flavor {
	case MySQLFlavor:
		return ParseMysqlGTIDSet(s)
	case MariaDBFlavor:
		return ParseMariadbGTIDSet(s)
	default:
		return nil, errors.Errorf("invalid flavor %q", flavor)
	}
}
