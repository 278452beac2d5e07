package mysql

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pingcap/errors"
	"github.com/sirupsen/logrus"
)

// MariadbGTID is a MariaDB transaction id, [domain]-[server]-[sequence].
type MariadbGTID struct {
	DomainID       uint32
	ServerID       uint32
	SequenceNumber uint64
}

// ParseMariadbGTID parses the "domain-server-sequence" text form. An empty
// string yields the zero GTID.
func ParseMariadbGTID(str string) (*MariadbGTID, error) {
	if len(str) == 0 {
		return &MariadbGTID{}, nil
	}

	sep := strings.Split(str, "-")
	if len(sep) != 3 {
		return nil, errors.Errorf("invalid MariaDB GTID %q, must be domain-server-sequence", str)
	}

	domainID, err := strconv.ParseUint(sep[0], 10, 32)
	if err != nil {
		return nil, errors.Errorf("invalid MariaDB GTID domain ID (%v): %v", sep[0], err)
	}

	serverID, err := strconv.ParseUint(sep[1], 10, 32)
	if err != nil {
		return nil, errors.Errorf("invalid MariaDB GTID server ID (%v): %v", sep[1], err)
	}

	sequenceID, err := strconv.ParseUint(sep[2], 10, 64)
	if err != nil {
		return nil, errors.Errorf("invalid MariaDB GTID sequence number (%v): %v", sep[2], err)
	}

	return &MariadbGTID{
		DomainID:       uint32(domainID),
		ServerID:       uint32(serverID),
		SequenceNumber: sequenceID,
	}, nil
}

func (g *MariadbGTID) String() string {
	if g.DomainID == 0 && g.ServerID == 0 && g.SequenceNumber == 0 {
		return ""
	}
	return fmt.Sprintf("%d-%d-%d", g.DomainID, g.ServerID, g.SequenceNumber)
}

// Contain reports whether g covers another GTID of the same domain.
func (g *MariadbGTID) Contain(o *MariadbGTID) bool {
	return g.DomainID == o.DomainID && g.SequenceNumber >= o.SequenceNumber
}

func (g *MariadbGTID) Clone() *MariadbGTID {
	o := new(MariadbGTID)
	*o = *g
	return o
}

func (g *MariadbGTID) forward(newer *MariadbGTID) error {
	if newer.DomainID != g.DomainID {
		return errors.Errorf("%s is not in the same domain as %s", newer, g)
	}

	// Binlogs from a multi-master ring can replay with sequence numbers out
	// of order; keep going but leave a trace.
	if newer.SequenceNumber <= g.SequenceNumber {
		logrus.Warnf("out of order binlog appears with gtid %s vs current position gtid %s", newer, g)
	}

	g.ServerID = newer.ServerID
	g.SequenceNumber = newer.SequenceNumber
	return nil
}

// MariadbGTIDSet tracks the latest observed GTID per replication domain.
type MariadbGTIDSet struct {
	Sets map[uint32]*MariadbGTID
}

// ParseMariadbGTIDSet parses a comma-separated list of MariaDB GTIDs. An
// empty string yields an empty set.
func ParseMariadbGTIDSet(str string) (GTIDSet, error) {
	s := new(MariadbGTIDSet)
	s.Sets = make(map[uint32]*MariadbGTID)
	if str == "" {
		return s, nil
	}

	for _, sub := range strings.Split(str, ",") {
		if err := s.Update(strings.TrimSpace(sub)); err != nil {
			return nil, errors.Trace(err)
		}
	}

	return s, nil
}

// AddSet adds or forwards one GTID within its domain.
func (s *MariadbGTIDSet) AddSet(gtid *MariadbGTID) error {
	if gtid == nil {
		return nil
	}

	if o, ok := s.Sets[gtid.DomainID]; ok {
		if err := o.forward(gtid); err != nil {
			return errors.Trace(err)
		}
	} else {
		s.Sets[gtid.DomainID] = gtid.Clone()
	}

	return nil
}

// Update parses the text form of one GTID and merges it in. Implements
// GTIDSet.
func (s *MariadbGTIDSet) Update(gtidStr string) error {
	gtid, err := ParseMariadbGTID(gtidStr)
	if err != nil {
		return errors.Trace(err)
	}

	return s.AddSet(gtid)
}

func (s *MariadbGTIDSet) String() string {
	domains := make([]uint32, 0, len(s.Sets))
	for domainID := range s.Sets {
		domains = append(domains, domainID)
	}
	// render sorted by text form for stable output
	sort.Slice(domains, func(i, j int) bool {
		return s.Sets[domains[i]].String() < s.Sets[domains[j]].String()
	})

	var buf bytes.Buffer
	for i, domainID := range domains {
		if i != 0 {
			buf.WriteString(",")
		}
		buf.WriteString(s.Sets[domainID].String())
	}

	return buf.String()
}

// Encode renders the comma-joined text form; MariaDB's dump command takes
// the connect state as text, there is no binary set encoding.
func (s *MariadbGTIDSet) Encode() []byte {
	return []byte(s.String())
}

func (s *MariadbGTIDSet) Contain(o GTIDSet) bool {
	sub, ok := o.(*MariadbGTIDSet)
	if !ok {
		return false
	}

	for domainID, gtid := range sub.Sets {
		own, ok := s.Sets[domainID]
		if !ok {
			return false
		}
		if !own.Contain(gtid) {
			return false
		}
	}

	return true
}

func (s *MariadbGTIDSet) Equal(o GTIDSet) bool {
	other, ok := o.(*MariadbGTIDSet)
	if !ok {
		return false
	}

	if len(other.Sets) != len(s.Sets) {
		return false
	}

	for domainID, gtid := range other.Sets {
		own, ok := s.Sets[domainID]
		if !ok {
			return false
		}
		if *own != *gtid {
			return false
		}
	}

	return true
}

func (s *MariadbGTIDSet) Len() int {
	return len(s.Sets)
}

func (s *MariadbGTIDSet) Clone() GTIDSet {
	clone := &MariadbGTIDSet{
		Sets: make(map[uint32]*MariadbGTID, len(s.Sets)),
	}
	for domainID, gtid := range s.Sets {
		clone.Sets[domainID] = gtid.Clone()
	}

	return clone
}
