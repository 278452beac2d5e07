package mysql

import (
	"bytes"
	"encoding/binary"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
)

// Interval is a half-open range [Start, Stop) of transaction sequence
// numbers. The text form is "n" for a single transaction or "n-m" with m
// inclusive.
type Interval struct {
	Start int64
	Stop  int64
}

func parseInterval(str string) (Interval, error) {
	var i Interval
	var err error

	p := strings.Split(str, "-")
	switch len(p) {
	case 1:
		i.Start, err = strconv.ParseInt(p[0], 10, 64)
		i.Stop = i.Start + 1
	case 2:
		i.Start, err = strconv.ParseInt(p[0], 10, 64)
		if err == nil {
			i.Stop, err = strconv.ParseInt(p[1], 10, 64)
			i.Stop++
		}
	default:
		return i, errors.Errorf("invalid interval format, must be n[-m], got %q", str)
	}

	if err != nil {
		return i, errors.Trace(err)
	}

	if i.Stop <= i.Start {
		return i, errors.Errorf("invalid interval %q, stop must be >= start", str)
	}

	return i, nil
}

func (i Interval) String() string {
	if i.Stop == i.Start+1 {
		return strconv.FormatInt(i.Start, 10)
	}
	return strconv.FormatInt(i.Start, 10) + "-" + strconv.FormatInt(i.Stop-1, 10)
}

// IntervalSlice is an ordered set of intervals. After Normalize the slice
// has strictly increasing starts, no overlaps and no adjacency.
type IntervalSlice []Interval

func (s IntervalSlice) Len() int      { return len(s) }
func (s IntervalSlice) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s IntervalSlice) Less(i, j int) bool {
	if s[i].Start < s[j].Start {
		return true
	}
	return s[i].Start == s[j].Start && s[i].Stop < s[j].Stop
}

// Sort orders intervals by start, then stop.
func (s IntervalSlice) Sort() { sort.Sort(s) }

// Normalize sorts and merges overlapping or adjacent intervals.
func (s IntervalSlice) Normalize() IntervalSlice {
	var n IntervalSlice
	if len(s) == 0 {
		return n
	}

	s.Sort()

	n = append(n, s[0])

	for i := 1; i < len(s); i++ {
		last := n[len(n)-1]
		if s[i].Start > last.Stop {
			n = append(n, s[i])
			continue
		}
		if s[i].Stop > last.Stop {
			n[len(n)-1] = Interval{last.Start, s[i].Stop}
		}
	}

	return n
}

// InsertInterval unions one interval into the slice, keeping it normalized.
// Inserting an already-covered interval is a no-op.
func (s *IntervalSlice) InsertInterval(interval Interval) {
	*s = append(*s, interval)
	*s = s.Normalize()
}

// Contain reports whether every interval of sub is covered by s. Both
// slices must be normalized.
func (s IntervalSlice) Contain(sub IntervalSlice) bool {
	j := 0
	for i := 0; i < len(sub); i++ {
		for ; j < len(s); j++ {
			if sub[i].Start >= s[j].Stop {
				continue
			}
			break
		}
		if j == len(s) {
			return false
		}

		if sub[i].Start < s[j].Start || sub[i].Stop > s[j].Stop {
			return false
		}
	}

	return true
}

// Minus returns the intervals of s not covered by sub, via a two-pointer
// sweep over the two normalized slices.
func (s IntervalSlice) Minus(sub IntervalSlice) IntervalSlice {
	var out IntervalSlice

	j := 0
	for _, iv := range s {
		start := iv.Start
		for j < len(sub) && sub[j].Stop <= start {
			j++
		}

		k := j
		for k < len(sub) && sub[k].Start < iv.Stop {
			if sub[k].Start > start {
				out = append(out, Interval{start, sub[k].Start})
			}
			if sub[k].Stop > start {
				start = sub[k].Stop
			}
			k++
		}

		if start < iv.Stop {
			out = append(out, Interval{start, iv.Stop})
		}
	}

	return out.Normalize()
}

func (s IntervalSlice) Equal(o IntervalSlice) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

func (s IntervalSlice) Clone() IntervalSlice {
	clone := make(IntervalSlice, len(s))
	copy(clone, s)
	return clone
}

// UUIDSet is the per-source-UUID component of a MySQL GTID set.
type UUIDSet struct {
	SID uuid.UUID

	Intervals IntervalSlice
}

// ParseUUIDSet parses "uuid:iv[:iv...]" text form.
func ParseUUIDSet(str string) (*UUIDSet, error) {
	str = strings.TrimSpace(str)
	sep := strings.Split(str, ":")
	if len(sep) < 2 {
		return nil, errors.Errorf("invalid GTID format %q, must be UUID:interval[:interval]", str)
	}

	var err error
	s := new(UUIDSet)
	if s.SID, err = uuid.Parse(sep[0]); err != nil {
		return nil, errors.Trace(err)
	}

	// Handle interval
	for i := 1; i < len(sep); i++ {
		in, err := parseInterval(sep[i])
		if err != nil {
			return nil, errors.Trace(err)
		}
		s.Intervals = append(s.Intervals, in)
	}

	s.Intervals = s.Intervals.Normalize()

	return s, nil
}

// AddInterval unions more intervals into the set.
func (s *UUIDSet) AddInterval(in IntervalSlice) {
	s.Intervals = append(s.Intervals, in...)
	s.Intervals = s.Intervals.Normalize()
}

// MinusInterval removes covered intervals from the set.
func (s *UUIDSet) MinusInterval(in IntervalSlice) {
	s.Intervals = s.Intervals.Minus(in.Normalize())
}

func (s *UUIDSet) Contain(sub *UUIDSet) bool {
	return s.SID == sub.SID && s.Intervals.Contain(sub.Intervals)
}

func (s *UUIDSet) String() string {
	var buf bytes.Buffer
	buf.WriteString(s.SID.String())

	for _, i := range s.Intervals {
		buf.WriteString(":")
		buf.WriteString(i.String())
	}

	return buf.String()
}

func (s *UUIDSet) encode(w *bytes.Buffer) {
	w.Write(s.SID[:])

	n := int64(len(s.Intervals))
	binary.Write(w, binary.LittleEndian, n)

	for _, i := range s.Intervals {
		binary.Write(w, binary.LittleEndian, i.Start)
		binary.Write(w, binary.LittleEndian, i.Stop)
	}
}

// Encode renders the binary form: 16 raw UUID bytes, an LE i64 interval
// count, then LE i64 start/stop pairs.
func (s *UUIDSet) Encode() []byte {
	var buf bytes.Buffer
	s.encode(&buf)
	return buf.Bytes()
}

func (s *UUIDSet) decode(data []byte) (int, error) {
	if len(data) < 24 {
		return 0, errors.Errorf("invalid UUIDSet buffer, less than 24 bytes")
	}

	pos := 0
	var err error
	if s.SID, err = uuid.FromBytes(data[0:16]); err != nil {
		return 0, errors.Trace(err)
	}
	pos += 16

	n := int64(binary.LittleEndian.Uint64(data[pos : pos+8]))
	pos += 8
	if len(data) < int(16*n)+pos {
		return 0, errors.Errorf("invalid UUIDSet buffer, must %d, but %d", pos+int(16*n), len(data))
	}

	s.Intervals = make(IntervalSlice, 0, n)
	for i := int64(0); i < n; i++ {
		in := Interval{
			Start: int64(binary.LittleEndian.Uint64(data[pos : pos+8])),
			Stop:  int64(binary.LittleEndian.Uint64(data[pos+8 : pos+16])),
		}
		pos += 16
		s.Intervals = append(s.Intervals, in)
	}
	s.Intervals = s.Intervals.Normalize()

	return pos, nil
}

// DecodeUUIDSet parses the binary form produced by Encode.
func DecodeUUIDSet(data []byte) (*UUIDSet, error) {
	s := new(UUIDSet)
	if _, err := s.decode(data); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *UUIDSet) Clone() *UUIDSet {
	clone := new(UUIDSet)
	clone.SID = s.SID
	clone.Intervals = s.Intervals.Clone()
	return clone
}

// MysqlGTIDSet maps source UUIDs to their executed intervals.
type MysqlGTIDSet struct {
	Sets map[string]*UUIDSet
}

// ParseMysqlGTIDSet parses a comma-separated list of UUID sets. An empty
// string yields an empty set.
func ParseMysqlGTIDSet(str string) (GTIDSet, error) {
	s := new(MysqlGTIDSet)
	s.Sets = make(map[string]*UUIDSet)
	if str == "" {
		return s, nil
	}

	for _, sub := range strings.Split(str, ",") {
		set, err := ParseUUIDSet(sub)
		if err != nil {
			return nil, errors.Trace(err)
		}
		s.AddSet(set)
	}
	return s, nil
}

// DecodeMysqlGTIDSet parses the binary form: LE u64 UUID count, then each
// UUIDSet.
func DecodeMysqlGTIDSet(data []byte) (*MysqlGTIDSet, error) {
	if len(data) < 8 {
		return nil, errors.Errorf("invalid MySQL GTID set buffer, less than 8 bytes")
	}

	n := int(binary.LittleEndian.Uint64(data))
	s := &MysqlGTIDSet{Sets: make(map[string]*UUIDSet, n)}

	pos := 8
	for i := 0; i < n; i++ {
		set := new(UUIDSet)
		m, err := set.decode(data[pos:])
		if err != nil {
			return nil, errors.Trace(err)
		}
		pos += m

		s.AddSet(set)
	}

	if pos != len(data) {
		return nil, errors.Errorf("invalid MySQL GTID set buffer, %d trailing bytes", len(data)-pos)
	}

	return s, nil
}

// AddSet unions one UUID set into the receiver.
func (s *MysqlGTIDSet) AddSet(set *UUIDSet) {
	if set == nil {
		return
	}
	sid := set.SID.String()
	if o, ok := s.Sets[sid]; ok {
		o.AddInterval(set.Intervals)
	} else {
		s.Sets[sid] = set
	}
}

// MinusSet subtracts one UUID set, dropping the UUID entry when nothing
// remains.
func (s *MysqlGTIDSet) MinusSet(set *UUIDSet) {
	if set == nil {
		return
	}
	sid := set.SID.String()
	if o, ok := s.Sets[sid]; ok {
		o.MinusInterval(set.Intervals)
		if len(o.Intervals) == 0 {
			delete(s.Sets, sid)
		}
	}
}

// Add unions a single "uuid:interval..." GTID into the set.
func (s *MysqlGTIDSet) Add(addend string) error {
	set, err := ParseUUIDSet(addend)
	if err != nil {
		return errors.Trace(err)
	}

	s.AddSet(set)
	return nil
}

// AddGTID unions one (uuid, gno) transaction into the set.
func (s *MysqlGTIDSet) AddGTID(sid uuid.UUID, gno int64) {
	s.AddSet(&UUIDSet{
		SID:       sid,
		Intervals: IntervalSlice{{gno, gno + 1}},
	})
}

// Minus subtracts another MySQL GTID set.
func (s *MysqlGTIDSet) Minus(o *MysqlGTIDSet) {
	for _, set := range o.Sets {
		s.MinusSet(set)
	}
}

// Update unions the text form into the receiver. Implements GTIDSet.
func (s *MysqlGTIDSet) Update(gtidStr string) error {
	gs, err := ParseMysqlGTIDSet(gtidStr)
	if err != nil {
		return err
	}

	for _, uuidSet := range gs.(*MysqlGTIDSet).Sets {
		s.AddSet(uuidSet)
	}
	return nil
}

func (s *MysqlGTIDSet) Contain(o GTIDSet) bool {
	sub, ok := o.(*MysqlGTIDSet)
	if !ok {
		return false
	}

	for key, set := range sub.Sets {
		own, ok := s.Sets[key]
		if !ok {
			return false
		}
		if !own.Contain(set) {
			return false
		}
	}

	return true
}

func (s *MysqlGTIDSet) Equal(o GTIDSet) bool {
	other, ok := o.(*MysqlGTIDSet)
	if !ok {
		return false
	}

	if len(other.Sets) != len(s.Sets) {
		return false
	}

	for key, set := range other.Sets {
		own, ok := s.Sets[key]
		if !ok {
			return false
		}
		if own.SID != set.SID || !own.Intervals.Equal(set.Intervals) {
			return false
		}
	}

	return true
}

func (s *MysqlGTIDSet) String() string {
	// there is generally no sorting in a GTID set; render sorted so output
	// is stable
	sids := make([]string, 0, len(s.Sets))
	for sid := range s.Sets {
		sids = append(sids, sid)
	}
	sort.Strings(sids)

	var buf bytes.Buffer
	for i, sid := range sids {
		if i != 0 {
			buf.WriteString(",")
		}
		buf.WriteString(s.Sets[sid].String())
	}

	return buf.String()
}

// Encode renders the binary form consumed by COM_BINLOG_DUMP_GTID,
// bit-compatible with MySQL's Gtid_set::encode.
func (s *MysqlGTIDSet) Encode() []byte {
	var buf bytes.Buffer

	binary.Write(&buf, binary.LittleEndian, uint64(len(s.Sets)))

	for i := range s.Sets {
		s.Sets[i].encode(&buf)
	}

	return buf.Bytes()
}

func (s *MysqlGTIDSet) Len() int {
	return len(s.Sets)
}

func (s *MysqlGTIDSet) Clone() GTIDSet {
	clone := &MysqlGTIDSet{
		Sets: make(map[string]*UUIDSet, len(s.Sets)),
	}
	for sid, set := range s.Sets {
		clone.Sets[sid] = set.Clone()
	}

	return clone
}
