package replication

import (
	"context"
	"encoding/binary"
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/binlogstream/client"
	"github.com/kasuganosora/binlogstream/mysql"
	"github.com/kasuganosora/binlogstream/packet"
)

// pipeSyncer wires a syncer to one end of an in-memory connection; the
// returned packet conn is the primary's side.
func pipeSyncer(t *testing.T, cfg BinlogSyncerConfig) (*BinlogSyncer, *packet.Conn) {
	c1, c2 := net.Pipe()
	t.Cleanup(func() {
		c1.Close()
		c2.Close()
	})

	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	b := &BinlogSyncer{
		cfg: cfg,
		c:   &client.Conn{Conn: packet.NewConn(c1)},
	}
	b.parser = b.newParser()
	b.ctx, b.cancel = context.WithCancel(context.Background())

	return b, packet.NewConn(c2)
}

func TestWriteBinlogDumpCommand(t *testing.T) {
	b, primary := pipeSyncer(t, BinlogSyncerConfig{ServerID: 100})

	go func() {
		_ = b.writeBinlogDumpCommand(mysql.Position{Name: "mysql-bin.000003", Pos: 1234})
	}()

	data, err := primary.ReadPacket()
	require.NoError(t, err)

	assert.Equal(t, mysql.COM_BINLOG_DUMP, data[0])
	assert.Equal(t, uint32(1234), binary.LittleEndian.Uint32(data[1:]))
	assert.Equal(t, BINLOG_DUMP_NEVER_STOP, binary.LittleEndian.Uint16(data[5:]))
	assert.Equal(t, uint32(100), binary.LittleEndian.Uint32(data[7:]))
	assert.Equal(t, "mysql-bin.000003", string(data[11:]))
}

func TestWriteBinlogDumpMysqlGTIDCommand(t *testing.T) {
	b, primary := pipeSyncer(t, BinlogSyncerConfig{ServerID: 100})

	gset, err := mysql.ParseMysqlGTIDSet("736e832d-42ad-11eb-91b2-0242ac110002:1-10")
	require.NoError(t, err)

	go func() {
		_ = b.writeBinlogDumpMysqlGTIDCommand(gset)
	}()

	data, err := primary.ReadPacket()
	require.NoError(t, err)

	pos := 0
	assert.Equal(t, mysql.COM_BINLOG_DUMP_GTID, data[pos])
	pos++
	assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(data[pos:])) // flags
	pos += 2
	assert.Equal(t, uint32(100), binary.LittleEndian.Uint32(data[pos:]))
	pos += 4
	nameLen := binary.LittleEndian.Uint32(data[pos:])
	assert.Zero(t, nameLen)
	pos += 4
	assert.Equal(t, uint64(4), binary.LittleEndian.Uint64(data[pos:]))
	pos += 8
	gtidLen := binary.LittleEndian.Uint32(data[pos:])
	pos += 4
	assert.Equal(t, gset.Encode(), data[pos:pos+int(gtidLen)])
	assert.Len(t, data, pos+int(gtidLen))
}

func TestWriteRegisterSlaveCommand(t *testing.T) {
	b, primary := pipeSyncer(t, BinlogSyncerConfig{
		ServerID:  100,
		Localhost: "replica-1",
		User:      "repl",
		Password:  "secret",
		Port:      3307,
	})

	go func() {
		_ = b.writeRegisterSlaveCommand()
	}()

	data, err := primary.ReadPacket()
	require.NoError(t, err)

	pos := 0
	assert.Equal(t, mysql.COM_REGISTER_SLAVE, data[pos])
	pos++
	assert.Equal(t, uint32(100), binary.LittleEndian.Uint32(data[pos:]))
	pos += 4

	readString := func() string {
		l := int(data[pos])
		pos++
		s := string(data[pos : pos+l])
		pos += l
		return s
	}
	assert.Equal(t, "replica-1", readString())
	assert.Equal(t, "repl", readString())
	assert.Equal(t, "secret", readString())
	assert.Equal(t, uint16(3307), binary.LittleEndian.Uint16(data[pos:]))
}

func TestReplySemiSyncACK(t *testing.T) {
	b, primary := pipeSyncer(t, BinlogSyncerConfig{ServerID: 100})

	go func() {
		_ = b.replySemiSyncACK(mysql.Position{Name: "mysql-bin.000001", Pos: 4321})
	}()

	data, err := primary.ReadPacket()
	require.NoError(t, err)

	assert.Equal(t, semiSyncIndicator, data[0])
	assert.Equal(t, uint64(4321), binary.LittleEndian.Uint64(data[1:]))
	assert.Equal(t, "mysql-bin.000001", string(data[9:]))
}

func TestSyncerParseEvent(t *testing.T) {
	b, _ := pipeSyncer(t, BinlogSyncerConfig{ServerID: 100})
	b.parser = newTestParser(t, BINLOG_CHECKSUM_ALG_OFF)

	s := NewBinlogStreamerWithChannelSize(4)

	rotBody := make([]byte, 8+len("mysql-bin.000009"))
	binary.LittleEndian.PutUint64(rotBody, 4)
	copy(rotBody[8:], "mysql-bin.000009")

	raw := append([]byte{mysql.OK_HEADER}, buildRawEvent(ROTATE_EVENT, rotBody)...)
	require.NoError(t, b.parseEvent(s, raw))

	assert.Equal(t, mysql.Position{Name: "mysql-bin.000009", Pos: 4}, b.GetNextPosition())

	ev, err := s.GetEvent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ROTATE_EVENT, ev.Header.EventType)
}

func TestSyncerGTIDTracking(t *testing.T) {
	b, _ := pipeSyncer(t, BinlogSyncerConfig{ServerID: 100})
	b.parser = newTestParser(t, BINLOG_CHECKSUM_ALG_OFF)

	var err error
	b.prevGset, err = mysql.ParseMysqlGTIDSet("736e832d-42ad-11eb-91b2-0242ac110002:1-9")
	require.NoError(t, err)

	s := NewBinlogStreamerWithChannelSize(4)

	gtidBody := make([]byte, 0, 25)
	gtidBody = append(gtidBody, 1)
	sid := uuid.MustParse("736e832d-42ad-11eb-91b2-0242ac110002")
	gtidBody = append(gtidBody, sid[:]...)
	gtidBody = binary.LittleEndian.AppendUint64(gtidBody, 10)

	raw := append([]byte{mysql.OK_HEADER}, buildRawEvent(GTID_EVENT, gtidBody)...)
	require.NoError(t, b.parseEvent(s, raw))

	xid := make([]byte, 8)
	binary.LittleEndian.PutUint64(xid, 7)
	raw = append([]byte{mysql.OK_HEADER}, buildRawEvent(XID_EVENT, xid)...)
	require.NoError(t, b.parseEvent(s, raw))

	events := s.DumpEvents()
	require.Len(t, events, 2)

	xe, ok := events[1].Event.(*XIDEvent)
	require.True(t, ok)
	require.NotNil(t, xe.GSet)
	assert.Equal(t, "736e832d-42ad-11eb-91b2-0242ac110002:1-10", xe.GSet.String())
}

func TestSyncerSemiSyncACKOnEvent(t *testing.T) {
	b, primary := pipeSyncer(t, BinlogSyncerConfig{ServerID: 100, SemiSyncEnabled: true})
	b.parser = newTestParser(t, BINLOG_CHECKSUM_ALG_OFF)

	s := NewBinlogStreamerWithChannelSize(4)

	xid := make([]byte, 8)
	raw := append([]byte{mysql.OK_HEADER, semiSyncIndicator, semiSyncAckRequest},
		buildRawEvent(XID_EVENT, xid)...)

	done := make(chan error, 1)
	go func() {
		done <- b.parseEvent(s, raw)
	}()

	ack, err := primary.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, semiSyncIndicator, ack[0])
	require.NoError(t, <-done)
}

func TestLocalHostname(t *testing.T) {
	b := &BinlogSyncer{cfg: BinlogSyncerConfig{Localhost: "replica-2"}}
	assert.Equal(t, "replica-2", b.localHostname())

	b.cfg.Localhost = ""
	assert.NotEmpty(t, b.localHostname())
}
