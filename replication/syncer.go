package replication

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/pingcap/errors"
	"github.com/sirupsen/logrus"

	"github.com/kasuganosora/binlogstream/client"
	"github.com/kasuganosora/binlogstream/mysql"
)

var errSyncRunning = errors.New("sync is running, must Close first")

// BinlogSyncerConfig is the whole configuration of a BinlogSyncer. Only
// ServerID, Flavor and the connection fields are mandatory.
type BinlogSyncerConfig struct {
	// ServerID is the unique id this replica announces; it must differ
	// from every other server in the topology.
	ServerID uint32

	// Flavor is mysql.MySQLFlavor or mysql.MariaDBFlavor.
	Flavor string

	Host     string
	Port     uint16
	User     string
	Password string

	// Localhost overrides the hostname reported in COM_REGISTER_SLAVE.
	Localhost string

	// Charset is applied with SET NAMES after connecting, when set.
	Charset string

	// SemiSyncEnabled asks the primary for semi-sync framing and ACKs
	// every event that requests it.
	SemiSyncEnabled bool

	// RawModeEnabled skips body decoding except for the format
	// description and rotate events the syncer itself needs.
	RawModeEnabled bool

	// HeartbeatPeriod makes the primary emit heartbeat events on an idle
	// stream; pair it with ReadTimeout to detect dead connections.
	HeartbeatPeriod time.Duration

	// ReadTimeout bounds each wait for stream data.
	ReadTimeout time.Duration

	// RecvBufferSize tunes the socket receive buffer (TCP only).
	RecvBufferSize int

	// MaxReconnectAttempts limits consecutive failed reconnects;
	// 0 retries forever.
	MaxReconnectAttempts int

	// DisableRetrySync turns any stream error into a fatal one.
	DisableRetrySync bool

	VerifyChecksum bool

	// ParseTime decodes temporal columns to time.Time instead of strings.
	ParseTime bool

	// TimestampStringLocation is the location TIMESTAMP strings are
	// rendered in; nil keeps UTC.
	TimestampStringLocation *time.Location

	// UseDecimal decodes DECIMAL columns to decimal.Decimal instead of
	// strings.
	UseDecimal bool

	// IgnoreJSONDecodeErr tolerates empty JSON documents written by
	// pre-5.7.22 primaries.
	IgnoreJSONDecodeErr bool

	// DiscardGTIDSet skips attaching the accumulated GTID set to XID and
	// query events, saving the per-transaction clone.
	DiscardGTIDSet bool

	// EventCacheCount is the streamer channel capacity, default 10240.
	EventCacheCount int

	// Option runs against the connection right after it is established,
	// before registration.
	Option func(*client.Conn) error

	Logger logrus.FieldLogger

	// Dialer overrides how the primary is reached.
	Dialer client.Dialer
}

// BinlogSyncer connects to a primary as a replica and streams its binlog.
type BinlogSyncer struct {
	m sync.RWMutex

	cfg BinlogSyncerConfig

	c *client.Conn

	wg sync.WaitGroup

	parser *BinlogParser

	nextPos mysql.Position

	prevGset, currGset mysql.GTIDSet

	running bool

	ctx    context.Context
	cancel context.CancelFunc

	lastConnectionID uint32

	retryCount int
}

// NewBinlogSyncer creates the syncer; Close releases it.
func NewBinlogSyncer(cfg BinlogSyncerConfig) *BinlogSyncer {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.ServerID == 0 {
		cfg.Logger.Fatal("can't use 0 as the server ID")
	}
	if cfg.EventCacheCount == 0 {
		cfg.EventCacheCount = 10240
	}

	// password never reaches the log
	pass := cfg.Password
	cfg.Password = ""
	cfg.Logger.Infof("create BinlogSyncer with config %v", cfg)
	cfg.Password = pass

	b := new(BinlogSyncer)

	b.cfg = cfg
	b.parser = b.newParser()
	b.running = false
	b.ctx, b.cancel = context.WithCancel(context.Background())

	return b
}

func (b *BinlogSyncer) newParser() *BinlogParser {
	parser := NewBinlogParser()
	parser.SetFlavor(b.cfg.Flavor)
	parser.SetRawMode(b.cfg.RawModeEnabled)
	parser.SetParseTime(b.cfg.ParseTime)
	parser.SetTimestampStringLocation(b.cfg.TimestampStringLocation)
	parser.SetUseDecimal(b.cfg.UseDecimal)
	parser.SetVerifyChecksum(b.cfg.VerifyChecksum)
	parser.SetIgnoreJSONDecodeError(b.cfg.IgnoreJSONDecodeErr)
	return parser
}

// Close stops the stream and closes the connection. It is safe to call
// more than once.
func (b *BinlogSyncer) Close() {
	b.m.Lock()
	defer b.m.Unlock()

	b.close()
}

func (b *BinlogSyncer) close() {
	if b.isClosed() {
		return
	}

	b.cfg.Logger.Info("syncer is closing...")

	b.running = false
	b.cancel()

	if b.c != nil {
		err := b.c.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		if err != nil {
			b.cfg.Logger.Warnf("could not set read deadline: %s", err)
		}
	}

	// The dump command blocks the server thread; a KILL from a fresh
	// connection actually releases it, closing our socket does not.
	if b.lastConnectionID > 0 {
		c, err := b.newConnection()
		if err == nil {
			b.killConnection(c, b.lastConnectionID)
			c.Close()
		}
	}

	b.wg.Wait()

	if b.c != nil {
		b.c.Close()
	}

	b.cfg.Logger.Info("syncer is closed")
}

func (b *BinlogSyncer) isClosed() bool {
	select {
	case <-b.ctx.Done():
		return true
	default:
		return false
	}
}

func (b *BinlogSyncer) registerSlave() error {
	if b.c != nil {
		b.c.Close()
	}

	var err error
	b.c, err = b.newConnection()
	if err != nil {
		return errors.Trace(err)
	}

	if b.cfg.Option != nil {
		if err = b.cfg.Option(b.c); err != nil {
			return errors.Trace(err)
		}
	}

	if len(b.cfg.Charset) != 0 {
		if err = b.c.SetCharset(b.cfg.Charset); err != nil {
			return errors.Trace(err)
		}
	}

	if b.cfg.ReadTimeout > 0 {
		_ = b.c.SetReadDeadline(time.Now().Add(b.cfg.ReadTimeout))
	}

	if b.cfg.RecvBufferSize > 0 {
		_ = b.c.SetRecvBufferSize(b.cfg.RecvBufferSize)
	}

	// kill the dump thread of the previous session, it survives our end
	// of the socket
	if b.lastConnectionID > 0 {
		b.killConnection(b.c, b.lastConnectionID)
	}

	b.lastConnectionID = b.c.ConnectionID

	// for mysql 5.6+, binlog has a crc32 checksum; announce that we are
	// checksum aware, then turn them off so positions stay byte-exact.
	// Harmless on older servers.
	if r, err := b.c.Execute("SHOW GLOBAL VARIABLES LIKE 'BINLOG_CHECKSUM'"); err != nil {
		return errors.Trace(err)
	} else {
		s, _ := r.GetString(0, 1)
		if s != "" {
			if _, err = b.c.Execute(`SET @master_binlog_checksum='NONE'`); err != nil {
				return errors.Trace(err)
			}
		}
	}

	if b.cfg.Flavor == mysql.MariaDBFlavor {
		// slave capability 4 tells MariaDB >= 10.0.1 we understand GTIDs
		if _, err := b.c.Execute(fmt.Sprintf("SET @mariadb_slave_capability=%d", mysql.MariaDBSlaveCapabilityGTID)); err != nil {
			return errors.Errorf("failed to set @mariadb_slave_capability: %v", err)
		}
	}

	if b.cfg.HeartbeatPeriod > 0 {
		_, err = b.c.Execute(fmt.Sprintf("SET @master_heartbeat_period=%d;", b.cfg.HeartbeatPeriod))
		if err != nil {
			b.cfg.Logger.Errorf("failed to set @master_heartbeat_period=%d, err: %v", b.cfg.HeartbeatPeriod, err)
			return errors.Trace(err)
		}
	}

	serverUUID := uuid.NewString()
	if _, err = b.c.Execute(fmt.Sprintf("SET @slave_uuid = '%s', @replica_uuid = '%s'", serverUUID, serverUUID)); err != nil {
		b.cfg.Logger.Errorf("failed to set @slave_uuid = '%s', err: %v", serverUUID, err)
		return errors.Trace(err)
	}

	if err = b.writeRegisterSlaveCommand(); err != nil {
		return errors.Trace(err)
	}

	if _, err = b.c.ReadOKPacket(); err != nil {
		return errors.Trace(err)
	}

	return nil
}

func (b *BinlogSyncer) enableSemiSync() error {
	if !b.cfg.SemiSyncEnabled {
		return nil
	}

	if r, err := b.c.Execute("SHOW VARIABLES LIKE 'rpl_semi_sync_master_enabled';"); err != nil {
		return errors.Trace(err)
	} else {
		s, _ := r.GetString(0, 1)
		if s != "ON" {
			b.cfg.Logger.Errorf("master does not support semi synchronous replication, use no semi-sync")
			b.cfg.SemiSyncEnabled = false
			return nil
		}
	}

	_, err := b.c.Execute(`SET @rpl_semi_sync_slave = 1;`)
	if err != nil {
		return errors.Trace(err)
	}

	return nil
}

func (b *BinlogSyncer) prepare() error {
	if b.isClosed() {
		return errors.Trace(ErrSyncClosed)
	}

	if err := b.registerSlave(); err != nil {
		return errors.Trace(err)
	}

	if err := b.enableSemiSync(); err != nil {
		return errors.Trace(err)
	}

	return nil
}

func (b *BinlogSyncer) startDumpStream() *BinlogStreamer {
	b.running = true

	s := NewBinlogStreamerWithChannelSize(b.cfg.EventCacheCount)

	b.wg.Add(1)
	go b.onStream(s)
	return s
}

// GetNextPosition returns the position the stream will resume from after
// a reconnect; valid once the first events arrived.
func (b *BinlogSyncer) GetNextPosition() mysql.Position {
	return b.nextPos
}

// StartSync starts streaming from a file position.
func (b *BinlogSyncer) StartSync(pos mysql.Position) (*BinlogStreamer, error) {
	b.cfg.Logger.Infof("begin to sync binlog from position %s", pos)

	b.m.Lock()
	defer b.m.Unlock()

	if b.running {
		return nil, errors.Trace(errSyncRunning)
	}

	if err := b.prepareSyncPos(pos); err != nil {
		return nil, errors.Trace(err)
	}

	return b.startDumpStream(), nil
}

// StartSyncGTID starts streaming everything not contained in gset.
func (b *BinlogSyncer) StartSyncGTID(gset mysql.GTIDSet) (*BinlogStreamer, error) {
	b.cfg.Logger.Infof("begin to sync binlog from GTID set %s", gset)

	b.prevGset = gset

	b.m.Lock()
	defer b.m.Unlock()

	if b.running {
		return nil, errors.Trace(errSyncRunning)
	}

	// the stream resumes from "gset + 1", so there is no current GTID
	// until the first GTID event arrives
	b.currGset = nil

	if err := b.prepare(); err != nil {
		return nil, errors.Trace(err)
	}

	var err error
	switch b.cfg.Flavor {
	case mysql.MariaDBFlavor:
		err = b.writeBinlogDumpMariadbGTIDCommand(gset)
	default:
		err = b.writeBinlogDumpMysqlGTIDCommand(gset)
	}

	if err != nil {
		return nil, err
	}

	return b.startDumpStream(), nil
}

func (b *BinlogSyncer) writeBinlogDumpCommand(p mysql.Position) error {
	b.c.ResetSequence()

	data := make([]byte, 1+4+2+4+len(p.Name))

	pos := 0
	data[pos] = mysql.COM_BINLOG_DUMP
	pos++

	binary.LittleEndian.PutUint32(data[pos:], p.Pos)
	pos += 4

	binary.LittleEndian.PutUint16(data[pos:], BINLOG_DUMP_NEVER_STOP)
	pos += 2

	binary.LittleEndian.PutUint32(data[pos:], b.cfg.ServerID)
	pos += 4

	copy(data[pos:], p.Name)

	return b.c.WritePacket(data)
}

func (b *BinlogSyncer) writeBinlogDumpMysqlGTIDCommand(gset mysql.GTIDSet) error {
	p := mysql.Position{Name: "", Pos: 4}
	gtidData := gset.Encode()

	b.c.ResetSequence()

	data := make([]byte, 1+2+4+4+len(p.Name)+8+4+len(gtidData))
	pos := 0
	data[pos] = mysql.COM_BINLOG_DUMP_GTID
	pos++

	binary.LittleEndian.PutUint16(data[pos:], 0)
	pos += 2

	binary.LittleEndian.PutUint32(data[pos:], b.cfg.ServerID)
	pos += 4

	binary.LittleEndian.PutUint32(data[pos:], uint32(len(p.Name)))
	pos += 4

	n := copy(data[pos:], p.Name)
	pos += n

	binary.LittleEndian.PutUint64(data[pos:], uint64(p.Pos))
	pos += 8

	binary.LittleEndian.PutUint32(data[pos:], uint32(len(gtidData)))
	pos += 4

	n = copy(data[pos:], gtidData)
	pos += n

	data = data[0:pos]

	return b.c.WritePacket(data)
}

func (b *BinlogSyncer) writeBinlogDumpMariadbGTIDCommand(gset mysql.GTIDSet) error {
	startPos := gset.String()

	// MariaDB takes the GTID start position through a session variable,
	// not through the dump command itself.
	query := fmt.Sprintf("SET @slave_connect_state='%s'", startPos)

	if _, err := b.c.Execute(query); err != nil {
		return errors.Errorf("failed to set @slave_connect_state='%s': %v", startPos, err)
	}

	// strict mode keeps GTID comparisons on the server side safe
	if _, err := b.c.Execute("SET @slave_gtid_strict_mode=1"); err != nil {
		return errors.Errorf("failed to set @slave_gtid_strict_mode=1: %v", err)
	}

	// file and position are ignored once @slave_connect_state is set
	return b.writeBinlogDumpCommand(mysql.Position{Name: "", Pos: 0})
}

func (b *BinlogSyncer) localHostname() string {
	if len(b.cfg.Localhost) == 0 {
		h, _ := os.Hostname()
		return h
	}
	return b.cfg.Localhost
}

func (b *BinlogSyncer) writeRegisterSlaveCommand() error {
	b.c.ResetSequence()

	hostname := b.localHostname()

	// the hostname here is this replica's own, not the primary's
	data := make([]byte, 1+4+1+len(hostname)+1+len(b.cfg.User)+1+len(b.cfg.Password)+2+4+4)
	pos := 0

	data[pos] = mysql.COM_REGISTER_SLAVE
	pos++

	binary.LittleEndian.PutUint32(data[pos:], b.cfg.ServerID)
	pos += 4

	data[pos] = uint8(len(hostname))
	pos++
	n := copy(data[pos:], hostname)
	pos += n

	data[pos] = uint8(len(b.cfg.User))
	pos++
	n = copy(data[pos:], b.cfg.User)
	pos += n

	data[pos] = uint8(len(b.cfg.Password))
	pos++
	n = copy(data[pos:], b.cfg.Password)
	pos += n

	binary.LittleEndian.PutUint16(data[pos:], b.cfg.Port)
	pos += 2

	// replication rank, not used
	binary.LittleEndian.PutUint32(data[pos:], 0)
	pos += 4

	// master id, 0 is fine
	binary.LittleEndian.PutUint32(data[pos:], 0)

	return b.c.WritePacket(data)
}

func (b *BinlogSyncer) replySemiSyncACK(p mysql.Position) error {
	b.c.ResetSequence()

	data := make([]byte, 1+8+len(p.Name))
	pos := 0

	data[pos] = semiSyncIndicator
	pos++

	binary.LittleEndian.PutUint64(data[pos:], uint64(p.Pos))
	pos += 8

	copy(data[pos:], p.Name)

	return errors.Trace(b.c.WritePacket(data))
}

func (b *BinlogSyncer) retrySync() error {
	b.m.Lock()
	defer b.m.Unlock()

	b.parser.Reset()

	if b.prevGset != nil {
		msg := fmt.Sprintf("begin to re-sync from %s", b.prevGset.String())
		if b.currGset != nil {
			msg = fmt.Sprintf("%v (last read GTID=%v)", msg, b.currGset)
		}
		b.cfg.Logger.Infof(msg)

		if err := b.prepareSyncGTID(b.prevGset); err != nil {
			return errors.Trace(err)
		}
	} else {
		b.cfg.Logger.Infof("begin to re-sync from %s", b.nextPos)
		if err := b.prepareSyncPos(b.nextPos); err != nil {
			return errors.Trace(err)
		}
	}

	return nil
}

func (b *BinlogSyncer) prepareSyncPos(pos mysql.Position) error {
	// the binlog file header occupies the first 4 bytes
	if pos.Pos < 4 {
		pos.Pos = 4
	}

	if err := b.prepare(); err != nil {
		return errors.Trace(err)
	}

	if err := b.writeBinlogDumpCommand(pos); err != nil {
		return errors.Trace(err)
	}

	return nil
}

func (b *BinlogSyncer) prepareSyncGTID(gset mysql.GTIDSet) error {
	var err error

	b.currGset = nil

	if err = b.prepare(); err != nil {
		return errors.Trace(err)
	}

	switch b.cfg.Flavor {
	case mysql.MariaDBFlavor:
		err = b.writeBinlogDumpMariadbGTIDCommand(gset)
	default:
		err = b.writeBinlogDumpMysqlGTIDCommand(gset)
	}

	return err
}

func (b *BinlogSyncer) onStream(s *BinlogStreamer) {
	defer func() {
		if e := recover(); e != nil {
			buf := make([]byte, 4096)
			buf = buf[:runtime.Stack(buf, false)]
			s.closeWithError(fmt.Errorf("err: %v\n stack: %s", e, buf))
		}
		b.wg.Done()
	}()

	retryBackoff := &backoff.Backoff{
		Min:    time.Second,
		Max:    30 * time.Second,
		Jitter: true,
	}

	for {
		data, err := b.c.ReadPacket()
		select {
		case <-b.ctx.Done():
			s.close()
			return
		default:
		}

		if err != nil {
			b.cfg.Logger.Error(err)
			// connection error; re-sync from the last position or GTID
			// set we saw, if we have one
			if len(b.nextPos.Name) == 0 && b.prevGset == nil {
				s.closeWithError(err)
				return
			}

			if b.cfg.DisableRetrySync {
				b.cfg.Logger.Warn("retry sync is disabled")
				s.closeWithError(err)
				return
			}

			for {
				select {
				case <-b.ctx.Done():
					s.close()
					return
				case <-time.After(retryBackoff.Duration()):
					b.retryCount++
					if err = b.retrySync(); err != nil {
						if b.cfg.MaxReconnectAttempts > 0 && b.retryCount >= b.cfg.MaxReconnectAttempts {
							b.cfg.Logger.Errorf("retry sync err: %v, exceeded max retries (%d)", err, b.cfg.MaxReconnectAttempts)
							s.closeWithError(err)
							return
						}

						b.cfg.Logger.Errorf("retry sync err: %v, wait and retry again", err)
						continue
					}
				}

				break
			}

			// reconnected, resume reading
			continue
		}

		if b.cfg.ReadTimeout > 0 {
			_ = b.c.SetReadDeadline(time.Now().Add(b.cfg.ReadTimeout))
		}

		b.retryCount = 0
		retryBackoff.Reset()

		switch data[0] {
		case mysql.OK_HEADER:
			if err = b.parseEvent(s, data); err != nil {
				s.closeWithError(err)
				return
			}
		case mysql.ERR_HEADER:
			err = b.c.HandleErrorPacket(data)
			s.closeWithError(err)
			return
		case mysql.EOF_HEADER:
			// under BINLOG_DUMP_NON_BLOCK the primary sends EOF at the
			// end of the log instead of blocking
			b.cfg.Logger.Info("receive EOF packet, no more binlog event now.")
			continue
		default:
			b.cfg.Logger.Errorf("invalid stream header %c", data[0])
			continue
		}
	}
}

func (b *BinlogSyncer) parseEvent(s *BinlogStreamer, data []byte) error {
	// skip OK byte
	data = data[1:]

	needACK := false
	if b.cfg.SemiSyncEnabled && data[0] == semiSyncIndicator {
		needACK = data[1] == semiSyncAckRequest
		// skip semi sync header
		data = data[2:]
	}

	e, err := b.parser.Parse(data)
	if err != nil {
		return errors.Trace(err)
	}

	if e.Header.LogPos > 0 {
		// events like the format description carry no position, skip
		b.nextPos.Pos = e.Header.LogPos
	}

	getCurrentGtidSet := func() mysql.GTIDSet {
		if b.currGset == nil {
			return nil
		}
		return b.currGset.Clone()
	}

	advanceCurrentGtidSet := func(gtid string) error {
		if b.currGset == nil {
			b.currGset = b.prevGset.Clone()
		}
		prev := b.currGset.Clone()
		err := b.currGset.Update(gtid)
		if err == nil {
			// right after a reconnect the first GTID repeats the one we
			// already had; keep prevGset unchanged in that case
			if !b.currGset.Equal(prev) {
				b.prevGset = prev
			}
		}
		return err
	}

	switch event := e.Event.(type) {
	case *RotateEvent:
		b.nextPos.Name = string(event.NextLogName)
		b.nextPos.Pos = uint32(event.Position)
		b.cfg.Logger.Infof("rotate to %s", b.nextPos)
	case *GTIDEvent:
		if b.prevGset == nil {
			break
		}
		u, _ := uuid.FromBytes(event.SID)
		err := advanceCurrentGtidSet(fmt.Sprintf("%s:%d", u.String(), event.GNO))
		if err != nil {
			return errors.Trace(err)
		}
	case *MariadbGTIDEvent:
		if b.prevGset == nil {
			break
		}
		gtid := event.GTID
		err := advanceCurrentGtidSet(fmt.Sprintf("%d-%d-%d", gtid.DomainID, gtid.ServerID, gtid.SequenceNumber))
		if err != nil {
			return errors.Trace(err)
		}
	case *XIDEvent:
		if !b.cfg.DiscardGTIDSet {
			event.GSet = getCurrentGtidSet()
		}
	case *QueryEvent:
		if !b.cfg.DiscardGTIDSet {
			event.GSet = getCurrentGtidSet()
		}
	}

	needStop := false
	select {
	case s.ch <- e:
	case <-b.ctx.Done():
		needStop = true
	}

	if needACK {
		err := b.replySemiSyncACK(b.nextPos)
		if err != nil {
			return errors.Trace(err)
		}
	}

	if needStop {
		return errors.New("sync is been closing...")
	}

	return nil
}

func (b *BinlogSyncer) newConnection() (*client.Conn, error) {
	var addr string
	if b.cfg.Port != 0 {
		addr = net.JoinHostPort(b.cfg.Host, strconv.Itoa(int(b.cfg.Port)))
	} else {
		addr = b.cfg.Host
	}

	if b.cfg.Dialer != nil {
		return client.ConnectWithDialer(addr, b.cfg.User, b.cfg.Password, "", b.cfg.Dialer)
	}
	return client.Connect(addr, b.cfg.User, b.cfg.Password, "")
}

func (b *BinlogSyncer) killConnection(conn *client.Conn, id uint32) {
	cmd := fmt.Sprintf("KILL %d", id)
	if _, err := conn.Execute(cmd); err != nil {
		// the thread may be gone already
		if code := mysql.ErrorCode(err.Error()); code != mysql.ER_NO_SUCH_THREAD {
			b.cfg.Logger.Errorf("kill connection %d error %v", id, err)
		}
		return
	}
	b.cfg.Logger.Infof("kill last connection id %d", id)
}
