// Package client is the minimal authenticated session the replication
// syncer drives: plain TCP (or unix socket) connect, mysql_native_password
// handshake and a text-protocol Execute sufficient for the SHOW VARIABLES /
// SET statements issued while registering a replica. TLS and the richer
// query surface are deliberately out of scope here.
package client

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/pingcap/errors"

	"github.com/kasuganosora/binlogstream/mysql"
	"github.com/kasuganosora/binlogstream/packet"
)

// Conn is one authenticated client session.
type Conn struct {
	*packet.Conn

	user     string
	password string
	db       string

	capability uint32

	// ConnectionID is the server-side thread id, used for KILL on
	// reconnect.
	ConnectionID uint32

	salt []byte

	serverVersion string
}

// Dialer produces the transport connection; it is a hook for tests and for
// callers that need custom sockets.
type Dialer func(network, address string) (net.Conn, error)

// Connect dials the address and completes the handshake. Options run
// against the connection after authentication, before it is returned.
func Connect(addr, user, password, db string, options ...func(*Conn) error) (*Conn, error) {
	dialer := func(network, address string) (net.Conn, error) {
		return net.DialTimeout(network, address, 10*time.Second)
	}
	return ConnectWithDialer(addr, user, password, db, dialer, options...)
}

// ConnectWithDialer is Connect with a caller-supplied dialer.
func ConnectWithDialer(addr, user, password, db string, dialer Dialer, options ...func(*Conn) error) (*Conn, error) {
	network, address := mysql.GetNetProto(addr)

	conn, err := dialer(network, address)
	if err != nil {
		return nil, errors.Trace(err)
	}

	c := &Conn{
		Conn:     packet.NewConn(conn),
		user:     user,
		password: password,
		db:       db,
	}

	if err := c.handshake(); err != nil {
		c.Close()
		return nil, err
	}

	for _, option := range options {
		if err := option(c); err != nil {
			c.Close()
			return nil, err
		}
	}

	return c, nil
}

// ServerVersion is the version string the server announced in its
// handshake.
func (c *Conn) ServerVersion() string {
	return c.serverVersion
}

func (c *Conn) handshake() error {
	if err := c.readInitialHandshake(); err != nil {
		return err
	}

	if err := c.writeAuthHandshake(); err != nil {
		return err
	}

	return c.readAuthResult()
}

func (c *Conn) readInitialHandshake() error {
	data, err := c.ReadPacket()
	if err != nil {
		return err
	}

	if data[0] == mysql.ERR_HEADER {
		return c.handleErrorPacket(data)
	}
	if data[0] < 10 {
		return errors.Errorf("unsupported protocol version %d, must >= 10", data[0])
	}

	pos := 1

	end := bytes.IndexByte(data[pos:], 0x00)
	if end < 0 {
		return errors.Trace(mysql.ErrMalformedPacket)
	}
	c.serverVersion = string(data[pos : pos+end])
	pos += end + 1

	c.ConnectionID = binary.LittleEndian.Uint32(data[pos:])
	pos += 4

	c.salt = append([]byte{}, data[pos:pos+8]...)
	pos += 8 + 1 // salt part 1 + filler

	c.capability = uint32(binary.LittleEndian.Uint16(data[pos:]))
	pos += 2

	if len(data) > pos {
		pos++ // charset
		pos += 2 // status flags
		c.capability |= uint32(binary.LittleEndian.Uint16(data[pos:])) << 16
		pos += 2

		saltLen := int(data[pos])
		pos += 1 + 10 // auth data length + reserved

		// the second salt half is at least 12 bytes, NUL terminated
		if c.capability&mysql.CLIENT_SECURE_CONNECTION != 0 {
			rest := 12
			if saltLen-8 > rest {
				rest = saltLen - 8 - 1
			}
			if len(data) < pos+rest {
				return errors.Trace(mysql.ErrMalformedPacket)
			}
			c.salt = append(c.salt, data[pos:pos+rest]...)
		}
	}

	return nil
}

func (c *Conn) writeAuthHandshake() error {
	capability := mysql.CLIENT_PROTOCOL_41 | mysql.CLIENT_SECURE_CONNECTION |
		mysql.CLIENT_LONG_PASSWORD | mysql.CLIENT_LONG_FLAG | mysql.CLIENT_TRANSACTIONS |
		mysql.CLIENT_PLUGIN_AUTH
	if c.db != "" {
		capability |= mysql.CLIENT_CONNECT_WITH_DB
	}
	capability &= c.capability | mysql.CLIENT_LONG_PASSWORD

	auth := CalcPassword(c.salt, []byte(c.password))

	length := 4 + 4 + 1 + 23 + len(c.user) + 1 + 1 + len(auth) + 21 + 1
	if c.db != "" {
		length += len(c.db) + 1
	}

	data := make([]byte, 0, length)

	var head [4]byte
	binary.LittleEndian.PutUint32(head[:], capability)
	data = append(data, head[:]...)

	// max packet size, left to the server default
	data = append(data, 0x00, 0x00, 0x00, 0x00)

	// utf8mb4_general_ci
	data = append(data, 45)

	data = append(data, make([]byte, 23)...)

	data = append(data, c.user...)
	data = append(data, 0x00)

	data = append(data, byte(len(auth)))
	data = append(data, auth...)

	if c.db != "" {
		data = append(data, c.db...)
		data = append(data, 0x00)
	}

	data = append(data, "mysql_native_password"...)
	data = append(data, 0x00)

	return c.WritePacket(data)
}

func (c *Conn) readAuthResult() error {
	data, err := c.ReadPacket()
	if err != nil {
		return err
	}

	switch data[0] {
	case mysql.OK_HEADER:
		return nil
	case mysql.ERR_HEADER:
		return c.handleErrorPacket(data)
	case mysql.EOF_HEADER:
		// auth switch request; only mysql_native_password is supported
		pos := 1
		end := bytes.IndexByte(data[pos:], 0x00)
		if end < 0 {
			return errors.Trace(mysql.ErrMalformedPacket)
		}
		plugin := string(data[pos : pos+end])
		if plugin != "mysql_native_password" {
			return errors.Errorf("unsupported auth plugin %q", plugin)
		}

		salt := bytes.TrimRight(data[pos+end+1:], "\x00")
		if err := c.WritePacket(CalcPassword(salt, []byte(c.password))); err != nil {
			return err
		}
		return c.readAuthResult()
	default:
		return errors.Errorf("unexpected auth response header %#x", data[0])
	}
}

// Execute sends a text-protocol query and decodes the response. It covers
// OK results and plain string resultsets; that is all the replication
// handshake statements produce.
func (c *Conn) Execute(query string) (*mysql.Result, error) {
	if err := c.WriteCommand(mysql.COM_QUERY, []byte(query)); err != nil {
		return nil, err
	}

	return c.readResult()
}

func (c *Conn) readResult() (*mysql.Result, error) {
	data, err := c.ReadPacket()
	if err != nil {
		return nil, err
	}

	switch data[0] {
	case mysql.OK_HEADER:
		return c.parseOKPacket(data)
	case mysql.ERR_HEADER:
		return nil, c.handleErrorPacket(data)
	case 0xfb:
		return nil, errors.New("LOCAL INFILE is not supported")
	}

	return c.readResultset(data)
}

func (c *Conn) parseOKPacket(data []byte) (*mysql.Result, error) {
	r := new(mysql.Result)

	pos := 1
	affected, _, n := mysql.LengthEncodedInt(data[pos:])
	pos += n
	insertID, _, n := mysql.LengthEncodedInt(data[pos:])
	pos += n

	r.AffectedRows = affected
	r.InsertID = insertID

	if c.capability&mysql.CLIENT_PROTOCOL_41 != 0 {
		r.Status = binary.LittleEndian.Uint16(data[pos:])
	}

	return r, nil
}

// HandleErrorPacket decodes an ERR packet into a *mysql.MyError. The
// replication stream delivers ERR packets outside readResult, hence the
// exported entry point.
func (c *Conn) HandleErrorPacket(data []byte) error {
	return c.handleErrorPacket(data)
}

func (c *Conn) handleErrorPacket(data []byte) error {
	e := new(mysql.MyError)

	pos := 1
	e.Code = binary.LittleEndian.Uint16(data[pos:])
	pos += 2

	if c.capability&mysql.CLIENT_PROTOCOL_41 != 0 || data[pos] == '#' {
		pos++ // '#'
		e.State = string(data[pos : pos+5])
		pos += 5
	}

	e.Message = string(data[pos:])

	return e
}

func (c *Conn) isEOFPacket(data []byte) bool {
	return data[0] == mysql.EOF_HEADER && len(data) <= 5
}

func (c *Conn) readResultset(data []byte) (*mysql.Result, error) {
	columnCount, _, n := mysql.LengthEncodedInt(data)
	if n-len(data) != 0 {
		return nil, errors.Trace(mysql.ErrMalformedPacket)
	}

	result := &mysql.Result{
		Resultset: &mysql.Resultset{
			Fields:     make([]mysql.Field, 0, columnCount),
			FieldNames: make(map[string]int, columnCount),
		},
	}

	// column definitions, closed by EOF
	for {
		data, err := c.ReadPacket()
		if err != nil {
			return nil, err
		}

		if c.isEOFPacket(data) {
			break
		}

		name, err := parseFieldName(data)
		if err != nil {
			return nil, err
		}
		result.FieldNames[string(name)] = len(result.Fields)
		result.Fields = append(result.Fields, mysql.Field{Name: name})
	}

	// rows, closed by EOF
	for {
		data, err := c.ReadPacket()
		if err != nil {
			return nil, err
		}

		if c.isEOFPacket(data) {
			result.Status = binary.LittleEndian.Uint16(data[3:])
			break
		}
		if data[0] == mysql.ERR_HEADER {
			return nil, c.handleErrorPacket(data)
		}

		row, err := parseRowValues(data, len(result.Fields))
		if err != nil {
			return nil, err
		}
		result.Values = append(result.Values, row)
	}

	return result, nil
}

// parseFieldName extracts the column name from a protocol 4.1 column
// definition: catalog, schema, table, org_table, name, ...
func parseFieldName(data []byte) ([]byte, error) {
	pos := 0
	for i := 0; i < 4; i++ {
		n, err := mysql.SkipLengthEncodedString(data[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
	}

	name, _, _, err := mysql.LengthEncodedString(data[pos:])
	if err != nil {
		return nil, err
	}
	return append([]byte{}, name...), nil
}

func parseRowValues(data []byte, columns int) ([]interface{}, error) {
	row := make([]interface{}, 0, columns)

	pos := 0
	for i := 0; i < columns; i++ {
		v, isNull, n, err := mysql.LengthEncodedString(data[pos:])
		if err != nil {
			return nil, err
		}
		pos += n

		if isNull {
			row = append(row, nil)
		} else {
			row = append(row, string(v))
		}
	}

	return row, nil
}

// SetCharset switches the session character set.
func (c *Conn) SetCharset(charset string) error {
	_, err := c.Execute(fmt.Sprintf("SET NAMES %s", charset))
	return errors.Trace(err)
}

// ReadOKPacket consumes one packet and requires it to be OK.
func (c *Conn) ReadOKPacket() (*mysql.Result, error) {
	data, err := c.ReadPacket()
	if err != nil {
		return nil, err
	}

	switch data[0] {
	case mysql.OK_HEADER:
		return c.parseOKPacket(data)
	case mysql.ERR_HEADER:
		return nil, c.handleErrorPacket(data)
	default:
		return nil, errors.Errorf("expected OK packet, got header %#x", data[0])
	}
}

// SetReadDeadline forwards to the transport.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.Conn.Conn.SetReadDeadline(t)
}

// SetRecvBufferSize tunes the socket receive buffer when the transport is
// TCP; other transports ignore it.
func (c *Conn) SetRecvBufferSize(size int) error {
	if tcp, ok := c.Conn.Conn.(*net.TCPConn); ok {
		return tcp.SetReadBuffer(size)
	}
	return nil
}
