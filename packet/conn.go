// Package packet implements the length-prefixed, sequence-numbered framing
// every MySQL protocol exchange rides on.
package packet

import (
	"bufio"
	"io"
	"net"

	"github.com/pingcap/errors"

	"github.com/kasuganosora/binlogstream/mysql"
)

const (
	// MaxPayloadLen is the largest single-frame payload; longer payloads
	// continue in follow-up frames.
	MaxPayloadLen = 1<<24 - 1

	defaultReaderSize = 16 * 1024
)

// Conn frames packets over a net.Conn. It is not safe for concurrent use;
// the replication pump is the single owner.
type Conn struct {
	net.Conn

	reader *bufio.Reader

	// Sequence is the per-command packet sequence number; reset before
	// each command, checked on every read.
	Sequence uint8
}

// NewConn wraps a transport connection.
func NewConn(conn net.Conn) *Conn {
	return &Conn{
		Conn:   conn,
		reader: bufio.NewReaderSize(conn, defaultReaderSize),
	}
}

// ReadPacket reads one logical packet, reassembling continued frames.
func (c *Conn) ReadPacket() ([]byte, error) {
	var payload []byte

	for {
		var header [4]byte
		if _, err := io.ReadFull(c.reader, header[:]); err != nil {
			return nil, errors.Annotate(mysql.ErrBadConn, err.Error())
		}

		length := int(uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16)
		sequence := header[3]

		if sequence != c.Sequence {
			return nil, errors.Errorf("invalid sequence %d != %d", sequence, c.Sequence)
		}
		c.Sequence++

		data := make([]byte, length)
		if _, err := io.ReadFull(c.reader, data); err != nil {
			return nil, errors.Annotate(mysql.ErrBadConn, err.Error())
		}

		payload = append(payload, data...)

		// a length below the maximum ends the packet; a maximal frame is
		// always continued, possibly by an empty one
		if length < MaxPayloadLen {
			return payload, nil
		}
	}
}

// WritePacket frames and writes data, splitting payloads of 16MB or more.
func (c *Conn) WritePacket(data []byte) error {
	for len(data) >= MaxPayloadLen {
		if err := c.writeFrame(data[:MaxPayloadLen]); err != nil {
			return err
		}
		data = data[MaxPayloadLen:]
	}

	return c.writeFrame(data)
}

func (c *Conn) writeFrame(data []byte) error {
	header := []byte{
		byte(len(data)),
		byte(len(data) >> 8),
		byte(len(data) >> 16),
		c.Sequence,
	}

	if _, err := c.Conn.Write(header); err != nil {
		return errors.Annotate(mysql.ErrBadConn, err.Error())
	}
	if _, err := c.Conn.Write(data); err != nil {
		return errors.Annotate(mysql.ErrBadConn, err.Error())
	}

	c.Sequence++
	return nil
}

// WriteCommand starts a fresh command packet: sequence resets to zero and
// the command byte prefixes the payload.
func (c *Conn) WriteCommand(command byte, data []byte) error {
	c.ResetSequence()

	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, command)
	buf = append(buf, data...)

	return c.WritePacket(buf)
}

// ResetSequence starts a new command cycle.
func (c *Conn) ResetSequence() {
	c.Sequence = 0
}
