package mysql

import (
	"fmt"

	"github.com/pingcap/errors"
)

var (
	// ErrMalformedPacket reports a length-encoded field running past the
	// end of its buffer.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrChecksumMismatch reports a CRC32 trailer that does not match the
	// event bytes. Fatal for the current stream.
	ErrChecksumMismatch = errors.New("binlog checksum mismatch, data may be corrupted")

	// ErrBadConn reports a broken transport; the syncer reacts by
	// reconnecting unless retries are disabled.
	ErrBadConn = errors.New("connection was bad")
)

// ER_NO_SUCH_THREAD is returned by KILL when the thread id is already
// gone; harmless during reconnect cleanup.
const ER_NO_SUCH_THREAD = 1094

// MyError is an error reported by the server in an ERR packet.
type MyError struct {
	Code    uint16
	Message string
	State   string
}

func (e *MyError) Error() string {
	return fmt.Sprintf("ERROR %d (%s): %s", e.Code, e.State, e.Message)
}

// NewError creates a server-side error with a default SQL state.
func NewError(code uint16, message string) *MyError {
	return &MyError{Code: code, Message: message, State: "HY000"}
}

// ErrorCode extracts the server error code from an error message produced
// by MyError.Error, zero when the message has another shape.
func ErrorCode(errMsg string) (code int) {
	var tmpStr string
	// message format: "ERROR 1045 (28000): Access denied ..."
	fmt.Sscanf(errMsg, "%s%d", &tmpStr, &code)
	return code
}
