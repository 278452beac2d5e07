package replication

import (
	"context"
	"time"

	"github.com/pingcap/errors"
)

var (
	// ErrNeedSyncAgain is latched after a fatal stream error; the caller
	// must call StartSync/StartSyncGTID again before reading more events.
	ErrNeedSyncAgain = errors.New("last sync error or closed, try sync and get event again")

	// ErrSyncClosed is the error of a deliberately closed syncer.
	ErrSyncClosed = errors.New("sync was closed")
)

// BinlogStreamer is the consumer side of a running dump: a bounded event
// channel fed by the syncer goroutine.
type BinlogStreamer struct {
	ch  chan *BinlogEvent
	ech chan error
	err error
}

// GetEvent blocks until the next event, a stream error, or ctx ends.
// After an error the streamer is dead and keeps returning
// ErrNeedSyncAgain.
func (s *BinlogStreamer) GetEvent(ctx context.Context) (*BinlogEvent, error) {
	if s.err != nil {
		return nil, ErrNeedSyncAgain
	}

	select {
	case c := <-s.ch:
		return c, nil
	case s.err = <-s.ech:
		return nil, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetEventWithStartTime is GetEvent but returns nil for events stamped
// before startTime, letting a caller fast-forward to a point in time.
func (s *BinlogStreamer) GetEventWithStartTime(ctx context.Context, startTime time.Time) (*BinlogEvent, error) {
	if s.err != nil {
		return nil, ErrNeedSyncAgain
	}

	startUnix := startTime.Unix()
	select {
	case c := <-s.ch:
		if int64(c.Header.Timestamp) >= startUnix {
			return c, nil
		}
		return nil, nil
	case s.err = <-s.ech:
		return nil, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DumpEvents drains the events buffered right now without blocking.
func (s *BinlogStreamer) DumpEvents() []*BinlogEvent {
	count := len(s.ch)
	events := make([]*BinlogEvent, 0, count)
	for i := 0; i < count; i++ {
		events = append(events, <-s.ch)
	}
	return events
}

// AddEventToStreamer injects an event as if it came from the primary.
func (s *BinlogStreamer) AddEventToStreamer(ev *BinlogEvent) error {
	select {
	case s.ch <- ev:
		return nil
	case err := <-s.ech:
		return err
	}
}

func (s *BinlogStreamer) close() {
	s.closeWithError(nil)
}

func (s *BinlogStreamer) closeWithError(err error) {
	if err == nil {
		err = ErrSyncClosed
	}

	select {
	case s.ech <- err:
	default:
	}
}

func NewBinlogStreamer() *BinlogStreamer {
	return NewBinlogStreamerWithChannelSize(10240)
}

func NewBinlogStreamerWithChannelSize(chanSize int) *BinlogStreamer {
	if chanSize <= 0 {
		chanSize = 10240
	}

	s := new(BinlogStreamer)

	s.ch = make(chan *BinlogEvent, chanSize)
	s.ech = make(chan error, 4)

	return s
}
