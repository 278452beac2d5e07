package replication

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(timestamp uint32) *BinlogEvent {
	return &BinlogEvent{
		Header: &EventHeader{Timestamp: timestamp, EventType: XID_EVENT},
		Event:  &XIDEvent{XID: 1},
	}
}

func TestStreamerGetEvent(t *testing.T) {
	s := NewBinlogStreamerWithChannelSize(4)
	require.NoError(t, s.AddEventToStreamer(testEvent(100)))

	ev, err := s.GetEvent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(100), ev.Header.Timestamp)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.GetEvent(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStreamerClosedError(t *testing.T) {
	s := NewBinlogStreamer()
	s.close()

	_, err := s.GetEvent(context.Background())
	assert.ErrorIs(t, err, ErrSyncClosed)

	// the error latches, further reads fail fast
	_, err = s.GetEvent(context.Background())
	assert.ErrorIs(t, err, ErrNeedSyncAgain)
	_, err = s.GetEventWithStartTime(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrNeedSyncAgain)
}

func TestStreamerGetEventWithStartTime(t *testing.T) {
	s := NewBinlogStreamerWithChannelSize(4)
	start := time.Unix(200, 0)

	require.NoError(t, s.AddEventToStreamer(testEvent(100)))
	require.NoError(t, s.AddEventToStreamer(testEvent(300)))

	// events before the start time are swallowed
	ev, err := s.GetEventWithStartTime(context.Background(), start)
	require.NoError(t, err)
	assert.Nil(t, ev)

	ev, err = s.GetEventWithStartTime(context.Background(), start)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, uint32(300), ev.Header.Timestamp)
}

func TestStreamerDumpEvents(t *testing.T) {
	s := NewBinlogStreamerWithChannelSize(8)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AddEventToStreamer(testEvent(uint32(i))))
	}

	events := s.DumpEvents()
	assert.Len(t, events, 3)
	assert.Empty(t, s.DumpEvents())
}

func TestStreamerChannelSizeFallback(t *testing.T) {
	s := NewBinlogStreamerWithChannelSize(0)
	assert.Equal(t, 10240, cap(s.ch))
}
