package reader

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolgate/protocol"
)

func TestWorkerEmitsEventsInOrder(t *testing.T) {
	port := newFakePort()
	w := NewWorker(testOptions(port))
	require.NoError(t, w.Start("/dev/ttyTEST", DefaultBaud))

	port.feed("RFID Reader ready.\r\n")
	port.feed("UID:ab-12\r\n")
	port.feed("UID: --\n")
	port.feed("CMD:CHECK_OK\n")
	port.feed("UID:c")
	port.feed("d\n")

	ev := next(t, w.Events())
	assert.Equal(t, EventStatus, ev.Type)
	assert.Equal(t, StatusConnected, ev.Status)
	assert.Equal(t, "/dev/ttyTEST", ev.Device)
	assert.False(t, ev.At.IsZero())

	ev = next(t, w.Events())
	assert.Equal(t, EventCard, ev.Type)
	assert.Equal(t, "AB12", ev.UID)

	ev = next(t, w.Events())
	assert.Equal(t, EventAck, ev.Type)
	assert.Equal(t, protocol.AckCheckOK, ev.Token)

	ev = next(t, w.Events())
	assert.Equal(t, EventCard, ev.Type)
	assert.Equal(t, "CD", ev.UID)

	w.Stop()
	rest := drain(t, w.Events())
	require.Len(t, rest, 1)
	assert.Equal(t, EventStatus, rest[0].Type)
	assert.Equal(t, StatusDisconnected, rest[0].Status)
	assert.True(t, port.isClosed())
}

func TestWorkerReadFailureEndsWithDisconnected(t *testing.T) {
	port := newFakePort()
	w := NewWorker(testOptions(port))
	require.NoError(t, w.Start("/dev/ttyTEST", DefaultBaud))

	port.fail(errUnplugged)

	events := drain(t, w.Events())
	require.Equal(t, []EventType{EventStatus, EventLinkError, EventStatus}, types(events))
	assert.ErrorIs(t, events[1].Err, errUnplugged)
	assert.Contains(t, events[1].Message(), "device unplugged")
	assert.Equal(t, StatusDisconnected, events[2].Status)

	select {
	case <-w.Done():
	case <-time.After(waitFor):
		t.Fatal("worker not done")
	}
	assert.True(t, port.isClosed())
}

func TestWorkerCloseFailureStillDisconnects(t *testing.T) {
	port := newFakePort()
	port.closeErr = errors.New("handle busy")
	w := NewWorker(testOptions(port))
	require.NoError(t, w.Start("/dev/ttyTEST", DefaultBaud))

	w.Stop()
	events := drain(t, w.Events())
	require.Equal(t, []EventType{EventStatus, EventLinkError, EventStatus}, types(events))
	assert.Equal(t, StatusDisconnected, events[2].Status)
}

func TestWorkerOpenFailure(t *testing.T) {
	w := NewWorker(failingOptions(errors.New("no such file")))

	err := w.Start("/dev/ttyMISSING", DefaultBaud)
	require.ErrorIs(t, err, ErrConnection)
	assert.Contains(t, err.Error(), "no such file")

	events := drain(t, w.Events())
	require.Equal(t, []EventType{EventLinkError, EventStatus}, types(events))
	assert.ErrorIs(t, events[0].Err, ErrConnection)
	assert.Equal(t, StatusDisconnected, events[1].Status)

	assert.ErrorIs(t, w.Start("/dev/ttyMISSING", DefaultBaud), ErrAlreadyStarted)
	assert.ErrorIs(t, w.Send(protocol.CmdSystemCheck), ErrNotConnected)
}

func TestWorkerSend(t *testing.T) {
	port := newFakePort()
	w := NewWorker(testOptions(port))

	assert.ErrorIs(t, w.Send(protocol.CmdSystemCheck), ErrNotConnected)

	require.NoError(t, w.Start("/dev/ttyTEST", DefaultBaud))
	require.NoError(t, w.Send(protocol.CmdSystemCheck))
	assert.ErrorIs(t, w.Send(""), protocol.ErrEmptyCommand)
	assert.ErrorIs(t, w.Send("AÇ"), protocol.ErrNonASCII)

	require.Eventually(t, func() bool {
		return len(port.writes()) == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"SYS_CHECK\n"}, port.writes())

	w.Stop()
	assert.ErrorIs(t, w.Send(protocol.CmdSystemCheck), ErrNotConnected)
	drain(t, w.Events())
}

func TestWorkerWriteFailureIsNotFatal(t *testing.T) {
	port := newFakePort()
	port.writeErr = errors.New("write timeout")
	w := NewWorker(testOptions(port))
	require.NoError(t, w.Start("/dev/ttyTEST", DefaultBaud))
	assert.Equal(t, StatusConnected, next(t, w.Events()).Status)

	require.NoError(t, w.Send(protocol.CmdSystemCheck))
	ev := next(t, w.Events())
	assert.Equal(t, EventLinkError, ev.Type)
	assert.Contains(t, ev.Message(), "write timeout")

	port.feed("UID:0A0B\n")
	ev = next(t, w.Events())
	assert.Equal(t, EventCard, ev.Type)
	assert.Equal(t, "0A0B", ev.UID)

	w.Stop()
	rest := drain(t, w.Events())
	require.Len(t, rest, 1)
	assert.Equal(t, StatusDisconnected, rest[0].Status)
}

func TestWorkerStopIsIdempotent(t *testing.T) {
	port := newFakePort()
	port.timeout = 50 * time.Millisecond
	w := NewWorker(testOptions(port))
	require.NoError(t, w.Start("/dev/ttyTEST", DefaultBaud))

	start := time.Now()
	w.Stop()
	w.Stop()

	select {
	case <-w.Done():
	case <-time.After(waitFor):
		t.Fatal("worker not done")
	}
	w.Stop()

	// One read timeout plus scheduling slack.
	assert.Less(t, time.Since(start), time.Second)

	events := drain(t, w.Events())
	require.NotEmpty(t, events)
	assert.Equal(t, StatusDisconnected, events[len(events)-1].Status)
}

func TestWorkerDropsOverlongLine(t *testing.T) {
	port := newFakePort()
	w := NewWorker(testOptions(port))
	require.NoError(t, w.Start("/dev/ttyTEST", DefaultBaud))
	assert.Equal(t, StatusConnected, next(t, w.Events()).Status)

	noise := make([]byte, readBufSize)
	for i := range noise {
		noise[i] = 'x'
	}
	for i := 0; i < maxLineBytes/readBufSize+1; i++ {
		port.feed(string(noise))
	}
	port.feed("\nUID:FF01\n")

	ev := next(t, w.Events())
	assert.Equal(t, EventCard, ev.Type)
	assert.Equal(t, "FF01", ev.UID)

	w.Stop()
	drain(t, w.Events())
}
