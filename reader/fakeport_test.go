package reader

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type readResult struct {
	data []byte
	err  error
}

// fakePort feeds Read from a channel and times out like a real port.
type fakePort struct {
	reads   chan readResult
	timeout time.Duration

	// block, when set, makes Read hang until it is closed.
	block chan struct{}

	mu       sync.Mutex
	written  []string
	writeErr error
	closeErr error
	closed   bool
}

func newFakePort() *fakePort {
	return &fakePort{
		reads:   make(chan readResult, 16),
		timeout: 10 * time.Millisecond,
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.block != nil {
		<-p.block
		return 0, nil
	}
	select {
	case r := <-p.reads:
		return copy(b, r.data), r.err
	case <-time.After(p.timeout):
		return 0, nil
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.written = append(p.written, string(b))
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.closeErr
}

func (p *fakePort) feed(line string) {
	p.reads <- readResult{data: []byte(line)}
}

func (p *fakePort) fail(err error) {
	p.reads <- readResult{err: err}
}

func (p *fakePort) writes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.written...)
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func testOptions(p *fakePort) Options {
	return Options{
		Opener: func(string, int, time.Duration) (Port, error) {
			return p, nil
		},
		ReadTimeout: 10 * time.Millisecond,
		LoopYield:   time.Millisecond,
		StopTimeout: time.Second,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func failingOptions(err error) Options {
	opts := testOptions(nil)
	opts.Opener = func(string, int, time.Duration) (Port, error) {
		return nil, err
	}
	return opts
}

var errUnplugged = errors.New("device unplugged")

// next returns the next event or fails the test.
func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

// drain reads until ch is closed and returns everything received.
func drain(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(waitFor)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("channel not closed, got %d events", len(out))
			return out
		}
	}
}

func types(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}
