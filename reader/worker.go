package reader

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"schoolgate/protocol"
)

const (
	readBufSize  = 256
	maxLineBytes = 1024
	sendQueueLen = 16
)

// Worker owns one serial connection. It is single use: after the read
// loop ends, create a new Worker to connect again.
type Worker struct {
	opts   Options
	log    *slog.Logger
	events *mailbox
	cmds   chan []byte

	device   string
	port     Port
	started  atomic.Bool
	open     atomic.Bool
	stopping atomic.Bool

	wake    chan struct{} // closed by Stop, cuts the loop yield short
	closing chan struct{} // closed when the read loop ends
	stopped sync.Once
	writers sync.WaitGroup
	done    chan struct{}
}

// NewWorker creates an idle worker.
func NewWorker(opts Options) *Worker {
	opts = opts.withDefaults()
	return &Worker{
		opts:    opts,
		log:     opts.Logger,
		events:  newMailbox(),
		cmds:    make(chan []byte, sendQueueLen),
		wake:    make(chan struct{}),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Events delivers everything the worker emits, in order. The channel is
// closed right after the final StatusDisconnected event.
func (w *Worker) Events() <-chan Event {
	return w.events.out
}

// Done is closed once the worker has released the port.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Start opens the port and begins reading on a new goroutine. A failed
// open is returned wrapped in ErrConnection and still ends the event
// stream with StatusDisconnected.
func (w *Worker) Start(device string, baud int) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	w.device = device
	w.log = w.log.With("device", device)

	port, err := w.opts.Opener(device, baud, w.opts.ReadTimeout)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConnection, err)
		w.log.Error("Serial open failed", "err", err)
		w.emit(Event{Type: EventLinkError, Err: err})
		w.emit(Event{Type: EventStatus, Status: StatusDisconnected})
		w.events.close()
		close(w.done)
		return err
	}

	w.port = port
	w.open.Store(true)
	w.log.Info("Serial connected", "baud", baud, "read_timeout", w.opts.ReadTimeout)
	w.emit(Event{Type: EventStatus, Status: StatusConnected})

	w.writers.Add(1)
	go w.writeLoop()
	go w.readLoop()
	return nil
}

// Stop asks the read loop to finish. It returns immediately; the loop
// notices within one read timeout. Safe to call any number of times.
func (w *Worker) Stop() {
	w.stopping.Store(true)
	w.stopped.Do(func() { close(w.wake) })
}

// Send queues cmd for transmission. It fails with ErrNotConnected when the
// link is not open and never waits for one. Write failures are reported
// asynchronously as EventLinkError.
func (w *Worker) Send(cmd string) error {
	if !w.open.Load() || w.stopping.Load() {
		return ErrNotConnected
	}
	b, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}
	select {
	case w.cmds <- b:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (w *Worker) emit(ev Event) {
	ev.Device = w.device
	if ev.At.IsZero() {
		ev.At = w.opts.Now()
	}
	w.events.put(ev)
}

func (w *Worker) readLoop() {
	defer w.finish()

	buf := make([]byte, readBufSize)
	var pending []byte

	for !w.stopping.Load() {
		n, err := w.port.Read(buf)

		// Checked after every attempt, data or timeout, so shutdown takes
		// at most one read timeout.
		if w.stopping.Load() {
			return
		}
		if err != nil {
			err = fmt.Errorf("read %s: %w", w.device, err)
			w.log.Error("Serial read failed", "err", err)
			w.emit(Event{Type: EventLinkError, Err: err})
			return
		}

		if n > 0 {
			pending = append(pending, buf[:n]...)
			pending = w.drainLines(pending)
		}

		select {
		case <-w.wake:
		case <-time.After(w.opts.LoopYield):
		}
	}
}

// drainLines handles every complete line in pending and returns the
// unterminated remainder.
func (w *Worker) drainLines(pending []byte) []byte {
	for {
		i := bytes.IndexByte(pending, '\n')
		if i < 0 {
			break
		}
		w.handleLine(pending[:i])
		pending = pending[i+1:]
	}

	if len(pending) > maxLineBytes {
		w.log.Warn("Dropping unterminated serial data", "bytes", len(pending))
		return nil
	}
	// Compact so the backing array does not grow without bound.
	return append([]byte(nil), pending...)
}

func (w *Worker) handleLine(raw []byte) {
	msg := protocol.Decode(raw)
	switch msg.Kind {
	case protocol.CardDetected:
		w.log.Debug("Card detected", "uid", msg.UID)
		w.emit(Event{Type: EventCard, UID: msg.UID})
	case protocol.Acknowledged:
		w.log.Debug("Command acknowledged", "token", msg.Token)
		w.emit(Event{Type: EventAck, Token: msg.Token})
	default:
		if msg.Warning != "" {
			w.log.Warn("Malformed serial line", "line", msg.Text, "reason", msg.Warning)
		} else if msg.Text != "" {
			w.log.Debug("Ignoring serial line", "line", msg.Text)
		}
	}
}

func (w *Worker) writeLoop() {
	defer w.writers.Done()

	for {
		select {
		case <-w.closing:
			return
		case b := <-w.cmds:
			if _, err := w.port.Write(b); err != nil {
				select {
				case <-w.closing:
					return
				default:
				}
				err = fmt.Errorf("send %q: %w", bytes.TrimSpace(b), err)
				w.log.Warn("Serial write failed", "err", err)
				w.emit(Event{Type: EventLinkError, Err: err})
			}
		}
	}
}

// finish releases the port. StatusDisconnected is always the last event.
func (w *Worker) finish() {
	w.open.Store(false)
	close(w.closing)

	if err := w.port.Close(); err != nil {
		err = fmt.Errorf("close %s: %w", w.device, err)
		w.log.Warn("Serial close failed", "err", err)
		w.emit(Event{Type: EventLinkError, Err: err})
	}
	w.writers.Wait()

	w.log.Info("Serial disconnected")
	w.emit(Event{Type: EventStatus, Status: StatusDisconnected})
	w.events.close()
	close(w.done)
}
