package reader

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"schoolgate/protocol"
)

// Controller guards the worker lifecycle and relays worker events to
// subscribers. There is no automatic reconnection: after the link drops,
// Connect has to be called again.
type Controller struct {
	opts Options

	mu        sync.Mutex
	worker    *Worker
	device    string
	relayDone chan struct{}
	connected atomic.Bool

	subMu   sync.Mutex
	subs    map[int]*mailbox
	nextSub int
	closed  bool
}

// NewController creates a disconnected controller.
func NewController(opts Options) *Controller {
	return &Controller{
		opts: opts.withDefaults(),
		subs: make(map[int]*mailbox),
	}
}

// Connect starts a worker on port. It fails with ErrAlreadyConnected while
// a previous worker is still active, and with ErrConnection if the port
// cannot be opened.
func (c *Controller) Connect(port string, baud int) error {
	port = strings.TrimSpace(port)
	if port == "" {
		return ErrNoPort
	}

	c.mu.Lock()
	if c.worker != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	w := NewWorker(c.opts)
	done := make(chan struct{})
	c.worker, c.relayDone, c.device = w, done, port
	c.mu.Unlock()

	go c.relay(w, done)

	if err := w.Start(port, baud); err != nil {
		// The relay clears the worker once the failure events are out.
		<-done
		return err
	}
	return nil
}

// Disconnect stops the active worker and waits up to the stop timeout for
// it to report StatusDisconnected. If it does not, a link error is
// published and the worker is left to finish on its own.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	w, done, device := c.worker, c.relayDone, c.device
	c.mu.Unlock()

	if w == nil {
		return ErrNotConnected
	}

	w.Stop()

	timer := time.NewTimer(c.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		err := fmt.Errorf("%w after %s", ErrStopTimeout, c.opts.StopTimeout)
		c.opts.Logger.Error("Reader did not stop in time", "device", device, "timeout", c.opts.StopTimeout)
		c.broadcast(Event{Type: EventLinkError, Err: err, Device: device, At: c.opts.Now()})
	}
	return nil
}

// IsConnected reports whether a Connected status has been relayed and no
// Disconnected status has followed it.
func (c *Controller) IsConnected() bool {
	return c.connected.Load()
}

// SendCommand forwards cmd to the worker. Nothing is queued while
// disconnected.
func (c *Controller) SendCommand(cmd string) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	c.mu.Lock()
	w := c.worker
	c.mu.Unlock()
	if w == nil {
		return ErrNotConnected
	}
	return w.Send(cmd)
}

// SystemCheck asks the device to run its self-check. Success arrives as an
// EventAck carrying protocol.AckCheckOK.
func (c *Controller) SystemCheck() error {
	return c.SendCommand(protocol.CmdSystemCheck)
}

// Subscribe returns a channel receiving every relayed event in order, and
// a function that ends the subscription.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	m := newMailbox()

	c.subMu.Lock()
	if c.closed {
		c.subMu.Unlock()
		m.close()
		return m.out, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = m
	c.subMu.Unlock()

	var once sync.Once
	return m.out, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
			m.abandon()
		})
	}
}

// Close disconnects if needed and ends every subscription after the
// events already relayed have been delivered.
func (c *Controller) Close() {
	if err := c.Disconnect(); err != nil && err != ErrNotConnected {
		c.opts.Logger.Warn("Disconnect on close", "err", err)
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.closed = true
	for id, m := range c.subs {
		m.close()
		delete(c.subs, id)
	}
}

func (c *Controller) relay(w *Worker, done chan struct{}) {
	defer close(done)

	for ev := range w.Events() {
		if ev.Type == EventStatus {
			c.connected.Store(ev.Status == StatusConnected)
		}
		c.broadcast(ev)
	}

	c.mu.Lock()
	if c.worker == w {
		c.worker, c.relayDone = nil, nil
	}
	c.mu.Unlock()
}

func (c *Controller) broadcast(ev Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, m := range c.subs {
		m.put(ev)
	}
}
