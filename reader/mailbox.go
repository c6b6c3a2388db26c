package reader

import "sync"

// mailbox is an unbounded FIFO of events. put never blocks, so the read
// loop is never held up by a slow consumer; out delivers in put order and
// is closed once the mailbox is closed and drained.
type mailbox struct {
	mu     sync.Mutex
	queue  []Event
	closed bool
	signal chan struct{}
	quit   chan struct{}
	once   sync.Once
	out    chan Event
}

func newMailbox() *mailbox {
	m := &mailbox{
		signal: make(chan struct{}, 1),
		quit:   make(chan struct{}),
		out:    make(chan Event),
	}
	go m.pump()
	return m
}

// put queues ev. It reports false if the mailbox was already closed.
func (m *mailbox) put(ev Event) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, ev)
	m.mu.Unlock()
	m.wake()
	return true
}

// close stops accepting events. Queued events are still delivered.
func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wake()
}

// abandon closes the mailbox and drops anything not yet delivered.
func (m *mailbox) abandon() {
	m.close()
	m.once.Do(func() { close(m.quit) })
}

func (m *mailbox) wake() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) pump() {
	defer close(m.out)

	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			closed := m.closed
			m.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-m.signal:
			case <-m.quit:
				return
			}
			continue
		}
		ev := m.queue[0]
		m.queue[0] = Event{}
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- ev:
		case <-m.quit:
			return
		}
	}
}
