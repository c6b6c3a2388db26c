package eventpipe

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"syscall"
	"time"
)

const closeWait = time.Second

// Config holds configuration for the event pipe.
type Config struct {
	Path string `yaml:"path"` // Path to named pipe (e.g., "/tmp/schoolgate-events")
}

// Handler is called for every command read from the pipe.
type Handler func(Command)

// EventPipe listens for operator commands on a named pipe.
type EventPipe struct {
	path    string
	handler Handler
	log     *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	done    chan struct{}
}

// New creates a new EventPipe. Returns nil if path is empty.
func New(cfg Config, handler Handler, logger *slog.Logger) (*EventPipe, error) {
	if cfg.Path == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Remove existing pipe if it exists
	os.Remove(cfg.Path)

	if err := syscall.Mkfifo(cfg.Path, 0o660); err != nil {
		return nil, fmt.Errorf("create named pipe %s: %w", cfg.Path, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &EventPipe{
		path:    cfg.Path,
		handler: handler,
		log:     logger.With("component", "eventpipe"),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}, nil
}

// Path returns the named pipe's location.
func (ep *EventPipe) Path() string {
	return ep.path
}

// Start begins listening for commands on the pipe.
// This should be called as a goroutine.
func (ep *EventPipe) Start() {
	if !ep.started.CompareAndSwap(false, true) {
		return
	}
	defer close(ep.done)
	ep.log.Info("Event pipe listening", "path", ep.path)

	for {
		select {
		case <-ep.ctx.Done():
			return
		default:
		}

		// Blocks until a writer connects.
		file, err := os.OpenFile(ep.path, os.O_RDONLY, 0)
		if err != nil {
			if ep.ctx.Err() != nil {
				return
			}
			ep.log.Warn("Event pipe open", "err", err)
			continue
		}

		if !ep.consume(file) {
			file.Close()
			return
		}
		file.Close()
		// Writer closed the pipe, loop back to wait for next writer
	}
}

// consume dispatches every line of one writer session. It reports false
// once the pipe has been closed.
func (ep *EventPipe) consume(file *os.File) bool {
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if ep.ctx.Err() != nil {
			return false
		}

		cmd, err := ParseLine(scanner.Text())
		if err == ErrBlank {
			continue
		}
		if err != nil {
			ep.log.Warn("Event pipe parse", "err", err)
			continue
		}

		ep.log.Debug("Event pipe command", "kind", cmd.Kind)
		if ep.handler != nil {
			ep.handler(cmd)
		}
	}
	if err := scanner.Err(); err != nil {
		ep.log.Warn("Event pipe read", "err", err)
	}
	return ep.ctx.Err() == nil
}

// Close stops the event pipe listener and removes the pipe.
func (ep *EventPipe) Close() error {
	ep.cancel()
	if ep.started.Load() {
		ep.wake()
	}
	return os.Remove(ep.path)
}

// wake unblocks a Start waiting in open for a writer, retrying until Start
// has returned.
func (ep *EventPipe) wake() {
	deadline := time.After(closeWait)
	for {
		if f, err := os.OpenFile(ep.path, os.O_WRONLY|syscall.O_NONBLOCK, 0); err == nil {
			f.Close()
		}
		select {
		case <-ep.done:
			return
		case <-deadline:
			ep.log.Warn("Event pipe listener did not stop", "path", ep.path)
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}
