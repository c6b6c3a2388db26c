// Package reader owns the serial link to the gate's RFID microcontroller.
//
// A Worker holds one open port for its lifetime and runs the read loop on
// its own goroutine. A Controller sits above it, guards the connect and
// disconnect lifecycle and relays worker events to any number of
// subscribers, in emission order.
package reader

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultBaud        = 9600
	DefaultReadTimeout = time.Second
	DefaultLoopYield   = 50 * time.Millisecond
	DefaultStopTimeout = 5 * time.Second
)

var (
	ErrConnection       = errors.New("reader: connection failed")
	ErrNotConnected     = errors.New("reader: not connected")
	ErrAlreadyConnected = errors.New("reader: already connected")
	ErrAlreadyStarted   = errors.New("reader: worker already started")
	ErrNoPort           = errors.New("reader: no serial port given")
	ErrSendQueueFull    = errors.New("reader: send queue full")
	ErrStopTimeout      = errors.New("reader: did not stop in time")
)

// Config holds reader settings loaded from the config file.
type Config struct {
	Driver         string        `yaml:"driver"` // "bugst" (default) or "tarm"
	Device         string        `yaml:"device"` // e.g. "/dev/ttyUSB0", "COM3"
	Baud           int           `yaml:"baud"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	StopTimeout    time.Duration `yaml:"stop_timeout"`
	ConnectOnStart bool          `yaml:"connect_on_start"`

	// KeyboardDevice is an evdev input device for a USB keyboard-wedge
	// reader. Empty disables it.
	KeyboardDevice string `yaml:"keyboard_device"`
}

// Options builds controller and worker Options from the config.
func (c Config) Options(logger *slog.Logger) (Options, error) {
	opener, err := OpenerFor(c.Driver)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Opener:      opener,
		ReadTimeout: c.ReadTimeout,
		StopTimeout: c.StopTimeout,
		Logger:      logger,
	}, nil
}

// Options configures a Worker or Controller. Zero values select defaults.
type Options struct {
	Opener      Opener
	ReadTimeout time.Duration
	LoopYield   time.Duration
	StopTimeout time.Duration
	Logger      *slog.Logger
	Now         func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Opener == nil {
		o.Opener = OpenBugst
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.LoopYield <= 0 {
		o.LoopYield = DefaultLoopYield
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// EventType distinguishes the events a worker emits.
type EventType int

const (
	EventCard EventType = iota
	EventAck
	EventStatus
	EventLinkError
)

func (t EventType) String() string {
	switch t {
	case EventCard:
		return "card"
	case EventAck:
		return "ack"
	case EventStatus:
		return "status"
	case EventLinkError:
		return "link_error"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Status is the connection state carried by EventStatus.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnected
)

func (s Status) String() string {
	if s == StatusConnected {
		return "connected"
	}
	return "disconnected"
}

// Event is emitted by a Worker and relayed unchanged by a Controller.
type Event struct {
	Type   EventType
	UID    string // EventCard
	Token  string // EventAck
	Status Status // EventStatus
	Err    error  // EventLinkError
	Device string
	At     time.Time
}

// Message returns the human readable text of a link error.
func (e Event) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
