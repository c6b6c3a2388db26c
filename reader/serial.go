package reader

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tarm/serial"
)

// Port is an open serial connection. Read must return (0, nil) once the
// read timeout elapses with no data; any error it returns is treated as a
// transport failure.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Opener opens a serial device with the given baud rate and read timeout.
type Opener func(device string, baud int, readTimeout time.Duration) (Port, error)

// OpenerFor returns the Opener for a configured driver name.
func OpenerFor(driver string) (Opener, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "bugst":
		return OpenBugst, nil
	case "tarm":
		return OpenTarm, nil
	default:
		return nil, fmt.Errorf("unknown serial driver %q", driver)
	}
}

// tarmPort adapts github.com/tarm/serial, which reports a read timeout as
// io.EOF with no data.
type tarmPort struct {
	*serial.Port
}

func (p tarmPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n == 0 && err == io.EOF {
		return 0, nil
	}
	return n, err
}

// OpenTarm opens a serial device using github.com/tarm/serial.
func OpenTarm(device string, baud int, readTimeout time.Duration) (Port, error) {
	if baud == 0 {
		baud = DefaultBaud
	}
	c := &serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: readTimeout,
	}
	port, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}
	return tarmPort{Port: port}, nil
}
