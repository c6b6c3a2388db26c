package reader

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// OpenBugst opens a serial device using go.bug.st/serial. The port is
// opened exclusively, so a device already held by another process fails
// here rather than on the first read.
func OpenBugst(device string, baud int, readTimeout time.Duration) (Port, error) {
	if baud == 0 {
		baud = DefaultBaud
	}

	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}

	if err := p.SetReadTimeout(readTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("set read timeout %s: %w", device, err)
	}

	// Drop whatever the device printed while nobody was listening.
	_ = p.ResetInputBuffer()
	return p, nil
}

// ListPorts returns the serial devices present on this machine.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}
