package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kenshaw/evdev"

	"schoolgate/protocol"
)

var ErrKeyboardClosed = errors.New("keyboard device closed")

// Keyboard reads card UIDs from a USB keyboard-wedge RFID reader, which
// types the UID followed by Enter.
type Keyboard struct {
	device *evdev.Evdev
	log    *slog.Logger
}

// NewKeyboard opens the evdev input device.
func NewKeyboard(device string, logger *slog.Logger) (*Keyboard, error) {
	dev, err := evdev.OpenFile(device)
	if err != nil {
		return nil, fmt.Errorf("open evdev %s: %w", device, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("Opened keyboard device", "name", dev.Name(),
		"vendor", fmt.Sprintf("0x%04x", dev.ID().Vendor),
		"product", fmt.Sprintf("0x%04x", dev.ID().Product))

	return &Keyboard{device: dev, log: logger}, nil
}

// Read blocks until a full UID line is typed or ctx is cancelled. The UID
// is cleaned the same way as serial UIDs; lines that clean to nothing are
// skipped.
func (k *Keyboard) Read(ctx context.Context) (string, error) {
	ch := k.device.Poll(ctx)
	var strbuf string

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case event := <-ch:
			if event == nil {
				return "", ErrKeyboardClosed
			}

			switch event.Type.(type) {
			case evdev.KeyType:
				if event.Value != 1 {
					continue
				}

				if event.Type == evdev.KeyEnter {
					uid := protocol.CleanUID(strbuf)
					strbuf = ""
					if uid == "" {
						continue
					}
					k.log.Debug("Keyboard card", "uid", uid)
					return uid, nil
				}

				strbuf += evdev.KeyType(event.Code).String()
			}
		}
	}
}

// Close releases the input device.
func (k *Keyboard) Close() error {
	if k.device == nil {
		return nil
	}
	return k.device.Close()
}
