package report

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"schoolgate/admission"
	"schoolgate/protocol"
)

// Console prints one line per event for the person at the gate desk.
type Console struct {
	w   io.Writer
	now func() time.Time

	mu    sync.Mutex
	ok    *color.Color
	info  *color.Color
	warn  *color.Color
	bad   *color.Color
	alert *color.Color
}

// NewConsole writes to w. With colored false, no escape codes are written
// whatever the terminal supports.
func NewConsole(w io.Writer, colored bool) *Console {
	c := &Console{
		w:     w,
		now:   time.Now,
		ok:    color.New(color.FgGreen),
		info:  color.New(color.FgCyan),
		warn:  color.New(color.FgYellow),
		bad:   color.New(color.FgRed),
		alert: color.New(color.FgHiWhite, color.BgRed, color.Bold),
	}
	for _, col := range []*color.Color{c.ok, c.info, c.warn, c.bad, c.alert} {
		if colored {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}
	return c
}

func (c *Console) line(col *color.Color, at time.Time, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "[%s] ", at.Format("15:04:05"))
	col.Fprintf(c.w, format, args...)
	fmt.Fprintln(c.w)
}

func (c *Console) Connection(device string, connected bool) {
	if connected {
		c.line(c.ok, c.now(), "Reader connected on %s", device)
		return
	}
	c.line(c.warn, c.now(), "Reader disconnected from %s", device)
}

func (c *Console) LinkError(device string, err error) {
	if device == "" {
		device = "reader"
	}
	c.line(c.bad, c.now(), "Reader error on %s: %v", device, err)
}

func (c *Console) Ack(token string) {
	if token == protocol.AckCheckOK {
		c.line(c.ok, c.now(), "System check passed")
		return
	}
	c.line(c.info, c.now(), "Device acknowledged %s", token)
}

func (c *Console) Decision(d admission.Decision) {
	if d.Action == admission.UnknownCard || d.Student == nil {
		c.line(c.warn, d.At, "UNKNOWN CARD %s (assign <identifier> %s)", d.UID, d.UID)
		return
	}

	col := c.info
	switch d.Action {
	case admission.Entry:
		col = c.ok
	case admission.Denied:
		col = c.bad
	}

	who := d.Student.Identifier
	if d.Student.DisplayName != "" {
		who += " " + d.Student.DisplayName
	}
	if d.Student.Staff {
		who += " (staff)"
	}
	c.line(col, d.At, "%-6s %s", strings.ToUpper(string(d.Action)), who)

	if d.Alert {
		c.line(c.alert, d.At, "ALERT: %s is penalized", who)
	}
}

func (c *Console) Shutdown() {
	c.line(c.warn, c.now(), "Gate shutting down")
}

func (c *Console) Release() error { return nil }
