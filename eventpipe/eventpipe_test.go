package eventpipe

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolgate/admission"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		want Command
	}{
		{"scan 04:a2:3f:1b", Command{Kind: KindScan, UID: "04A23F1B"}},
		{"  RFID cafe01 ", Command{Kind: KindScan, UID: "CAFE01"}},
		{"tag 1234", Command{Kind: KindScan, UID: "1234"}},
		{"assign 1001", Command{Kind: KindAssign, Identifier: "1001"}},
		{"assign 1001 ab-cd", Command{Kind: KindAssign, Identifier: "1001", UID: "ABCD"}},
		{"check", Command{Kind: KindCheck}},
		{"send LED_ON now", Command{Kind: KindSend, Text: "LED_ON now"}},
		{"connect", Command{Kind: KindConnect}},
		{"connect /dev/ttyUSB1", Command{Kind: KindConnect, Port: "/dev/ttyUSB1"}},
		{"connect COM3 115200", Command{Kind: KindConnect, Port: "COM3", Baud: 115200}},
		{"disconnect", Command{Kind: KindDisconnect}},
		{"ports", Command{Kind: KindPorts}},
		{"window boarder sat closed", Command{Kind: KindWindow, Window: admission.Window{Profile: admission.Boarder, Day: admission.Saturday}}},
		{"window evci 0 08:00 17:30", Command{Kind: KindWindow, Window: admission.NewWindow(admission.ResidentCommuter, admission.Monday, admission.Clock(8, 0, 0), admission.Clock(17, 30, 0))}},
		{"logs", Command{Kind: KindLogs, Count: DefaultLogCount}},
		{"logs 3", Command{Kind: KindLogs, Count: 3}},
		{"logs denied", Command{Kind: KindLogs, Action: admission.Denied, Count: DefaultLogCount}},
		{"logs all 25", Command{Kind: KindLogs, Count: 25}},
		{"logs Entry 5", Command{Kind: KindLogs, Action: admission.Entry, Count: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLineBlank(t *testing.T) {
	for _, line := range []string{"", "   ", "# comment", "  # indented"} {
		_, err := ParseLine(line)
		assert.ErrorIs(t, err, ErrBlank, "line %q", line)
	}
}

func TestParseLineErrors(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"scan", "requires a card uid"},
		{"scan ::", "invalid card uid"},
		{"assign", "assign requires"},
		{"assign 1001 --", "invalid card uid"},
		{"send", "send requires"},
		{"connect a 0", "invalid baud rate"},
		{"connect a b c", "connect takes"},
		{"window boarder", "window requires"},
		{"window visitor mon closed", "invalid profile"},
		{"window boarder funday closed", "invalid weekday"},
		{"window boarder mon open", "expected 'closed'"},
		{"window boarder mon 25:00 08:00", "invalid time of day"},
		{"logs unknown_card", "invalid action"},
		{"logs entry x", "invalid log count"},
		{"logs 0", "invalid log count"},
		{"open sesame", "unknown command: open"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			_, err := ParseLine(tt.line)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestNewDisabled(t *testing.T) {
	ep, err := New(Config{}, nil, quiet)
	require.NoError(t, err)
	assert.Nil(t, ep)
}

func TestPipeDeliversCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events")
	got := make(chan Command, 8)
	ep, err := New(Config{Path: path}, func(c Command) { got <- c }, quiet)
	require.NoError(t, err)
	assert.Equal(t, path, ep.Path())

	done := make(chan struct{})
	go func() {
		ep.Start()
		close(done)
	}()

	w, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = io.WriteString(w, "# gate desk\nscan cafe01\nbogus\n\ncheck\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	for _, want := range []Command{{Kind: KindScan, UID: "CAFE01"}, {Kind: KindCheck}} {
		select {
		case c := <-got:
			assert.Equal(t, want, c)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %v", want.Kind)
		}
	}

	require.NoError(t, ep.Close())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Close")
	}
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "assign", KindAssign.String())
	assert.Equal(t, "kind(99)", Kind(99).String())
}
