package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolgate/admission"
	"schoolgate/reader"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const sampleConfig = `
client_id: gate-1
log_level: debug
reader:
  driver: tarm
  device: /dev/ttyUSB0
  read_timeout: 2s
  stop_timeout: 500ms
  connect_on_start: true
store:
  path: ./data/gate.db
mqtt:
  host: broker.local
  port: 8883
report:
  console: true
  color: false
  mqtt: true
event_pipe:
  path: /tmp/schoolgate-events
windows:
  - {profile: boarder, day: mon, start: "22:00", end: "02:00"}
  - {profile: evci, day: "6", closed: true}
`

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeFile(t, "gate.yml", sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "gate-1", cfg.ClientID)
	assert.Equal(t, reader.Config{
		Driver:         "tarm",
		Device:         "/dev/ttyUSB0",
		Baud:           reader.DefaultBaud,
		ReadTimeout:    2 * time.Second,
		StopTimeout:    500 * time.Millisecond,
		ConnectOnStart: true,
	}, cfg.Reader)
	assert.Equal(t, "./data/gate.db", cfg.Store.Path)
	assert.Equal(t, "broker.local", cfg.MQTT.Host)
	assert.Equal(t, 8883, cfg.MQTT.Port)
	assert.True(t, cfg.Report.Console)
	assert.False(t, cfg.Report.Color)
	assert.True(t, cfg.Report.MQTT)
	assert.Equal(t, "/tmp/schoolgate-events", cfg.EventPipe.Path)
	assert.Equal(t, 2*time.Minute, cfg.PingInterval())

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	require.Len(t, cfg.Windows, 2)
	w, err := cfg.Windows[0].Window()
	require.NoError(t, err)
	assert.Equal(t, admission.NewWindow(admission.Boarder, admission.Monday, admission.Clock(22, 0, 0), admission.Clock(2, 0, 0)), w)

	w, err = cfg.Windows[1].Window()
	require.NoError(t, err)
	assert.Equal(t, admission.Window{Profile: admission.ResidentCommuter, Day: admission.Sunday}, w)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"missing client id", "reader: {device: /dev/ttyUSB0}\n", "client_id missing"},
		{"bad driver", "client_id: g\nreader: {driver: usb}\n", "unknown serial driver"},
		{"bad log level", "client_id: g\nlog_level: loud\n", "log_level"},
		{"bad profile", "client_id: g\nwindows: [{profile: visitor, day: mon}]\n", "invalid profile"},
		{"bad time", "client_id: g\nwindows: [{profile: boarder, day: mon, start: \"8am\", end: \"17:00\"}]\n", "windows[0]"},
		{"not yaml", "client_id: [\n", "decode config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, "gate.yml", tt.content))
			assert.ErrorContains(t, err, tt.want)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.ErrorContains(t, err, "open config")
}

func TestWindowConfigOnlyOneBound(t *testing.T) {
	_, err := WindowConfig{Profile: "boarder", Day: "mon", Start: "08:00"}.Window()
	assert.ErrorIs(t, err, admission.ErrInvalidTimeOfDay)
}
