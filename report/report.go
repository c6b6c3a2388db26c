// Package report tells people what the gate did: reader status, command
// acknowledgments and admission decisions.
package report

import (
	"io"
	"log/slog"

	"schoolgate/admission"
)

// Reporter is implemented by every presentation target.
type Reporter interface {
	// Connection reports a reader status change.
	Connection(device string, connected bool)

	// LinkError reports a reader transport or lifecycle failure.
	LinkError(device string, err error)

	// Ack reports a command acknowledgment from the device.
	Ack(token string)

	// Decision reports the outcome of one scan, including alerts and
	// unknown cards waiting for assignment.
	Decision(d admission.Decision)

	// Shutdown reports that the gate is stopping.
	Shutdown()

	// Release releases any held resources.
	Release() error
}

// Config holds configuration for reporter implementations.
type Config struct {
	Console bool `yaml:"console"` // print to stdout
	Color   bool `yaml:"color"`   // colorize console output
	MQTT    bool `yaml:"mqtt"`    // publish to the node's status topics
}

// Publisher is the part of the MQTT client the MQTT reporter uses.
type Publisher interface {
	Publish(topic string, payload []byte) error
	IsEnabled() bool
}

// New creates a Reporter based on the provided configuration. Returns a
// Multi reporter if more than one target is configured.
func New(cfg Config, out io.Writer, pub Publisher, clientID string, logger *slog.Logger) Reporter {
	var reporters []Reporter

	if cfg.Console && out != nil {
		reporters = append(reporters, NewConsole(out, cfg.Color))
	}
	if cfg.MQTT && pub != nil && pub.IsEnabled() {
		reporters = append(reporters, NewMQTT(pub, clientID, logger))
	}

	switch len(reporters) {
	case 0:
		return Noop{}
	case 1:
		return reporters[0]
	}
	return &Multi{reporters: reporters}
}
