package report

import (
	"encoding/json"
	"log/slog"
	"time"

	"schoolgate/admission"
	"schoolgate/mqtt"
)

// LinkMessage is published on status/node/<id>/link.
type LinkMessage struct {
	Device    string `json:"device"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
	At        string `json:"at"`
}

// AckMessage is published on status/node/<id>/ack.
type AckMessage struct {
	Token string `json:"token"`
	At    string `json:"at"`
}

// ScanMessage is published on status/node/<id>/scan, and also on
// status/node/<id>/alert when an alert is requested.
type ScanMessage struct {
	ScanID     string `json:"scan_id"`
	UID        string `json:"uid"`
	Action     string `json:"action"`
	Alert      bool   `json:"alert"`
	Identifier string `json:"identifier,omitempty"`
	Name       string `json:"name,omitempty"`
	Staff      bool   `json:"staff,omitempty"`
	At         string `json:"at"`
}

// MQTT publishes reports as JSON to the node's status topics.
type MQTT struct {
	pub      Publisher
	clientID string
	log      *slog.Logger
	now      func() time.Time
}

func NewMQTT(pub Publisher, clientID string, logger *slog.Logger) *MQTT {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTT{pub: pub, clientID: clientID, log: logger, now: time.Now}
}

func (m *MQTT) publish(leaf string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		m.log.Error("Encode report", "topic", leaf, "err", err)
		return
	}
	topic := mqtt.StatusTopic(m.clientID, leaf)
	if err := m.pub.Publish(topic, payload); err != nil {
		m.log.Warn("Publish report", "topic", topic, "err", err)
	}
}

func (m *MQTT) stamp(t time.Time) string {
	if t.IsZero() {
		t = m.now()
	}
	return t.Format(time.RFC3339)
}

func (m *MQTT) Connection(device string, connected bool) {
	m.publish("link", LinkMessage{Device: device, Connected: connected, At: m.stamp(time.Time{})})
}

func (m *MQTT) LinkError(device string, err error) {
	msg := LinkMessage{Device: device, At: m.stamp(time.Time{})}
	if err != nil {
		msg.Error = err.Error()
	}
	m.publish("link", msg)
}

func (m *MQTT) Ack(token string) {
	m.publish("ack", AckMessage{Token: token, At: m.stamp(time.Time{})})
}

func (m *MQTT) Decision(d admission.Decision) {
	msg := ScanMessage{
		ScanID: d.ScanID.String(),
		UID:    d.UID,
		Action: string(d.Action),
		Alert:  d.Alert,
		At:     m.stamp(d.At),
	}
	if d.Student != nil {
		msg.Identifier = d.Student.Identifier
		msg.Name = d.Student.DisplayName
		msg.Staff = d.Student.Staff
	}
	m.publish("scan", msg)
	if d.Alert {
		m.publish("alert", msg)
	}
}

func (m *MQTT) Shutdown() {
	m.publish("link", LinkMessage{Connected: false, Error: "shutdown", At: m.stamp(time.Time{})})
}

func (m *MQTT) Release() error { return nil }
