package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"schoolgate/eventpipe"
	"schoolgate/mqtt"
	"schoolgate/reader"
	"schoolgate/store"
)

var errNoUnknownCard = errors.New("no unknown card seen yet, give the uid")

// AssignRequest is the payload of the assign control topic.
type AssignRequest struct {
	Identifier string `json:"identifier"`
	UID        string `json:"uid"`
}

// Control topic leaves this node listens on.
const (
	controlCheck   = "check"
	controlAssign  = "assign"
	controlCommand = "command"
	controlRoster  = "roster"
)

// runCommand is the event pipe handler.
func (app *App) runCommand(cmd eventpipe.Command) {
	if err := app.handleCommand(cmd); err != nil {
		app.log.Warn("Command failed", "command", cmd.Kind, "err", err)
		fmt.Fprintf(app.out, "%s: %v\n", cmd.Kind, err)
	}
}

func (app *App) handleCommand(cmd eventpipe.Command) error {
	switch cmd.Kind {
	case eventpipe.KindScan:
		app.submit(cmd.UID, time.Now())
		return nil

	case eventpipe.KindAssign:
		return app.assign(cmd.Identifier, cmd.UID)

	case eventpipe.KindCheck:
		return app.reader.SystemCheck()

	case eventpipe.KindSend:
		return app.reader.SendCommand(cmd.Text)

	case eventpipe.KindConnect:
		return app.connect(cmd.Port, cmd.Baud)

	case eventpipe.KindDisconnect:
		return app.reader.Disconnect()

	case eventpipe.KindPorts:
		ports, err := app.listPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Fprintln(app.out, "No serial ports found")
		}
		for _, p := range ports {
			fmt.Fprintln(app.out, p)
		}
		return nil

	case eventpipe.KindWindow:
		if err := app.store.SetWindow(app.ctx, cmd.Window); err != nil {
			return err
		}
		fmt.Fprintf(app.out, "Window set: %s\n", cmd.Window)
		return nil

	case eventpipe.KindLogs:
		entries, err := app.store.RecentLogs(app.ctx, cmd.Action, cmd.Count)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(app.out, "%s %-6s %s\n", e.At.Format("2006-01-02 15:04:05"), strings.ToUpper(string(e.Action)), e.Identifier)
		}
		return nil

	default:
		return fmt.Errorf("unsupported command %s", cmd.Kind)
	}
}

// connect opens the reader link, falling back to the configured device and
// baud rate.
func (app *App) connect(port string, baud int) error {
	if port == "" {
		port = app.cfg.Reader.Device
	}
	if baud <= 0 {
		baud = app.cfg.Reader.Baud
	}
	if baud <= 0 {
		baud = reader.DefaultBaud
	}
	return app.reader.Connect(port, baud)
}

// assign binds uid to the student. An empty uid means the last card that
// was reported unknown.
func (app *App) assign(identifier, uid string) error {
	app.mu.Lock()
	last := app.lastUnknown
	app.mu.Unlock()

	if uid == "" {
		uid = last
	}
	if uid == "" {
		return errNoUnknownCard
	}
	uid, err := store.NormalizeCard(uid)
	if err != nil {
		return err
	}

	if err := app.store.AssignCard(app.ctx, identifier, uid); err != nil {
		return fmt.Errorf("assign %s to %s: %w", uid, identifier, err)
	}

	app.mu.Lock()
	if app.lastUnknown == uid {
		app.lastUnknown = ""
	}
	app.mu.Unlock()

	app.log.Info("Card assigned", "identifier", identifier, "uid", uid)
	fmt.Fprintf(app.out, "Assigned card %s to %s\n", uid, identifier)
	return nil
}

func (app *App) onMQTTConnect() {
	for _, leaf := range []string{controlCheck, controlAssign, controlCommand, controlRoster} {
		if err := app.mqtt.Subscribe(mqtt.ControlTopic(app.cfg.ClientID, leaf)); err != nil {
			app.log.Warn("Subscribe", "leaf", leaf, "err", err)
		}
	}
}

func (app *App) onMQTTDisconnect() {
	app.log.Warn("Telemetry offline, decisions are still logged locally")
}

func (app *App) onMQTTMessage(topic string, payload []byte) {
	var err error
	switch leaf := mqtt.ControlLeaf(app.cfg.ClientID, topic); leaf {
	case controlCheck:
		err = app.handleCommand(eventpipe.Command{Kind: eventpipe.KindCheck})

	case controlAssign:
		var req AssignRequest
		if err = json.Unmarshal(payload, &req); err != nil {
			err = fmt.Errorf("decode assign request: %w", err)
			break
		}
		err = app.assign(req.Identifier, req.UID)

	case controlCommand:
		var cmd eventpipe.Command
		cmd, err = eventpipe.ParseLine(string(payload))
		if err == nil {
			err = app.handleCommand(cmd)
		}

	case controlRoster:
		_, err = app.roster.Load(app.ctx)

	default:
		app.log.Debug("Ignoring MQTT message", "topic", topic)
		return
	}

	if err != nil {
		app.log.Warn("Control message failed", "topic", topic, "err", err)
	}
}
