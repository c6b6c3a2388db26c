package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"schoolgate/admission"
	"schoolgate/eventpipe"
	"schoolgate/mqtt"
	"schoolgate/reader"
	"schoolgate/report"
	"schoolgate/store"
	"schoolgate/store/memory"
	"schoolgate/store/sqlite"
)

var myBuild string

// scanQueueSize bounds the scans waiting for a decision.
const scanQueueSize = 64

// App holds the application state and dependencies.
type App struct {
	cfg      *Config
	log      *slog.Logger
	out      io.Writer
	store    store.Store
	engine   *admission.Engine
	reader   *reader.Controller
	keyboard *reader.Keyboard
	report   report.Reporter
	mqtt     *mqtt.Client
	pipe     *eventpipe.EventPipe
	roster   *Roster

	listPorts func() ([]string, error)

	scans chan admission.ScanEvent
	wg    sync.WaitGroup

	mu          sync.Mutex
	lastUnknown string

	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	fmt.Printf("schoolgate build %s\n", myBuild)

	cfgfile := flag.String("cfg", "schoolgate.yml", "Config file")
	portsflag := flag.Bool("ports", false, "List serial ports and exit")
	flag.Parse()

	if *portsflag {
		ports, err := reader.ListPorts()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := LoadConfig(*cfgfile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load config: %v\n", err)
		os.Exit(1)
	}

	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	app, err := NewApp(context.Background(), cfg, logger, os.Stdout)
	if err != nil {
		logger.Error("Init", "err", err)
		os.Exit(1)
	}
	app.Start()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	app.Shutdown()
	fmt.Println("Shutdown complete")
}

// NewApp builds every component from cfg without starting any of them.
func NewApp(parent context.Context, cfg *Config, logger *slog.Logger, out io.Writer) (*App, error) {
	ctx, cancel := context.WithCancel(parent)
	app := &App{
		cfg:       cfg,
		log:       logger,
		out:       out,
		listPorts: reader.ListPorts,
		scans:     make(chan admission.ScanEvent, scanQueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}

	var err error
	app.store, err = openStore(ctx, cfg, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	fail := func(err error) (*App, error) {
		app.store.Close()
		cancel()
		return nil, err
	}

	if err := seedWindows(ctx, app.store, cfg.Windows); err != nil {
		return fail(err)
	}
	app.roster = NewRoster(cfg.RosterFile, app.store, logger)
	if _, err := app.roster.Load(ctx); err != nil {
		return fail(err)
	}

	app.engine = admission.NewEngine(app.store, logger.With("component", "admission"))

	opts, err := cfg.Reader.Options(logger.With("component", "reader"))
	if err != nil {
		return fail(err)
	}
	app.reader = reader.NewController(opts)

	if cfg.Reader.KeyboardDevice != "" {
		app.keyboard, err = reader.NewKeyboard(cfg.Reader.KeyboardDevice, logger.With("component", "keyboard"))
		if err != nil {
			return fail(fmt.Errorf("init keyboard reader: %w", err))
		}
	}

	app.mqtt, err = mqtt.New(cfg.MQTT, cfg.ClientID, mqtt.Handlers{
		OnConnect:    app.onMQTTConnect,
		OnDisconnect: app.onMQTTDisconnect,
		OnMessage:    app.onMQTTMessage,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("init MQTT: %w", err))
	}
	if level, _ := cfg.Level(); level <= slog.LevelDebug {
		app.mqtt.EnableDebug()
	}

	app.report = report.New(cfg.Report, out, app.mqtt, cfg.ClientID, logger.With("component", "report"))

	app.pipe, err = eventpipe.New(cfg.EventPipe, app.runCommand, logger)
	if err != nil {
		return fail(fmt.Errorf("init event pipe: %w", err))
	}

	return app, nil
}

func openStore(ctx context.Context, cfg *Config, logger *slog.Logger) (store.Store, error) {
	if cfg.Store.Path == "" {
		logger.Warn("No store path configured, gate log is kept in memory only")
		return memory.New(), nil
	}
	st, err := sqlite.Open(ctx, cfg.Store, sqlite.WithLogger(logger.With("component", "db")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func seedWindows(ctx context.Context, st store.Store, windows []WindowConfig) error {
	for i, wc := range windows {
		w, err := wc.Window()
		if err != nil {
			return fmt.Errorf("windows[%d]: %w", i, err)
		}
		if err := st.SetWindow(ctx, w); err != nil {
			return fmt.Errorf("windows[%d]: %w", i, err)
		}
	}
	return nil
}

// Start launches the background goroutines and, when configured, opens the
// reader link.
func (app *App) Start() {
	events, _ := app.reader.Subscribe()

	app.wg.Add(2)
	go app.decisionLoop()
	go app.readerEvents(events)

	if app.keyboard != nil {
		go app.keyboardListener()
	}
	if app.pipe != nil {
		go app.pipe.Start()
	}
	go func() {
		if err := app.mqtt.Connect(); err != nil {
			app.log.Warn("MQTT connect", "err", err)
		}
	}()
	go app.pingSender()

	if app.cfg.Reader.ConnectOnStart && app.cfg.Reader.Device != "" {
		if err := app.connect("", 0); err != nil {
			app.log.Error("Reader connect", "device", app.cfg.Reader.Device, "err", err)
		}
	}
}

// Shutdown stops every component. Scans still queued are dropped.
func (app *App) Shutdown() {
	app.cancel()

	if app.pipe != nil {
		if err := app.pipe.Close(); err != nil {
			app.log.Warn("Close event pipe", "err", err)
		}
	}
	if app.keyboard != nil {
		app.keyboard.Close()
	}
	// Ends the reader subscription once the final events are relayed.
	app.reader.Close()
	app.wg.Wait()

	if n := len(app.scans); n > 0 {
		app.log.Warn("Dropping queued scans", "count", n)
	}

	app.report.Shutdown()
	if err := app.report.Release(); err != nil {
		app.log.Warn("Release reporter", "err", err)
	}
	app.mqtt.Disconnect()
	if err := app.store.Close(); err != nil {
		app.log.Warn("Close store", "err", err)
	}
}

// submit queues a scan for the decision loop.
func (app *App) submit(uid string, at time.Time) {
	scan := admission.NewScan(uid, at)
	select {
	case app.scans <- scan:
	case <-app.ctx.Done():
	}
}

// decisionLoop is the only caller of the engine, so scans are decided one
// at a time in arrival order.
func (app *App) decisionLoop() {
	defer app.wg.Done()
	for {
		select {
		case <-app.ctx.Done():
			return
		case scan := <-app.scans:
			app.decide(scan)
		}
	}
}

func (app *App) decide(scan admission.ScanEvent) {
	d, err := app.engine.Decide(app.ctx, scan)
	if err != nil {
		app.log.Error("Decide scan", "uid", scan.UID, "scan_id", scan.ID, "err", err)
		return
	}
	if d.Action == admission.UnknownCard {
		app.mu.Lock()
		app.lastUnknown = d.UID
		app.mu.Unlock()
	}
	app.report.Decision(d)
}

func (app *App) readerEvents(events <-chan reader.Event) {
	defer app.wg.Done()
	for ev := range events {
		switch ev.Type {
		case reader.EventCard:
			app.submit(ev.UID, ev.At)
		case reader.EventAck:
			app.report.Ack(ev.Token)
		case reader.EventStatus:
			app.report.Connection(ev.Device, ev.Status == reader.StatusConnected)
		case reader.EventLinkError:
			app.report.LinkError(ev.Device, ev.Err)
		}
	}
}

func (app *App) keyboardListener() {
	for {
		uid, err := app.keyboard.Read(app.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if errors.Is(err, reader.ErrKeyboardClosed) {
				app.log.Warn("Keyboard reader closed")
				return
			}
			app.log.Warn("Read keyboard", "err", err)
			time.Sleep(time.Second)
			continue
		}
		app.submit(uid, time.Now())
	}
}

// PingMessage is published periodically on status/node/<id>/ping.
type PingMessage struct {
	Status string `json:"status"`
	Reader bool   `json:"reader_connected"`
}

func (app *App) pingSender() {
	ticker := time.NewTicker(app.cfg.PingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			payload, _ := json.Marshal(PingMessage{Status: "ok", Reader: app.reader.IsConnected()})
			if err := app.mqtt.Publish(mqtt.StatusTopic(app.cfg.ClientID, "ping"), payload); err != nil {
				app.log.Debug("Ping", "err", err)
			}
		}
	}
}
