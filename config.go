package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"schoolgate/admission"
	"schoolgate/db"
	"schoolgate/eventpipe"
	"schoolgate/mqtt"
	"schoolgate/reader"
	"schoolgate/report"
)

const defaultPingSecs = 120

// Config is the main configuration structure for schoolgate.
type Config struct {
	// General settings
	ClientID   string `yaml:"client_id"`
	LogLevel   string `yaml:"log_level"`
	RosterFile string `yaml:"roster_file"`
	PingSecs   int    `yaml:"ping_secs"`

	// Reader configuration
	Reader reader.Config `yaml:"reader"`

	// Database; an empty path keeps everything in memory
	Store db.Config `yaml:"store"`

	// MQTT connection settings
	MQTT mqtt.Config `yaml:"mqtt"`

	// Where decisions and reader status are shown
	Report report.Config `yaml:"report"`

	EventPipe eventpipe.Config `yaml:"event_pipe"`

	// Admission windows written to the store at startup
	Windows []WindowConfig `yaml:"windows"`
}

// WindowConfig is one admission window as written in the config file.
// Leave start and end out, or set closed, to deny the whole day.
type WindowConfig struct {
	Profile string `yaml:"profile"`
	Day     string `yaml:"day"`
	Start   string `yaml:"start"`
	End     string `yaml:"end"`
	Closed  bool   `yaml:"closed"`
}

// Window converts the entry, rejecting unknown profiles and days.
func (w WindowConfig) Window() (admission.Window, error) {
	p, err := admission.ParseProfile(w.Profile)
	if err != nil {
		return admission.Window{}, err
	}
	day, err := admission.ParseWeekday(w.Day)
	if err != nil {
		return admission.Window{}, err
	}
	if w.Closed || (w.Start == "" && w.End == "") {
		return admission.Window{Profile: p, Day: day}, nil
	}
	start, err := admission.ParseTimeOfDay(w.Start)
	if err != nil {
		return admission.Window{}, err
	}
	end, err := admission.ParseTimeOfDay(w.End)
	if err != nil {
		return admission.Window{}, err
	}
	return admission.NewWindow(p, day, start, end), nil
}

// LoadConfig reads and validates the YAML config file at path.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return errors.New("client_id missing in config file")
	}
	if c.PingSecs <= 0 {
		c.PingSecs = defaultPingSecs
	}
	if c.Reader.Baud <= 0 {
		c.Reader.Baud = reader.DefaultBaud
	}
	if _, err := reader.OpenerFor(c.Reader.Driver); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	for i, w := range c.Windows {
		if _, err := w.Window(); err != nil {
			return fmt.Errorf("windows[%d]: %w", i, err)
		}
	}
	return nil
}

// Level returns the configured log level, Info when unset.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// PingInterval is how often the node reports it is alive.
func (c *Config) PingInterval() time.Duration {
	if c.PingSecs <= 0 {
		return defaultPingSecs * time.Second
	}
	return time.Duration(c.PingSecs) * time.Second
}
