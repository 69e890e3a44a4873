package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

//go:embed pulse.toml
var defaultConfigData []byte

// Source kinds understood by the source package.
const (
	SourceSerial    = "serial"
	SourceUSB       = "usb"
	SourceEDF       = "edf"
	SourceSynthetic = "synthetic"
	SourceConstant  = "constant"
)

// Config represents the entire TOML configuration structure
type Config struct {
	Default   string    `toml:"default"`
	Board     []Board   `toml:"board"`
	Channel   []Channel `toml:"channel"`
	Telemetry Telemetry `toml:"telemetry"`
	Record    Record    `toml:"record"`

	// Filled in by Validate.
	Selected *Board    `toml:"-"` // Board named by Default
	Channels []Channel `toml:"-"` // Channels of the selected board, in order
}

// Board describes where raw samples come from
type Board struct {
	Name     string   `toml:"name"`
	Source   string   `toml:"source"`
	Port     string   `toml:"port"`      // serial: device path, empty to auto-detect
	Baud     int      `toml:"baud"`      // serial
	VID      int      `toml:"vid"`       // usb
	PID      int      `toml:"pid"`       // usb
	Endpoint int      `toml:"endpoint"`  // usb bulk IN endpoint address
	File     string   `toml:"file"`      // edf
	PeriodMs int      `toml:"period_ms"` // synthetic
	HighMs   int      `toml:"high_ms"`   // synthetic
	Low      int      `toml:"low"`       // synthetic
	High     int      `toml:"high"`      // synthetic
	Level    int      `toml:"level"`     // constant
	Channels []string `toml:"channels"`
}

// Channel represents one pulse sensor
type Channel struct {
	Name      string `toml:"name"`
	Column    int    `toml:"column"`    // Position of the value in a source frame
	Threshold int    `toml:"threshold"` // Initial threshold, 0 keeps the detector default
}

// Telemetry selects where detected beats are published
type Telemetry struct {
	NATSURL        string `toml:"nats_url"`
	NATSSubject    string `toml:"nats_subject"`
	ControlSubject string `toml:"control_subject"`
	MQTTBroker     string `toml:"mqtt_broker"`
	MQTTTopic      string `toml:"mqtt_topic"`
	HTTPAddr       string `toml:"http_addr"`
	Text           bool   `toml:"text"`
	Samples        bool   `toml:"samples"`
}

// Record holds EDF header fields for recordings
type Record struct {
	Patient   string `toml:"patient"`
	Recording string `toml:"recording"`
}

// DefaultPath determines the config file path based on the operating system
func DefaultPath() (string, error) {
	switch runtime.GOOS {
	case "windows":
		// Use AppData directory for Windows
		configDir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user config directory: %w", err)
		}
		return filepath.Join(configDir, "pulsesensor", "config"), nil
	default:
		// Linux/macOS: use home directory
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user home directory: %w", err)
		}
		return filepath.Join(homeDir, ".pulsesensor"), nil
	}
}

// Initialize loads and validates the configuration file at path.
// An empty path means DefaultPath. If the file doesn't exist,
// it is created from the embedded default.
func Initialize(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		// Create parent directory if needed (for Windows)
		configDir := filepath.Dir(path)
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create config directory %s: %w", configDir, err)
		}
		if err := os.WriteFile(path, defaultConfigData, 0644); err != nil {
			return nil, fmt.Errorf("failed to create default config file at %s: %w", path, err)
		}
	}

	return Load(path)
}

// Load parses and validates the TOML file at path.
func Load(path string) (*Config, error) {
	var conf Config
	if _, err := toml.DecodeFile(path, &conf); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config at %s: %w", path, err)
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &conf, nil
}

// Parse decodes and validates configuration text.
func Parse(data string) (*Config, error) {
	var conf Config
	if _, err := toml.Decode(data, &conf); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Default returns the embedded default configuration.
func Default() *Config {
	conf, err := Parse(string(defaultConfigData))
	if err != nil {
		panic(fmt.Sprintf("embedded config is invalid: %v", err))
	}
	return conf
}

// Select makes the named board current and validates again.
func (c *Config) Select(board string) error {
	c.Default = board
	return c.Validate()
}

// Validate checks the configuration and resolves the selected board
// and its channels.
func (c *Config) Validate() error {
	if c.Default == "" {
		return errors.New("`default` key is missing or empty in config")
	}

	var board *Board
	for i := range c.Board {
		if c.Board[i].Name == c.Default {
			board = &c.Board[i]
			break
		}
	}
	if board == nil {
		return fmt.Errorf("default board %q not found in board array", c.Default)
	}

	switch board.Source {
	case SourceSerial:
		if board.Baud < 0 {
			return fmt.Errorf("board %q has invalid baud: %d", board.Name, board.Baud)
		}
	case SourceUSB:
		if board.VID <= 0 || board.PID <= 0 || board.VID > 0xffff || board.PID > 0xffff {
			return fmt.Errorf("board %q has invalid USB id %04x:%04x", board.Name, board.VID, board.PID)
		}
	case SourceEDF:
		if board.File == "" {
			return fmt.Errorf("board %q has no EDF file", board.Name)
		}
	case SourceSynthetic:
		if board.PeriodMs <= 0 || board.HighMs <= 0 || board.HighMs >= board.PeriodMs {
			return fmt.Errorf("board %q has invalid pulse shape: period %d ms, high %d ms",
				board.Name, board.PeriodMs, board.HighMs)
		}
	case SourceConstant:
		if board.Level < 0 || board.Level > 1023 {
			return fmt.Errorf("board %q has invalid level: %d", board.Name, board.Level)
		}
	default:
		return fmt.Errorf("board %q has unknown source %q", board.Name, board.Source)
	}

	if len(board.Channels) == 0 {
		return fmt.Errorf("board %q has no channels listed", board.Name)
	}

	// Verify each channel listed under the board exists in the channel array
	channelMap := make(map[string]Channel)
	for _, ch := range c.Channel {
		if ch.Column < 0 {
			return fmt.Errorf("channel %q has invalid column: %d", ch.Name, ch.Column)
		}
		if ch.Threshold < 0 || ch.Threshold > 1023 {
			return fmt.Errorf("channel %q has invalid threshold: %d (must be 0..1023)", ch.Name, ch.Threshold)
		}
		channelMap[ch.Name] = ch
	}

	channels := make([]Channel, 0, len(board.Channels))
	for _, name := range board.Channels {
		ch, ok := channelMap[name]
		if !ok {
			return fmt.Errorf("channel %q listed under board %q not found in channel array", name, board.Name)
		}
		channels = append(channels, ch)
	}

	c.Selected = board
	c.Channels = channels
	return nil
}
