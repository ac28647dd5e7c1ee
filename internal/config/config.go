// Package config holds the encoder process settings. Values come from
// DefaultConfig, optionally overlaid by a YAML file, then by flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/encoder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/pkg/types"
)

// Bus kinds
const (
	BusMQTT = "mqtt"
	BusNone = "none"
)

// Config is the complete process configuration
type Config struct {
	Name          string        `yaml:"name"`           // shared memory area
	CID           uint16        `yaml:"cid"`            // bus session id
	ID            uint32        `yaml:"id"`             // sender stamp
	Width         int           `yaml:"width"`
	Height        int           `yaml:"height"`
	Layout        string        `yaml:"layout"`         // yuv420, bgr24, rgb24, yuyv422
	Verbose       bool          `yaml:"verbose"`
	AttachTimeout time.Duration `yaml:"attach_timeout"` // 0 fails at once when the area is missing

	// Encoder tuning by option name, e.g. "bitrate: 2000000"
	Encoder map[string]any `yaml:"encoder"`

	Bus     BusConfig    `yaml:"bus"`
	HTTP    HTTPConfig   `yaml:"http"`
	Record  RecordConfig `yaml:"record"`
	Metrics string       `yaml:"metrics"` // listen address, empty disables
	Pprof   string       `yaml:"pprof"`   // listen address, empty disables
	Log     LogConfig    `yaml:"log"`
}

// BusConfig selects and configures the message bus
type BusConfig struct {
	Kind     string `yaml:"kind"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      int    `yaml:"qos"`
}

// HTTPConfig configures the control and signalling server
type HTTPConfig struct {
	Addr       string   `yaml:"addr"` // empty disables
	STUN       []string `yaml:"stun"`
	MaxClients int      `yaml:"max_clients"`
}

// RecordConfig configures the recorder sink
type RecordConfig struct {
	Path      string `yaml:"path"`
	AutoStart bool   `yaml:"auto_start"`
}

// LogConfig configures the process logger
type LogConfig struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Layout:  types.LayoutYUV420Planar.String(),
		Encoder: map[string]any{},
		Bus: BusConfig{
			Kind:   BusMQTT,
			Broker: "tcp://localhost:1883",
			Topic:  "od4",
			QoS:    0,
		},
		HTTP: HTTPConfig{
			STUN:       []string{"stun:stun.l.google.com:19302"},
			MaxClients: 10,
		},
		Record: RecordConfig{
			Path: "./recordings",
		},
		Log: LogConfig{
			Level: "info",
			Color: true,
		},
	}
}

// Load overlays the YAML file at path onto the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse overlays YAML data onto the defaults. Keys absent from data keep
// their default values.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Encoder == nil {
		cfg.Encoder = map[string]any{}
	}
	return cfg, nil
}

// PixelLayout returns the parsed frame layout
func (c *Config) PixelLayout() (types.PixelLayout, error) {
	layout, ok := types.ParsePixelLayout(c.Layout)
	if !ok {
		return layout, fmt.Errorf("unknown pixel layout %q", c.Layout)
	}
	return layout, nil
}

// EncoderOptions renders the geometry and tuning values as raw option
// strings for encoder.Build. Booleans become 1 and 0.
func (c *Config) EncoderOptions() encoder.Options {
	opts := make(encoder.Options, len(c.Encoder)+2)
	for name, v := range c.Encoder {
		switch v := v.(type) {
		case bool:
			if v {
				opts[name] = "1"
			} else {
				opts[name] = "0"
			}
		case int:
			opts[name] = strconv.Itoa(v)
		case string:
			opts[name] = v
		default:
			opts[name] = fmt.Sprint(v)
		}
	}
	opts[encoder.OptWidth] = strconv.Itoa(c.Width)
	opts[encoder.OptHeight] = strconv.Itoa(c.Height)
	return opts
}

// Validate checks the settings that cannot be clamped
func Validate(c *Config) error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if c.CID == 0 {
		errs = append(errs, errors.New("cid is required"))
	}
	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, fmt.Errorf("width and height must be positive, got %dx%d", c.Width, c.Height))
	}
	if _, err := c.PixelLayout(); err != nil {
		errs = append(errs, err)
	}
	if c.AttachTimeout < 0 {
		errs = append(errs, fmt.Errorf("attach_timeout must not be negative, got %s", c.AttachTimeout))
	}

	known := make(map[string]bool)
	for _, name := range encoder.TuningOptions() {
		known[name] = true
	}
	for name := range c.Encoder {
		if !known[name] {
			errs = append(errs, fmt.Errorf("unknown encoder option %q", name))
		}
	}

	switch c.Bus.Kind {
	case BusMQTT:
		if c.Bus.Broker == "" {
			errs = append(errs, errors.New("bus.broker is required for the mqtt bus"))
		}
		if c.Bus.Topic == "" {
			errs = append(errs, errors.New("bus.topic is required for the mqtt bus"))
		}
		if c.Bus.QoS < 0 || c.Bus.QoS > 2 {
			errs = append(errs, fmt.Errorf("bus.qos must be 0, 1 or 2, got %d", c.Bus.QoS))
		}
	case BusNone:
	default:
		errs = append(errs, fmt.Errorf("unknown bus kind %q", c.Bus.Kind))
	}

	if c.HTTP.MaxClients < 0 {
		errs = append(errs, fmt.Errorf("http.max_clients must not be negative, got %d", c.HTTP.MaxClients))
	}
	if c.Record.AutoStart && c.Record.Path == "" {
		errs = append(errs, errors.New("record.path is required to record at startup"))
	}
	return errors.Join(errs...)
}
