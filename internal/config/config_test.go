package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/encoder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/pkg/types"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Name = "video0.i420"
	cfg.CID = 111
	cfg.Width = 640
	cfg.Height = 480
	return cfg
}

func TestDefaultConfigNeedsIdentity(t *testing.T) {
	err := Validate(DefaultConfig())
	if err == nil {
		t.Fatal("default config validated without name, cid and dimensions")
	}
	for _, want := range []string{"name", "cid", "width"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
name: video0.bgr
cid: 253
width: 1280
height: 720
layout: bgr24
attach_timeout: 5s
encoder:
  bitrate: 2000000
  denoise: true
  rc-mode: "1"
bus:
  broker: tcp://broker:1883
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "video0.bgr" || cfg.CID != 253 || cfg.Width != 1280 || cfg.Height != 720 {
		t.Fatalf("identity not parsed: %+v", cfg)
	}
	if cfg.AttachTimeout != 5*time.Second {
		t.Fatalf("attach timeout = %s", cfg.AttachTimeout)
	}
	if cfg.Bus.Broker != "tcp://broker:1883" || cfg.Bus.Kind != BusMQTT || cfg.Bus.Topic != "od4" {
		t.Fatalf("bus overlay lost defaults: %+v", cfg.Bus)
	}
	if cfg.HTTP.MaxClients != 10 || cfg.Log.Level != "info" {
		t.Fatalf("untouched sections changed: %+v %+v", cfg.HTTP, cfg.Log)
	}

	layout, err := cfg.PixelLayout()
	if err != nil || layout != types.LayoutRawBGR24 {
		t.Fatalf("layout = %v, %v", layout, err)
	}

	opts := cfg.EncoderOptions()
	want := encoder.Options{
		encoder.OptWidth:   "1280",
		encoder.OptHeight:  "720",
		encoder.OptBitrate: "2000000",
		encoder.OptDenoise: "1",
		encoder.OptRCMode:  "1",
	}
	if len(opts) != len(want) {
		t.Fatalf("options = %v", opts)
	}
	for k, v := range want {
		if opts[k] != v {
			t.Errorf("%s = %q, want %q", k, opts[k], v)
		}
	}
	if err := Validate(cfg); err != nil {
		t.Fatal(err)
	}
}

func TestEncoderOptionsBuild(t *testing.T) {
	cfg := validConfig()
	cfg.Encoder["qp-max"] = 30
	cfg.Encoder["frame-skip"] = false

	limits := encoder.DefaultLimits()
	ec, err := encoder.Build(&limits, cfg.EncoderOptions())
	if err != nil {
		t.Fatal(err)
	}
	if ec.QPMax != 30 || ec.FrameSkip || ec.Width != 640 {
		t.Fatalf("built config = %+v", ec)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"layout", func(c *Config) { c.Layout = "nv12" }, "layout"},
		{"encoder option", func(c *Config) { c.Encoder["bitrate-min"] = 1 }, "bitrate-min"},
		{"bus kind", func(c *Config) { c.Bus.Kind = "kafka" }, "bus kind"},
		{"broker", func(c *Config) { c.Bus.Broker = "" }, "broker"},
		{"qos", func(c *Config) { c.Bus.QoS = 3 }, "qos"},
		{"clients", func(c *Config) { c.HTTP.MaxClients = -1 }, "max_clients"},
		{"record path", func(c *Config) { c.Record.AutoStart = true; c.Record.Path = "" }, "record.path"},
		{"timeout", func(c *Config) { c.AttachTimeout = -time.Second }, "attach_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestNullBusSkipsBrokerChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Bus = BusConfig{Kind: BusNone}
	if err := Validate(cfg); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encoder.yaml")
	if err := os.WriteFile(path, []byte("name: cam\nencoder:\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "cam" || cfg.Encoder == nil {
		t.Fatalf("cfg = %+v", cfg)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file loaded")
	}
	if _, err := Parse([]byte("width: [1")); err == nil {
		t.Fatal("malformed yaml parsed")
	}
}
