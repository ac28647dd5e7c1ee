package main

import (
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var required = []string{"--name", "video0", "--cid", "111", "--width", "640", "--height", "480"}

func TestConfigPath(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--config", "a.yaml"}, "a.yaml"},
		{[]string{"-config=b.yaml", "--width", "2"}, "b.yaml"},
		{[]string{"--width", "2"}, ""},
		{[]string{"--", "--config", "c.yaml"}, ""},
		{[]string{"config", "d.yaml"}, ""},
	}
	for _, tt := range tests {
		if got := configPath(tt.args); got != tt.want {
			t.Errorf("configPath(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestParseFlagsRequired(t *testing.T) {
	cfg, err := parseFlags(required, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "video0" || cfg.CID != 111 || cfg.ID != 0 || cfg.Width != 640 || cfg.Height != 480 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Layout != "yuv420" {
		t.Fatalf("default layout = %q", cfg.Layout)
	}

	if _, err := parseFlags([]string{"--width", "640", "--height", "480"}, io.Discard); err == nil {
		t.Fatal("missing name and cid accepted")
	}
}

func TestParseFlagsTuningAndLayout(t *testing.T) {
	args := append([]string{"--bgr24", "--bitrate=2000000", "-qp-max", "30", "--id", "7", "--verbose"}, required...)
	cfg, err := parseFlags(args, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Layout != "bgr24" || cfg.ID != 7 || !cfg.Verbose {
		t.Fatalf("cfg = %+v", cfg)
	}
	opts := cfg.EncoderOptions()
	if opts["bitrate"] != "2000000" || opts["qp-max"] != "30" || opts["width"] != "640" {
		t.Fatalf("encoder options = %v", opts)
	}
}

func TestParseFlagsRejectsTwoLayouts(t *testing.T) {
	args := append([]string{"--bgr24", "--yuyv422"}, required...)
	_, err := parseFlags(args, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "at most one") {
		t.Fatalf("err = %v", err)
	}
}

func TestParseFlagsRejectsBadIDs(t *testing.T) {
	for _, args := range [][]string{
		{"--cid", "70000"},
		{"--id", "-1"},
	} {
		if _, err := parseFlags(append(append([]string{}, required...), args...), io.Discard); err == nil {
			t.Errorf("%v accepted", args)
		}
	}
}

func TestParseFlagsYAMLSeedsAndFlagsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enc.yaml")
	yaml := `
name: from-file
cid: 5
width: 320
height: 240
layout: rgb24
attach_timeout: 3s
encoder:
  bitrate: 900000
  gop: 30
bus:
  kind: none
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := parseFlags([]string{"--config", path, "--gop", "60", "--width", "640"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "from-file" || cfg.CID != 5 || cfg.Width != 640 || cfg.Height != 240 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Layout != "rgb24" || cfg.AttachTimeout != 3*time.Second || cfg.Bus.Kind != "none" {
		t.Fatalf("file values lost: %+v", cfg)
	}
	opts := cfg.EncoderOptions()
	if opts["gop"] != "60" || opts["bitrate"] != "900000" {
		t.Fatalf("encoder options = %v", opts)
	}
}

func TestParseFlagsHelp(t *testing.T) {
	if _, err := parseFlags([]string{"-h"}, io.Discard); !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("err = %v", err)
	}
}

func TestRunExitCodes(t *testing.T) {
	if code := run([]string{"-h"}); code != 0 {
		t.Fatalf("help exit code = %d", code)
	}
	if code := run([]string{"--width", "640"}); code != 1 {
		t.Fatalf("invalid config exit code = %d", code)
	}
}
