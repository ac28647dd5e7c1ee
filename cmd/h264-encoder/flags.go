package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/encoder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/pkg/types"
)

var layoutFlags = []types.PixelLayout{
	types.LayoutRawBGR24,
	types.LayoutRGB24,
	types.LayoutYUV420Planar,
	types.LayoutYUYV422,
}

// configPath finds --config before the full flag set exists, so the file
// can seed the values the remaining flags override
func configPath(args []string) string {
	for i, arg := range args {
		if arg == "--" {
			break
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !strings.HasPrefix(arg, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// parseFlags builds the configuration from an optional YAML file and the
// command line. The result is validated.
func parseFlags(args []string, output io.Writer) (*config.Config, error) {
	cfg := config.DefaultConfig()
	path := configPath(args)
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	fs := flag.NewFlagSet("h264-encoder", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.String("config", path, "YAML configuration file; flags override its values")
	fs.StringVar(&cfg.Name, "name", cfg.Name, "Name of the shared memory area to attach")
	fs.Func("cid", "Bus session id (required)", func(v string) error {
		n, err := strconv.ParseUint(v, 10, 16)
		cfg.CID = uint16(n)
		return err
	})
	fs.Func("id", "Sender stamp of published samples (default 0)", func(v string) error {
		n, err := strconv.ParseUint(v, 10, 32)
		cfg.ID = uint32(n)
		return err
	})
	fs.IntVar(&cfg.Width, "width", cfg.Width, "Frame width")
	fs.IntVar(&cfg.Height, "height", cfg.Height, "Frame height")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Log every frame and enable encoder tracing")
	fs.DurationVar(&cfg.AttachTimeout, "attach-timeout", cfg.AttachTimeout, "How long to wait for the shared memory area to appear")

	layouts := make(map[types.PixelLayout]*bool, len(layoutFlags))
	for _, l := range layoutFlags {
		layouts[l] = fs.Bool(l.String(), false, fmt.Sprintf("Frames are %s", l))
	}

	for _, name := range encoder.TuningOptions() {
		name := name
		fs.Func(name, "Encoder option "+name, func(v string) error {
			cfg.Encoder[name] = v
			return nil
		})
	}

	fs.StringVar(&cfg.Bus.Kind, "bus", cfg.Bus.Kind, "Message bus: mqtt or none")
	fs.StringVar(&cfg.Bus.Broker, "mqtt-broker", cfg.Bus.Broker, "MQTT broker address")
	fs.StringVar(&cfg.Bus.Topic, "mqtt-topic", cfg.Bus.Topic, "MQTT topic prefix")
	fs.StringVar(&cfg.Bus.ClientID, "mqtt-client-id", cfg.Bus.ClientID, "MQTT client id (default derived from cid and id)")
	fs.IntVar(&cfg.Bus.QoS, "mqtt-qos", cfg.Bus.QoS, "MQTT QoS level")

	fs.StringVar(&cfg.HTTP.Addr, "http", cfg.HTTP.Addr, "HTTP control and WebRTC signalling address (empty disables)")
	fs.Func("stun", "STUN server URLs, comma separated (default "+strings.Join(cfg.HTTP.STUN, ",")+")", func(v string) error {
		cfg.HTTP.STUN = strings.Split(v, ",")
		return nil
	})
	fs.IntVar(&cfg.HTTP.MaxClients, "max-clients", cfg.HTTP.MaxClients, "Maximum WebRTC clients")
	fs.StringVar(&cfg.Record.Path, "record-path", cfg.Record.Path, "Recording output path")
	fs.BoolVar(&cfg.Record.AutoStart, "record", cfg.Record.AutoStart, "Start recording at launch")
	fs.StringVar(&cfg.Metrics, "metrics", cfg.Metrics, "Metrics server address (empty disables)")
	fs.StringVar(&cfg.Pprof, "pprof", cfg.Pprof, "pprof server address (empty disables)")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level (debug, info, warn, error, silent)")
	fs.BoolVar(&cfg.Log.Color, "log-color", cfg.Log.Color, "Enable colored log output")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	var chosen []string
	for _, l := range layoutFlags {
		if *layouts[l] {
			chosen = append(chosen, l.String())
			cfg.Layout = l.String()
		}
	}
	if len(chosen) > 1 {
		return nil, fmt.Errorf("at most one pixel layout may be given, got --%s", strings.Join(chosen, " --"))
	}

	if err := config.Validate(cfg); err != nil {
		return nil, errors.Join(errors.New("invalid configuration"), err)
	}
	return cfg, nil
}
