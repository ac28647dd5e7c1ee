// Command h264-encoder reads raw frames from a shared memory area, encodes
// them with openh264 and publishes the bitstream on a message bus.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/bus"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/encoder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/events"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/openh264"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/pipeline"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/publish"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/recorder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/shm"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/source"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/webrtc"
)

const statusInterval = time.Second

// messageBus is a bus the process owns and closes
type messageBus interface {
	publish.Bus
	Close() error
}

// App wires the shared memory source, the encoder and the sinks
type App struct {
	cfg      *config.Config
	metrics  *metrics.Metrics
	area     *shm.Area
	session  *encoder.Session
	bus      messageBus
	pub      *publish.Publisher
	webrtc   *webrtc.Server
	recorder *recorder.Recorder
	pipeline *pipeline.Controller
	events   *events.Broadcaster

	httpServer *http.Server
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := parseFlags(args, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		return 1
	}
	logger.Init(level, os.Stderr, cfg.Log.Color)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		logger.Error("Main", "%v", err)
		return 1
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		logger.Error("Main", "Encoding stopped: %v", err)
		return 1
	}
	return 0
}

// newEngine creates the native encoder
func newEngine(verbose bool) func() (encoder.Engine, error) {
	return func() (encoder.Engine, error) {
		e, err := openh264.New(verbose)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
}

// NewApp performs every startup step. Any failure is fatal.
func NewApp(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	layout, err := cfg.PixelLayout()
	if err != nil {
		return nil, err
	}
	limits := encoder.DefaultLimits()
	encCfg, err := encoder.Build(&limits, cfg.EncoderOptions())
	if err != nil {
		return nil, err
	}
	if encCfg.QPInverted() {
		logger.Warn("Main", "qp-min %d is above qp-max %d; passing both to the encoder unchanged", encCfg.QPMin, encCfg.QPMax)
	}

	app := &App{cfg: cfg, metrics: metrics.New()}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	app.area, err = shm.Attach(cfg.Name, cfg.AttachTimeout)
	if err != nil {
		return nil, err
	}

	app.session, err = encoder.NewSession(newEngine(cfg.Verbose))
	if err != nil {
		return nil, err
	}
	if err = app.session.Configure(encCfg); err != nil {
		return nil, err
	}

	switch cfg.Bus.Kind {
	case config.BusMQTT:
		clientID := cfg.Bus.ClientID
		if clientID == "" {
			clientID = fmt.Sprintf("h264-encoder-%d-%d", cfg.CID, cfg.ID)
		}
		mq, err := bus.DialMQTT(ctx, bus.MQTTConfig{
			Broker:   cfg.Bus.Broker,
			Topic:    cfg.Bus.Topic,
			ClientID: clientID,
			QoS:      byte(cfg.Bus.QoS),
			CID:      cfg.CID,
		})
		if err != nil {
			return nil, err
		}
		app.bus = mq
	default:
		app.bus = bus.NewNull()
		logger.Info("Main", "No message bus; samples go to local sinks only")
	}

	app.recorder = recorder.New(cfg.Record.Path, app.metrics)
	sinks := []publish.Sink{app.recorder}
	if cfg.HTTP.Addr != "" {
		app.webrtc = webrtc.NewServer(cfg.HTTP.STUN, cfg.HTTP.MaxClients, app.metrics)
		app.events = events.NewBroadcaster(statusInterval, app.statusSnapshot)
		sinks = append(sinks, app.webrtc)
	}

	app.pub, err = publish.New(app.bus, publish.Options{
		Width:    encCfg.Width,
		Height:   encCfg.Height,
		SenderID: cfg.ID,
	}, app.metrics, sinks...)
	if err != nil {
		return nil, err
	}

	src := source.NewAdapter(app.area, encCfg.Width, encCfg.Height, layout)
	app.pipeline, err = pipeline.New(pipeline.Options{
		Width:   encCfg.Width,
		Height:  encCfg.Height,
		Verbose: cfg.Verbose,
	}, src, app.session, app.pub, app.metrics)
	if err != nil {
		return nil, err
	}

	if cfg.Record.AutoStart {
		if err = app.recorder.Start(); err != nil {
			return nil, err
		}
	}
	return app, nil
}

// Run starts the auxiliary servers and runs the pipeline until ctx is
// cancelled or a fatal error occurs
func (a *App) Run(ctx context.Context) error {
	logger.Info("Main", "Encoding %s (%dx%d %s) for cid %d, sender %d",
		a.area.Name(), a.cfg.Width, a.cfg.Height, a.cfg.Layout, a.cfg.CID, a.cfg.ID)

	if a.cfg.Pprof != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", a.cfg.Pprof)
			if err := http.ListenAndServe(a.cfg.Pprof, nil); err != nil {
				logger.Warn("Main", "pprof server error: %v", err)
			}
		}()
	}
	if a.cfg.Metrics != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", a.cfg.Metrics)
			if err := a.metrics.StartServer(a.cfg.Metrics); err != nil {
				logger.Warn("Main", "Metrics server error: %v", err)
			}
		}()
	}
	if a.cfg.HTTP.Addr != "" {
		a.events.Start()
		a.httpServer = &http.Server{
			Addr:     a.cfg.HTTP.Addr,
			Handler:  a.routes(),
			ErrorLog: logger.Std("HTTP", logger.WARN),
		}
		go func() {
			logger.Info("Main", "Starting HTTP server on %s", a.cfg.HTTP.Addr)
			if err := a.httpServer.ListenAndServe(); err != http.ErrServerClosed {
				logger.Warn("Main", "HTTP server error: %v", err)
			}
		}()
	}

	// A blocked wait only returns when the area is interrupted
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Main", "Shutting down...")
			a.area.Interrupt()
		case <-watchDone:
		}
	}()

	return a.pipeline.Run(ctx)
}

// shutdownHTTP ends the event streams first; Shutdown waits for every
// active handler and an open stream never finishes on its own.
func (a *App) shutdownHTTP() {
	if a.events != nil {
		a.events.Stop()
	}
	if a.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logger.Warn("Main", "HTTP shutdown: %v", err)
	}
}

// Close releases everything NewApp acquired. It is safe on a partially
// built App.
func (a *App) Close() {
	a.shutdownHTTP()
	if a.webrtc != nil {
		a.webrtc.Close()
	}
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			logger.Warn("Main", "Recorder close: %v", err)
		}
	}
	if a.session != nil {
		if err := a.session.Shutdown(); err != nil {
			logger.Warn("Main", "%v", err)
		}
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.area != nil {
		if err := a.area.Close(); err != nil {
			logger.Warn("Main", "Shared memory close: %v", err)
		}
	}
	logger.Info("Main", "Stopped")
}
