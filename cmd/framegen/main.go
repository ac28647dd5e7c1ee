// Command framegen creates a shared memory area and writes test pattern
// frames into it at a fixed rate, for running h264-encoder without a camera.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/shm"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/testpattern"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/pkg/types"
)

// Config of one generator run
type Config struct {
	Name   string
	Width  int
	Height int
	FPS    float64
	Layout string
	Frames uint64 // 0 runs until interrupted
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg := Config{Name: "video0.i420", Width: 640, Height: 480, FPS: 20, Layout: "yuv420"}

	fs := flag.NewFlagSet("framegen", flag.ContinueOnError)
	fs.StringVar(&cfg.Name, "name", cfg.Name, "Name of the shared memory area to create")
	fs.IntVar(&cfg.Width, "width", cfg.Width, "Frame width")
	fs.IntVar(&cfg.Height, "height", cfg.Height, "Frame height")
	fs.Float64Var(&cfg.FPS, "fps", cfg.FPS, "Frames per second")
	fs.StringVar(&cfg.Layout, "layout", cfg.Layout, "Pixel layout (yuv420, bgr24, rgb24, yuyv422)")
	fs.Uint64Var(&cfg.Frames, "frames", cfg.Frames, "Number of frames to write (0 = until interrupted)")
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		return 1
	}
	logger.Init(level, os.Stderr, true)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := generate(ctx, cfg); err != nil {
		logger.Error("Framegen", "%v", err)
		return 1
	}
	return 0
}

// frameWriter is the producer side of a shared memory area
type frameWriter interface {
	Lock() error
	Unlock()
	Data() []byte
	SetTimeStamp(ts time.Time)
	Notify()
}

func generate(ctx context.Context, cfg Config) error {
	layout, ok := types.ParsePixelLayout(cfg.Layout)
	if !ok {
		return fmt.Errorf("unknown pixel layout %q", cfg.Layout)
	}
	if cfg.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %v", cfg.FPS)
	}
	gen, err := testpattern.New(cfg.Width, cfg.Height)
	if err != nil {
		return err
	}

	area, err := shm.Create(cfg.Name, types.FrameSize(layout, cfg.Width, cfg.Height))
	if err != nil {
		return err
	}
	defer area.Close()

	logger.Info("Framegen", "Writing %dx%d %s frames to %s at %.1f fps", cfg.Width, cfg.Height, layout, area.Name(), cfg.FPS)
	return produce(ctx, area, gen, layout, cfg)
}

// produce writes frames until ctx ends or cfg.Frames have been written
func produce(ctx context.Context, w frameWriter, gen *testpattern.Generator, layout types.PixelLayout, cfg Config) error {
	scratch := make([]byte, types.FrameSize(layout, cfg.Width, cfg.Height))
	ticker := time.NewTicker(time.Duration(float64(time.Second) / cfg.FPS))
	defer ticker.Stop()

	for n := uint64(0); cfg.Frames == 0 || n < cfg.Frames; n++ {
		ts := time.Now()
		if err := gen.Frame(layout, n, ts, scratch); err != nil {
			return err
		}

		if err := w.Lock(); err != nil {
			return err
		}
		copy(w.Data(), scratch)
		w.SetTimeStamp(ts)
		w.Unlock()
		w.Notify()

		if n%100 == 0 {
			logger.Debug("Framegen", "Wrote frame #%d", n)
		}

		select {
		case <-ctx.Done():
			logger.Info("Framegen", "Stopped after %d frames", n+1)
			return nil
		case <-ticker.C:
		}
	}
	logger.Info("Framegen", "Wrote %d frames", cfg.Frames)
	return nil
}
