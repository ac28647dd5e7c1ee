// Package pipeline runs the frame loop: wait, lock, normalize, encode,
// assemble, unlock, publish.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/encoder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/h264"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/pixfmt"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/source"
)

// Source delivers locked frames. *source.Adapter implements it.
type Source interface {
	NextFrame() (*source.Frame, error)
	Valid() bool
}

// Encoder encodes planar pictures. *encoder.Session implements it.
type Encoder interface {
	EncodeOne(pic *pixfmt.Planar) (*encoder.EncodedFrame, error)
	Shutdown() error
}

// Publisher sends assembled bitstreams. *publish.Publisher implements it.
type Publisher interface {
	Publish(payload []byte, ts time.Time) error
	IsRunning() bool
}

// Options for a Controller
type Options struct {
	Width   int
	Height  int
	Verbose bool // log size, sample time and encode time of every frame
}

// Controller owns the scratch buffers and drives one frame at a time
type Controller struct {
	opts    Options
	src     Source
	enc     Encoder
	pub     Publisher
	metrics *metrics.Metrics
	now     func() time.Time

	yuv  []byte // planar scratch, used only for converted layouts
	bits []byte // assembled bitstream, capacity width*height
}

// New creates a controller. m may be nil.
func New(opts Options, src Source, enc Encoder, pub Publisher, m *metrics.Metrics) (*Controller, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("pipeline: invalid dimensions %dx%d", opts.Width, opts.Height)
	}
	if m == nil {
		m = metrics.New()
	}
	return &Controller{
		opts:    opts,
		src:     src,
		enc:     enc,
		pub:     pub,
		metrics: m,
		now:     time.Now,
		yuv:     make([]byte, pixfmt.PlanarSize(opts.Width, opts.Height)),
		bits:    make([]byte, 0, opts.Width*opts.Height),
	}, nil
}

// Run loops until the source or the bus stops, or ctx is cancelled. The
// encoder is shut down on every return path. A non-nil error means a
// fatal condition: a failed wait, a session that is not ready, or an
// assembly invariant violation.
func (c *Controller) Run(ctx context.Context) (err error) {
	// The shared mutex is locked and unlocked from this goroutine
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	defer func() {
		if serr := c.enc.Shutdown(); serr != nil {
			logger.Error("Pipeline", "Encoder shutdown failed: %v", serr)
			if err == nil {
				err = serr
			}
		}
	}()

	logger.Info("Pipeline", "Encoding %dx%d frames", c.opts.Width, c.opts.Height)
	for ctx.Err() == nil && c.src.Valid() && c.pub.IsRunning() {
		if err := c.step(); err != nil {
			if errors.Is(err, source.ErrClosed) {
				break
			}
			return err
		}
	}
	logger.Info("Pipeline", "Stopped (source valid=%v, bus running=%v)", c.src.Valid(), c.pub.IsRunning())
	return nil
}

// step handles one frame. Only fatal errors are returned.
func (c *Controller) step() error {
	frame, err := c.src.NextFrame()
	if err != nil {
		switch {
		case errors.Is(err, source.ErrClosed):
		case errors.Is(err, source.ErrLock):
			c.metrics.LockErrors.Add(1)
			logger.Warn("Pipeline", "Dropping frame: %v", err)
			return nil
		default:
			c.metrics.WaitErrors.Add(1)
		}
		return err
	}
	c.metrics.FramesReceived.Add(1)

	n, encodeTime, err := c.encodeLocked(frame)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	if err := c.pub.Publish(c.bits[:n], frame.Timestamp); err != nil {
		logger.Warn("Pipeline", "%v", err)
		return nil
	}
	if c.opts.Verbose {
		logger.Info("Pipeline", "Frame size = %d bytes; sample time = %d microseconds; encoding took %d microseconds",
			n, frame.Timestamp.UnixMicro(), encodeTime.Microseconds())
	}
	return nil
}

// encodeLocked runs normalize, encode and assemble while the frame is locked
// and returns the assembled length. Per-frame failures yield length 0.
func (c *Controller) encodeLocked(frame *source.Frame) (n int, encodeTime time.Duration, err error) {
	defer func() {
		frame.Release()
		if !frame.LockedAt.IsZero() {
			c.metrics.ObserveEncode(encodeTime, c.now().Sub(frame.LockedAt))
		}
	}()

	pic, err := pixfmt.Normalize(frame.Layout, frame.Data, c.opts.Width, c.opts.Height, c.yuv)
	if err != nil {
		c.metrics.ConversionErrors.Add(1)
		logger.Warn("Pipeline", "Dropping frame: %v", err)
		return 0, 0, nil
	}

	before := c.now()
	out, err := c.enc.EncodeOne(pic)
	encodeTime = c.now().Sub(before)
	if err != nil {
		if errors.Is(err, encoder.ErrNotReady) {
			return 0, encodeTime, err
		}
		c.metrics.EncodeErrors.Add(1)
		logger.Warn("Pipeline", "Failed to encode frame: %v", err)
		return 0, encodeTime, nil
	}
	if out.Skipped {
		c.metrics.FramesSkipped.Add(1)
		logger.Warn("Pipeline", "Encoder skipped frame")
		return 0, encodeTime, nil
	}

	n, err = h264.Assemble(c.bits, out.Layers)
	if err != nil {
		logger.Error("Pipeline", "Bitstream assembly failed: %v", err)
		return 0, encodeTime, err
	}
	if n > 0 {
		c.metrics.FramesEncoded.Add(1)
	}
	return n, encodeTime, nil
}
