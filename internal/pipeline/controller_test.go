package pipeline

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/bus"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/encoder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/h264"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/pixfmt"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/publish"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/source"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/pkg/types"
)

// fakeArea delivers frames until it runs out, then turns invalid
type fakeArea struct {
	frames  int
	data    []byte
	stamp   time.Time
	locked  bool
	locks   int
	unlocks int
	failAt  int // 1-based lock attempt that fails
}

func (a *fakeArea) Wait() error {
	a.frames--
	return nil
}
func (a *fakeArea) Lock() error {
	a.locks++
	if a.locks == a.failAt {
		return syscall.EINVAL
	}
	a.locked = true
	return nil
}
func (a *fakeArea) Unlock() { a.locked = false; a.unlocks++ }
func (a *fakeArea) Data() []byte {
	return a.data
}
func (a *fakeArea) TimeStamp() (time.Time, bool) { return a.stamp, !a.stamp.IsZero() }
func (a *fakeArea) Valid() bool                  { return a.frames > 0 }

// scriptedEncoder returns one result per call, repeating the last one
type scriptedEncoder struct {
	area     *fakeArea
	results  []*encoder.EncodedFrame
	errs     []error
	calls    int
	unlocked int // encodes that ran without the area lock
	shutdown int
}

func (e *scriptedEncoder) EncodeOne(pic *pixfmt.Planar) (*encoder.EncodedFrame, error) {
	if !e.area.locked {
		e.unlocked++
	}
	i := min(e.calls, len(e.results)-1)
	e.calls++
	var err error
	if i < len(e.errs) {
		err = e.errs[i]
	}
	if err != nil {
		return nil, err
	}
	return e.results[i], nil
}

func (e *scriptedEncoder) Shutdown() error {
	e.shutdown++
	return nil
}

type recordingBus struct {
	msgs []*bus.Message
}

func (b *recordingBus) Send(msg *bus.Message) error {
	cp := *msg
	cp.Payload = append([]byte(nil), msg.Payload...)
	b.msgs = append(b.msgs, &cp)
	return nil
}

func (b *recordingBus) IsRunning() bool { return true }

func layer(lengths ...int) encoder.Layer {
	total := 0
	for _, n := range lengths {
		total += n
	}
	bs := make([]byte, total)
	for i := range bs {
		bs[i] = byte(i)
	}
	return encoder.Layer{NALLengths: lengths, Bitstream: bs}
}

type harness struct {
	area *fakeArea
	enc  *scriptedEncoder
	bus  *recordingBus
	m    *metrics.Metrics
	ctl  *Controller
}

func newHarness(t *testing.T, w, h int, layout types.PixelLayout, data []byte, frames int) *harness {
	t.Helper()
	area := &fakeArea{frames: frames, data: data, stamp: time.UnixMicro(1_700_000_000_123_456)}
	enc := &scriptedEncoder{area: area}
	b := &recordingBus{}
	m := metrics.New()

	pub, err := publish.New(b, publish.Options{Width: w, Height: h, SenderID: 7}, m)
	if err != nil {
		t.Fatal(err)
	}
	ctl, err := New(Options{Width: w, Height: h}, source.NewAdapter(area, w, h, layout), enc, pub, m)
	if err != nil {
		t.Fatal(err)
	}
	return &harness{area: area, enc: enc, bus: b, m: m, ctl: ctl}
}

func TestRunPublishesAssembledFrame(t *testing.T) {
	h := newHarness(t, 640, 480, types.LayoutYUV420Planar, make([]byte, 640*480*3/2), 1)
	h.enc.results = []*encoder.EncodedFrame{{Layers: []encoder.Layer{layer(12, 340)}}}

	if err := h.ctl.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(h.bus.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(h.bus.msgs))
	}
	msg := h.bus.msgs[0]
	if msg.DataType != bus.ImageReadingID || msg.SenderStamp != 7 {
		t.Fatalf("message = %+v", msg)
	}
	if !msg.SampleTime.Equal(h.area.stamp) {
		t.Fatalf("sample time = %v, want producer stamp %v", msg.SampleTime, h.area.stamp)
	}
	reading, err := bus.UnmarshalImageReading(msg.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if reading.FourCC != "h264" || reading.Width != 640 || reading.Height != 480 || len(reading.Data) != 352 {
		t.Fatalf("reading = %s %dx%d, %d bytes", reading.FourCC, reading.Width, reading.Height, len(reading.Data))
	}

	if h.enc.unlocked != 0 {
		t.Fatal("encode ran without holding the area lock")
	}
	if h.area.locks != 1 || h.area.unlocks != 1 {
		t.Fatalf("locks/unlocks = %d/%d", h.area.locks, h.area.unlocks)
	}
	if h.enc.shutdown != 1 {
		t.Fatalf("encoder shut down %d times", h.enc.shutdown)
	}
	if h.m.FramesEncoded.Load() != 1 || h.m.FramesPublished.Load() != 1 {
		t.Fatalf("encoded/published = %d/%d", h.m.FramesEncoded.Load(), h.m.FramesPublished.Load())
	}
}

func TestRunDropsUnconvertibleFrame(t *testing.T) {
	// Undersized YUYV input cannot be converted
	h := newHarness(t, 640, 480, types.LayoutYUYV422, make([]byte, 100), 2)
	h.enc.results = []*encoder.EncodedFrame{{Layers: []encoder.Layer{layer(10)}}}

	if err := h.ctl.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.enc.calls != 0 || len(h.bus.msgs) != 0 {
		t.Fatalf("encodes=%d publishes=%d, want 0/0", h.enc.calls, len(h.bus.msgs))
	}
	if h.area.locked || h.area.unlocks != 2 {
		t.Fatalf("lock not released: locked=%v unlocks=%d", h.area.locked, h.area.unlocks)
	}
	if h.m.ConversionErrors.Load() != 2 {
		t.Fatalf("conversion errors = %d", h.m.ConversionErrors.Load())
	}
}

func TestRunContinuesAfterSkipAndFailure(t *testing.T) {
	h := newHarness(t, 16, 16, types.LayoutYUV420Planar, make([]byte, 16*16*3/2), 3)
	h.enc.results = []*encoder.EncodedFrame{
		{Skipped: true},
		nil,
		{Layers: []encoder.Layer{layer(4, 5)}},
	}
	h.enc.errs = []error{nil, &encoder.EncodeError{Code: 4}, nil}

	if err := h.ctl.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.enc.calls != 3 {
		t.Fatalf("encode calls = %d", h.enc.calls)
	}
	if len(h.bus.msgs) != 1 {
		t.Fatalf("published %d, want 1", len(h.bus.msgs))
	}
	if h.m.FramesSkipped.Load() != 1 || h.m.EncodeErrors.Load() != 1 {
		t.Fatalf("skipped/errors = %d/%d", h.m.FramesSkipped.Load(), h.m.EncodeErrors.Load())
	}
}

func TestRunEmptyOutputPublishesNothing(t *testing.T) {
	h := newHarness(t, 16, 16, types.LayoutYUV420Planar, make([]byte, 16*16*3/2), 1)
	h.enc.results = []*encoder.EncodedFrame{{}}

	if err := h.ctl.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.bus.msgs) != 0 {
		t.Fatalf("published %d empty frames", len(h.bus.msgs))
	}
}

func TestRunDropsFrameWhenLockFails(t *testing.T) {
	h := newHarness(t, 16, 16, types.LayoutYUV420Planar, make([]byte, 16*16*3/2), 3)
	h.area.failAt = 2
	h.enc.results = []*encoder.EncodedFrame{{Layers: []encoder.Layer{layer(4, 5)}}}

	if err := h.ctl.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.enc.unlocked != 0 {
		t.Fatal("encode ran without holding the area lock")
	}
	if h.enc.calls != 2 || len(h.bus.msgs) != 2 {
		t.Fatalf("encodes=%d publishes=%d, want 2/2", h.enc.calls, len(h.bus.msgs))
	}
	if h.area.locks != 3 || h.area.unlocks != 2 {
		t.Fatalf("locks/unlocks = %d/%d, want 3/2", h.area.locks, h.area.unlocks)
	}
	if h.m.LockErrors.Load() != 1 || h.m.WaitErrors.Load() != 0 {
		t.Fatalf("lock/wait errors = %d/%d", h.m.LockErrors.Load(), h.m.WaitErrors.Load())
	}
}

func TestRunOverflowIsFatal(t *testing.T) {
	h := newHarness(t, 16, 16, types.LayoutYUV420Planar, make([]byte, 16*16*3/2), 5)
	h.enc.results = []*encoder.EncodedFrame{{Layers: []encoder.Layer{layer(16*16 + 1)}}}

	err := h.ctl.Run(context.Background())
	if !errors.Is(err, h264.ErrOverflow) {
		t.Fatalf("err = %v, want ErrOverflow", err)
	}
	if h.enc.calls != 1 || len(h.bus.msgs) != 0 {
		t.Fatalf("calls=%d publishes=%d after fatal overflow", h.enc.calls, len(h.bus.msgs))
	}
	if h.area.locked || h.enc.shutdown != 1 {
		t.Fatalf("locked=%v shutdown=%d", h.area.locked, h.enc.shutdown)
	}
}

func TestRunNotReadyIsFatal(t *testing.T) {
	h := newHarness(t, 16, 16, types.LayoutYUV420Planar, make([]byte, 16*16*3/2), 3)
	h.enc.results = []*encoder.EncodedFrame{nil}
	h.enc.errs = []error{encoder.ErrNotReady}

	if err := h.ctl.Run(context.Background()); !errors.Is(err, encoder.ErrNotReady) {
		t.Fatalf("err = %v", err)
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	h := newHarness(t, 16, 16, types.LayoutYUV420Planar, make([]byte, 16*16*3/2), 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.ctl.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if h.area.locks != 0 || h.enc.shutdown != 1 {
		t.Fatalf("locks=%d shutdown=%d", h.area.locks, h.enc.shutdown)
	}
}

func TestNewRejectsBadDimensions(t *testing.T) {
	if _, err := New(Options{Width: 0, Height: 10}, nil, nil, nil, nil); err == nil {
		t.Fatal("zero width accepted")
	}
}
