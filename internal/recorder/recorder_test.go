package recorder

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/pkg/types"
)

var (
	sps   = []byte{0, 0, 0, 1, 0x67, 0x42, 0x00, 0x1f}
	pps   = []byte{0, 0, 0, 1, 0x68, 0xce, 0x3c, 0x80}
	idr   = []byte{0, 0, 0, 1, 0x65, 0x88, 0x84}
	slice = []byte{0, 0, 0, 1, 0x41, 0x9a, 0x02}
)

func sample(data []byte, isIDR bool) *types.Sample {
	return &types.Sample{Format: "h264", Data: data, IsIDR: isIDR}
}

func TestRecorderWaitsForIDRAndPrependsHeaders(t *testing.T) {
	dir := t.TempDir()
	m := metrics.New()
	r := New(dir, m)

	// Headers seen on the stream before recording starts.
	r.UpdateHeaders(sps, pps)

	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(r.Start(), ErrAlreadyRecording) {
		t.Fatal("second Start did not fail")
	}

	r.SendSample(sample(slice, false)) // before the first IDR: dropped
	r.SendSample(sample(idr, true))
	r.SendSample(sample(slice, false))

	status := r.Status()
	if err := r.Stop(); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(r.Stop(), ErrNotRecording) {
		t.Fatal("second Stop did not fail")
	}

	got, err := os.ReadFile(filepath.Join(dir, status.Filename))
	if err != nil {
		t.Fatal(err)
	}
	want := bytes.Join([][]byte{sps, pps, idr, slice}, nil)
	if !bytes.Equal(got, want) {
		t.Fatalf("file = %x\nwant   %x", got, want)
	}

	final := r.Status()
	if final.Recording || final.FrameCount != 2 || final.BytesWritten != uint64(len(want)) {
		t.Fatalf("status = %+v", final)
	}
	if m.RecordingActive.Load() != 0 || m.RecordingFrames.Load() != 2 {
		t.Fatalf("gauges active=%d frames=%d", m.RecordingActive.Load(), m.RecordingFrames.Load())
	}
}

func TestSelfContainedIDRIsNotPrefixed(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, nil)
	r.UpdateHeaders(sps, pps)
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	keyframe := bytes.Join([][]byte{sps, pps, idr}, nil)
	r.SendSample(sample(keyframe, true))
	name := r.Status().Filename
	if err := r.Stop(); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, keyframe) {
		t.Fatalf("file = %x, want %x", got, keyframe)
	}
}

func TestSendSampleWhenIdle(t *testing.T) {
	r := New(t.TempDir(), nil)
	if r.SendSample(sample(idr, true)) {
		t.Fatal("idle recorder accepted a sample")
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestStartWhileStoppingKeepsNewRecording(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, nil)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	r.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}

	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	first := r.Status().Filename
	for i := 0; i < 10; i++ {
		r.SendSample(sample(idr, true))
	}

	stopped := make(chan error, 1)
	go func() { stopped <- r.Stop() }()
	for {
		err := r.Start()
		if err == nil {
			break
		}
		if !errors.Is(err, ErrAlreadyRecording) {
			t.Fatal(err)
		}
		runtime.Gosched()
	}
	second := r.Status().Filename
	if err := <-stopped; err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Fatal("restart reused the stopped file")
	}

	if !r.SendSample(sample(idr, true)) {
		t.Fatal("new recording rejected a sample")
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("new recording file was closed underneath it: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, second))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, idr) {
		t.Fatalf("second file = %x, want %x", got, idr)
	}
	got, err = os.ReadFile(filepath.Join(dir, first))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 10*len(idr) {
		t.Fatalf("first file has %d bytes, want %d", len(got), 10*len(idr))
	}
}
