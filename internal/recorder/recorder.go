package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/h264"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/pkg/types"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

const queueSize = 60 // about 3 seconds at the nominal frame rate

// Recorder writes published samples to a raw .h264 file
type Recorder struct {
	mu       sync.RWMutex
	active   *output
	last     *output
	basePath string

	// Header management
	spsCache []byte
	ppsCache []byte

	metrics *metrics.Metrics
	now     func() time.Time
}

// output is one recording. Its writer goroutine owns file until done is
// closed; the counters are guarded by the recorder's mutex.
type output struct {
	file      *os.File
	filename  string
	startTime time.Time
	frames    chan *types.Sample
	stop      chan struct{}
	done      chan struct{}

	idrSeen      bool
	frameCount   uint64
	bytesWritten uint64
}

// New creates a recorder writing into basePath. m may be nil.
func New(basePath string, m *metrics.Metrics) *Recorder {
	return &Recorder{
		basePath: basePath,
		metrics:  m,
		now:      time.Now,
	}
}

// Start starts recording to a new timestamped file
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return ErrAlreadyRecording
	}

	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return fmt.Errorf("create recording directory: %w", err)
	}

	start := r.now()
	filename := fmt.Sprintf("recording_%s.h264", start.Format("20060102_150405"))
	file, err := os.Create(filepath.Join(r.basePath, filename))
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	out := &output{
		file:      file,
		filename:  filename,
		startTime: start,
		frames:    make(chan *types.Sample, queueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	r.active = out
	r.last = out
	r.setGauges()

	go r.writeFrames(out)

	logger.Info("Recorder", "Recording to %s", filepath.Join(r.basePath, filename))
	return nil
}

// Stop stops recording and closes the file. A Start that runs while Stop
// waits for the queue to drain begins a new recording that this Stop does
// not touch.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	out := r.active
	if out == nil {
		r.mu.Unlock()
		return ErrNotRecording
	}
	r.active = nil
	close(out.stop)
	r.setGauges()
	r.mu.Unlock()

	// Wait for the writer to drain the queue
	<-out.done

	if err := out.file.Sync(); err != nil {
		out.file.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := out.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	r.mu.RLock()
	frames, written := out.frameCount, out.bytesWritten
	r.mu.RUnlock()
	logger.Info("Recorder", "Stopped %s: %d frames, %d bytes", out.filename, frames, written)
	return nil
}

// UpdateHeaders updates the cached SPS/PPS headers
func (r *Recorder) UpdateHeaders(sps, pps []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(sps) > 0 {
		r.spsCache = append(r.spsCache[:0], sps...)
	}
	if len(pps) > 0 {
		r.ppsCache = append(r.ppsCache[:0], pps...)
	}
}

// SendSample queues a sample for writing (non-blocking). The recorder keeps
// the sample, so its Data must not be reused by the caller.
func (r *Recorder) SendSample(sample *types.Sample) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.active == nil {
		return false
	}

	select {
	case r.active.frames <- sample:
		return true
	default:
		if r.metrics != nil {
			r.metrics.RecorderDropped.Add(1)
		}
		return false
	}
}

func (r *Recorder) writeFrames(out *output) {
	defer close(out.done)

	for {
		select {
		case sample := <-out.frames:
			r.writeFrame(out, sample)
		case <-out.stop:
			for {
				select {
				case sample := <-out.frames:
					r.writeFrame(out, sample)
				default:
					return
				}
			}
		}
	}
}

// writeFrame writes one sample. Nothing is written before the first IDR.
func (r *Recorder) writeFrame(out *output, sample *types.Sample) {
	data := sample.Data
	if !out.idrSeen {
		if !sample.IsIDR {
			return
		}
		// A recording started mid-stream needs headers to be playable
		if h264.ExtractNALType(data) != types.NALTypeSPS {
			r.mu.RLock()
			if len(r.spsCache) > 0 && len(r.ppsCache) > 0 {
				data = make([]byte, 0, len(r.spsCache)+len(r.ppsCache)+len(sample.Data))
				data = append(data, r.spsCache...)
				data = append(data, r.ppsCache...)
				data = append(data, sample.Data...)
			}
			r.mu.RUnlock()
		}
		out.idrSeen = true
	}

	n, err := out.file.Write(data)
	if err != nil {
		logger.Warn("Recorder", "Write to %s failed: %v", out.filename, err)
		return
	}

	r.mu.Lock()
	out.bytesWritten += uint64(n)
	out.frameCount++
	if out == r.last {
		r.setGauges()
	}
	r.mu.Unlock()
}

func (r *Recorder) setGauges() {
	if r.metrics == nil {
		return
	}
	active := uint64(0)
	if r.active != nil {
		active = 1
	}
	var frames, written uint64
	if r.last != nil {
		frames, written = r.last.frameCount, r.last.bytesWritten
	}
	r.metrics.RecordingActive.Store(active)
	r.metrics.RecordingBytes.Store(written)
	r.metrics.RecordingFrames.Store(frames)
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active != nil
}

// Status returns the status of the active recording, or of the last one
// when idle
func (r *Recorder) Status() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.last == nil {
		return RecordingStatus{}
	}
	status := RecordingStatus{
		Recording:    r.active != nil,
		Filename:     r.last.filename,
		FrameCount:   r.last.frameCount,
		BytesWritten: r.last.bytesWritten,
		StartTime:    r.last.startTime,
	}
	if status.Recording {
		status.DurationMs = r.now().Sub(r.last.startTime).Milliseconds()
	}
	return status
}

// Close stops any active recording
func (r *Recorder) Close() error {
	if r.IsRecording() {
		return r.Stop()
	}
	return nil
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording    bool      `json:"recording"`
	Filename     string    `json:"filename"`
	FrameCount   uint64    `json:"frame_count"`
	BytesWritten uint64    `json:"bytes_written"`
	DurationMs   int64     `json:"duration_ms"`
	StartTime    time.Time `json:"start_time"`
}
