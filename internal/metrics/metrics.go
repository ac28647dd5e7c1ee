package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all encoder metrics
type Metrics struct {
	// Pipeline counters
	FramesReceived  atomic.Uint64
	FramesEncoded   atomic.Uint64
	FramesSkipped   atomic.Uint64
	FramesPublished atomic.Uint64
	KeyFrames       atomic.Uint64
	BytesPublished  atomic.Uint64

	// Error counters
	WaitErrors       atomic.Uint64
	LockErrors       atomic.Uint64
	ConversionErrors atomic.Uint64
	EncodeErrors     atomic.Uint64
	PublishErrors    atomic.Uint64

	// Last frame
	LastFrameBytes  atomic.Uint64
	EncodeLatencyUs atomic.Uint64
	LockHoldUs      atomic.Uint64
	SampleAgeMs     atomic.Uint64 // publish time minus capture time

	// Sinks
	WebRTCFramesSent    atomic.Uint64
	WebRTCFramesDropped atomic.Uint64
	ActiveClients       atomic.Uint64
	TotalClients        atomic.Uint64
	RecordingActive     atomic.Uint64 // 0 = inactive, 1 = active
	RecordingBytes      atomic.Uint64
	RecordingFrames     atomic.Uint64
	RecorderDropped     atomic.Uint64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

// registerPrometheusMetrics exposes every counter as a gauge reading the atomic
func (m *Metrics) registerPrometheusMetrics() {
	gauges := []struct {
		name string
		help string
		v    *atomic.Uint64
	}{
		{"h264_encoder_frames_received_total", "Frames signalled by the shared memory producer", &m.FramesReceived},
		{"h264_encoder_frames_encoded_total", "Frames the encoder turned into a bitstream", &m.FramesEncoded},
		{"h264_encoder_frames_skipped_total", "Frames dropped by encoder rate control", &m.FramesSkipped},
		{"h264_encoder_frames_published_total", "Frames sent on the bus", &m.FramesPublished},
		{"h264_encoder_key_frames_total", "Published frames containing an IDR slice", &m.KeyFrames},
		{"h264_encoder_bytes_published_total", "Bitstream bytes sent on the bus", &m.BytesPublished},

		{"h264_encoder_wait_errors_total", "Failed waits on the shared memory area", &m.WaitErrors},
		{"h264_encoder_lock_errors_total", "Frames lost because the shared memory lock failed", &m.LockErrors},
		{"h264_encoder_conversion_errors_total", "Frames whose pixel conversion failed", &m.ConversionErrors},
		{"h264_encoder_encode_errors_total", "Frames the encoder failed to encode", &m.EncodeErrors},
		{"h264_encoder_publish_errors_total", "Failed bus sends", &m.PublishErrors},

		{"h264_encoder_last_frame_bytes", "Size of the last assembled bitstream", &m.LastFrameBytes},
		{"h264_encoder_encode_latency_us", "Encode time of the last frame in microseconds", &m.EncodeLatencyUs},
		{"h264_encoder_lock_hold_us", "Time the shared memory lock was held for the last frame", &m.LockHoldUs},
		{"h264_encoder_sample_age_ms", "Age of the last published sample at publish time", &m.SampleAgeMs},

		{"h264_encoder_webrtc_frames_sent_total", "Frames sent to WebRTC clients", &m.WebRTCFramesSent},
		{"h264_encoder_webrtc_frames_dropped_total", "Frames dropped by WebRTC client queues", &m.WebRTCFramesDropped},
		{"h264_encoder_active_clients", "Number of active WebRTC clients", &m.ActiveClients},
		{"h264_encoder_total_clients", "Total WebRTC clients connected", &m.TotalClients},
		{"h264_encoder_recording_active", "Recording active (0=inactive, 1=active)", &m.RecordingActive},
		{"h264_encoder_recording_bytes", "Bytes written to the current recording", &m.RecordingBytes},
		{"h264_encoder_recording_frames", "Frames written to the current recording", &m.RecordingFrames},
		{"h264_encoder_recorder_dropped_total", "Frames dropped by the recorder queue", &m.RecorderDropped},
	}

	for _, g := range gauges {
		v := g.v
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(v.Load()) },
		))
	}
}

// ObserveEncode records the encode time and lock hold time of one frame
func (m *Metrics) ObserveEncode(encode, lockHeld time.Duration) {
	m.EncodeLatencyUs.Store(uint64(encode.Microseconds()))
	m.LockHoldUs.Store(uint64(lockHeld.Microseconds()))
}

// ObservePublish records one published frame
func (m *Metrics) ObservePublish(size int, keyFrame bool, captured time.Time) {
	m.FramesPublished.Add(1)
	m.BytesPublished.Add(uint64(size))
	m.LastFrameBytes.Store(uint64(size))
	if keyFrame {
		m.KeyFrames.Add(1)
	}
	if age := time.Since(captured); age > 0 {
		m.SampleAgeMs.Store(uint64(age.Milliseconds()))
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gather exposes the registry for tests and debug endpoints
func (m *Metrics) Gather() ([]*dto.MetricFamily, error) {
	return m.registry.Gather()
}

// StartServer serves /metrics on addr
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
