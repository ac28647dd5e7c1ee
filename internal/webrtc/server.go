package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/pkg/types"
)

const (
	// H.264 clock rate (90kHz for video)
	h264ClockRate = 90000

	// Used when consecutive sample timestamps give no usable spacing
	defaultFrameDuration = time.Second / 20
	maxFrameDuration     = time.Second

	clientQueueSize = 30
)

// ErrTooManyClients is returned by HandleOffer when the client limit is reached
var ErrTooManyClients = errors.New("maximum clients reached")

// Client represents a connected WebRTC client
type Client struct {
	id            string
	peerConn      *webrtc.PeerConnection
	videoTrack    *webrtc.TrackLocalStaticSample
	frameChan     chan *types.Sample
	closeChan     chan struct{}
	framesSent    atomic.Uint64
	framesDropped atomic.Uint64

	// Decoders cannot start mid-GOP; nothing is queued before the first IDR.
	started bool
}

// Server fans published samples out to WebRTC peers
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	metrics    *metrics.Metrics
}

// NewServer creates a new WebRTC server. m may be nil.
func NewServer(stunServers []string, maxClients int, m *metrics.Metrics) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		if url == "" {
			continue
		}
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	settingsEngine := webrtc.SettingEngine{
		LoggerFactory: logger.PionFactory{},
	}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		logger.Error("WebRTC", "Failed to register codecs: %v", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithSettingEngine(settingsEngine),
		webrtc.WithMediaEngine(mediaEngine),
	)

	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        api,
		metrics:    m,
	}
}

// HandleOffer answers a JSON session description offer. The answer
// includes all gathered ICE candidates.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}

	if s.ClientCount() >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeH264,
			ClockRate: h264ClockRate,
		},
		"video",
		"h264-encoder",
	)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}

	rtpSender, err := peerConn.AddTrack(videoTrack)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to add track: %w", err)
	}

	// Drain RTCP so the interceptors keep running
	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, err := rtpSender.Read(rtcpBuf); err != nil {
				return
			}
		}
	}()

	client := &Client{
		id:         uuid.NewString(),
		peerConn:   peerConn,
		videoTrack: videoTrack,
		frameChan:  make(chan *types.Sample, clientQueueSize),
		closeChan:  make(chan struct{}),
	}

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())

		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			logger.Info("WebRTC", "Client %s connection lost (%s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)

	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	<-gatherComplete
	logger.Debug("WebRTC", "ICE gathering complete for client %s", client.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		peerConn.Close()
		return nil, errors.New("no local description available")
	}
	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	s.clientsMu.Lock()
	s.clients[client.id] = client
	count := len(s.clients)
	s.clientsMu.Unlock()

	if s.metrics != nil {
		s.metrics.TotalClients.Add(1)
		s.metrics.ActiveClients.Store(uint64(count))
	}

	go s.sendFrames(client)

	logger.Info("WebRTC", "Client %s connected", client.id)
	return answerJSON, nil
}

// SendSample queues a sample for every connected client (non-blocking).
// The sample is shared between clients and must not be modified afterwards.
func (s *Server) SendSample(sample *types.Sample) bool {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	queued := false
	for _, client := range s.clients {
		if !client.started {
			if !sample.IsIDR {
				continue
			}
			client.started = true
		}

		select {
		case client.frameChan <- sample:
			queued = true
		default:
			client.framesDropped.Add(1)
			if s.metrics != nil {
				s.metrics.WebRTCFramesDropped.Add(1)
			}
		}
	}
	return queued
}

// sampleDuration derives how long prev is shown from the capture timestamps
func sampleDuration(prev, next time.Time) time.Duration {
	if prev.IsZero() || next.IsZero() {
		return defaultFrameDuration
	}
	d := next.Sub(prev)
	if d <= 0 || d > maxFrameDuration {
		return defaultFrameDuration
	}
	return d
}

// pacer holds back one sample so that its duration can be taken from the
// capture time of the sample that replaces it on screen.
type pacer struct {
	pending *types.Sample
}

// push holds next and returns the previously held sample with its duration.
// The first call returns nil.
func (p *pacer) push(next *types.Sample) (*types.Sample, time.Duration) {
	prev := p.pending
	p.pending = next
	if prev == nil {
		return nil, 0
	}
	return prev, sampleDuration(prev.Timestamp, next.Timestamp)
}

// sendFrames writes queued samples to one client's track, one sample behind
// the queue. The held sample is discarded when the client closes.
func (s *Server) sendFrames(client *Client) {
	var pace pacer
	for {
		select {
		case <-client.closeChan:
			return

		case next := <-client.frameChan:
			sample, duration := pace.push(next)
			if sample == nil {
				continue
			}

			if err := client.videoTrack.WriteSample(media.Sample{
				Data:     sample.Data,
				Duration: duration,
			}); err != nil {
				if !errors.Is(err, io.ErrClosedPipe) {
					logger.Warn("WebRTC", "Error writing sample for client %s: %v", client.id, err)
				}
				return
			}

			client.framesSent.Add(1)
			if s.metrics != nil {
				s.metrics.WebRTCFramesSent.Add(1)
			}
			if sample.FrameNum%100 == 0 {
				logger.Debug("WebRTC", "Sent frame#%d to client %s", sample.FrameNum, client.id)
			}
		}
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
		close(client.closeChan)
	}
	count := len(s.clients)
	s.clientsMu.Unlock()

	if !exists {
		return
	}

	// Close outside the lock; it fires the state callback, which calls back in
	client.peerConn.Close()

	if s.metrics != nil {
		s.metrics.ActiveClients.Store(uint64(count))
	}
	logger.Info("WebRTC", "Client %s disconnected (sent: %d, dropped: %d)",
		clientID, client.framesSent.Load(), client.framesDropped.Load())
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// ClientStats returns per-client counters
func (s *Server) ClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64, len(s.clients))
	for id, client := range s.clients {
		stats[id] = map[string]uint64{
			"frames_sent":    client.framesSent.Load(),
			"frames_dropped": client.framesDropped.Load(),
		}
	}
	return stats
}

// Close disconnects every client
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}
