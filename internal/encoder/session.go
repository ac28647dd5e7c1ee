package encoder

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/pixfmt"
)

// ErrNotReady is returned when a session is used outside the Ready state
var ErrNotReady = errors.New("encoder: session not ready")

// Layer is one spatial/temporal layer of encoder output.
// Bitstream holds the NAL units back to back; it may point into engine
// memory that is only valid until the next Encode call.
type Layer struct {
	NALLengths []int
	Bitstream  []byte
}

// EncodedFrame is the engine output for one picture
type EncodedFrame struct {
	Skipped bool // rate control dropped the picture
	Layers  []Layer
}

// Engine is a native H.264 encoder instance
type Engine interface {
	Configure(cfg *Config) error
	Encode(pic *pixfmt.Planar) (*EncodedFrame, error)
	Close() error
}

// EncodeError carries the engine's status code for a failed frame
type EncodeError struct {
	Code int
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encoder: encode failed with code %d", e.Code)
}

// State of a Session
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Session owns one Engine through its lifecycle:
// Uninitialized -> Ready -> Shutdown.
type Session struct {
	mu     sync.Mutex
	engine Engine
	state  State
	cfg    Config
}

// NewSession creates the engine with create. A creation failure is fatal
// for the caller.
func NewSession(create func() (Engine, error)) (*Session, error) {
	engine, err := create()
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	if engine == nil {
		return nil, errors.New("create encoder: engine is nil")
	}
	return &Session{engine: engine}, nil
}

// Configure applies cfg and moves the session to Ready
func (s *Session) Configure(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUninitialized {
		return fmt.Errorf("configure in state %s: %w", s.state, ErrNotReady)
	}
	if err := s.engine.Configure(&cfg); err != nil {
		return fmt.Errorf("configure encoder: %w", err)
	}

	s.cfg = cfg
	s.state = StateReady
	logger.Info("Encoder", "Configured %dx%d @ %d bps (max %d), gop=%d, rc=%s, threads=%d",
		cfg.Width, cfg.Height, cfg.Bitrate, cfg.MaxBitrate, cfg.GOP, cfg.RateControl, cfg.Threads)
	return nil
}

// EncodeOne encodes a single picture. A skipped frame is not an error;
// an engine failure is returned as *EncodeError.
func (s *Session) EncodeOne(pic *pixfmt.Planar) (*EncodedFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return nil, ErrNotReady
	}
	if pic.Width != s.cfg.Width || pic.Height != s.cfg.Height {
		return nil, fmt.Errorf("encoder: picture %dx%d does not match configured %dx%d",
			pic.Width, pic.Height, s.cfg.Width, s.cfg.Height)
	}

	out, err := s.engine.Encode(pic)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return &EncodedFrame{Skipped: true}, nil
	}
	return out, nil
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Shutdown releases the engine. Calling it more than once is a no-op.
func (s *Session) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateShutdown {
		return nil
	}
	s.state = StateShutdown
	if err := s.engine.Close(); err != nil {
		return fmt.Errorf("close encoder: %w", err)
	}
	logger.Info("Encoder", "Encoder released")
	return nil
}
