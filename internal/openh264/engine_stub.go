//go:build !cgo || noopenh264

package openh264

import (
	"errors"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/encoder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/pixfmt"
)

// Available reports whether this build links libopenh264
const Available = false

// ErrUnavailable is returned by New in builds without libopenh264
var ErrUnavailable = errors.New("openh264: built without libopenh264 (cgo disabled or noopenh264 tag)")

// Engine is a placeholder in builds without libopenh264
type Engine struct{}

// New always fails in builds without libopenh264
func New(verbose bool) (*Engine, error) {
	return nil, ErrUnavailable
}

func (e *Engine) Configure(*encoder.Config) error { return ErrUnavailable }

func (e *Engine) Encode(*pixfmt.Planar) (*encoder.EncodedFrame, error) {
	return nil, ErrUnavailable
}

func (e *Engine) Close() error { return nil }
