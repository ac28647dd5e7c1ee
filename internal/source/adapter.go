// Package source turns a notified shared memory area into a stream of
// locked raw frames.
package source

import (
	"errors"
	"fmt"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/pkg/types"
)

var (
	// ErrClosed is returned by NextFrame once the area is no longer valid
	ErrClosed = errors.New("source: frame source closed")

	// ErrLock is returned by NextFrame when the area could not be locked.
	// The frame is lost; the next call may succeed.
	ErrLock = errors.New("source: lock failed")
)

// Area is the shared memory collaborator. *shm.Area implements it.
type Area interface {
	Wait() error
	Lock() error
	Unlock()
	Data() []byte
	TimeStamp() (time.Time, bool)
	Valid() bool
}

// Adapter hands out one locked frame at a time
type Adapter struct {
	area   Area
	width  int
	height int
	layout types.PixelLayout
	now    func() time.Time
}

// NewAdapter wraps area. width, height and layout describe every frame the
// producer writes.
func NewAdapter(area Area, width, height int, layout types.PixelLayout) *Adapter {
	return &Adapter{
		area:   area,
		width:  width,
		height: height,
		layout: layout,
		now:    time.Now,
	}
}

// Frame is a locked view of the area. Release must be called once the
// frame data is no longer needed; it is safe to call more than once.
type Frame struct {
	types.FrameDescriptor
	Timestamp time.Time // capture time, or wake time if the producer set none

	// Source is true when Timestamp came from the producer
	Source bool

	LockedAt time.Time
	release  func()
}

// Release unlocks the area
func (f *Frame) Release() {
	if f.release != nil {
		f.release()
		f.release = nil
	}
}

// Valid reports whether the area can still deliver frames
func (a *Adapter) Valid() bool {
	return a.area.Valid()
}

// NextFrame blocks until the producer signals a frame, then returns it
// locked. The wake time is recorded before locking and replaced by the
// producer's capture timestamp when one is present.
func (a *Adapter) NextFrame() (*Frame, error) {
	if !a.area.Valid() {
		return nil, ErrClosed
	}
	if err := a.area.Wait(); err != nil {
		if !a.area.Valid() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("wait for frame: %w", err)
	}
	ts := a.now()

	if err := a.area.Lock(); err != nil {
		if !a.area.Valid() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("%w: %w", ErrLock, err)
	}
	frame := &Frame{
		Timestamp: ts,
		LockedAt:  a.now(),
		release:   a.area.Unlock,
	}
	if captured, ok := a.area.TimeStamp(); ok {
		frame.Timestamp = captured
		frame.Source = true
	}

	data := a.area.Data()
	frame.FrameDescriptor = types.FrameDescriptor{
		Width:  a.width,
		Height: a.height,
		Layout: a.layout,
		Data:   data,
		Size:   len(data),
	}
	return frame, nil
}
