// Package publish hands assembled bitstreams to the bus and to local sinks.
package publish

import (
	"errors"
	"fmt"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/bus"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/h264"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/pkg/types"
)

// FourCC tags every published sample
const FourCC = "h264"

// Bus is the message bus collaborator. *bus.MQTT and *bus.Null implement it.
type Bus interface {
	Send(msg *bus.Message) error
	IsRunning() bool
}

// Sink is a local consumer of published samples. SendSample must not block.
type Sink interface {
	SendSample(sample *types.Sample) bool
}

// HeaderSink is a Sink that wants the latest SPS/PPS whenever they change
type HeaderSink interface {
	Sink
	UpdateHeaders(sps, pps []byte)
}

// Options describe the stream every sample belongs to
type Options struct {
	Width    int
	Height   int
	SenderID uint32
}

// Publisher tags payloads and sends them. It is driven by a single goroutine.
type Publisher struct {
	bus       Bus
	opts      Options
	sinks     []Sink
	processor *h264.Processor
	metrics   *metrics.Metrics

	frameNum uint64
	reading  bus.ImageReading
	buf      []byte
}

// New creates a publisher. m may be nil.
func New(b Bus, opts Options, m *metrics.Metrics, sinks ...Sink) (*Publisher, error) {
	if b == nil {
		return nil, errors.New("publish: bus is nil")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("publish: invalid dimensions %dx%d", opts.Width, opts.Height)
	}
	return &Publisher{
		bus:       b,
		opts:      opts,
		sinks:     sinks,
		processor: h264.NewProcessor(),
		metrics:   m,
		reading: bus.ImageReading{
			FourCC: FourCC,
			Width:  uint32(opts.Width),
			Height: uint32(opts.Height),
		},
	}, nil
}

// IsRunning reports whether the bus can still take samples
func (p *Publisher) IsRunning() bool {
	return p.bus.IsRunning()
}

// Processor exposes the stream inspector, e.g. for header status
func (p *Publisher) Processor() *h264.Processor {
	return p.processor
}

// Publish sends one assembled bitstream stamped with ts. payload is only
// read during the call; sinks receive their own copy.
func (p *Publisher) Publish(payload []byte, ts time.Time) error {
	if len(payload) == 0 {
		return nil
	}

	p.frameNum++
	sample := &types.Sample{
		Format:    FourCC,
		Width:     p.opts.Width,
		Height:    p.opts.Height,
		Data:      payload,
		Timestamp: ts,
		SenderID:  p.opts.SenderID,
		FrameNum:  p.frameNum,
	}
	headersChanged := p.processor.Process(sample)

	p.reading.Data = payload
	p.buf = p.reading.Marshal(p.buf[:0])
	p.reading.Data = nil

	err := p.bus.Send(&bus.Message{
		DataType:    bus.ImageReadingID,
		Payload:     p.buf,
		SampleTime:  ts,
		SenderStamp: p.opts.SenderID,
	})
	if err != nil {
		if p.metrics != nil {
			p.metrics.PublishErrors.Add(1)
		}
		return fmt.Errorf("publish frame %d: %w", p.frameNum, err)
	}
	if p.metrics != nil {
		p.metrics.ObservePublish(len(payload), sample.IsIDR, ts)
	}

	if len(p.sinks) == 0 {
		return nil
	}
	if headersChanged {
		sps, pps := p.processor.Headers()
		for _, s := range p.sinks {
			if hs, ok := s.(HeaderSink); ok {
				hs.UpdateHeaders(sps, pps)
			}
		}
	}
	sample.Data = append([]byte(nil), payload...)
	for _, s := range p.sinks {
		s.SendSample(sample)
	}
	return nil
}
