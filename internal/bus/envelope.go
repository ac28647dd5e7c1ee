// Package bus carries encoded samples to other processes.
//
// Messages travel as protobuf-encoded envelopes: a data type id, the
// serialized payload, three timestamps and the sender stamp that tells
// concurrent producers apart.
package bus

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// ImageReadingID is the data type id of an ImageReading payload
const ImageReadingID int32 = 1055

var errTruncated = errors.New("bus: truncated message")

// Envelope wraps one serialized payload
type Envelope struct {
	DataType        int32
	SerializedData  []byte
	Sent            time.Time
	Received        time.Time
	SampleTimeStamp time.Time
	SenderStamp     uint32
}

// ImageReading is a compressed picture
type ImageReading struct {
	FourCC string
	Width  uint32
	Height uint32
	Data   []byte
}

// Envelope and TimeStamp field numbers
const (
	envDataType        protowire.Number = 1
	envSerializedData  protowire.Number = 2
	envSent            protowire.Number = 3
	envReceived        protowire.Number = 4
	envSampleTimeStamp protowire.Number = 5
	envSenderStamp     protowire.Number = 6

	tsSeconds      protowire.Number = 1
	tsMicroseconds protowire.Number = 2

	irFourCC protowire.Number = 1
	irWidth  protowire.Number = 2
	irHeight protowire.Number = 3
	irData   protowire.Number = 4
)

func appendTimeStamp(b []byte, num protowire.Number, t time.Time) []byte {
	var ts []byte
	if !t.IsZero() {
		us := t.UnixMicro()
		ts = protowire.AppendTag(ts, tsSeconds, protowire.VarintType)
		ts = protowire.AppendVarint(ts, protowire.EncodeZigZag(int64(int32(us/1e6))))
		ts = protowire.AppendTag(ts, tsMicroseconds, protowire.VarintType)
		ts = protowire.AppendVarint(ts, protowire.EncodeZigZag(int64(int32(us%1e6))))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, ts)
}

// Marshal appends the wire form of e to b
func (e *Envelope) Marshal(b []byte) []byte {
	b = protowire.AppendTag(b, envDataType, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(e.DataType)))
	b = protowire.AppendTag(b, envSerializedData, protowire.BytesType)
	b = protowire.AppendBytes(b, e.SerializedData)
	b = appendTimeStamp(b, envSent, e.Sent)
	b = appendTimeStamp(b, envReceived, e.Received)
	b = appendTimeStamp(b, envSampleTimeStamp, e.SampleTimeStamp)
	b = protowire.AppendTag(b, envSenderStamp, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(e.SenderStamp))
}

// Marshal appends the wire form of r to b
func (r *ImageReading) Marshal(b []byte) []byte {
	b = protowire.AppendTag(b, irFourCC, protowire.BytesType)
	b = protowire.AppendString(b, r.FourCC)
	b = protowire.AppendTag(b, irWidth, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Width))
	b = protowire.AppendTag(b, irHeight, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Height))
	b = protowire.AppendTag(b, irData, protowire.BytesType)
	return protowire.AppendBytes(b, r.Data)
}

// fields walks a message, calling fn for each varint or bytes field.
// Unknown wire types are skipped.
func fields(b []byte, fn func(num protowire.Number, v uint64, data []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("bus: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return errTruncated
			}
			b = b[n:]
			if err := fn(num, v, nil); err != nil {
				return err
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return errTruncated
			}
			b = b[n:]
			if err := fn(num, 0, v); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errTruncated
			}
			b = b[n:]
		}
	}
	return nil
}

func parseTimeStamp(b []byte) (time.Time, error) {
	var sec, usec int64
	err := fields(b, func(num protowire.Number, v uint64, _ []byte) error {
		switch num {
		case tsSeconds:
			sec = protowire.DecodeZigZag(v)
		case tsMicroseconds:
			usec = protowire.DecodeZigZag(v)
		}
		return nil
	})
	if err != nil || (sec == 0 && usec == 0) {
		return time.Time{}, err
	}
	return time.Unix(sec, usec*int64(time.Microsecond)), nil
}

// UnmarshalEnvelope parses an envelope. SerializedData aliases b.
func UnmarshalEnvelope(b []byte) (*Envelope, error) {
	e := &Envelope{}
	err := fields(b, func(num protowire.Number, v uint64, data []byte) error {
		var err error
		switch num {
		case envDataType:
			e.DataType = int32(protowire.DecodeZigZag(v))
		case envSerializedData:
			e.SerializedData = data
		case envSent:
			e.Sent, err = parseTimeStamp(data)
		case envReceived:
			e.Received, err = parseTimeStamp(data)
		case envSampleTimeStamp:
			e.SampleTimeStamp, err = parseTimeStamp(data)
		case envSenderStamp:
			e.SenderStamp = uint32(v)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// UnmarshalImageReading parses an ImageReading. Data aliases b.
func UnmarshalImageReading(b []byte) (*ImageReading, error) {
	r := &ImageReading{}
	err := fields(b, func(num protowire.Number, v uint64, data []byte) error {
		switch num {
		case irFourCC:
			r.FourCC = string(data)
		case irWidth:
			r.Width = uint32(v)
		case irHeight:
			r.Height = uint32(v)
		case irData:
			r.Data = data
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}
