package bus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Message is what a bus sends for one sample
type Message struct {
	DataType    int32
	Payload     []byte
	SampleTime  time.Time
	SenderStamp uint32
}

func (m *Message) envelope(sent time.Time) *Envelope {
	return &Envelope{
		DataType:        m.DataType,
		SerializedData:  m.Payload,
		Sent:            sent,
		SampleTimeStamp: m.SampleTime,
		SenderStamp:     m.SenderStamp,
	}
}

// Null is a bus that accepts and discards every message. It keeps running
// until closed, so local sinks can be fed without a broker.
type Null struct {
	closed atomic.Bool
	sent   atomic.Uint64

	mu   sync.Mutex
	last []byte
}

// NewNull creates a Null bus
func NewNull() *Null {
	return &Null{}
}

// Send marshals and drops the message
func (n *Null) Send(msg *Message) error {
	if n.closed.Load() {
		return ErrClosed
	}
	b := msg.envelope(time.Now()).Marshal(nil)
	n.mu.Lock()
	n.last = b
	n.mu.Unlock()
	n.sent.Add(1)
	return nil
}

// Sent returns the number of messages accepted
func (n *Null) Sent() uint64 {
	return n.sent.Load()
}

// Last returns the wire form of the most recent message
func (n *Null) Last() []byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}

// IsRunning reports whether Close has not been called
func (n *Null) IsRunning() bool {
	return !n.closed.Load()
}

// Close stops the bus
func (n *Null) Close() error {
	n.closed.Store(true)
	return nil
}
