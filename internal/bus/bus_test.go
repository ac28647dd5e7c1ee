package bus

import (
	"errors"
	"testing"
	"time"
)

func TestNullBus(t *testing.T) {
	n := NewNull()
	if !n.IsRunning() {
		t.Fatal("new bus not running")
	}

	stamp := time.Unix(1700000000, 0)
	if err := n.Send(&Message{DataType: ImageReadingID, Payload: []byte{1}, SampleTime: stamp, SenderStamp: 4}); err != nil {
		t.Fatal(err)
	}
	if n.Sent() != 1 {
		t.Fatalf("sent = %d", n.Sent())
	}
	env, err := UnmarshalEnvelope(n.Last())
	if err != nil {
		t.Fatal(err)
	}
	if env.SenderStamp != 4 || !env.SampleTimeStamp.Equal(stamp) || env.Sent.IsZero() {
		t.Fatalf("envelope = %+v", env)
	}

	n.Close()
	if n.IsRunning() {
		t.Fatal("closed bus still running")
	}
	if err := n.Send(&Message{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after close = %v", err)
	}
}

func TestMQTTTopic(t *testing.T) {
	b := &MQTT{cfg: MQTTConfig{Topic: "od4", CID: 111}}
	if got := b.Topic(ImageReadingID, 2); got != "od4/111/1055/2" {
		t.Fatalf("topic = %q", got)
	}
}

func TestBrokerURL(t *testing.T) {
	tests := map[string]string{
		"localhost:1883":        "tcp://localhost:1883",
		"ssl://broker:8883":     "ssl://broker:8883",
		"ws://broker:9001/mqtt": "ws://broker:9001/mqtt",
	}
	for in, want := range tests {
		if got := brokerURL(in); got != want {
			t.Errorf("brokerURL(%q) = %q, want %q", in, got, want)
		}
	}
}
