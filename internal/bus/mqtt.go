package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/logger"
)

// ErrClosed is returned by Send after Close
var ErrClosed = errors.New("bus: closed")

var pahoLogs sync.Once

// routePahoLogs sends the client library's own warnings and errors to the
// global logger. Its debug output stays off.
func routePahoLogs() {
	mqtt.CRITICAL = logger.Std("MQTT", logger.ERROR)
	mqtt.ERROR = logger.Std("MQTT", logger.ERROR)
	mqtt.WARN = logger.Std("MQTT", logger.WARN)
}

// MQTTConfig configures the MQTT bus
type MQTTConfig struct {
	Broker   string // host:port or a full URL
	Topic    string // topic prefix
	ClientID string
	QoS      byte
	CID      uint16 // session id, part of every topic

	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// MQTT publishes envelopes to a broker on
// <topic>/<cid>/<dataType>/<senderStamp>.
type MQTT struct {
	cfg    MQTTConfig
	client mqtt.Client

	closed atomic.Bool
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// DialMQTT connects to the broker. The client reconnects on its own after
// the first successful connection.
func DialMQTT(ctx context.Context, cfg MQTTConfig) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: broker address required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}

	b := &MQTT{cfg: cfg}
	pahoLogs.Do(routePahoLogs)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetOrderMatters(false)

	opts.OnConnect = func(c mqtt.Client) {
		logger.Info("Bus", "MQTT connected to %s as %q", cfg.Broker, cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logger.Warn("Bus", "MQTT connection lost, reconnecting: %v", err)
	}

	b.client = mqtt.NewClient(opts)

	logger.Info("Bus", "Connecting to MQTT broker %s", cfg.Broker)
	token := b.client.Connect()

	timer := time.NewTimer(cfg.ConnectTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-timer.C:
		b.client.Disconnect(0)
		return nil, fmt.Errorf("mqtt: connection to %s timed out", cfg.Broker)
	case <-ctx.Done():
		b.client.Disconnect(0)
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connection to %s failed: %w", cfg.Broker, err)
	}
	return b, nil
}

// Topic returns the topic a message of dataType from sender is published on
func (b *MQTT) Topic(dataType int32, sender uint32) string {
	return fmt.Sprintf("%s/%d/%d/%d", b.cfg.Topic, b.cfg.CID, dataType, sender)
}

// Send publishes one message and waits for the broker acknowledgement
// when QoS > 0.
func (b *MQTT) Send(msg *Message) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if !b.client.IsConnectionOpen() {
		return errors.New("mqtt: not connected")
	}

	// paho keeps the payload until it is written, so it is never reused.
	payload := msg.envelope(time.Now()).Marshal(make([]byte, 0, len(msg.Payload)+64))

	token := b.client.Publish(b.Topic(msg.DataType, msg.SenderStamp), b.cfg.QoS, false, payload)
	if !token.WaitTimeout(b.cfg.PublishTimeout) {
		return errors.New("mqtt: publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish failed: %w", err)
	}
	return nil
}

// IsRunning reports whether the bus can still deliver. A dropped
// connection that is being re-established counts as running.
func (b *MQTT) IsRunning() bool {
	return !b.closed.Load() && b.client.IsConnected()
}

// Close disconnects from the broker
func (b *MQTT) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.client.Disconnect(250)
	logger.Info("Bus", "MQTT disconnected")
	return nil
}
