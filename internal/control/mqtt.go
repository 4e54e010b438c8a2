package control

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/config"
)

// Transport is the pub/sub connection the Handler talks through.
type Transport interface {
	Subscribe(topic string, qos byte, onMessage func(payload []byte)) error
	Unsubscribe(topic string) error
	Publish(topic string, qos byte, payload []byte) error
}

// MQTTTransport is a Transport over a paho MQTT client.
type MQTTTransport struct {
	client    mqtt.Client
	broker    string
	timeout   time.Duration
	connected atomic.Bool
}

// DialMQTT connects to the broker in cfg with automatic reconnection.
func DialMQTT(ctx context.Context, cfg config.MQTTConfig) (*MQTTTransport, error) {
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	t := &MQTTTransport{broker: broker, timeout: time.Duration(cfg.ConnectTimeout) * time.Second}
	if t.timeout <= 0 {
		t.timeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		t.connected.Store(true)
		slog.Info("control: mqtt connection established", "broker", broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		t.connected.Store(false)
		slog.Warn("control: mqtt connection lost, will auto-reconnect", "broker", broker, "error", err)
	}

	t.client = mqtt.NewClient(opts)

	slog.Info("control: connecting to mqtt broker", "broker", broker)

	token := t.client.Connect()
	if err := t.wait(ctx, token); err != nil {
		t.client.Disconnect(250)
		return nil, fmt.Errorf("control: mqtt connect: %w", err)
	}

	return t, nil
}

// Connected reports the last known connection state.
func (t *MQTTTransport) Connected() bool {
	return t.connected.Load()
}

func (t *MQTTTransport) Subscribe(topic string, qos byte, onMessage func(payload []byte)) error {
	token := t.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		onMessage(msg.Payload())
	})
	return t.wait(context.Background(), token)
}

func (t *MQTTTransport) Unsubscribe(topic string) error {
	if !t.client.IsConnected() {
		return nil
	}
	return t.wait(context.Background(), t.client.Unsubscribe(topic))
}

func (t *MQTTTransport) Publish(topic string, qos byte, payload []byte) error {
	return t.wait(context.Background(), t.client.Publish(topic, qos, false, payload))
}

// Close disconnects, allowing 250ms for in-flight work.
func (t *MQTTTransport) Close() {
	t.client.Disconnect(250)
	t.connected.Store(false)
}

func (t *MQTTTransport) wait(ctx context.Context, token mqtt.Token) error {
	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("timeout after %s", t.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
