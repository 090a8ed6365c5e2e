package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type MQTTSink struct {
	client mqtt.Client
	topic  string
	qos    byte
}

func NewMQTTSink(broker, topic, clientID string) (*MQTTSink, error) {
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost, will auto-reconnect", "broker", broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	slog.Info("mqtt connection established", "broker", broker, "client_id", clientID)

	return newMQTTSink(client, topic), nil
}

func newMQTTSink(client mqtt.Client, topic string) *MQTTSink {
	return &MQTTSink{client: client, topic: strings.TrimSuffix(topic, "/"), qos: 1}
}

// Publish sends to <topic>/<room>.
func (s *MQTTSink) Publish(ctx context.Context, key string, payload []byte) error {
	topic := s.topic + "/" + key
	token := s.client.Publish(topic, s.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", topic, err)
	}
	return nil
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
