package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	mqttQoS            = 1
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
)

// MQTTNotifier publishes match events to <prefix>/matches/<user_id>.
type MQTTNotifier struct {
	client      mqtt.Client
	topicPrefix string
	logger      *slog.Logger

	published atomic.Uint64
	errors    atomic.Uint64
}

// NewMQTTNotifier wraps an MQTT client. Use ConnectMQTT for a broker connection.
func NewMQTTNotifier(client mqtt.Client, topicPrefix string, logger *slog.Logger) *MQTTNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTNotifier{client: client, topicPrefix: topicPrefix, logger: logger}
}

// ConnectMQTT connects to broker (host:port) with auto-reconnect enabled.
func ConnectMQTT(broker, clientID string, logger *slog.Logger) (mqtt.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker("tcp://" + broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connection established", "broker", broker, "client_id", clientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect", "broker", broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, errors.New("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return client, nil
}

// Topic returns the topic a match for userID is published on.
func (n *MQTTNotifier) Topic(userID string) string {
	return fmt.Sprintf("%s/matches/%s", n.topicPrefix, userID)
}

func (n *MQTTNotifier) NotifyMatch(ctx context.Context, event MatchEvent) error {
	if !n.client.IsConnected() {
		n.errors.Add(1)
		return errors.New("mqtt not connected")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		n.errors.Add(1)
		return fmt.Errorf("failed to marshal match event: %w", err)
	}

	timeout := mqttPublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}

	topic := n.Topic(event.UserID)
	token := n.client.Publish(topic, mqttQoS, false, payload)
	if !token.WaitTimeout(timeout) {
		n.errors.Add(1)
		return errors.New("publish timeout")
	}
	if err := token.Error(); err != nil {
		n.errors.Add(1)
		return fmt.Errorf("publish failed: %w", err)
	}

	n.published.Add(1)
	n.logger.Debug("match published", "topic", topic, "size", len(payload))
	return nil
}

// Published returns the number of successfully published events.
func (n *MQTTNotifier) Published() uint64 {
	return n.published.Load()
}

// Errors returns the number of failed publishes.
func (n *MQTTNotifier) Errors() uint64 {
	return n.errors.Load()
}

// Disconnect closes the broker connection.
func (n *MQTTNotifier) Disconnect() {
	if n.client != nil && n.client.IsConnected() {
		n.client.Disconnect(250)
		n.logger.Info("mqtt disconnected")
	}
}
