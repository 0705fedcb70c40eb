package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/config"
)

// MQTTConfig holds MQTT bridge configuration.
type MQTTConfig struct {
	Broker   string // tcp://host:port; empty disables the bridge
	ClientID string
	Username string
	Password string
	Topic    string // subscription filter, sender ID in the second segment
	QoS      byte
}

// LoadMQTTConfig reads MQTT settings from environment variables.
func LoadMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:   config.GetEnv("BTIDS_MQTT_BROKER", ""),
		ClientID: config.GetEnv("BTIDS_MQTT_CLIENT_ID", "btids-gateway"),
		Username: config.GetEnv("BTIDS_MQTT_USERNAME", ""),
		Password: config.GetEnv("BTIDS_MQTT_PASSWORD", ""),
		Topic:    config.GetEnv("BTIDS_MQTT_TOPIC", "chat/+/inbound"),
		QoS:      byte(config.GetEnvInt("BTIDS_MQTT_QOS", 1)),
	}
}

// Enabled reports whether a broker is configured.
func (c MQTTConfig) Enabled() bool { return c.Broker != "" }

// MQTTBridge subscribes to republished chat frames and feeds them to
// the handler. Subscription happens in the connect callback so it is
// re-established after every automatic reconnect.
type MQTTBridge struct {
	config  MQTTConfig
	client  mqtt.Client
	handler Handler

	// Stats
	received     uint64
	decodeErrors uint64
}

// NewMQTTBridge creates a bridge for the given feed configuration.
func NewMQTTBridge(cfg MQTTConfig, handler Handler) *MQTTBridge {
	if cfg.Topic == "" {
		cfg.Topic = "chat/+/inbound"
	}
	return &MQTTBridge{config: cfg, handler: handler}
}

// Start connects to the broker and subscribes to the message topic.
func (b *MQTTBridge) Start(ctx context.Context) error {
	if !b.config.Enabled() {
		return fmt.Errorf("mqtt bridge requires BTIDS_MQTT_BROKER")
	}
	if b.handler == nil {
		return fmt.Errorf("mqtt bridge requires a message handler")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.config.Broker)
	opts.SetClientID(b.config.ClientID)
	opts.SetUsername(b.config.Username)
	opts.SetPassword(b.config.Password)
	opts.SetOnConnectHandler(b.onConnect)
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("[WARN] mqtt connection lost: %v", err)
	})
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	b.client = client
	log.Printf("[STARTUP] mqtt bridge connected to %s", b.config.Broker)
	return nil
}

func (b *MQTTBridge) onConnect(client mqtt.Client) {
	token := client.Subscribe(b.config.Topic, b.config.QoS, b.handleMessage)
	if token.Wait() && token.Error() != nil {
		log.Printf("[WARN] mqtt subscribe to %s failed: %v", b.config.Topic, token.Error())
		return
	}
	log.Printf("[INFO] mqtt bridge subscribed to %s", b.config.Topic)
}

func (b *MQTTBridge) handleMessage(client mqtt.Client, msg mqtt.Message) {
	atomic.AddUint64(&b.received, 1)

	var f Frame
	if err := json.Unmarshal(msg.Payload(), &f); err != nil {
		atomic.AddUint64(&b.decodeErrors, 1)
		log.Printf("[WARN] mqtt frame on %s is not valid JSON: %v", msg.Topic(), err)
		return
	}
	if f.SenderID == "" {
		f.SenderID = senderFromTopic(msg.Topic())
	}

	m, err := f.Message()
	if err != nil {
		atomic.AddUint64(&b.decodeErrors, 1)
		log.Printf("[WARN] mqtt frame on %s rejected: %v", msg.Topic(), err)
		return
	}

	b.handler(m)
}

// IsConnected returns whether the client is currently connected.
func (b *MQTTBridge) IsConnected() bool {
	return b.client != nil && b.client.IsConnected()
}

// Stats returns bridge counters.
func (b *MQTTBridge) Stats() map[string]interface{} {
	return map[string]interface{}{
		"connected":     b.IsConnected(),
		"received":      atomic.LoadUint64(&b.received),
		"decode_errors": atomic.LoadUint64(&b.decodeErrors),
	}
}

// Close disconnects from the broker.
func (b *MQTTBridge) Close() {
	if b.client != nil {
		b.client.Disconnect(250)
		log.Printf("[INFO] mqtt bridge disconnected")
	}
}

// senderFromTopic extracts the sender ID from a feed topic.
// Example: "chat/a4:c1:38:96:02:7f/inbound" -> "a4:c1:38:96:02:7f"
func senderFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}
