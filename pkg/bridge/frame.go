// Package bridge ingests chat traffic from side-channel transports.
//
// Mesh gateways that relay Bluetooth chat frames can republish them over
// MQTT or expose a WebSocket firehose; the bridges here subscribe to
// those feeds, decode each frame, and hand the message to the detection
// pipeline. Both bridges reconnect on their own and are optional: with
// no broker or feed URL configured the gateway runs HTTP-only.
package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/detect"
)

// Handler consumes one decoded chat message.
type Handler func(msg detect.Message)

// Frame is the wire form of a chat message on the MQTT and WebSocket
// feeds. SentAtMs is unix milliseconds; zero means the receive time.
type Frame struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId,omitempty"`
	Content    string `json:"content"`
	Direction  string `json:"direction,omitempty"`
	SentAtMs   int64  `json:"sentAtMs,omitempty"`
	SizeBytes  int    `json:"sizeBytes,omitempty"`
}

// DecodeFrame parses a feed payload into an analyzable message.
func DecodeFrame(payload []byte) (detect.Message, error) {
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return detect.Message{}, fmt.Errorf("decode frame: %w", err)
	}
	return f.Message()
}

// Message converts the frame, rejecting frames with no sender.
func (f Frame) Message() (detect.Message, error) {
	if strings.TrimSpace(f.SenderID) == "" {
		return detect.Message{}, fmt.Errorf("frame missing senderId")
	}

	m := detect.Message{
		SenderID:   f.SenderID,
		ReceiverID: f.ReceiverID,
		Content:    f.Content,
		SizeBytes:  f.SizeBytes,
	}
	if f.Direction == string(detect.DirectionSent) {
		m.Direction = detect.DirectionSent
	} else {
		m.Direction = detect.DirectionReceived
	}
	if f.SentAtMs > 0 {
		m.Timestamp = time.UnixMilli(f.SentAtMs).UTC()
	}
	return m, nil
}
