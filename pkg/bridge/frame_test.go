package bridge

import (
	"testing"
	"time"

	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/detect"
)

func TestDecodeFrame(t *testing.T) {
	t.Run("full frame", func(t *testing.T) {
		payload := []byte(`{
			"senderId": "a4:c1:38:96:02:7f",
			"receiverId": "5c:f3:70:8a:11:03",
			"content": "hello over the mesh",
			"direction": "sent",
			"sentAtMs": 1749718800000,
			"sizeBytes": 19
		}`)

		m, err := DecodeFrame(payload)
		if err != nil {
			t.Fatalf("DecodeFrame failed: %v", err)
		}
		if m.SenderID != "a4:c1:38:96:02:7f" {
			t.Errorf("SenderID = %q", m.SenderID)
		}
		if m.ReceiverID != "5c:f3:70:8a:11:03" {
			t.Errorf("ReceiverID = %q", m.ReceiverID)
		}
		if m.Content != "hello over the mesh" {
			t.Errorf("Content = %q", m.Content)
		}
		if m.Direction != detect.DirectionSent {
			t.Errorf("Direction = %q, want sent", m.Direction)
		}
		if want := time.UnixMilli(1749718800000).UTC(); !m.Timestamp.Equal(want) {
			t.Errorf("Timestamp = %v, want %v", m.Timestamp, want)
		}
		if m.SizeBytes != 19 {
			t.Errorf("SizeBytes = %d, want 19", m.SizeBytes)
		}
	})

	t.Run("minimal frame defaults", func(t *testing.T) {
		m, err := DecodeFrame([]byte(`{"senderId": "peer-1", "content": "hi"}`))
		if err != nil {
			t.Fatalf("DecodeFrame failed: %v", err)
		}
		if m.Direction != detect.DirectionReceived {
			t.Errorf("Direction = %q, want received default", m.Direction)
		}
		if !m.Timestamp.IsZero() {
			t.Errorf("Timestamp = %v, want zero so the engine stamps receive time", m.Timestamp)
		}
	})

	t.Run("rejections", func(t *testing.T) {
		cases := []struct {
			name    string
			payload string
		}{
			{"invalid json", `{"senderId": "peer-1",`},
			{"missing sender", `{"content": "hi"}`},
			{"blank sender", `{"senderId": "   ", "content": "hi"}`},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				if _, err := DecodeFrame([]byte(tc.payload)); err == nil {
					t.Errorf("DecodeFrame accepted %s", tc.payload)
				}
			})
		}
	})
}
