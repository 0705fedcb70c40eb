package alert

import (
	"context"
	"encoding/json"
	"log"

	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/detect"
)

// LogSink writes notifications to the process log. It is the default
// sink and the only one with no external dependency, so it also serves
// as the delivery channel of last resort.
type LogSink struct {
	verbose bool
}

func NewLogSink() *LogSink { return &LogSink{} }

// NewVerboseLogSink also logs the full notification as JSON, which is
// useful when piping gateway logs into a collector.
func NewVerboseLogSink() *LogSink { return &LogSink{verbose: true} }

func (s *LogSink) Start(ctx context.Context) error { return nil }

func (s *LogSink) Enqueue(n detect.AttackNotification) error {
	log.Printf("[ALERT] %s from %s: %s (confidence %.2f, %d message(s) since %s)",
		n.AttackType, n.SenderID, n.Message, n.Confidence, n.Count,
		n.FirstSeen.Format("15:04:05"))
	if s.verbose {
		if b, err := json.Marshal(n); err == nil {
			log.Printf("[ALERT] detail %s", string(b))
		}
	}
	return nil
}

func (s *LogSink) Close() error { return nil }

func (s *LogSink) Name() string { return "log" }
