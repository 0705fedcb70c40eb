// Package alert delivers attack notifications to operator-facing channels.
//
// The detection engine publishes notifications into a Dispatcher, which
// fans them out to one or more Sinks (log, redis, kafka, postgres,
// webhook). The dispatcher queue is bounded and drops the oldest entry
// under pressure, so a slow sink can never stall message analysis.
package alert

import (
	"context"
	"fmt"
	"strings"

	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/detect"
)

// Sink is a single notification delivery channel.
//
// Start establishes connections and background workers. Enqueue hands a
// notification to the sink and must not block on network I/O; sinks that
// deliver remotely buffer internally and report overflow as an error.
// Close flushes buffered notifications and releases resources.
type Sink interface {
	Start(ctx context.Context) error
	Enqueue(n detect.AttackNotification) error
	Close() error
	Name() string // Returns the sink name for metrics and logging
}

// BuildSinks constructs the sinks selected by name, reading each sink's
// connection settings from the environment. Names are case-insensitive
// and duplicates collapse to a single instance. An unknown name is a
// configuration error.
func BuildSinks(names []string) ([]Sink, error) {
	seen := make(map[string]bool, len(names))
	var sinks []Sink

	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		switch name {
		case "log":
			sinks = append(sinks, NewLogSink())
		case "redis":
			sinks = append(sinks, NewRedisSinkFromEnv())
		case "kafka":
			sinks = append(sinks, NewKafkaSinkFromEnv())
		case "postgres", "pg":
			sinks = append(sinks, NewPGSinkFromEnv())
		case "webhook":
			sinks = append(sinks, NewWebhookSinkFromEnv())
		default:
			return nil, fmt.Errorf("unknown notification sink %q", raw)
		}
	}

	return sinks, nil
}
