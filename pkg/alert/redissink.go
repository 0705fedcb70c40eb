package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/config"
	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/detect"
)

// RedisConfig holds connection settings for the redis sink.
type RedisConfig struct {
	URL     string        // redis:// URL, including db and credentials
	Channel string        // pub/sub channel live subscribers listen on
	ListKey string        // capped list keeping the most recent alerts
	ListMax int64         // maximum retained list entries
	Timeout time.Duration // per-command deadline
}

// RedisSink publishes each notification on a pub/sub channel for live
// subscribers and appends it to a capped list so late consumers can
// catch up on recent alerts.
type RedisSink struct {
	config RedisConfig
	client *redis.Client
}

// NewRedisSinkFromEnv creates a RedisSink from environment variables.
func NewRedisSinkFromEnv() *RedisSink {
	return &RedisSink{config: RedisConfig{
		URL:     config.GetEnv("BTIDS_REDIS_URL", "redis://localhost:6379/0"),
		Channel: config.GetEnv("BTIDS_REDIS_CHANNEL", "btids.alerts"),
		ListKey: config.GetEnv("BTIDS_REDIS_LIST", "btids:alerts:recent"),
		ListMax: int64(config.GetEnvInt("BTIDS_REDIS_LIST_MAX", 1000)),
		Timeout: config.GetEnvDurationMs("BTIDS_REDIS_TIMEOUT_MS", 2*time.Second),
	}}
}

// NewRedisSink creates a RedisSink with explicit configuration.
func NewRedisSink(cfg RedisConfig) *RedisSink {
	if cfg.Channel == "" {
		cfg.Channel = "btids.alerts"
	}
	if cfg.ListKey == "" {
		cfg.ListKey = "btids:alerts:recent"
	}
	if cfg.ListMax <= 0 {
		cfg.ListMax = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &RedisSink{config: cfg}
}

func (s *RedisSink) Start(ctx context.Context) error {
	opt, err := redis.ParseURL(s.config.URL)
	if err != nil {
		return fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}
	s.client = client
	return nil
}

func (s *RedisSink) Enqueue(n detect.AttackNotification) error {
	if s.client == nil {
		return fmt.Errorf("redis sink not started")
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("serialize notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()

	if err := s.client.Publish(ctx, s.config.Channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}

	// Trim in the same pipeline so the list never grows past its cap.
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.config.ListKey, payload)
	pipe.LTrim(ctx, s.config.ListKey, 0, s.config.ListMax-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis list append: %w", err)
	}

	return nil
}

func (s *RedisSink) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisSink) Name() string { return "redis" }
