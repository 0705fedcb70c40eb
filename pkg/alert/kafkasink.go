package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/config"
	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/detect"
)

// KafkaConfig holds configuration for the Kafka producer.
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	Acks        string
	Compression string

	// SASL config
	SASLMechanism string
	SASLUser      string
	SASLPassword  string

	// TLS config
	TLSCAPath     string
	TLSSkipVerify bool
}

// KafkaSink produces notifications to Kafka keyed by sender ID, so all
// alerts about one peer land on the same partition in order.
type KafkaSink struct {
	config   KafkaConfig
	producer *kafka.Producer
}

// NewKafkaSinkFromEnv creates a KafkaSink from environment variables.
func NewKafkaSinkFromEnv() *KafkaSink {
	brokersStr := config.GetEnv("BTIDS_KAFKA_BROKERS", "localhost:9092")
	brokers := strings.Split(brokersStr, ",")
	for i, broker := range brokers {
		brokers[i] = strings.TrimSpace(broker)
	}

	cfg := KafkaConfig{
		Brokers:       brokers,
		Topic:         config.GetEnv("BTIDS_KAFKA_TOPIC", "btids.alerts"),
		Acks:          config.GetEnv("BTIDS_KAFKA_ACKS", "all"),
		Compression:   config.GetEnv("BTIDS_KAFKA_COMPRESSION", ""),
		SASLMechanism: os.Getenv("BTIDS_KAFKA_SASL_MECHANISM"),
		SASLUser:      os.Getenv("BTIDS_KAFKA_SASL_USER"),
		SASLPassword:  os.Getenv("BTIDS_KAFKA_SASL_PASSWORD"),
		TLSCAPath:     os.Getenv("BTIDS_KAFKA_TLS_CA"),
		TLSSkipVerify: config.GetEnvBool("BTIDS_KAFKA_TLS_SKIP_VERIFY", false),
	}

	return &KafkaSink{config: cfg}
}

// NewKafkaSink creates a KafkaSink with explicit configuration.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		config: KafkaConfig{
			Brokers: brokers,
			Topic:   topic,
			Acks:    "all",
		},
	}
}

func (s *KafkaSink) Start(ctx context.Context) error {
	configMap := kafka.ConfigMap{
		"bootstrap.servers": strings.Join(s.config.Brokers, ","),
		"acks":              s.config.Acks,
		"retries":           10,
		"retry.backoff.ms":  100,
		"batch.size":        16384,
		"linger.ms":         10,
	}

	if s.config.Compression != "" {
		configMap["compression.type"] = s.config.Compression
	}

	if s.config.SASLMechanism != "" {
		configMap["security.protocol"] = "SASL_SSL"
		configMap["sasl.mechanism"] = s.config.SASLMechanism
		if s.config.SASLUser != "" {
			configMap["sasl.username"] = s.config.SASLUser
		}
		if s.config.SASLPassword != "" {
			configMap["sasl.password"] = s.config.SASLPassword
		}
	}

	if s.config.TLSCAPath != "" {
		if s.config.SASLMechanism == "" {
			configMap["security.protocol"] = "SSL"
		}
		configMap["ssl.ca.location"] = s.config.TLSCAPath
	}

	if s.config.TLSSkipVerify {
		configMap["ssl.endpoint.identification.algorithm"] = "none"
	}

	producer, err := kafka.NewProducer(&configMap)
	if err != nil {
		return fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	s.producer = producer

	go s.handleDeliveryReports(ctx)

	return nil
}

func (s *KafkaSink) Enqueue(n detect.AttackNotification) error {
	if s.producer == nil {
		return fmt.Errorf("kafka producer not initialized")
	}

	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("serialize notification: %w", err)
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &s.config.Topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(n.SenderID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "attack_type", Value: []byte(n.AttackType)},
			{Key: "schema", Value: []byte("v1")},
		},
	}

	if err := s.producer.Produce(msg, nil); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	return nil
}

func (s *KafkaSink) Close() error {
	if s.producer == nil {
		return nil
	}

	// Flush any remaining messages (wait up to 10 seconds).
	remaining := s.producer.Flush(10 * 1000)
	if remaining > 0 {
		return fmt.Errorf("failed to flush %d remaining messages", remaining)
	}

	s.producer.Close()
	return nil
}

func (s *KafkaSink) Name() string { return "kafka" }

// handleDeliveryReports processes delivery reports in the background.
func (s *KafkaSink) handleDeliveryReports(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.producer.Events():
			switch event := ev.(type) {
			case *kafka.Message:
				if event.TopicPartition.Error != nil {
					log.Printf("[WARN] kafka delivery failed: %v", event.TopicPartition.Error)
				}
			case kafka.Error:
				log.Printf("[WARN] kafka error: %v", event)
			}
		}
	}
}
