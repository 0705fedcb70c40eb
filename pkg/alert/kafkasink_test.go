package alert

import (
	"testing"
)

func clearKafkaEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BTIDS_KAFKA_BROKERS",
		"BTIDS_KAFKA_TOPIC",
		"BTIDS_KAFKA_ACKS",
		"BTIDS_KAFKA_COMPRESSION",
		"BTIDS_KAFKA_SASL_MECHANISM",
		"BTIDS_KAFKA_SASL_USER",
		"BTIDS_KAFKA_SASL_PASSWORD",
		"BTIDS_KAFKA_TLS_CA",
		"BTIDS_KAFKA_TLS_SKIP_VERIFY",
	} {
		t.Setenv(key, "")
	}
}

func TestNewKafkaSinkFromEnvDefaults(t *testing.T) {
	clearKafkaEnv(t)

	s := NewKafkaSinkFromEnv()
	cfg := s.config

	if len(cfg.Brokers) != 1 || cfg.Brokers[0] != "localhost:9092" {
		t.Errorf("Brokers = %v, want [localhost:9092]", cfg.Brokers)
	}
	if cfg.Topic != "btids.alerts" {
		t.Errorf("Topic = %q, want btids.alerts", cfg.Topic)
	}
	if cfg.Acks != "all" {
		t.Errorf("Acks = %q, want all", cfg.Acks)
	}
	if cfg.Compression != "" {
		t.Errorf("Compression = %q, want empty", cfg.Compression)
	}
	if cfg.SASLMechanism != "" || cfg.TLSCAPath != "" || cfg.TLSSkipVerify {
		t.Errorf("security settings should default off, got %+v", cfg)
	}
}

func TestNewKafkaSinkFromEnvCustom(t *testing.T) {
	clearKafkaEnv(t)
	t.Setenv("BTIDS_KAFKA_BROKERS", "broker1:9092, broker2:9092 ,broker3:9092")
	t.Setenv("BTIDS_KAFKA_TOPIC", "security.alerts")
	t.Setenv("BTIDS_KAFKA_ACKS", "1")
	t.Setenv("BTIDS_KAFKA_COMPRESSION", "snappy")
	t.Setenv("BTIDS_KAFKA_SASL_MECHANISM", "PLAIN")
	t.Setenv("BTIDS_KAFKA_SASL_USER", "alerts")
	t.Setenv("BTIDS_KAFKA_SASL_PASSWORD", "secret")
	t.Setenv("BTIDS_KAFKA_TLS_CA", "/etc/ssl/ca.pem")
	t.Setenv("BTIDS_KAFKA_TLS_SKIP_VERIFY", "true")

	cfg := NewKafkaSinkFromEnv().config

	wantBrokers := []string{"broker1:9092", "broker2:9092", "broker3:9092"}
	if len(cfg.Brokers) != len(wantBrokers) {
		t.Fatalf("Brokers = %v, want %v", cfg.Brokers, wantBrokers)
	}
	for i, want := range wantBrokers {
		if cfg.Brokers[i] != want {
			t.Errorf("Brokers[%d] = %q, want %q (whitespace should be trimmed)", i, cfg.Brokers[i], want)
		}
	}
	if cfg.Topic != "security.alerts" {
		t.Errorf("Topic = %q, want security.alerts", cfg.Topic)
	}
	if cfg.Acks != "1" {
		t.Errorf("Acks = %q, want 1", cfg.Acks)
	}
	if cfg.Compression != "snappy" {
		t.Errorf("Compression = %q, want snappy", cfg.Compression)
	}
	if cfg.SASLMechanism != "PLAIN" || cfg.SASLUser != "alerts" || cfg.SASLPassword != "secret" {
		t.Errorf("SASL config not picked up: %+v", cfg)
	}
	if cfg.TLSCAPath != "/etc/ssl/ca.pem" || !cfg.TLSSkipVerify {
		t.Errorf("TLS config not picked up: %+v", cfg)
	}
}

func TestNewKafkaSinkExplicit(t *testing.T) {
	s := NewKafkaSink([]string{"broker:9092"}, "alerts")
	if s.config.Acks != "all" {
		t.Errorf("Acks = %q, want all", s.config.Acks)
	}
	if s.Name() != "kafka" {
		t.Errorf("Name() = %q, want kafka", s.Name())
	}
}

func TestKafkaSinkEnqueueBeforeStart(t *testing.T) {
	s := NewKafkaSink([]string{"broker:9092"}, "alerts")
	if err := s.Enqueue(testNotification("early")); err == nil {
		t.Fatal("expected error before Start")
	}
}

func TestKafkaSinkCloseWithoutStart(t *testing.T) {
	s := NewKafkaSink([]string{"broker:9092"}, "alerts")
	if err := s.Close(); err != nil {
		t.Fatalf("Close on unstarted sink failed: %v", err)
	}
}
