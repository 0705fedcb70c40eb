package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/config"
	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/detect"
	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/httputil"
)

// WebhookConfig holds delivery settings for the webhook sink.
type WebhookConfig struct {
	URL       string // receiver endpoint, POSTed one JSON notification per request
	AuthToken string // optional bearer token
	QueueSize int    // pending deliveries before Enqueue reports overflow
}

// WebhookSink POSTs each notification to an HTTP receiver. Deliveries
// run on a background worker so remote latency never reaches the
// dispatcher; Enqueue fails only when the delivery queue overflows.
type WebhookSink struct {
	config WebhookConfig
	client *http.Client
	queue  chan detect.AttackNotification
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool

	delivered uint64
	failed    uint64
	dropped   uint64
}

// NewWebhookSinkFromEnv creates a WebhookSink from environment variables.
func NewWebhookSinkFromEnv() *WebhookSink {
	return NewWebhookSink(WebhookConfig{
		URL:       config.GetEnv("BTIDS_WEBHOOK_URL", ""),
		AuthToken: config.GetEnv("BTIDS_WEBHOOK_TOKEN", ""),
		QueueSize: config.GetEnvInt("BTIDS_WEBHOOK_QUEUE_SIZE", 64),
	})
}

// NewWebhookSink creates a WebhookSink with explicit configuration.
func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &WebhookSink{
		config: cfg,
		queue:  make(chan detect.AttackNotification, cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

func (s *WebhookSink) Start(ctx context.Context) error {
	if s.config.URL == "" {
		return fmt.Errorf("webhook sink requires BTIDS_WEBHOOK_URL")
	}
	u, err := url.Parse(s.config.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid webhook URL %q", s.config.URL)
	}

	if s.client == nil {
		s.client = httputil.DeliverClient()
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.deliverLoop()
	return nil
}

func (s *WebhookSink) Enqueue(n detect.AttackNotification) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return fmt.Errorf("webhook sink not started")
	}

	select {
	case s.queue <- n:
		return nil
	default:
		atomic.AddUint64(&s.dropped, 1)
		return fmt.Errorf("webhook queue full")
	}
}

func (s *WebhookSink) Close() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	return nil
}

func (s *WebhookSink) Name() string { return "webhook" }

// Stats reports delivery counters.
func (s *WebhookSink) Stats() map[string]uint64 {
	return map[string]uint64{
		"delivered": atomic.LoadUint64(&s.delivered),
		"failed":    atomic.LoadUint64(&s.failed),
		"dropped":   atomic.LoadUint64(&s.dropped),
	}
}

func (s *WebhookSink) deliverLoop() {
	defer s.wg.Done()
	for {
		select {
		case n := <-s.queue:
			s.post(n)
		case <-s.done:
			// Flush pending deliveries before exiting.
			for {
				select {
				case n := <-s.queue:
					s.post(n)
				default:
					return
				}
			}
		}
	}
}

func (s *WebhookSink) post(n detect.AttackNotification) {
	payload, err := json.Marshal(n)
	if err != nil {
		atomic.AddUint64(&s.failed, 1)
		log.Printf("[WARN] webhook serialize notification %s: %v", n.ID, err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, s.config.URL, bytes.NewReader(payload))
	if err != nil {
		atomic.AddUint64(&s.failed, 1)
		log.Printf("[WARN] webhook build request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Attack-Type", string(n.AttackType))
	if s.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.AuthToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		atomic.AddUint64(&s.failed, 1)
		log.Printf("[WARN] webhook delivery of %s failed: %v", n.ID, err)
		return
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		atomic.AddUint64(&s.failed, 1)
		body, _ := httputil.ReadErrorBody(resp.Body)
		log.Printf("[WARN] webhook receiver returned %d for %s: %s", resp.StatusCode, n.ID, string(body))
		return
	}

	atomic.AddUint64(&s.delivered, 1)
}
