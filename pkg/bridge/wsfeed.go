package bridge

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/config"
)

const (
	initialReconnectDelay = 5 * time.Second
	maxReconnectDelay     = 2 * time.Minute
	reconnectBackoff      = 2.0
	wsPingInterval        = 30 * time.Second
	wsHandshakeTimeout    = 20 * time.Second
	wsWriteTimeout        = 10 * time.Second
)

// WSFeedURL returns the configured WebSocket feed endpoint, or empty if
// the feed is disabled.
func WSFeedURL() string {
	return config.GetEnv("BTIDS_WS_FEED_URL", "")
}

// WSFeed is a WebSocket client for a chat relay firehose with automatic
// reconnection. Each text frame is decoded and handed to the handler.
type WSFeed struct {
	url     string
	handler Handler
	done    chan struct{}
	wg      sync.WaitGroup

	// Reconnect pacing, overridable in tests.
	initialDelay time.Duration
	maxDelay     time.Duration

	// Stats
	messagesReceived uint64
	decodeErrors     uint64
	reconnects       uint64

	// State
	running   atomic.Bool
	connected atomic.Bool
}

// NewWSFeed creates a feed client for the given endpoint.
func NewWSFeed(url string, handler Handler) *WSFeed {
	return &WSFeed{
		url:          url,
		handler:      handler,
		done:         make(chan struct{}),
		initialDelay: initialReconnectDelay,
		maxDelay:     maxReconnectDelay,
	}
}

// Start begins the WebSocket connection in a goroutine.
func (f *WSFeed) Start() error {
	if f.url == "" {
		return fmt.Errorf("ws feed requires BTIDS_WS_FEED_URL")
	}
	if f.handler == nil {
		return fmt.Errorf("ws feed requires a message handler")
	}
	if f.running.Swap(true) {
		return nil
	}

	f.wg.Add(1)
	go f.runLoop()
	log.Printf("[STARTUP] ws feed client started for %s", f.url)
	return nil
}

// Stop gracefully shuts down the client.
func (f *WSFeed) Stop() {
	if !f.running.Swap(false) {
		return
	}
	close(f.done)
	f.wg.Wait()
	log.Printf("[INFO] ws feed client stopped")
}

// Stats returns current statistics.
func (f *WSFeed) Stats() map[string]interface{} {
	return map[string]interface{}{
		"connected":         f.connected.Load(),
		"messages_received": atomic.LoadUint64(&f.messagesReceived),
		"decode_errors":     atomic.LoadUint64(&f.decodeErrors),
		"reconnects":        atomic.LoadUint64(&f.reconnects),
	}
}

func (f *WSFeed) runLoop() {
	defer f.wg.Done()

	reconnectDelay := f.initialDelay

	for f.running.Load() {
		err := f.connectAndStream()
		if err != nil {
			atomic.AddUint64(&f.reconnects, 1)
			log.Printf("[WARN] ws feed connection error: %v, reconnecting in %v", err, reconnectDelay)
		}

		select {
		case <-f.done:
			return
		case <-time.After(reconnectDelay):
			// Exponential backoff
			reconnectDelay = time.Duration(float64(reconnectDelay) * reconnectBackoff)
			if reconnectDelay > f.maxDelay {
				reconnectDelay = f.maxDelay
			}
		}
	}
}

func (f *WSFeed) connectAndStream() error {
	dialer := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
	}

	conn, _, err := dialer.Dial(f.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	f.connected.Store(true)
	defer f.connected.Store(false)
	log.Printf("[INFO] ws feed connected to %s", f.url)

	conn.SetPongHandler(func(string) error {
		return nil
	})

	// Keepalive pings; closing the connection on done unblocks ReadMessage.
	pingDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingDone:
				return
			case <-f.done:
				conn.Close()
				return
			}
		}
	}()
	defer close(pingDone)

	for f.running.Load() {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}

		if messageType != websocket.TextMessage {
			continue
		}

		atomic.AddUint64(&f.messagesReceived, 1)

		m, err := DecodeFrame(payload)
		if err != nil {
			if atomic.AddUint64(&f.decodeErrors, 1)%100 == 1 {
				log.Printf("[WARN] ws feed frame rejected: %v", err)
			}
			continue
		}

		f.handler(m)
	}

	return nil
}
