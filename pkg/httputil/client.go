// Package httputil provides the shared HTTP plumbing for the gateway and
// the webhook notification sink: pooled clients per timeout tier, bounded
// response reading, and analysis load-shedding.
package httputil

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// MaxResponseSize caps how much of any response body gets read. Webhook
// receivers and health endpoints answer with small payloads; anything
// larger is a misconfigured or hostile endpoint.
const MaxResponseSize = 1 * 1024 * 1024 // 1MB

// Shared transport with connection pooling. Safe for concurrent use; both
// tiers reuse the same TCP connections to a given webhook host.
var sharedTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          64,
	MaxIdleConnsPerHost:   8,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

// TimeoutTier selects a client budget by operation type.
type TimeoutTier int

const (
	// TierProbe for health checks and reachability probes (5s)
	TierProbe TimeoutTier = iota
	// TierDeliver for webhook notification delivery (15s)
	TierDeliver
)

var timeoutDurations = map[TimeoutTier]time.Duration{
	TierProbe:   5 * time.Second,
	TierDeliver: 15 * time.Second,
}

// Singleton clients per tier - initialized once, shared everywhere.
var (
	clientProbe   *http.Client
	clientDeliver *http.Client
	clientOnce    sync.Once
)

func initClients() {
	clientProbe = &http.Client{
		Timeout:   timeoutDurations[TierProbe],
		Transport: sharedTransport,
	}
	clientDeliver = &http.Client{
		Timeout:   timeoutDurations[TierDeliver],
		Transport: sharedTransport,
	}
}

// Client returns the shared HTTP client for the given tier. Use these
// instead of constructing http.Client per request so deliveries reuse the
// connection pool.
func Client(tier TimeoutTier) *http.Client {
	clientOnce.Do(initClients)
	if tier == TierProbe {
		return clientProbe
	}
	return clientDeliver
}

// ProbeClient returns the 5s client for health and reachability checks.
func ProbeClient() *http.Client {
	return Client(TierProbe)
}

// DeliverClient returns the 15s client for webhook delivery.
func DeliverClient() *http.Client {
	return Client(TierDeliver)
}

// ReadResponseBody reads a response body up to maxSize bytes. A maxSize of
// zero or less applies MaxResponseSize.
func ReadResponseBody(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = MaxResponseSize
	}
	return io.ReadAll(io.LimitReader(r, maxSize))
}

// ReadErrorBody reads a response body for error reporting, capped at 64KB.
// Receiver error pages can be arbitrarily large; logs cannot.
func ReadErrorBody(r io.Reader) ([]byte, error) {
	const maxErrorSize = 64 * 1024
	return io.ReadAll(io.LimitReader(r, maxErrorSize))
}

// DrainAndClose drains and closes a response body so the underlying
// connection returns to the pool.
func DrainAndClose(body io.ReadCloser) {
	if body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
		_ = body.Close()
	}
}
