package httputil

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestClientSingleton(t *testing.T) {
	c1 := Client(TierDeliver)
	c2 := Client(TierDeliver)
	if c1 != c2 {
		t.Error("Client() should return the same instance for the same tier")
	}

	if Client(TierProbe) == Client(TierDeliver) {
		t.Error("different tiers should return different clients")
	}
}

func TestClientTimeouts(t *testing.T) {
	tests := []struct {
		tier    TimeoutTier
		want    time.Duration
		getFunc func() *http.Client
	}{
		{TierProbe, 5 * time.Second, ProbeClient},
		{TierDeliver, 15 * time.Second, DeliverClient},
	}

	for _, tt := range tests {
		c := tt.getFunc()
		if c.Timeout != tt.want {
			t.Errorf("tier %d: got timeout %v, want %v", tt.tier, c.Timeout, tt.want)
		}
	}
}

func TestClientConnectionReuse(t *testing.T) {
	var reqCount int
	var mu sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reqCount++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := DeliverClient()
	for i := range 10 {
		resp, err := client.Get(server.URL)
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		DrainAndClose(resp.Body)
	}

	mu.Lock()
	defer mu.Unlock()
	if reqCount != 10 {
		t.Errorf("server saw %d requests, want 10", reqCount)
	}
}

func TestReadResponseBody(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		maxSize int64
		wantLen int
	}{
		{"normal read", "delivered", 1024, 9},
		{"truncated read", strings.Repeat("x", 1000), 100, 100},
		{"default max size", "ack", 0, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadResponseBody(strings.NewReader(tt.input), tt.maxSize)
			if err != nil {
				t.Fatalf("ReadResponseBody() error = %v", err)
			}
			if len(got) != tt.wantLen {
				t.Errorf("ReadResponseBody() len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestReadErrorBodyTruncates(t *testing.T) {
	huge := strings.Repeat("receiver error page ", 10000) // ~200KB
	got, err := ReadErrorBody(strings.NewReader(huge))
	if err != nil {
		t.Fatalf("ReadErrorBody() error = %v", err)
	}
	if len(got) > 64*1024 {
		t.Errorf("ReadErrorBody() returned %d bytes, want at most 64KB", len(got))
	}
}

func TestDrainAndClose(t *testing.T) {
	r := &trackingReader{Reader: bytes.NewReader([]byte("leftover body"))}
	DrainAndClose(io.NopCloser(r))
	if !r.fullyRead {
		t.Error("DrainAndClose should fully drain the body")
	}
}

type trackingReader struct {
	io.Reader
	fullyRead bool
}

func (r *trackingReader) Read(p []byte) (n int, err error) {
	n, err = r.Reader.Read(p)
	if err == io.EOF {
		r.fullyRead = true
	}
	return
}

func TestDrainAndCloseNil(t *testing.T) {
	DrainAndClose(nil)
}
