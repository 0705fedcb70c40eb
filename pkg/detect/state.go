package detect

import (
	"math"
	"sync"
	"time"
)

// ============================================================================
// DEVICE STATE TRACKER
// ============================================================================
// Thread-safe in-memory per-sender state with window-based history pruning
// and a decaying attack score.
//
// Features:
//   - Concurrent-safe access per sender
//   - Sliding time window message trimming
//   - Multiplicative attack score decay, never below zero
//   - Background eviction of idle devices

const (
	// maxAttackScore caps the accumulated per-device score.
	maxAttackScore = 100.0
	// scoreFloor snaps near-zero decayed scores to zero.
	scoreFloor = 0.001
)

type deviceEntry struct {
	history     []MessageRecord
	firstSeen   time.Time
	lastSeen    time.Time
	total       uint64
	attackScore float64
	lastDecay   time.Time
}

// DeviceTracker keeps bounded per-sender message history and rolling attack
// scores. All timestamps flow in from the caller, so decay and pruning are
// deterministic for a given message sequence.
type DeviceTracker struct {
	devices map[string]*deviceEntry
	mu      sync.RWMutex

	// Configuration
	historyWindow time.Duration // History retention per sender
	maxHistory    int           // Hard cap on records per sender
	maxDevices    int           // Hard cap on tracked senders
	decayFactor   float64       // Per-interval attack score multiplier
	decayInterval time.Duration // Attack score decay step
	sweepInterval time.Duration // Background eviction cadence

	evictions uint64

	// Cleanup goroutine control
	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

// TrackerOption is a functional option for configuring DeviceTracker.
type TrackerOption func(*DeviceTracker)

// WithHistoryWindow sets how long message records stay in a sender's window.
func WithHistoryWindow(d time.Duration) TrackerOption {
	return func(t *DeviceTracker) {
		if d > 0 {
			t.historyWindow = d
		}
	}
}

// WithMaxHistory caps the number of records kept per sender.
func WithMaxHistory(n int) TrackerOption {
	return func(t *DeviceTracker) {
		if n > 0 {
			t.maxHistory = n
		}
	}
}

// WithMaxDevices caps the number of tracked senders.
func WithMaxDevices(n int) TrackerOption {
	return func(t *DeviceTracker) {
		if n > 0 {
			t.maxDevices = n
		}
	}
}

// WithDecay sets the attack score decay factor applied per interval.
func WithDecay(factor float64, interval time.Duration) TrackerOption {
	return func(t *DeviceTracker) {
		if factor > 0 && factor < 1 {
			t.decayFactor = factor
		}
		if interval > 0 {
			t.decayInterval = interval
		}
	}
}

// WithSweepInterval sets how often the background eviction runs.
func WithSweepInterval(d time.Duration) TrackerOption {
	return func(t *DeviceTracker) {
		if d > 0 {
			t.sweepInterval = d
		}
	}
}

// NewDeviceTracker creates a tracker and starts its background eviction.
func NewDeviceTracker(opts ...TrackerOption) *DeviceTracker {
	t := &DeviceTracker{
		devices:       make(map[string]*deviceEntry),
		historyWindow: 60 * time.Second,
		maxHistory:    200,
		maxDevices:    4096,
		decayFactor:   0.9,
		decayInterval: 10 * time.Second,
		sweepInterval: 30 * time.Second,
		stopCleanup:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(t)
	}

	// Start background cleanup
	go t.cleanupLoop()

	return t
}

// Record appends a message record to the sender's history, applies pending
// score decay, prunes the window, and returns a snapshot that includes the
// record just added as its last history element.
func (t *DeviceTracker) Record(senderID string, rec MessageRecord) DeviceStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.devices[senderID]
	if !ok {
		if len(t.devices) >= t.maxDevices {
			t.evictOldestLocked()
		}
		e = &deviceEntry{
			firstSeen: rec.Timestamp,
			lastDecay: rec.Timestamp,
		}
		t.devices[senderID] = e
	}

	t.applyDecayLocked(e, rec.Timestamp)

	e.total++
	e.history = append(e.history, rec)
	if rec.Timestamp.After(e.lastSeen) {
		e.lastSeen = rec.Timestamp
	}

	// Window pruning is keyed to the newest timestamp seen, so a record
	// arriving with a timestamp older than the window is dropped at once
	// and out-of-order stragglers cannot reopen a closed window
	cutoff := e.lastSeen.Add(-t.historyWindow)
	kept := e.history[:0]
	for _, r := range e.history {
		if !r.Timestamp.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	e.history = kept

	// Trim to max records (sliding window)
	if len(e.history) > t.maxHistory {
		e.history = e.history[len(e.history)-t.maxHistory:]
	}

	return t.snapshotLocked(senderID, e)
}

// RaiseAttackScore adds delta to the sender's attack score after applying
// any pending decay, creating the entry if needed. Returns the new score.
func (t *DeviceTracker) RaiseAttackScore(senderID string, delta float64, at time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.devices[senderID]
	if !ok {
		e = &deviceEntry{firstSeen: at, lastDecay: at}
		t.devices[senderID] = e
	}

	t.applyDecayLocked(e, at)

	if delta > 0 {
		e.attackScore += delta
		if e.attackScore > maxAttackScore {
			e.attackScore = maxAttackScore
		}
	}
	return e.attackScore
}

// Stats returns a snapshot for one sender without mutating any state. The
// attack score is reported as of the sender's last recorded activity.
func (t *DeviceTracker) Stats(senderID string) (DeviceStats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.devices[senderID]
	if !ok {
		return DeviceStats{}, false
	}
	return t.snapshotLocked(senderID, e), true
}

// Clear removes all tracked state for one sender. Returns whether the
// sender was known.
func (t *DeviceTracker) Clear(senderID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.devices[senderID]
	delete(t.devices, senderID)
	return ok
}

// Reset drops all tracked devices.
func (t *DeviceTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.devices = make(map[string]*deviceEntry)
}

// Len returns the number of tracked senders.
func (t *DeviceTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.devices)
}

// Close stops the cleanup goroutine.
func (t *DeviceTracker) Close() {
	t.cleanupOnce.Do(func() {
		close(t.stopCleanup)
	})
}

// applyDecayLocked advances the sender's attack score decay up to the given
// reference time. Decay only moves forward; stale timestamps are ignored.
func (t *DeviceTracker) applyDecayLocked(e *deviceEntry, at time.Time) {
	if e.lastDecay.IsZero() {
		e.lastDecay = at
		return
	}
	if e.attackScore <= 0 || !at.After(e.lastDecay) {
		return
	}

	steps := int(at.Sub(e.lastDecay) / t.decayInterval)
	if steps <= 0 {
		return
	}

	e.attackScore *= math.Pow(t.decayFactor, float64(steps))
	if e.attackScore < scoreFloor {
		e.attackScore = 0
	}
	e.lastDecay = e.lastDecay.Add(time.Duration(steps) * t.decayInterval)
}

func (t *DeviceTracker) snapshotLocked(senderID string, e *deviceEntry) DeviceStats {
	stats := DeviceStats{
		SenderID:      senderID,
		MessageCount:  len(e.history),
		TotalMessages: e.total,
		FirstSeen:     e.firstSeen,
		LastSeen:      e.lastSeen,
		AttackScore:   e.attackScore,
	}

	if len(e.history) > 0 {
		var sumLen, sumEntropy float64
		var sumGapMs float64
		for i, r := range e.history {
			sumLen += float64(r.Length)
			sumEntropy += r.Entropy
			if i > 0 {
				if gap := r.Timestamp.Sub(e.history[i-1].Timestamp); gap > 0 {
					sumGapMs += float64(gap.Milliseconds())
				}
			}
		}
		n := float64(len(e.history))
		stats.AvgLength = sumLen / n
		stats.AvgEntropy = sumEntropy / n
		if len(e.history) > 1 {
			stats.AvgIntervalMs = sumGapMs / (n - 1)
		}

		stats.History = make([]MessageRecord, len(e.history))
		copy(stats.History, e.history)
	}

	return stats
}

// evictOldestLocked drops the least recently seen sender to stay under the
// device cap.
func (t *DeviceTracker) evictOldestLocked() {
	var oldestID string
	var oldestSeen time.Time
	first := true
	for id, e := range t.devices {
		if first || e.lastSeen.Before(oldestSeen) {
			oldestID, oldestSeen = id, e.lastSeen
			first = false
		}
	}
	if oldestID != "" {
		delete(t.devices, oldestID)
		t.evictions++
	}
}

// cleanupLoop periodically evicts idle devices.
func (t *DeviceTracker) cleanupLoop() {
	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.cleanup()
		case <-t.stopCleanup:
			return
		}
	}
}

// cleanup removes devices idle for several windows whose score has decayed
// away. Devices with a live attack score stay tracked.
func (t *DeviceTracker) cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	idleAfter := 4 * t.historyWindow
	for id, e := range t.devices {
		if now.Sub(e.lastSeen) > idleAfter && e.attackScore < 0.05 {
			delete(t.devices, id)
			t.evictions++
		}
	}
}

// TrackerStats contains tracker-wide statistics.
type TrackerStats struct {
	DeviceCount   int    `json:"device_count"`
	TotalRecords  int    `json:"total_records"`
	Evictions     uint64 `json:"evictions"`
	MaxDevices    int    `json:"max_devices"`
	WindowSeconds int    `json:"window_seconds"`
}

// StoreStats returns tracker-wide statistics.
func (t *DeviceTracker) StoreStats() TrackerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := TrackerStats{
		DeviceCount:   len(t.devices),
		Evictions:     t.evictions,
		MaxDevices:    t.maxDevices,
		WindowSeconds: int(t.historyWindow.Seconds()),
	}
	for _, e := range t.devices {
		stats.TotalRecords += len(e.history)
	}
	return stats
}
