package detect

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

var trackerBase = time.Date(2025, 6, 12, 9, 0, 0, 0, time.UTC)

func testRecord(ts time.Time, hash uint64, length int) MessageRecord {
	return MessageRecord{
		Timestamp: ts,
		Direction: DirectionReceived,
		Length:    length,
		SizeBytes: length,
		Entropy:   3.0,
		Hash:      hash,
	}
}

func TestRecordSnapshot(t *testing.T) {
	tr := NewDeviceTracker(WithHistoryWindow(time.Minute))
	defer tr.Close()

	sender := "AA:BB:CC:DD:EE:10"
	tr.Record(sender, testRecord(trackerBase, 1, 10))
	tr.Record(sender, testRecord(trackerBase.Add(2*time.Second), 2, 20))
	stats := tr.Record(sender, testRecord(trackerBase.Add(4*time.Second), 3, 30))

	if stats.MessageCount != 3 {
		t.Errorf("MessageCount = %d, want 3", stats.MessageCount)
	}
	if stats.TotalMessages != 3 {
		t.Errorf("TotalMessages = %d, want 3", stats.TotalMessages)
	}
	if got := stats.History[len(stats.History)-1].Hash; got != 3 {
		t.Errorf("last history element hash = %d, want the current record", got)
	}
	if stats.AvgLength != 20 {
		t.Errorf("AvgLength = %v, want 20", stats.AvgLength)
	}
	if stats.AvgIntervalMs != 2000 {
		t.Errorf("AvgIntervalMs = %v, want 2000", stats.AvgIntervalMs)
	}
	if !stats.FirstSeen.Equal(trackerBase) {
		t.Errorf("FirstSeen = %v, want %v", stats.FirstSeen, trackerBase)
	}
	if !stats.LastSeen.Equal(trackerBase.Add(4 * time.Second)) {
		t.Errorf("LastSeen = %v", stats.LastSeen)
	}
}

func TestWindowPruning(t *testing.T) {
	tr := NewDeviceTracker(WithHistoryWindow(10 * time.Second))
	defer tr.Close()

	sender := "AA:BB:CC:DD:EE:11"
	tr.Record(sender, testRecord(trackerBase, 1, 10))
	tr.Record(sender, testRecord(trackerBase.Add(5*time.Second), 2, 10))
	stats := tr.Record(sender, testRecord(trackerBase.Add(15*time.Second), 3, 10))

	if stats.MessageCount != 2 {
		t.Errorf("MessageCount = %d after pruning, want 2", stats.MessageCount)
	}
	if stats.History[0].Hash != 2 {
		t.Errorf("oldest kept hash = %d, want 2", stats.History[0].Hash)
	}
	if stats.TotalMessages != 3 {
		t.Errorf("TotalMessages = %d, pruning must not affect the lifetime count", stats.TotalMessages)
	}
}

func TestStaleRecordDropped(t *testing.T) {
	tr := NewDeviceTracker(WithHistoryWindow(10 * time.Second))
	defer tr.Close()

	sender := "AA:BB:CC:DD:EE:12"
	tr.Record(sender, testRecord(trackerBase.Add(20*time.Second), 1, 10))
	// A straggler far behind the newest seen timestamp is dropped at once
	stats := tr.Record(sender, testRecord(trackerBase, 2, 10))

	if stats.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1 (stale record pruned)", stats.MessageCount)
	}
	if stats.History[0].Hash != 1 {
		t.Errorf("kept hash = %d, want the fresh record", stats.History[0].Hash)
	}
	if !stats.LastSeen.Equal(trackerBase.Add(20 * time.Second)) {
		t.Errorf("LastSeen moved backwards: %v", stats.LastSeen)
	}
}

func TestMaxHistoryBound(t *testing.T) {
	tr := NewDeviceTracker(WithHistoryWindow(time.Hour), WithMaxHistory(5))
	defer tr.Close()

	sender := "AA:BB:CC:DD:EE:13"
	var stats DeviceStats
	for i := 0; i < 10; i++ {
		stats = tr.Record(sender, testRecord(trackerBase.Add(time.Duration(i)*time.Second), uint64(i), 10))
	}

	if stats.MessageCount != 5 {
		t.Errorf("MessageCount = %d, want 5", stats.MessageCount)
	}
	if stats.History[0].Hash != 5 {
		t.Errorf("oldest kept hash = %d, want 5", stats.History[0].Hash)
	}
	if stats.History[4].Hash != 9 {
		t.Errorf("newest kept hash = %d, want 9", stats.History[4].Hash)
	}
}

func TestAttackScoreDecay(t *testing.T) {
	tr := NewDeviceTracker(WithDecay(0.9, 10*time.Second), WithHistoryWindow(time.Hour))
	defer tr.Close()

	sender := "AA:BB:CC:DD:EE:14"
	tr.Record(sender, testRecord(trackerBase, 1, 10))
	score := tr.RaiseAttackScore(sender, 10, trackerBase)
	if score != 10 {
		t.Fatalf("initial score = %v, want 10", score)
	}

	// Each later benign message applies pending decay first
	prev := score
	for i := 1; i <= 5; i++ {
		stats := tr.Record(sender, testRecord(trackerBase.Add(time.Duration(i)*10*time.Second), uint64(i), 10))
		if stats.AttackScore >= prev {
			t.Errorf("step %d: score %v did not strictly decrease from %v", i, stats.AttackScore, prev)
		}
		if stats.AttackScore < 0 {
			t.Errorf("step %d: score %v went negative", i, stats.AttackScore)
		}
		prev = stats.AttackScore
	}

	// 5 intervals at factor 0.9: 10 * 0.9^5
	want := 10 * 0.9 * 0.9 * 0.9 * 0.9 * 0.9
	if diff := prev - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("final score = %v, want %v", prev, want)
	}
}

func TestAttackScoreDecaysToZeroNotNegative(t *testing.T) {
	tr := NewDeviceTracker(WithDecay(0.5, time.Second), WithHistoryWindow(time.Hour))
	defer tr.Close()

	sender := "AA:BB:CC:DD:EE:15"
	tr.RaiseAttackScore(sender, 1, trackerBase)
	score := tr.RaiseAttackScore(sender, 0, trackerBase.Add(time.Hour))

	if score != 0 {
		t.Errorf("score after an hour of decay = %v, want exactly 0", score)
	}
}

func TestAttackScoreCap(t *testing.T) {
	tr := NewDeviceTracker()
	defer tr.Close()

	sender := "AA:BB:CC:DD:EE:16"
	var score float64
	for i := 0; i < 300; i++ {
		score = tr.RaiseAttackScore(sender, 1, trackerBase)
	}
	if score != maxAttackScore {
		t.Errorf("score = %v, want capped at %v", score, maxAttackScore)
	}
}

func TestDecayIgnoresStaleReference(t *testing.T) {
	tr := NewDeviceTracker(WithDecay(0.9, 10*time.Second))
	defer tr.Close()

	sender := "AA:BB:CC:DD:EE:17"
	tr.RaiseAttackScore(sender, 10, trackerBase.Add(time.Minute))
	// A reference time before lastDecay must not change the score
	score := tr.RaiseAttackScore(sender, 0, trackerBase)
	if score != 10 {
		t.Errorf("score = %v after stale reference, want 10", score)
	}
}

func TestClearAndReset(t *testing.T) {
	tr := NewDeviceTracker()
	defer tr.Close()

	tr.Record("dev-a", testRecord(trackerBase, 1, 10))
	tr.Record("dev-b", testRecord(trackerBase, 2, 10))

	if !tr.Clear("dev-a") {
		t.Error("Clear returned false for a known sender")
	}
	if tr.Clear("dev-a") {
		t.Error("Clear returned true for an already-cleared sender")
	}
	if _, ok := tr.Stats("dev-a"); ok {
		t.Error("Stats still returns cleared sender")
	}
	if tr.Len() != 1 {
		t.Errorf("Len = %d, want 1", tr.Len())
	}

	tr.Reset()
	if tr.Len() != 0 {
		t.Errorf("Len after Reset = %d, want 0", tr.Len())
	}
}

func TestMaxDevicesEviction(t *testing.T) {
	tr := NewDeviceTracker(WithMaxDevices(3), WithHistoryWindow(time.Hour))
	defer tr.Close()

	for i := 0; i < 3; i++ {
		sender := fmt.Sprintf("dev-%d", i)
		tr.Record(sender, testRecord(trackerBase.Add(time.Duration(i)*time.Second), uint64(i), 10))
	}
	// Fourth sender evicts dev-0, the least recently seen
	tr.Record("dev-3", testRecord(trackerBase.Add(10*time.Second), 99, 10))

	if tr.Len() != 3 {
		t.Errorf("Len = %d, want 3", tr.Len())
	}
	if _, ok := tr.Stats("dev-0"); ok {
		t.Error("dev-0 still tracked, want evicted as least recently seen")
	}
	if _, ok := tr.Stats("dev-3"); !ok {
		t.Error("dev-3 not tracked after insert")
	}

	if got := tr.StoreStats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

func TestStatsDoesNotMutate(t *testing.T) {
	tr := NewDeviceTracker(WithDecay(0.9, 10*time.Second))
	defer tr.Close()

	sender := "AA:BB:CC:DD:EE:18"
	tr.Record(sender, testRecord(trackerBase, 1, 10))
	tr.RaiseAttackScore(sender, 5, trackerBase)

	a, _ := tr.Stats(sender)
	b, _ := tr.Stats(sender)
	if a.AttackScore != b.AttackScore {
		t.Errorf("repeated Stats reads differ: %v vs %v", a.AttackScore, b.AttackScore)
	}

	// Mutating the returned history must not affect tracker state
	a.History[0].Hash = 777
	c, _ := tr.Stats(sender)
	if c.History[0].Hash == 777 {
		t.Error("snapshot history aliases tracker internals")
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewDeviceTracker()
	defer tr.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			sender := fmt.Sprintf("dev-%d", g%4)
			for i := 0; i < 100; i++ {
				ts := trackerBase.Add(time.Duration(i) * time.Millisecond)
				tr.Record(sender, testRecord(ts, uint64(i), 10))
				tr.RaiseAttackScore(sender, 0.1, ts)
				tr.Stats(sender)
			}
		}(g)
	}
	wg.Wait()

	if tr.Len() != 4 {
		t.Errorf("Len = %d, want 4", tr.Len())
	}
}

func TestBackgroundCleanup(t *testing.T) {
	tr := NewDeviceTracker(WithHistoryWindow(10*time.Millisecond), WithSweepInterval(20*time.Millisecond))
	defer tr.Close()

	tr.Record("idle-dev", testRecord(time.Now().Add(-time.Minute), 1, 10))
	time.Sleep(60 * time.Millisecond)

	if _, ok := tr.Stats("idle-dev"); ok {
		t.Error("idle device survived background cleanup")
	}
}
