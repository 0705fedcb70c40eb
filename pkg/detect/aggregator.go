package detect

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	maxSamplesPerGroup = 5
	sampleMaxRunes     = 160
	maxActiveGroups    = 8192
)

var attackDescriptions = map[AttackType]string{
	Spoofing:  "phishing-style social engineering",
	Injection: "command or code injection",
	Flooding:  "message flooding",
	Exploit:   "protocol exploit probe",
	Unknown:   "anomalous traffic",
}

type groupKey struct {
	sender     string
	attackType AttackType
}

// attackGroup tracks one burst of a single attack type from a single
// sender. The burst counters reset when the grouping window lapses, but
// lastNotified survives the reset so a sender cannot dodge the cooldown
// by pausing between bursts.
type attackGroup struct {
	firstSeen     time.Time
	lastSeen      time.Time
	lastNotified  time.Time
	count         int
	samples       []string
	confidenceMax float64
}

// AttackAggregator collapses repeated detections into grouped alerts so a
// flood of hostile messages produces one notification per cooldown period
// instead of one per message.
type AttackAggregator struct {
	mu             sync.Mutex
	groups         map[groupKey]*attackGroup
	cooldown       time.Duration
	groupingWindow time.Duration

	// Cumulative counters. They survive pruning and only Reset clears them.
	totalAttacks  uint64
	notifications uint64
	bySender      map[string]uint64
	byType        map[AttackType]uint64
	lastAttack    time.Time
}

// NewAttackAggregator builds an aggregator. Non-positive durations fall
// back to a 30s cooldown and a 10s grouping window.
func NewAttackAggregator(cooldown, groupingWindow time.Duration) *AttackAggregator {
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if groupingWindow <= 0 {
		groupingWindow = 10 * time.Second
	}
	return &AttackAggregator{
		groups:         make(map[groupKey]*attackGroup),
		cooldown:       cooldown,
		groupingWindow: groupingWindow,
		bySender:       make(map[string]uint64),
		byType:         make(map[AttackType]uint64),
	}
}

// Observe folds one attack verdict into its (sender, type) group and
// reports whether a notification is due. The first observation of a group
// always notifies; later ones notify only after the cooldown lapses, no
// matter how many bursts started in between.
func (a *AttackAggregator) Observe(res AnalysisResult, sample string) (AttackNotification, bool) {
	if !res.IsAttack || res.SenderID == "" {
		return AttackNotification{}, false
	}
	now := res.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key := groupKey{sender: res.SenderID, attackType: res.AttackType}
	g, exists := a.groups[key]
	if !exists {
		if len(a.groups) >= maxActiveGroups {
			a.evictStalestLocked()
		}
		g = &attackGroup{}
		a.groups[key] = g
	} else if now.Sub(g.lastSeen) > a.groupingWindow {
		// New burst: restart the counters, keep the notification clock.
		g.count = 0
		g.firstSeen = time.Time{}
		g.samples = g.samples[:0]
		g.confidenceMax = 0
	}

	if g.firstSeen.IsZero() {
		g.firstSeen = now
	}
	if now.After(g.lastSeen) {
		g.lastSeen = now
	}
	g.count++
	if res.Confidence > g.confidenceMax {
		g.confidenceMax = res.Confidence
	}
	if sample != "" {
		g.samples = append(g.samples, truncateSample(sample))
		if len(g.samples) > maxSamplesPerGroup {
			g.samples = g.samples[1:]
		}
	}

	a.totalAttacks++
	a.bySender[res.SenderID]++
	a.byType[res.AttackType]++
	if now.After(a.lastAttack) {
		a.lastAttack = now
	}

	if !g.lastNotified.IsZero() && now.Sub(g.lastNotified) < a.cooldown {
		return AttackNotification{}, false
	}
	g.lastNotified = now
	a.notifications++

	desc := attackDescriptions[res.AttackType]
	if desc == "" {
		desc = "suspicious traffic"
	}
	n := AttackNotification{
		ID:         uuid.NewString(),
		SenderID:   res.SenderID,
		AttackType: res.AttackType,
		Confidence: g.confidenceMax,
		Count:      g.count,
		FirstSeen:  g.firstSeen,
		LastSeen:   g.lastSeen,
		EmittedAt:  now,
		Message:    fmt.Sprintf("Detected %s from %s (%d message(s) in current burst)", desc, res.SenderID, g.count),
		Samples:    append([]string(nil), g.samples...),
		Indicators: append([]string(nil), res.Indicators...),
	}
	return n, true
}

// Prune drops groups idle for more than twice the cooldown and returns how
// many were removed. Cumulative counters are unaffected.
func (a *AttackAggregator) Prune(now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	stale := 2 * a.cooldown
	removed := 0
	for key, g := range a.groups {
		if now.Sub(g.lastSeen) > stale {
			delete(a.groups, key)
			removed++
		}
	}
	return removed
}

// ClearSender drops every active group for one sender and returns how many
// were removed. The sender's next attack notifies immediately. Cumulative
// counters keep the sender's history until Reset.
func (a *AttackAggregator) ClearSender(senderID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for key := range a.groups {
		if key.sender == senderID {
			delete(a.groups, key)
			removed++
		}
	}
	return removed
}

// Reset clears all groups and all cumulative counters.
func (a *AttackAggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.groups = make(map[groupKey]*attackGroup)
	a.totalAttacks = 0
	a.notifications = 0
	a.bySender = make(map[string]uint64)
	a.byType = make(map[AttackType]uint64)
	a.lastAttack = time.Time{}
}

// Summary reports cumulative attack activity plus the live group count.
func (a *AttackAggregator) Summary() AttackSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	bySender := make(map[string]uint64, len(a.bySender))
	for k, v := range a.bySender {
		bySender[k] = v
	}
	byType := make(map[AttackType]uint64, len(a.byType))
	for k, v := range a.byType {
		byType[k] = v
	}
	return AttackSummary{
		TotalAttacks:  a.totalAttacks,
		Notifications: a.notifications,
		BySender:      bySender,
		ByType:        byType,
		ActiveGroups:  len(a.groups),
		LastAttack:    a.lastAttack,
	}
}

// GroupCount returns the number of live groups.
func (a *AttackAggregator) GroupCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}

func (a *AttackAggregator) evictStalestLocked() {
	var oldestKey groupKey
	var oldest time.Time
	first := true
	for key, g := range a.groups {
		if first || g.lastSeen.Before(oldest) {
			oldestKey, oldest, first = key, g.lastSeen, false
		}
	}
	if !first {
		delete(a.groups, oldestKey)
	}
}

func truncateSample(s string) string {
	runes := []rune(s)
	if len(runes) <= sampleMaxRunes {
		return s
	}
	return string(runes[:sampleMaxRunes]) + "..."
}
