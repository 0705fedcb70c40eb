// Package detect implements the hybrid detection pipeline for short-range
// wireless chat: deterministic feature extraction, weighted rule scoring,
// per-device state tracking, optional ML classification, and verdict fusion
// with cooldown-gated notifications.
package detect

import "time"

// AttackType labels the outcome of message analysis. NORMAL is the only
// non-attack label. UNKNOWN marks out-of-contract classifier output and is
// treated as an attack.
type AttackType string

const (
	Normal    AttackType = "NORMAL"
	Spoofing  AttackType = "SPOOFING"
	Injection AttackType = "INJECTION"
	Flooding  AttackType = "FLOODING"
	Exploit   AttackType = "EXPLOIT"
	Unknown   AttackType = "UNKNOWN"
)

// IsAttack reports whether the label counts as an attack.
func (t AttackType) IsAttack() bool {
	return t != Normal && t != ""
}

// Valid reports whether t is one of the known labels.
func (t AttackType) Valid() bool {
	switch t {
	case Normal, Spoofing, Injection, Flooding, Exploit, Unknown:
		return true
	}
	return false
}

// Direction marks which side of the link produced a message.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Message is one chat message submitted for analysis. SenderID is the peer
// device address and keys all tracked state; ReceiverID names the other end
// of the link and is carried through for consumers. A zero Timestamp means
// now, a zero SizeBytes falls back to len(Content).
type Message struct {
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId,omitempty"`
	Content    string    `json:"content"`
	Direction  Direction `json:"direction,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	SizeBytes  int       `json:"sizeBytes,omitempty"`
}

// MessageRecord is the tracked footprint of one message. Content is not
// retained; Hash is an FNV-1a digest of the normalized text used for
// repetition checks.
type MessageRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Direction Direction `json:"direction"`
	Length    int       `json:"length"`
	SizeBytes int       `json:"sizeBytes"`
	Entropy   float64   `json:"entropy"`
	IsCommand bool      `json:"isCommand"`
	Hash      uint64    `json:"hash"`
}

// DeviceStats is a point-in-time snapshot of one sender's tracked state.
// History is a copy ordered oldest to newest; a snapshot taken during Record
// includes the current message as the last element.
type DeviceStats struct {
	SenderID      string          `json:"senderId"`
	MessageCount  int             `json:"messageCount"`
	TotalMessages uint64          `json:"totalMessages"`
	FirstSeen     time.Time       `json:"firstSeen"`
	LastSeen      time.Time       `json:"lastSeen"`
	AvgLength     float64         `json:"avgLength"`
	AvgEntropy    float64         `json:"avgEntropy"`
	AvgIntervalMs float64         `json:"avgIntervalMs"`
	AttackScore   float64         `json:"attackScore"`
	History       []MessageRecord `json:"history,omitempty"`
}

// DecisionSource names the pipeline stage that produced a verdict.
type DecisionSource string

const (
	SourceSafePhrase DecisionSource = "safe-phrase"
	SourceRules      DecisionSource = "rules"
	SourceClassifier DecisionSource = "classifier"
	SourceAgreement  DecisionSource = "agreement"
)

// AnalysisResult is the verdict for a single message. IsAttack is true
// exactly when AttackType is not NORMAL. Explanation is a one-line account
// of the deciding signal; Indicators lists the matched pattern names.
type AnalysisResult struct {
	SenderID     string         `json:"senderId"`
	IsAttack     bool           `json:"isAttack"`
	AttackType   AttackType     `json:"attackType"`
	Confidence   float64        `json:"confidence"`
	ShouldNotify bool           `json:"shouldNotify"`
	Source       DecisionSource `json:"source"`
	Explanation  string         `json:"explanation,omitempty"`
	Indicators   []string       `json:"indicators,omitempty"`
	AttackScore  float64        `json:"attackScore"`
	Timestamp    time.Time      `json:"timestamp"`
}

// AttackNotification is the user-facing alert emitted when an attack group
// first opens or its cooldown lapses. Count is the running number of grouped
// messages; Samples holds up to five truncated payload excerpts.
type AttackNotification struct {
	ID         string     `json:"id"`
	SenderID   string     `json:"senderId"`
	AttackType AttackType `json:"attackType"`
	Confidence float64    `json:"confidence"`
	Count      int        `json:"count"`
	FirstSeen  time.Time  `json:"firstSeen"`
	LastSeen   time.Time  `json:"lastSeen"`
	EmittedAt  time.Time  `json:"emittedAt"`
	Message    string     `json:"message"`
	Samples    []string   `json:"samples,omitempty"`
	Indicators []string   `json:"indicators,omitempty"`
}

// AttackSummary aggregates attack activity since startup or the last reset.
// Counts are cumulative and survive group pruning.
type AttackSummary struct {
	TotalAttacks  uint64                `json:"totalAttacks"`
	Notifications uint64                `json:"notifications"`
	BySender      map[string]uint64     `json:"bySender"`
	ByType        map[AttackType]uint64 `json:"byType"`
	ActiveGroups  int                   `json:"activeGroups"`
	LastAttack    time.Time             `json:"lastAttack"`
}
