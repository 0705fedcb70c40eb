package detect

import (
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/patterns"
)

// FeatureCount is the fixed width of every feature vector. The slot order
// in ToSlice is part of the classifier contract and must never change.
const FeatureCount = 22

// Normalization scales for the bounded feature encodings.
const (
	lengthScale        = 256.0 // runes mapped to [0,1]
	entropyScale       = 6.0   // bits per rune mapped to [0,1]
	windowMessageScale = 20.0  // messages per window considered saturated
	burstRateScale     = 5.0   // messages per second considered saturated
	oversizeBytes      = 512   // payload size considered oversized
)

// Package-level compiled regex patterns for shape checks.
// These are compiled once at startup instead of on every call.
var (
	jsonKeyRe    = regexp.MustCompile(`"\s*[\w-]+\s*"\s*:`)
	htmlOpenRe   = regexp.MustCompile(`<\s*[a-zA-Z][^>]*>`)
	htmlCloseRe  = regexp.MustCompile(`</\s*[a-zA-Z]+\s*>`)
	hexEscapeRe  = regexp.MustCompile(`\\x[0-9a-fA-F]{2}`)
	pctEscapeRe  = regexp.MustCompile(`%[0-9a-fA-F]{2}`)
	hexLiteralRe = regexp.MustCompile(`\b0x[0-9a-fA-F]{8,}\b`)
)

// FeatureVector holds the 22 deterministic signals extracted per message.
// Slots 0-4 describe content shape, 5-8 timing, 9-14 structural and keyword
// signals, 15-21 sender history. All values are bounded to [0,1].
type FeatureVector struct {
	NormLength        float64 `json:"normLength"`        // 0: normalized text length
	DigitRatio        float64 `json:"digitRatio"`        // 1: digit runes / total runes
	SymbolRatio       float64 `json:"symbolRatio"`       // 2: symbol runes / total runes
	NonPrintable      float64 `json:"nonPrintable"`      // 3: non-printable runes / total runes
	Entropy           float64 `json:"entropy"`           // 4: Shannon entropy of raw content
	Recency           float64 `json:"recency"`           // 5: closeness to the sender's previous message
	HourCycle         float64 `json:"hourCycle"`         // 6: UTC hour of day
	DayCycle          float64 `json:"dayCycle"`          // 7: UTC day of week
	Frequency         float64 `json:"frequency"`         // 8: window fill level
	JSONShape         float64 `json:"jsonShape"`         // 9: JSON object structure
	HTMLShape         float64 `json:"htmlShape"`         // 10: HTML tag structure
	HexEncoding       float64 `json:"hexEncoding"`       // 11: hex and percent escape density
	CommandKeyword    float64 `json:"commandKeyword"`    // 12: command keyword matches
	URLPresence       float64 `json:"urlPresence"`       // 13: URL present
	CredentialKeyword float64 `json:"credentialKeyword"` // 14: credential keyword matches
	AvgLength         float64 `json:"avgLength"`         // 15: sender mean message length
	AvgEntropy        float64 `json:"avgEntropy"`        // 16: sender mean entropy
	Repetition        float64 `json:"repetition"`        // 17: identical-content share of window
	CommandRate       float64 `json:"commandRate"`       // 18: command share of window
	DirectionFlip     float64 `json:"directionFlip"`     // 19: direction alternation rate
	SustainedVolume   float64 `json:"sustainedVolume"`   // 20: sustained message rate
	OversizeRecent    float64 `json:"oversizeRecent"`    // 21: oversized share of window
}

// ToSlice returns the vector in pinned slot order.
func (v FeatureVector) ToSlice() []float64 {
	return []float64{
		v.NormLength, v.DigitRatio, v.SymbolRatio, v.NonPrintable, v.Entropy,
		v.Recency, v.HourCycle, v.DayCycle, v.Frequency,
		v.JSONShape, v.HTMLShape, v.HexEncoding, v.CommandKeyword, v.URLPresence, v.CredentialKeyword,
		v.AvgLength, v.AvgEntropy, v.Repetition, v.CommandRate, v.DirectionFlip, v.SustainedVolume, v.OversizeRecent,
	}
}

// ToFloat32 returns the vector as float32 for model input.
func (v FeatureVector) ToFloat32() []float32 {
	s := v.ToSlice()
	out := make([]float32, len(s))
	for i, f := range s {
		out[i] = float32(f)
	}
	return out
}

// FeatureExtractor turns messages and tracker snapshots into feature
// vectors. Extraction is pure: the same message, normalized text, and
// snapshot always yield the same vector.
type FeatureExtractor struct {
	registry *patterns.Registry
}

func NewFeatureExtractor() *FeatureExtractor {
	return &FeatureExtractor{registry: patterns.Get()}
}

// BuildRecord derives the tracked footprint for a message. The caller is
// expected to have defaulted the timestamp already.
func (e *FeatureExtractor) BuildRecord(msg Message, normText string) MessageRecord {
	size := msg.SizeBytes
	if size == 0 {
		size = len(msg.Content)
	}
	return MessageRecord{
		Timestamp: msg.Timestamp,
		Direction: msg.Direction,
		Length:    utf8.RuneCountInString(msg.Content),
		SizeBytes: size,
		Entropy:   shannonEntropy(msg.Content),
		IsCommand: e.registry.MatchAny(normText, patterns.CategoryCommand) != nil,
		Hash:      contentHash(normText),
	}
}

// Extract computes the full feature vector. Content slots stay at their
// neutral zero for empty messages; timing and history slots still populate
// so volume anomalies remain visible.
func (e *FeatureExtractor) Extract(msg Message, normText string, stats DeviceStats) FeatureVector {
	var v FeatureVector

	if normText != "" {
		raw := msg.Content
		runes, digits, symbols, nonPrintable := 0, 0, 0, 0
		for _, r := range raw {
			runes++
			switch {
			case unicode.IsDigit(r):
				digits++
			case unicode.IsControl(r) || !unicode.IsPrint(r):
				nonPrintable++
			case !unicode.IsLetter(r) && !unicode.IsSpace(r):
				symbols++
			}
		}

		v.NormLength = clamp01(float64(utf8.RuneCountInString(normText)) / lengthScale)
		v.DigitRatio = ratio(digits, runes)
		v.SymbolRatio = ratio(symbols, runes)
		v.NonPrintable = ratio(nonPrintable, runes)
		v.Entropy = clamp01(shannonEntropy(raw) / entropyScale)

		v.JSONShape = jsonShape(normText)
		v.HTMLShape = htmlShape(normText)
		v.HexEncoding = hexEncoding(normText)
		v.CommandKeyword = signalLevel(len(e.registry.MatchAll(normText, patterns.CategoryCommand)))
		v.URLPresence = boolFeature(e.registry.MatchAny(normText, patterns.CategoryURL) != nil)
		v.CredentialKeyword = signalLevel(len(e.registry.MatchAll(normText, patterns.CategoryCredential)))
	}

	if !msg.Timestamp.IsZero() {
		utc := msg.Timestamp.UTC()
		v.HourCycle = float64(utc.Hour()) / 23.0
		v.DayCycle = float64(utc.Weekday()) / 6.0
	}

	n := len(stats.History)
	if n > 0 {
		v.AvgLength = clamp01(stats.AvgLength / lengthScale)
		v.AvgEntropy = clamp01(stats.AvgEntropy / entropyScale)
		v.Frequency = clamp01(float64(n) / windowMessageScale)

		cur := stats.History[n-1]
		prev := stats.History[:n-1]
		if len(prev) > 0 {
			gap := cur.Timestamp.Sub(prev[len(prev)-1].Timestamp)
			if gap < 0 {
				gap = 0
			}
			v.Recency = 1.0 / (1.0 + gap.Seconds())

			same := 0
			for _, r := range prev {
				if r.Hash == cur.Hash {
					same++
				}
			}
			v.Repetition = ratio(same, len(prev))
		}

		cmds, oversize, flips := 0, 0, 0
		for i, r := range stats.History {
			if r.IsCommand {
				cmds++
			}
			if r.SizeBytes > oversizeBytes {
				oversize++
			}
			if i > 0 && r.Direction != "" && stats.History[i-1].Direction != "" && r.Direction != stats.History[i-1].Direction {
				flips++
			}
		}
		v.CommandRate = ratio(cmds, n)
		v.OversizeRecent = ratio(oversize, n)
		if n > 1 {
			v.DirectionFlip = ratio(flips, n-1)
		}

		// Sustained rate needs a few messages before it means anything
		if n >= 3 {
			span := stats.History[n-1].Timestamp.Sub(stats.History[0].Timestamp).Seconds()
			if span < 1 {
				span = 1
			}
			v.SustainedVolume = clamp01((float64(n) / span) / burstRateScale)
		}
	}

	return v
}

func jsonShape(s string) float64 {
	score := 0.0
	if strings.Contains(s, "{") && strings.Contains(s, "}") {
		score += 0.4
	}
	if jsonKeyRe.MatchString(s) {
		score += 0.6
	}
	return clamp01(score)
}

func htmlShape(s string) float64 {
	score := 0.0
	if htmlOpenRe.MatchString(s) {
		score += 0.6
	}
	if htmlCloseRe.MatchString(s) {
		score += 0.4
	}
	return clamp01(score)
}

func hexEncoding(s string) float64 {
	score := 0.0
	if n := len(hexEscapeRe.FindAllString(s, -1)); n > 0 {
		score += float64(n) / 6.0
	}
	if n := len(pctEscapeRe.FindAllString(s, -1)); n > 0 {
		score += float64(n) / 16.0
	}
	if hexLiteralRe.MatchString(s) {
		score += 0.3
	}
	return clamp01(score)
}

// signalLevel grades keyword match counts: one match is a half signal,
// two or more saturate.
func signalLevel(n int) float64 {
	return clamp01(float64(n) / 2.0)
}

func boolFeature(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

func ratio(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// shannonEntropy returns the Shannon entropy of the rune distribution in
// bits per rune. Empty input yields zero.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	total := 0
	for _, r := range s {
		counts[r]++
		total++
	}
	entropy := 0.0
	for _, c := range counts {
		p := float64(c) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// contentHash is the FNV-1a digest of the normalized text, used for
// repetition detection without retaining message content.
func contentHash(normText string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(normText))
	return h.Sum64()
}
