package detect

import (
	"testing"
	"time"
)

var featureBase = time.Date(2025, 6, 12, 14, 30, 0, 0, time.UTC)

func extractOne(t *testing.T, e *FeatureExtractor, content string, ts time.Time) FeatureVector {
	t.Helper()
	msg := Message{SenderID: "AA:BB:CC:DD:EE:01", Content: content, Direction: DirectionReceived, Timestamp: ts}
	normText := Normalize(content)
	rec := e.BuildRecord(msg, normText)
	stats := DeviceStats{
		SenderID:     msg.SenderID,
		MessageCount: 1,
		AvgLength:    float64(rec.Length),
		AvgEntropy:   rec.Entropy,
		History:      []MessageRecord{rec},
	}
	return e.Extract(msg, normText, stats)
}

func TestExtractDeterministic(t *testing.T) {
	e := NewFeatureExtractor()
	content := `URGENT: verify now at http://x.co {"command": "run"}`

	a := extractOne(t, e, content, featureBase)
	b := extractOne(t, e, content, featureBase)

	as, bs := a.ToSlice(), b.ToSlice()
	for i := range as {
		if as[i] != bs[i] {
			t.Errorf("slot %d differs across identical extractions: %v vs %v", i, as[i], bs[i])
		}
	}
}

func TestExtractBounded(t *testing.T) {
	e := NewFeatureExtractor()
	contents := []string{
		"Hello, how are you today?",
		`{ "command": "delete_files", "target": "*" }`,
		"AT+CMGR=1 \\x41\\x41\\x41\\x41\\x41\\x41",
		"1234567890 %41%41%41%41%41%41%41%41",
		"<script>alert(1)</script>",
		"\x00\x01\x02 binary",
		"",
	}

	for _, content := range contents {
		v := extractOne(t, e, content, featureBase)
		for i, f := range v.ToSlice() {
			if f < 0 || f > 1 {
				t.Errorf("content %q slot %d = %v, want [0,1]", content, i, f)
			}
		}
	}
}

func TestToSliceWidth(t *testing.T) {
	var v FeatureVector
	if got := len(v.ToSlice()); got != FeatureCount {
		t.Fatalf("ToSlice length = %d, want %d", got, FeatureCount)
	}
	if got := len(v.ToFloat32()); got != FeatureCount {
		t.Fatalf("ToFloat32 length = %d, want %d", got, FeatureCount)
	}

	v.NormLength = 0.5
	v.OversizeRecent = 0.25
	s := v.ToSlice()
	if s[0] != 0.5 {
		t.Errorf("slot 0 = %v, want NormLength", s[0])
	}
	if s[21] != 0.25 {
		t.Errorf("slot 21 = %v, want OversizeRecent", s[21])
	}
}

func TestEmptyContentNeutral(t *testing.T) {
	e := NewFeatureExtractor()
	v := extractOne(t, e, "   ", featureBase)

	// All content slots must stay at their neutral zero
	contentSlots := map[string]float64{
		"NormLength": v.NormLength, "DigitRatio": v.DigitRatio, "SymbolRatio": v.SymbolRatio,
		"NonPrintable": v.NonPrintable, "Entropy": v.Entropy, "JSONShape": v.JSONShape,
		"HTMLShape": v.HTMLShape, "HexEncoding": v.HexEncoding, "CommandKeyword": v.CommandKeyword,
		"URLPresence": v.URLPresence, "CredentialKeyword": v.CredentialKeyword,
	}
	for name, f := range contentSlots {
		if f != 0 {
			t.Errorf("%s = %v for whitespace-only content, want 0", name, f)
		}
	}

	// Timing slots still populate
	if v.HourCycle == 0 {
		t.Error("HourCycle = 0 for a 14:30 UTC timestamp, want nonzero")
	}
	if v.Frequency == 0 {
		t.Error("Frequency = 0 with one tracked message, want nonzero")
	}
}

func TestStructuralSignals(t *testing.T) {
	e := NewFeatureExtractor()

	v := extractOne(t, e, `{ "command": "delete_files", "target": "*" }`, featureBase)
	if v.JSONShape < 0.9 {
		t.Errorf("JSONShape = %v for command payload, want >= 0.9", v.JSONShape)
	}
	if v.CommandKeyword == 0 {
		t.Error("CommandKeyword = 0 for delete_files payload, want > 0")
	}

	v = extractOne(t, e, "<script>alert(1)</script>", featureBase)
	if v.HTMLShape < 0.9 {
		t.Errorf("HTMLShape = %v for script tag, want >= 0.9", v.HTMLShape)
	}

	v = extractOne(t, e, `payload: \x41\x41\x41\x41\x41\x41\x90\x90`, featureBase)
	if v.HexEncoding < 0.9 {
		t.Errorf("HexEncoding = %v for hex escape run, want >= 0.9", v.HexEncoding)
	}

	v = extractOne(t, e, "see http://x.co for details", featureBase)
	if v.URLPresence != 1.0 {
		t.Errorf("URLPresence = %v for URL message, want 1.0", v.URLPresence)
	}

	v = extractOne(t, e, "send me your password and the verification code", featureBase)
	if v.CredentialKeyword != 1.0 {
		t.Errorf("CredentialKeyword = %v for two credential keywords, want 1.0", v.CredentialKeyword)
	}
}

func TestEntropyOrdering(t *testing.T) {
	low := shannonEntropy("aaaaaaaaaaaaaaaa")
	mid := shannonEntropy("hello how are you")
	high := shannonEntropy("a8#kQz!94vX@w1Ld")

	if !(low < mid && mid < high) {
		t.Errorf("entropy ordering violated: low=%v mid=%v high=%v", low, mid, high)
	}
	if low != 0 {
		t.Errorf("single-rune entropy = %v, want 0", low)
	}
}

func TestHistoryFeatures(t *testing.T) {
	e := NewFeatureExtractor()
	content := "spam spam spam spam"
	normText := Normalize(content)

	// Build a 10-message burst of identical content, 200ms apart
	var history []MessageRecord
	for i := 0; i < 10; i++ {
		msg := Message{
			SenderID:  "AA:BB:CC:DD:EE:02",
			Content:   content,
			Direction: DirectionReceived,
			Timestamp: featureBase.Add(time.Duration(i) * 200 * time.Millisecond),
		}
		history = append(history, e.BuildRecord(msg, normText))
	}

	last := Message{
		SenderID:  "AA:BB:CC:DD:EE:02",
		Content:   content,
		Direction: DirectionReceived,
		Timestamp: history[len(history)-1].Timestamp,
	}
	stats := DeviceStats{
		SenderID:     last.SenderID,
		MessageCount: len(history),
		AvgLength:    float64(history[0].Length),
		AvgEntropy:   history[0].Entropy,
		History:      history,
	}
	v := e.Extract(last, normText, stats)

	if v.Repetition != 1.0 {
		t.Errorf("Repetition = %v for identical burst, want 1.0", v.Repetition)
	}
	if v.Frequency != 0.5 {
		t.Errorf("Frequency = %v for 10 of 20 window messages, want 0.5", v.Frequency)
	}
	if v.SustainedVolume < 0.9 {
		t.Errorf("SustainedVolume = %v for 10 messages in 1.8s, want >= 0.9", v.SustainedVolume)
	}
	if v.Recency < 0.8 {
		t.Errorf("Recency = %v for 200ms gap, want >= 0.8", v.Recency)
	}
}

func TestDirectionFlip(t *testing.T) {
	e := NewFeatureExtractor()
	normText := Normalize("ping")

	var history []MessageRecord
	dirs := []Direction{DirectionReceived, DirectionSent, DirectionReceived, DirectionSent, DirectionReceived}
	for i, d := range dirs {
		msg := Message{
			SenderID:  "AA:BB:CC:DD:EE:03",
			Content:   "ping",
			Direction: d,
			Timestamp: featureBase.Add(time.Duration(i) * time.Second),
		}
		history = append(history, e.BuildRecord(msg, normText))
	}

	last := Message{SenderID: "AA:BB:CC:DD:EE:03", Content: "ping", Direction: DirectionReceived, Timestamp: history[4].Timestamp}
	v := e.Extract(last, normText, DeviceStats{History: history})

	if v.DirectionFlip != 1.0 {
		t.Errorf("DirectionFlip = %v for strict alternation, want 1.0", v.DirectionFlip)
	}
}

func TestBuildRecordHashTracksNormalizedContent(t *testing.T) {
	e := NewFeatureExtractor()
	msg := func(content string) MessageRecord {
		m := Message{SenderID: "AA:BB:CC:DD:EE:04", Content: content, Timestamp: featureBase}
		return e.BuildRecord(m, Normalize(content))
	}

	a := msg("hello world")
	b := msg("hello   world") // same after whitespace collapse
	c := msg("hello there")

	if a.Hash != b.Hash {
		t.Error("normalization-equivalent contents produced different hashes")
	}
	if a.Hash == c.Hash {
		t.Error("different contents produced the same hash")
	}
}

func BenchmarkExtract(b *testing.B) {
	e := NewFeatureExtractor()
	content := `URGENT: verify now at http://x.co {"command": "run", "target": "*"}`
	msg := Message{SenderID: "AA:BB:CC:DD:EE:05", Content: content, Timestamp: featureBase}
	normText := Normalize(content)
	rec := e.BuildRecord(msg, normText)
	stats := DeviceStats{History: []MessageRecord{rec}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Extract(msg, normText, stats)
	}
}
