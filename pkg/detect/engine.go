package detect

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/config"
	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/metrics"
	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/patterns"
)

// attackScoreGain converts a verdict confidence into attack score points.
// A single full-confidence hit raises the sender's score by this much.
const attackScoreGain = 10.0

// ErrMissingSender rejects messages without a sender id. Every tracked
// structure is keyed by sender, so there is nothing useful to do without one.
var ErrMissingSender = errors.New("message has no sender id")

// NotificationPublisher receives attack notifications as they open or
// re-arm. Implementations must not block: Analyze calls Publish inline.
type NotificationPublisher interface {
	Publish(n AttackNotification)
}

type noopPublisher struct{}

func (noopPublisher) Publish(AttackNotification) {}

// Engine wires the full pipeline: normalize, track, extract, score, fuse,
// aggregate. One Engine instance serves all senders and is safe for
// concurrent use.
type Engine struct {
	cfg        *config.Config
	extractor  *FeatureExtractor
	rules      *RuleEngine
	tracker    *DeviceTracker
	classifier *ClassifierAdapter
	fusion     FusionPolicy
	aggregator *AttackAggregator
	publisher  NotificationPublisher
	metrics    *metrics.Metrics

	// onnx is set only when the engine built the classifier itself and
	// therefore owns its lifecycle.
	onnx          *ONNXClassifier
	classifierSet bool

	stopPrune chan struct{}
	closeOnce sync.Once
}

// EngineOption customizes engine construction.
type EngineOption func(*Engine)

// WithClassifier replaces the auto-detected classifier. Passing nil
// disables classification entirely, leaving rule-only detection.
func WithClassifier(c Classifier) EngineOption {
	return func(e *Engine) {
		e.classifierSet = true
		if c == nil {
			e.classifier = nil
			return
		}
		e.classifier = NewClassifierAdapter(c, e.cfg.ClassifierTimeout)
	}
}

// WithPublisher sets the notification destination.
func WithPublisher(p NotificationPublisher) EngineOption {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// NewEngine builds a detection engine from cfg. A nil cfg uses defaults.
// When cfg.RulesPath is set the file must load, the engine will not start
// with half a rule table. Without an explicit classifier option the engine
// probes for an ONNX model and falls back to the seed classifier.
func NewEngine(cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}

	if cfg.RulesPath != "" {
		added, err := patterns.Get().LoadFromFile(cfg.RulesPath)
		if err != nil {
			return nil, fmt.Errorf("load rules file: %w", err)
		}
		if added > 0 {
			log.Printf("[INFO] loaded %d custom rules from %s", added, cfg.RulesPath)
		}
	}

	e := &Engine{
		cfg:       cfg,
		extractor: NewFeatureExtractor(),
		rules:     NewRuleEngine(),
		tracker: NewDeviceTracker(
			WithHistoryWindow(cfg.HistoryWindow),
			WithMaxHistory(cfg.MaxHistoryPerSender),
			WithMaxDevices(cfg.MaxTrackedDevices),
			WithDecay(cfg.DecayFactor, cfg.DecayInterval),
			WithSweepInterval(cfg.SweepInterval),
		),
		fusion:     NewFusionPolicy(cfg.RuleThreshold, cfg.HighConfidenceCutoff, cfg.ClassifierThreshold),
		aggregator: NewAttackAggregator(cfg.Cooldown, cfg.GroupingWindow),
		publisher:  noopPublisher{},
		metrics:    metrics.GetMetrics(),
		stopPrune:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}
	if !e.classifierSet {
		e.classifier = e.buildClassifier()
	}

	go e.pruneLoop()
	return e, nil
}

// buildClassifier picks the best available classifier: a deployed ONNX
// model first, the seed exemplar classifier second, none last.
func (e *Engine) buildClassifier() *ClassifierAdapter {
	if path := e.findModelPath(); path != "" {
		onnx := NewONNXClassifierWithFallback(path, e.cfg.OnnxLibraryPath)
		if onnx.IsReady() {
			e.onnx = onnx
			log.Printf("[INFO] ONNX classifier loaded from %s", path)
			return NewClassifierAdapter(onnx, e.cfg.ClassifierTimeout)
		}
	}
	if e.cfg.EnableSeedFallback {
		seed := NewSeedClassifierWithFallback(e.extractor)
		if seed.IsReady() {
			log.Printf("[INFO] seed classifier active with %d exemplars", seed.SeedCount())
			return NewClassifierAdapter(seed, e.cfg.ClassifierTimeout)
		}
	}
	log.Printf("[WARN] no classifier available, rule-based detection only")
	return nil
}

// findModelPath returns the configured model path or the first default
// location holding a file.
func (e *Engine) findModelPath() string {
	if e.cfg.ModelPath != "" {
		return e.cfg.ModelPath
	}
	for _, cand := range []string{filepath.Join("models", "detector.onnx"), "detector.onnx"} {
		if info, err := os.Stat(cand); err == nil && !info.IsDir() {
			return cand
		}
	}
	return ""
}

// Analyze runs one message through the full pipeline and returns its
// verdict. The message is recorded in the sender's history before scoring,
// so burst features see the current message. Analysis never fails once the
// message has a sender: classifier trouble degrades to rule-only fusion.
func (e *Engine) Analyze(ctx context.Context, msg Message) (AnalysisResult, error) {
	start := time.Now()

	if msg.SenderID == "" {
		return AnalysisResult{}, ErrMissingSender
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.SizeBytes == 0 {
		msg.SizeBytes = len(msg.Content)
	}

	normText := Normalize(msg.Content)
	rec := e.extractor.BuildRecord(msg, normText)
	stats := e.tracker.Record(msg.SenderID, rec)
	fv := e.extractor.Extract(msg, normText, stats)
	rv := e.rules.Evaluate(normText, fv)

	var pred Prediction
	classifierOK := false
	if !rv.Safe && e.classifier.Available() {
		pred, classifierOK = e.classifier.Predict(ctx, fv)
		outcome := "ok"
		if !classifierOK {
			outcome = "unavailable"
		}
		e.metrics.RecordClassifierCall(e.classifier.Name(), outcome)
	}

	category, confidence, source := e.fusion.Fuse(rv, pred, classifierOK)

	res := AnalysisResult{
		SenderID:    msg.SenderID,
		IsAttack:    category.IsAttack(),
		AttackType:  category,
		Confidence:  confidence,
		Source:      source,
		Explanation: explainVerdict(source, category, rv, pred),
		Indicators:  rv.Indicators,
		Timestamp:   msg.Timestamp,
	}

	if res.IsAttack {
		res.AttackScore = e.tracker.RaiseAttackScore(msg.SenderID, confidence*attackScoreGain, msg.Timestamp)
		e.metrics.RecordAttack(string(category))
		if n, notify := e.aggregator.Observe(res, msg.Content); notify {
			res.ShouldNotify = true
			e.metrics.RecordNotification(string(category))
			e.publisher.Publish(n)
		}
	} else {
		res.AttackScore = stats.AttackScore
	}

	e.metrics.ObserveAnalyze(string(category), string(source), time.Since(start))
	e.metrics.SetTrackedDevices(float64(e.tracker.Len()))
	e.metrics.SetActiveGroups(float64(e.aggregator.GroupCount()))

	return res, nil
}

// ClearDevice wipes one sender's tracked history, attack score, and open
// attack groups. Cumulative summary counters are kept; use Reset to zero
// those too. Returns whether the sender was tracked.
func (e *Engine) ClearDevice(senderID string) bool {
	cleared := e.tracker.Clear(senderID)
	e.aggregator.ClearSender(senderID)
	e.metrics.SetTrackedDevices(float64(e.tracker.Len()))
	e.metrics.SetActiveGroups(float64(e.aggregator.GroupCount()))
	return cleared
}

// DeviceStats returns the current snapshot for a sender.
func (e *Engine) DeviceStats(senderID string) (DeviceStats, bool) {
	return e.tracker.Stats(senderID)
}

// Summary returns cumulative attack activity.
func (e *Engine) Summary() AttackSummary {
	return e.aggregator.Summary()
}

// Reset drops all tracked devices, groups, and summary counters.
func (e *Engine) Reset() {
	e.tracker.Reset()
	e.aggregator.Reset()
	e.metrics.SetTrackedDevices(0)
	e.metrics.SetActiveGroups(0)
}

// TrackedDevices returns the number of senders currently tracked.
func (e *Engine) TrackedDevices() int {
	return e.tracker.Len()
}

// ClassifierName identifies the active classifier, or "none".
func (e *Engine) ClassifierName() string {
	return e.classifier.Name()
}

// ClassifierReady reports whether a classifier is loaded and serving.
func (e *Engine) ClassifierReady() bool {
	return e.classifier.Available()
}

// pruneLoop drops attack groups that stayed idle past twice the cooldown.
// The tick matches the cooldown so an idle group lives at most 3x cooldown.
func (e *Engine) pruneLoop() {
	t := time.NewTicker(e.cfg.Cooldown)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if e.aggregator.Prune(time.Now().UTC()) > 0 {
				e.metrics.SetActiveGroups(float64(e.aggregator.GroupCount()))
			}
		case <-e.stopPrune:
			return
		}
	}
}

// Close stops background work and releases classifier resources. Safe to
// call more than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.stopPrune)
		e.tracker.Close()
		if e.onnx != nil {
			e.onnx.Close()
		}
	})
}
