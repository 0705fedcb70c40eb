package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds global settings for the detection engine and its gateway.
// All settings can be configured via environment variables or programmatically.
type Config struct {
	// === Detection Thresholds (0.0 - 1.0) ===
	// Tune these to balance sensitivity vs. false positives
	RuleThreshold        float64 // Rule score above this = rule-based attack verdict (default: 0.55)
	HighConfidenceCutoff float64 // Rule score above this wins fusion outright (default: 0.80)
	ClassifierThreshold  float64 // Classifier confidence required for a model-only verdict (default: 0.70)

	// === Time Windows ===
	Cooldown       time.Duration // Minimum interval between notifications for one (sender, type) pair (default: 30s)
	HistoryWindow  time.Duration // Per-sender message history retention (default: 60s)
	GroupingWindow time.Duration // Recency bound for sampled messages in an attack group (default: 10s)

	// === Attack Score Decay ===
	DecayFactor   float64       // Multiplier applied to attackScore per decay interval (default: 0.9)
	DecayInterval time.Duration // Elapsed time per decay step (default: 10s)
	SweepInterval time.Duration // Background prune/decay sweep period (default: 30s)

	// === Capacity Policy ===
	MaxHistoryPerSender int // Hard cap on retained history entries per sender (default: 64)
	MaxTrackedDevices   int // Soft cap on tracked senders before the sweep evicts idle ones (default: 5000)

	// === Classifier ===
	ClassifierTimeout  time.Duration // Per-call inference budget; exceeding it means unavailable (default: 250ms)
	ModelPath          string        // Path to an ONNX model file; empty = auto-detect under ./models
	OnnxLibraryPath    string        // Path to the onnxruntime shared library; empty = runtime default
	EnableSeedFallback bool          // Use the exemplar vector classifier when no ONNX model loads (default: true)

	// === Rule Table ===
	RulesPath string // Path to a rules.yaml override; empty = search config dirs, fall back to built-ins

	// === Notifications ===
	NotifyQueueSize int      // Bounded dispatcher queue; overflow drops the oldest entry (default: 256)
	Sinks           []string // Enabled notification sinks: log, redis, kafka, postgres, webhook (default: log)

	// === Gateway ===
	MaxConcurrentAnalyze int // Concurrent /analyze requests before load-shedding (default: 64)
}

// NewDefaultConfig creates a Config with sensible defaults.
// All settings can be overridden via environment variables.
func NewDefaultConfig() *Config {
	cfg := &Config{
		// Thresholds - tune these based on your false positive tolerance
		RuleThreshold:        GetEnvFloat("BTIDS_RULE_THRESHOLD", 0.55),
		HighConfidenceCutoff: GetEnvFloat("BTIDS_HIGH_CONFIDENCE", 0.80),
		ClassifierThreshold:  GetEnvFloat("BTIDS_CLASSIFIER_THRESHOLD", 0.70),

		// Windows
		Cooldown:       GetEnvDurationMs("BTIDS_COOLDOWN_MS", 30*time.Second),
		HistoryWindow:  GetEnvDurationMs("BTIDS_HISTORY_WINDOW_MS", 60*time.Second),
		GroupingWindow: GetEnvDurationMs("BTIDS_GROUPING_WINDOW_MS", 10*time.Second),

		// Decay
		DecayFactor:   GetEnvFloat("BTIDS_DECAY_FACTOR", 0.9),
		DecayInterval: GetEnvDurationMs("BTIDS_DECAY_INTERVAL_MS", 10*time.Second),
		SweepInterval: GetEnvDurationMs("BTIDS_SWEEP_INTERVAL_MS", 30*time.Second),

		// Capacity
		MaxHistoryPerSender: clampInt(GetEnvInt("BTIDS_MAX_HISTORY", 64), 4, 4096),
		MaxTrackedDevices:   clampInt(GetEnvInt("BTIDS_MAX_DEVICES", 5000), 16, 1<<20),

		// Classifier
		ClassifierTimeout:  GetEnvDurationMs("BTIDS_CLASSIFIER_TIMEOUT_MS", 250*time.Millisecond),
		ModelPath:          GetEnv("BTIDS_MODEL_PATH", ""),
		OnnxLibraryPath:    GetEnv("BTIDS_ONNX_LIB", ""),
		EnableSeedFallback: GetEnvBool("BTIDS_SEED_FALLBACK", true),

		// Rule table
		RulesPath: GetEnv("BTIDS_RULES_PATH", ""),

		// Notifications
		NotifyQueueSize: clampInt(GetEnvInt("BTIDS_NOTIFY_QUEUE_SIZE", 256), 1, 65536),
		Sinks:           GetEnvSlice("BTIDS_SINKS", []string{"log"}),

		// Gateway
		MaxConcurrentAnalyze: clampInt(GetEnvInt("BTIDS_MAX_CONCURRENT", 64), 1, 4096),
	}

	return cfg
}

// NewHighSensitivityConfig creates a Config that flags earlier and notifies
// more often (may produce more false positives).
func NewHighSensitivityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.RuleThreshold = 0.40
	cfg.ClassifierThreshold = 0.55
	cfg.HighConfidenceCutoff = 0.70
	cfg.Cooldown = 15 * time.Second
	return cfg
}

// NewConservativeConfig creates a Config that minimizes false positives at
// the cost of missing borderline cases.
func NewConservativeConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.RuleThreshold = 0.70
	cfg.ClassifierThreshold = 0.85
	cfg.Cooldown = 60 * time.Second
	return cfg
}

// clampInt ensures a value is within bounds
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

func clampFloat(val, min, max float64) float64 {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// Validate checks threshold and window sanity, clamping recoverable values
// and returning an error only for settings that cannot be repaired.
func (c *Config) Validate() error {
	c.RuleThreshold = clampFloat(c.RuleThreshold, 0, 1)
	c.HighConfidenceCutoff = clampFloat(c.HighConfidenceCutoff, 0, 1)
	c.ClassifierThreshold = clampFloat(c.ClassifierThreshold, 0, 1)

	if c.HighConfidenceCutoff < c.RuleThreshold {
		// A cutoff below the rule threshold would make every rule verdict "high confidence".
		c.HighConfidenceCutoff = c.RuleThreshold
	}

	if c.DecayFactor <= 0 || c.DecayFactor >= 1 {
		return fmt.Errorf("decay factor must be in (0, 1), got %v", c.DecayFactor)
	}

	for name, d := range map[string]time.Duration{
		"cooldown":        c.Cooldown,
		"history window":  c.HistoryWindow,
		"grouping window": c.GroupingWindow,
		"decay interval":  c.DecayInterval,
		"sweep interval":  c.SweepInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}

	if c.ClassifierTimeout <= 0 {
		return fmt.Errorf("classifier timeout must be positive, got %v", c.ClassifierTimeout)
	}

	return nil
}

// MustValidate calls Validate and fatally exits if validation fails.
// Call this at startup before starting the server.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		log.Fatalf("[STARTUP] FATAL: Configuration validation failed: %v", err)
	}
	log.Println("[STARTUP] Configuration validated successfully")
}

// Helper functions for environment variable parsing
// These are exported for use by other packages (e.g., pkg/alert, pkg/bridge)

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvDurationMs interprets an environment variable as a millisecond count
// and returns it as a duration, or a default value.
func GetEnvDurationMs(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		ms, err := strconv.Atoi(v)
		if err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

// GetEnvSlice returns a comma-separated list from an environment variable or a default value.
func GetEnvSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}
