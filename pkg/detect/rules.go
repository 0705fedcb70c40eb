package detect

import (
	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/patterns"
)

// RuleVerdict is the rule engine's opinion on one message. Score is the
// best category score in [0,1]; Scores carries all four category scores so
// audit sinks can record the full picture. Safe means a safe phrase
// short-circuited scoring.
type RuleVerdict struct {
	Category   AttackType             `json:"category"`
	Score      float64                `json:"score"`
	Safe       bool                   `json:"safe"`
	Scores     map[AttackType]float64 `json:"scores"`
	Indicators []string               `json:"indicators,omitempty"`
}

// RuleEngine scores messages against the pattern registry. Per category the
// matched pattern weights combine as a noisy-OR, then co-occurring feature
// context boosts the score, so no single weak indicator can cross the alert
// threshold on its own.
type RuleEngine struct {
	registry *patterns.Registry
}

func NewRuleEngine() *RuleEngine {
	return &RuleEngine{registry: patterns.Get()}
}

// categoryLabel maps registry categories onto verdict labels.
func categoryLabel(c patterns.Category) AttackType {
	switch c {
	case patterns.CategorySpoofing:
		return Spoofing
	case patterns.CategoryInjection:
		return Injection
	case patterns.CategoryFlooding:
		return Flooding
	case patterns.CategoryExploit:
		return Exploit
	}
	return Unknown
}

// Evaluate scores the normalized text against every attack category.
// Safe phrases win absolutely: a full safe-phrase match returns a benign
// verdict regardless of sender history.
func (re *RuleEngine) Evaluate(normText string, fv FeatureVector) RuleVerdict {
	verdict := RuleVerdict{
		Category: Normal,
		Scores:   make(map[AttackType]float64, 4),
	}

	if normText != "" && re.registry.IsSafePhrase(normText) {
		verdict.Safe = true
		for _, cat := range patterns.AttackCategories() {
			verdict.Scores[categoryLabel(cat)] = 0
		}
		return verdict
	}

	for _, cat := range patterns.AttackCategories() {
		label := categoryLabel(cat)
		score, indicators := re.scoreCategory(cat, normText, fv)
		verdict.Scores[label] = score
		if score > verdict.Score {
			verdict.Score = score
			verdict.Category = label
			verdict.Indicators = indicators
		}
	}

	if verdict.Score == 0 {
		verdict.Category = Normal
	}
	return verdict
}

func (re *RuleEngine) scoreCategory(cat patterns.Category, normText string, fv FeatureVector) (float64, []string) {
	var matches []*patterns.Pattern
	if normText != "" {
		matches = re.registry.MatchAll(normText, cat)
	}

	weights := make([]float64, 0, len(matches))
	indicators := make([]string, 0, len(matches)+2)
	for _, m := range matches {
		weights = append(weights, m.Weight)
		indicators = append(indicators, m.Name)
	}
	score := noisyOR(weights)

	switch cat {
	case patterns.CategorySpoofing:
		// Phishing patterns get more credible alongside a link or a
		// credential ask
		if score > 0 && (fv.URLPresence > 0 || fv.CredentialKeyword > 0) {
			score = boost(score, 0.25)
			indicators = append(indicators, "link-context")
		}

	case patterns.CategoryInjection:
		if score > 0 && fv.JSONShape >= 0.6 && fv.CommandKeyword > 0 {
			score = boost(score, 0.25)
			indicators = append(indicators, "structured-command")
		}
		if score > 0 && fv.HexEncoding > 0.5 {
			score = boost(score, 0.15)
			indicators = append(indicators, "encoded-payload")
		}

	case patterns.CategoryFlooding:
		// Flooding is mostly behavioral: rate, repetition, and sustained
		// volume from the sender history combine with content markers
		behavioral := clamp01(0.45*fv.Frequency + 0.30*fv.Repetition + 0.25*fv.SustainedVolume + 0.15*fv.OversizeRecent)
		if behavioral > 0 {
			score = 1 - (1-score)*(1-behavioral)
			if fv.Repetition > 0.5 {
				indicators = append(indicators, "repeat-content")
			}
			if fv.SustainedVolume > 0.5 || fv.Frequency > 0.5 {
				indicators = append(indicators, "burst-rate")
			}
			if fv.OversizeRecent > 0.3 {
				indicators = append(indicators, "oversize-payloads")
			}
		}

	case patterns.CategoryExploit:
		if score > 0 && fv.NonPrintable > 0.1 {
			score = boost(score, 0.20)
			indicators = append(indicators, "binary-context")
		}
		if score > 0 && fv.HexEncoding > 0.3 {
			score = boost(score, 0.15)
			indicators = append(indicators, "encoded-payload")
		}
	}

	return clamp01(score), indicators
}

// noisyOR combines independent evidence weights: the result rises with
// every additional match but never reaches 1.
func noisyOR(weights []float64) float64 {
	miss := 1.0
	for _, w := range weights {
		miss *= 1 - clamp01(w)
	}
	return 1 - miss
}

// boost lifts a score by a fraction of its remaining headroom.
func boost(score, amount float64) float64 {
	return score + (1-score)*amount
}
