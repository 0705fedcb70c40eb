package detect

import "fmt"

// Default fusion thresholds, used when a caller passes zero values.
const (
	defaultRuleThreshold       = 0.55
	defaultHighCutoff          = 0.80
	defaultClassifierThreshold = 0.70
)

// FusionPolicy merges a rule verdict with a classifier prediction into one
// final call. Decision order:
//
//  1. A safe-phrase match is final and always NORMAL.
//  2. Rules and classifier agreeing on the same category reinforce each
//     other and report a combined confidence.
//  3. Rules at or above the high-confidence cutoff stand on their own.
//  4. A confident classifier overrides mid-band rules, except that a
//     NORMAL prediction cannot cancel rules that cleared the threshold.
//  5. Rules at or above the threshold fire alone.
//  6. Everything else is NORMAL, with confidence shrinking as the rule
//     score approaches the threshold.
type FusionPolicy struct {
	ruleThreshold       float64
	highCutoff          float64
	classifierThreshold float64
}

// NewFusionPolicy builds a policy, substituting defaults for out-of-range
// thresholds. The high cutoff is floored at the rule threshold so the
// decision order stays monotonic.
func NewFusionPolicy(ruleThreshold, highCutoff, classifierThreshold float64) FusionPolicy {
	if ruleThreshold <= 0 || ruleThreshold > 1 {
		ruleThreshold = defaultRuleThreshold
	}
	if highCutoff <= 0 || highCutoff > 1 {
		highCutoff = defaultHighCutoff
	}
	if highCutoff < ruleThreshold {
		highCutoff = ruleThreshold
	}
	if classifierThreshold <= 0 || classifierThreshold > 1 {
		classifierThreshold = defaultClassifierThreshold
	}
	return FusionPolicy{
		ruleThreshold:       ruleThreshold,
		highCutoff:          highCutoff,
		classifierThreshold: classifierThreshold,
	}
}

// RuleThreshold returns the minimum rule score that fires on its own.
func (p FusionPolicy) RuleThreshold() float64 { return p.ruleThreshold }

// Fuse resolves the final category, confidence, and deciding source.
// classifierOK is false when no prediction arrived (unavailable, timeout,
// or error), in which case rules decide alone.
func (p FusionPolicy) Fuse(rv RuleVerdict, pred Prediction, classifierOK bool) (AttackType, float64, DecisionSource) {
	if rv.Safe {
		return Normal, 1.0, SourceSafePhrase
	}

	ruleFires := rv.Category.IsAttack() && rv.Score >= p.ruleThreshold
	classConfident := classifierOK && pred.Confidence >= p.classifierThreshold
	classFires := classConfident && pred.Label.IsAttack()

	if ruleFires && classFires && pred.Label == rv.Category {
		return rv.Category, combineAgreement(rv.Score, pred.Confidence), SourceAgreement
	}

	if rv.Category.IsAttack() && rv.Score >= p.highCutoff {
		return rv.Category, clamp01(rv.Score), SourceRules
	}

	if classFires {
		return pred.Label, clamp01(pred.Confidence), SourceClassifier
	}
	if classConfident && pred.Label == Normal && !ruleFires {
		return Normal, clamp01(pred.Confidence), SourceClassifier
	}

	if ruleFires {
		return rv.Category, clamp01(rv.Score), SourceRules
	}

	return Normal, clamp01(1.0 - rv.Score), SourceRules
}

// explainVerdict renders a one-line account of how the verdict was reached,
// carried on the result for operators and the audit trail.
func explainVerdict(source DecisionSource, category AttackType, rv RuleVerdict, pred Prediction) string {
	switch source {
	case SourceSafePhrase:
		return "matched a known safe phrase"
	case SourceAgreement:
		return fmt.Sprintf("rules (%.2f) and classifier (%.2f) both flag %s", rv.Score, pred.Confidence, category)
	case SourceClassifier:
		if category == Normal {
			return fmt.Sprintf("classifier reports normal traffic (%.2f)", pred.Confidence)
		}
		return fmt.Sprintf("classifier flags %s (%.2f)", category, pred.Confidence)
	case SourceRules:
		if category.IsAttack() {
			return fmt.Sprintf("rules flag %s (%.2f)", category, rv.Score)
		}
		if rv.Score > 0 {
			return fmt.Sprintf("below threshold; strongest signal %s (%.2f)", rv.Category, rv.Score)
		}
		return "no rule signals"
	}
	return ""
}

// combineAgreement boosts the stronger signal by half of the weaker one's
// remaining headroom. The result never drops below either input and never
// exceeds 1.
func combineAgreement(a, b float64) float64 {
	hi, lo := a, b
	if lo > hi {
		hi, lo = lo, hi
	}
	return clamp01(hi + (1.0-hi)*lo*0.5)
}
