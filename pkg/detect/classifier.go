package detect

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Prediction is a classifier's opinion on one feature vector.
type Prediction struct {
	Label      AttackType `json:"label"`
	Confidence float64    `json:"confidence"`
}

// ClassLabels is the model output contract: index i of a model's score
// vector corresponds to ClassLabels[i].
var ClassLabels = []AttackType{Normal, Spoofing, Injection, Flooding, Exploit}

// LabelFromIndex maps a model output index to its label. Out-of-contract
// indices map to Unknown.
func LabelFromIndex(i int) AttackType {
	if i < 0 || i >= len(ClassLabels) {
		return Unknown
	}
	return ClassLabels[i]
}

// ErrUnavailable is returned by classifiers that are not ready to serve.
var ErrUnavailable = errors.New("classifier unavailable")

// Classifier produces a category prediction from a feature vector.
// Implementations must be safe for concurrent use.
type Classifier interface {
	Predict(ctx context.Context, fv FeatureVector) (Prediction, error)
	IsReady() bool
	Name() string
}

// ClassifierAdapter normalizes classifier access for the engine: it
// enforces a per-call timeout, recovers panics, clamps confidence, and maps
// out-of-contract labels to Unknown. Every failure mode degrades to
// "unavailable" so the rule path always proceeds.
type ClassifierAdapter struct {
	inner   Classifier
	timeout time.Duration
}

func NewClassifierAdapter(inner Classifier, timeout time.Duration) *ClassifierAdapter {
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	return &ClassifierAdapter{inner: inner, timeout: timeout}
}

// Available reports whether an inner classifier is configured and ready.
func (a *ClassifierAdapter) Available() bool {
	return a != nil && a.inner != nil && a.inner.IsReady()
}

// Name returns the inner classifier's name, or "none".
func (a *ClassifierAdapter) Name() string {
	if a == nil || a.inner == nil {
		return "none"
	}
	return a.inner.Name()
}

// Predict runs the inner classifier under the adapter timeout. ok is false
// when no usable prediction arrived within the deadline.
func (a *ClassifierAdapter) Predict(ctx context.Context, fv FeatureVector) (pred Prediction, ok bool) {
	if !a.Available() {
		return Prediction{}, false
	}

	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type outcome struct {
		pred Prediction
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("classifier panic: %v", r)}
			}
		}()
		p, err := a.inner.Predict(cctx, fv)
		ch <- outcome{pred: p, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			return Prediction{}, false
		}
		return sanitizePrediction(out.pred), true
	case <-cctx.Done():
		return Prediction{}, false
	}
}

// sanitizePrediction clamps confidence and forces unrecognized labels to
// Unknown so a broken model cannot smuggle arbitrary categories downstream.
func sanitizePrediction(p Prediction) Prediction {
	p.Confidence = clamp01(p.Confidence)
	if !p.Label.Valid() {
		p.Label = Unknown
	}
	return p
}
