package detect

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Tensor names the exported model must use. The model takes a
// [1, FeatureCount] float32 input and returns one raw score per entry
// in ClassLabels.
const (
	onnxInputName  = "features"
	onnxOutputName = "scores"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// initRuntime loads the ONNX Runtime shared library. The runtime environment
// is process-global, so initialization happens exactly once no matter how
// many classifiers are constructed.
func initRuntime(libraryPath string) error {
	ortInitOnce.Do(func() {
		if libraryPath == "" {
			libraryPath = defaultRuntimeLibrary()
		}
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// defaultRuntimeLibrary probes common install locations for the ONNX Runtime
// shared library.
func defaultRuntimeLibrary() string {
	paths := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// ONNXClassifier runs a trained multiclass model over feature vectors.
// A single session is shared by all callers; Run is serialized under a
// mutex because ONNX Runtime sessions are not safe for concurrent use
// with preallocated bindings.
type ONNXClassifier struct {
	session   *ort.DynamicAdvancedSession
	modelPath string
	mu        sync.Mutex
	ready     bool
}

var _ Classifier = (*ONNXClassifier)(nil)

// NewONNXClassifier loads the model at modelPath. libraryPath optionally
// points at the ONNX Runtime shared library; when empty, common install
// locations are probed.
func NewONNXClassifier(modelPath, libraryPath string) (*ONNXClassifier, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("model path not set")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}
	if err := initRuntime(libraryPath); err != nil {
		return nil, fmt.Errorf("onnxruntime init: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{onnxInputName}, []string{onnxOutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("onnx session: %w", err)
	}

	log.Printf("ONNX classifier initialized (model: %s)", modelPath)
	return &ONNXClassifier{
		session:   session,
		modelPath: modelPath,
		ready:     true,
	}, nil
}

// NewONNXClassifierWithFallback returns a classifier even when the model or
// runtime cannot be loaded. The returned instance reports IsReady() == false,
// so detection continues on rules alone.
func NewONNXClassifierWithFallback(modelPath, libraryPath string) *ONNXClassifier {
	c, err := NewONNXClassifier(modelPath, libraryPath)
	if err != nil {
		log.Printf("[WARN] ONNX classifier unavailable: %v (continuing with rule-based detection)", err)
		return &ONNXClassifier{modelPath: modelPath, ready: false}
	}
	return c
}

// Name identifies the classifier in decision sources and logs.
func (c *ONNXClassifier) Name() string { return "onnx" }

// IsReady reports whether the session was initialized successfully.
func (c *ONNXClassifier) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Predict runs one inference pass and returns the top class with its
// softmax probability. A model emitting an unexpected number of scores
// still yields a usable prediction: an argmax outside ClassLabels maps
// to Unknown.
func (c *ONNXClassifier) Predict(ctx context.Context, fv FeatureVector) (Prediction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready || c.session == nil {
		return Prediction{}, ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	input, err := ort.NewTensor(ort.NewShape(1, FeatureCount), fv.ToFloat32())
	if err != nil {
		return Prediction{}, fmt.Errorf("input tensor: %w", err)
	}
	defer input.Destroy()

	// Output left nil so the runtime allocates it at the model's shape.
	outputs := []ort.Value{nil}
	if err := c.session.Run([]ort.Value{input}, outputs); err != nil {
		return Prediction{}, fmt.Errorf("onnx run: %w", err)
	}
	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
		return Prediction{}, fmt.Errorf("unexpected output type %T", outputs[0])
	}
	defer out.Destroy()

	scores := out.GetData()
	if len(scores) == 0 {
		return Prediction{}, fmt.Errorf("empty score tensor")
	}

	idx, conf := softmaxTop(scores)
	return Prediction{Label: LabelFromIndex(idx), Confidence: conf}, nil
}

// Close releases the session. Safe to call on a fallback shell and safe to
// call more than once.
func (c *ONNXClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = false
	if c.session == nil {
		return nil
	}
	err := c.session.Destroy()
	c.session = nil
	return err
}

// softmaxTop returns the argmax index and its softmax probability. Scores
// are shifted by the max before exponentiation so large logits cannot
// overflow. Ties resolve to the lowest index.
func softmaxTop(scores []float32) (int, float64) {
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	max := float64(scores[best])
	var sum float64
	for _, s := range scores {
		sum += math.Exp(float64(s) - max)
	}
	if sum == 0 {
		return best, 0
	}
	return best, 1 / sum
}
