package features

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// Scorer turns a feature vector into the probability of a favorable move.
type Scorer interface {
	Score(v FeatureVector) (float64, error)
}

// ScorerFunc adapts a plain function to Scorer.
type ScorerFunc func(v FeatureVector) (float64, error)

func (f ScorerFunc) Score(v FeatureVector) (float64, error) { return f(v) }

var ErrModelUnavailable = errors.New("model not available")

// ModelConfig describes an exported classifier. The graph must take a
// float32[1][NumFeatures] input and expose a float32[1][Classes] probability
// output (ZipMap disabled at export time).
type ModelConfig struct {
	Path          string
	LibPath       string
	InputName     string
	OutputName    string
	Classes       int
	PositiveClass int
}

func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		InputName:     "input",
		OutputName:    "probabilities",
		Classes:       2,
		PositiveClass: 1,
	}
}

// Model runs an ONNX classifier through onnxruntime with pre-bound tensors.
// One inference at a time; the event loop is its only caller.
type Model struct {
	session  *ort.AdvancedSession
	input    *ort.Tensor[float32]
	output   *ort.Tensor[float32]
	positive int
}

// InitializeORT loads the shared library once per process.
func InitializeORT(libPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if libPath == "" {
		libPath = "/usr/lib/libonnxruntime.so"
		if runtime.GOOS == "windows" {
			libPath = "onnxruntime.dll"
		} else if runtime.GOOS == "darwin" {
			libPath = "libonnxruntime.dylib"
		}
	}
	ort.SetSharedLibraryPath(libPath)
	return ort.InitializeEnvironment()
}

// ShutdownORT releases the environment created by InitializeORT.
func ShutdownORT() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// NewModel opens the model file. A missing file is a configuration error the
// caller should treat as fatal.
func NewModel(cfg ModelConfig) (*Model, error) {
	if cfg.Classes < 2 || cfg.PositiveClass < 0 || cfg.PositiveClass >= cfg.Classes {
		return nil, fmt.Errorf("model: positive class %d out of %d classes", cfg.PositiveClass, cfg.Classes)
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	if err := InitializeORT(cfg.LibPath); err != nil {
		return nil, fmt.Errorf("model: init onnxruntime: %w", err)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, NumFeatures), make([]float32, NumFeatures))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.Classes)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.Path,
		[]string{cfg.InputName}, []string{cfg.OutputName},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor}, nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &Model{
		session:  session,
		input:    inputTensor,
		output:   outputTensor,
		positive: cfg.PositiveClass,
	}, nil
}

// Score implements Scorer.
func (m *Model) Score(v FeatureVector) (float64, error) {
	if m == nil || m.session == nil {
		return 0, ErrModelUnavailable
	}
	data := m.input.GetData()
	for i, x := range v {
		data[i] = float32(x)
	}
	if err := m.session.Run(); err != nil {
		return 0, fmt.Errorf("inference failed: %w", err)
	}
	return float64(m.output.GetData()[m.positive]), nil
}

func (m *Model) Close() {
	if m.session != nil {
		m.session.Destroy()
	}
	if m.input != nil {
		m.input.Destroy()
	}
	if m.output != nil {
		m.output.Destroy()
	}
}
