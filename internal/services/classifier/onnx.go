package classifier

import (
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const KindONNX = "onnx"

var (
	ortOnce sync.Once
	ortErr  error
)

// InitializeORT loads the onnxruntime shared library once per process.
// An empty libPath picks the platform default.
func InitializeORT(libPath string) error {
	ortOnce.Do(func() {
		if libPath == "" {
			libPath = "/usr/lib/libonnxruntime.so"
			switch runtime.GOOS {
			case "windows":
				libPath = "onnxruntime.dll"
			case "darwin":
				libPath = "libonnxruntime.dylib"
			}
		}
		ort.SetSharedLibraryPath(libPath)
		ortErr = ort.InitializeEnvironment()
	})
	return ortErr
}

// ONNXClassifier runs an exported binary classifier with input [1, width]
// and output [1, k]; the last output value is read as P(class = 1).
// It is inference only.
type ONNXClassifier struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	width   int
}

type ONNXConfig struct {
	Path        string
	Width       int
	Outputs     int
	InputName   string
	OutputName  string
	LibraryPath string
}

func NewONNXClassifier(cfg ONNXConfig) (*ONNXClassifier, error) {
	if cfg.Width <= 0 {
		return nil, fmt.Errorf("onnx: width must be positive")
	}
	if cfg.Outputs <= 0 {
		cfg.Outputs = 1
	}
	if cfg.InputName == "" {
		cfg.InputName = "input"
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "output"
	}
	if err := InitializeORT(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("onnx runtime: %w", err)
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(cfg.Width)), make([]float32, cfg.Width))
	if err != nil {
		return nil, fmt.Errorf("onnx input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.Outputs)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("onnx output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(cfg.Path,
		[]string{cfg.InputName}, []string{cfg.OutputName},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("onnx session %s: %w", cfg.Path, err)
	}

	return &ONNXClassifier{session: session, input: input, output: output, width: cfg.Width}, nil
}

func (c *ONNXClassifier) Kind() string { return KindONNX }

// PredictProba runs one session per row; the session tensors are shared.
func (c *ONNXClassifier) PredictProba(rows [][]float64) ([]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(rows))
	for i, r := range rows {
		if len(r) != c.width {
			return nil, fmt.Errorf("onnx: row has %d values, model expects %d", len(r), c.width)
		}
		in := c.input.GetData()
		for j, v := range r {
			in[j] = float32(v)
		}
		if err := c.session.Run(); err != nil {
			return nil, fmt.Errorf("onnx inference: %w", err)
		}
		res := c.output.GetData()
		out[i] = float64(res[len(res)-1])
	}
	return out, nil
}

func (c *ONNXClassifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		c.session.Destroy()
		c.session = nil
	}
	if c.input != nil {
		c.input.Destroy()
	}
	if c.output != nil {
		c.output.Destroy()
	}
}
