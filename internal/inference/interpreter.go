package inference

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ErrBackendUnavailable reports a model format whose runtime was not compiled
// into this binary. The TensorFlow Lite backend needs the "tflite" build tag.
var ErrBackendUnavailable = errors.New("inference backend not compiled in")

// TensorDesc describes one input or output tensor of a loaded model.
type TensorDesc struct {
	Name  string
	Index int
	Shape []int64
	DType string
}

// Elements returns the number of values in the tensor, or 0 when any
// dimension is dynamic.
func (d TensorDesc) Elements() int {
	if len(d.Shape) == 0 {
		return 0
	}
	n := 1
	for _, dim := range d.Shape {
		if dim <= 0 {
			return 0
		}
		n *= int(dim)
	}
	return n
}

// Interpreter executes one loaded model graph. Implementations need not be
// safe for concurrent Invoke calls; ModelHandle serialises access.
type Interpreter interface {
	Input() TensorDesc
	Output() TensorDesc
	Invoke(input []float32) ([]float32, error)
	Close() error
}

// Loader opens the model artifact at path.
type Loader func(path string) (Interpreter, error)

// RuntimeLoader picks a backend from the artifact extension: .tflite files
// run on TensorFlow Lite, .onnx files on ONNX Runtime.
func RuntimeLoader(cfg Config, logger *zap.Logger) Loader {
	return func(path string) (Interpreter, error) {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".tflite":
			return loadTFLite(path, cfg.NumThreads, logger)
		case ".onnx":
			return loadONNX(path, cfg.ONNXLibraryPath)
		default:
			return nil, fmt.Errorf("unsupported model artifact %q", path)
		}
	}
}
