//go:build !tflite

package inference

import (
	"fmt"

	"go.uber.org/zap"
)

// TFLiteCompiled reports whether .tflite artifacts can be loaded.
const TFLiteCompiled = false

func loadTFLite(path string, _ int, _ *zap.Logger) (Interpreter, error) {
	return nil, fmt.Errorf("tflite: %s: %w", path, ErrBackendUnavailable)
}
