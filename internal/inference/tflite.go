//go:build tflite

package inference

import (
	"errors"
	"fmt"

	"github.com/mattn/go-tflite"
	"go.uber.org/zap"
)

// TFLiteCompiled reports whether .tflite artifacts can be loaded.
const TFLiteCompiled = true

type tfliteInterpreter struct {
	model   *tflite.Model
	options *tflite.InterpreterOptions
	interp  *tflite.Interpreter
	input   TensorDesc
	output  TensorDesc
}

func loadTFLite(path string, threads int, logger *zap.Logger) (Interpreter, error) {
	model := tflite.NewModelFromFile(path)
	if model == nil {
		return nil, fmt.Errorf("tflite: cannot load model %s", path)
	}

	options := tflite.NewInterpreterOptions()
	if threads > 0 {
		options.SetNumThread(threads)
	}
	options.SetErrorReporter(func(msg string, _ interface{}) {
		logger.Warn("tflite interpreter", zap.String("path", path), zap.String("message", msg))
	}, nil)

	interp := tflite.NewInterpreter(model, options)
	if interp == nil {
		options.Delete()
		model.Delete()
		return nil, fmt.Errorf("tflite: cannot create interpreter for %s", path)
	}

	t := &tfliteInterpreter{model: model, options: options, interp: interp}
	if status := interp.AllocateTensors(); status != tflite.OK {
		t.Close() //nolint:errcheck
		return nil, fmt.Errorf("tflite: allocate tensors for %s: status %v", path, status)
	}
	if interp.GetInputTensorCount() < 1 || interp.GetOutputTensorCount() < 1 {
		t.Close() //nolint:errcheck
		return nil, fmt.Errorf("tflite: %s declares no input or output tensors", path)
	}

	in := interp.GetInputTensor(0)
	out := interp.GetOutputTensor(0)
	if in.Type() != tflite.Float32 || out.Type() != tflite.Float32 {
		t.Close() //nolint:errcheck
		return nil, fmt.Errorf("tflite: %s must use float32 tensors", path)
	}
	t.input = describeTFLite(in, 0)
	t.output = describeTFLite(out, 0)
	return t, nil
}

func describeTFLite(tensor *tflite.Tensor, index int) TensorDesc {
	shape := make([]int64, tensor.NumDims())
	for i := range shape {
		shape[i] = int64(tensor.Dim(i))
	}
	return TensorDesc{Name: tensor.Name(), Index: index, Shape: shape, DType: "float32"}
}

func (t *tfliteInterpreter) Input() TensorDesc  { return t.input }
func (t *tfliteInterpreter) Output() TensorDesc { return t.output }

func (t *tfliteInterpreter) Invoke(input []float32) ([]float32, error) {
	in := t.interp.GetInputTensor(t.input.Index)
	dst := in.Float32s()
	if len(dst) != len(input) {
		return nil, fmt.Errorf("tflite: input has %d values, model expects %d", len(input), len(dst))
	}
	copy(dst, input)

	if status := t.interp.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("tflite: invoke: status %v", status)
	}

	out := t.interp.GetOutputTensor(t.output.Index).Float32s()
	if len(out) == 0 {
		return nil, errors.New("tflite: empty output tensor")
	}
	result := make([]float32, len(out))
	copy(result, out)
	return result, nil
}

func (t *tfliteInterpreter) Close() error {
	if t.interp != nil {
		t.interp.Delete()
		t.interp = nil
	}
	if t.options != nil {
		t.options.Delete()
		t.options = nil
	}
	if t.model != nil {
		t.model.Delete()
		t.model = nil
	}
	return nil
}
