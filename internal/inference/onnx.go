package inference

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// The ONNX Runtime environment is process-wide by construction.
var onnxEnv struct {
	once sync.Once
	err  error
}

func initONNX(libraryPath string) error {
	onnxEnv.once.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if !ort.IsInitialized() {
			if err := ort.InitializeEnvironment(); err != nil {
				onnxEnv.err = fmt.Errorf("onnx: initialize environment: %w", err)
			}
		}
	})
	return onnxEnv.err
}

type onnxInterpreter struct {
	session *ort.DynamicAdvancedSession
	input   TensorDesc
	output  TensorDesc
}

func loadONNX(path, libraryPath string) (Interpreter, error) {
	if err := initONNX(libraryPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("onnx: io info for %s: %w", path, err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("onnx: %s has %d inputs and %d outputs, want 1 and 1", path, len(inputs), len(outputs))
	}
	in, out := inputs[0], outputs[0]
	if in.DataType != ort.TensorElementDataTypeFloat || out.DataType != ort.TensorElementDataTypeFloat {
		return nil, fmt.Errorf("onnx: %s must use float32 tensors", path)
	}

	session, err := ort.NewDynamicAdvancedSession(path, []string{in.Name}, []string{out.Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("onnx: session for %s: %w", path, err)
	}

	return &onnxInterpreter{
		session: session,
		input:   describeONNX(in),
		output:  describeONNX(out),
	}, nil
}

// Dynamic dimensions resolve to 1 since every request carries a single image.
func describeONNX(info ort.InputOutputInfo) TensorDesc {
	shape := make([]int64, len(info.Dimensions))
	for i, dim := range info.Dimensions {
		if dim <= 0 {
			dim = 1
		}
		shape[i] = dim
	}
	return TensorDesc{Name: info.Name, Shape: shape, DType: "float32"}
}

func (o *onnxInterpreter) Input() TensorDesc  { return o.input }
func (o *onnxInterpreter) Output() TensorDesc { return o.output }

func (o *onnxInterpreter) Invoke(input []float32) ([]float32, error) {
	tensor, err := ort.NewTensor(ort.NewShape(o.input.Shape...), input)
	if err != nil {
		return nil, fmt.Errorf("onnx: input tensor: %w", err)
	}
	defer tensor.Destroy() //nolint:errcheck

	outputs := []ort.Value{nil}
	if err := o.session.Run([]ort.Value{tensor}, outputs); err != nil {
		return nil, fmt.Errorf("onnx: run: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy() //nolint:errcheck
		}
	}()

	result, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("onnx: unexpected output type %T", outputs[0])
	}
	data := result.GetData()
	if len(data) == 0 {
		return nil, errors.New("onnx: empty output tensor")
	}
	values := make([]float32, len(data))
	copy(values, data)
	return values, nil
}

func (o *onnxInterpreter) Close() error {
	if o.session == nil {
		return nil
	}
	err := o.session.Destroy()
	o.session = nil
	return err
}
