package inference

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeInterpreter struct {
	input   TensorDesc
	output  TensorDesc
	invoke  func([]float32) ([]float32, error)
	calls   atomic.Int32
	closed  atomic.Bool
	active  atomic.Int32
	overlap atomic.Bool
}

func newFake(outputs ...float32) *fakeInterpreter {
	return &fakeInterpreter{
		input:  TensorDesc{Name: "input", Shape: []int64{1, 224, 224, 3}, DType: "float32"},
		output: TensorDesc{Name: "output", Shape: []int64{1, int64(len(outputs))}, DType: "float32"},
		invoke: func([]float32) ([]float32, error) {
			out := make([]float32, len(outputs))
			copy(out, outputs)
			return out, nil
		},
	}
}

func (f *fakeInterpreter) Input() TensorDesc  { return f.input }
func (f *fakeInterpreter) Output() TensorDesc { return f.output }

func (f *fakeInterpreter) Invoke(input []float32) ([]float32, error) {
	if f.active.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.active.Add(-1)
	f.calls.Add(1)
	return f.invoke(input)
}

func (f *fakeInterpreter) Close() error {
	f.closed.Store(true)
	return nil
}

// fakeLoader serves interpreters by file base name and counts loads.
type fakeLoader struct {
	mu      sync.Mutex
	byName  map[string]Interpreter
	loads   int
	failErr error
}

func (l *fakeLoader) load(path string) (Interpreter, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads++
	if interp, ok := l.byName[filepath.Base(path)]; ok {
		return interp, nil
	}
	if l.failErr != nil {
		return nil, l.failErr
	}
	return nil, errors.New("corrupt model graph")
}

func (l *fakeLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}

// writeArtifacts creates empty model files in a temp dir and returns their paths.
func writeArtifacts(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
		if err := os.WriteFile(paths[i], []byte("model"), 0o600); err != nil {
			t.Fatalf("failed to write artifact: %v", err)
		}
	}
	return paths
}
