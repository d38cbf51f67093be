// Package inference owns the trained model pair and the primary tier that
// runs it.
package inference

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/example/mushroom-check/internal/analysis"
)

// Config locates the model artifacts.
type Config struct {
	EdibilityModelPath string
	SpeciesModelPath   string
	ONNXLibraryPath    string
	NumThreads         int
}

// State of a ResourceManager. Ready and Degraded are terminal.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	default:
		return "uninitialized"
	}
}

// ResourceError is returned by GetModels once the manager is Degraded.
type ResourceError struct {
	Cause error
}

func (e *ResourceError) Error() string {
	if e.Cause == nil {
		return analysis.ErrResourceUnavailable.Error()
	}
	return fmt.Sprintf("%v: %v", analysis.ErrResourceUnavailable, e.Cause)
}

// Is matches analysis.ErrResourceUnavailable.
func (e *ResourceError) Is(target error) bool {
	return target == analysis.ErrResourceUnavailable
}

func (e *ResourceError) Unwrap() error {
	return e.Cause
}

// ModelHandle wraps one loaded interpreter. Invocations are serialised per
// handle, so the edibility and species models never block each other.
type ModelHandle struct {
	name   string
	interp Interpreter
	mu     sync.Mutex
}

func (h *ModelHandle) Name() string       { return h.name }
func (h *ModelHandle) Input() TensorDesc  { return h.interp.Input() }
func (h *ModelHandle) Output() TensorDesc { return h.interp.Output() }

// Run invokes the model on input. Panics raised by the runtime are converted
// to errors.
func (h *ModelHandle) Run(input []float32) (out []float32, err error) {
	if want := h.Input().Elements(); want > 0 && len(input) != want {
		return nil, fmt.Errorf("%s model: input has %d values, want %d", h.name, len(input), want)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%s model: interpreter panic: %v", h.name, r)
		}
	}()
	return h.interp.Invoke(input)
}

// Option customises a ResourceManager.
type Option func(*ResourceManager)

// WithLoader replaces the runtime loader, mainly for tests.
func WithLoader(loader Loader) Option {
	return func(m *ResourceManager) {
		m.loader = loader
	}
}

// ResourceManager loads the edibility and species models at most once per
// process and hands them out as a matched pair.
type ResourceManager struct {
	cfg    Config
	loader Loader
	logger *zap.Logger

	once      sync.Once
	state     atomic.Int32
	loadErr   error
	edibility *ModelHandle
	species   *ModelHandle
	closeOnce sync.Once
}

// NewResourceManager builds a manager in the Uninitialized state. Nothing is
// read from disk until the first GetModels call.
func NewResourceManager(cfg Config, logger *zap.Logger, opts ...Option) *ResourceManager {
	m := &ResourceManager{
		cfg:    cfg,
		logger: logger.Named("resource_manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.loader == nil {
		m.loader = RuntimeLoader(cfg, m.logger)
	}
	return m
}

// State reports the current lifecycle state.
func (m *ResourceManager) State() State {
	return State(m.state.Load())
}

// Warm forces initialisation and returns the resulting state.
func (m *ResourceManager) Warm() State {
	m.once.Do(m.load)
	return m.State()
}

// GetModels returns the edibility and species handles. After a failed load
// every call returns a *ResourceError without touching the disk again.
func (m *ResourceManager) GetModels() (*ModelHandle, *ModelHandle, error) {
	m.once.Do(m.load)
	if m.State() != StateReady {
		return nil, nil, &ResourceError{Cause: m.loadErr}
	}
	return m.edibility, m.species, nil
}

func (m *ResourceManager) load() {
	edibility, err := m.open("edibility", m.cfg.EdibilityModelPath)
	if err != nil {
		m.degrade(err)
		return
	}
	species, err := m.open("species", m.cfg.SpeciesModelPath)
	if err != nil {
		if cerr := edibility.interp.Close(); cerr != nil {
			m.logger.Warn("failed to release edibility model", zap.Error(cerr))
		}
		m.degrade(err)
		return
	}

	m.edibility, m.species = edibility, species
	m.state.Store(int32(StateReady))
	m.logger.Info("models loaded",
		zap.String("edibility_path", m.cfg.EdibilityModelPath),
		zap.Int64s("edibility_input", edibility.Input().Shape),
		zap.String("species_path", m.cfg.SpeciesModelPath),
		zap.Int64s("species_input", species.Input().Shape),
	)
}

func (m *ResourceManager) open(name, path string) (*ModelHandle, error) {
	if path == "" {
		return nil, fmt.Errorf("%s model path not configured", name)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%s model: %w", name, err)
	}
	interp, err := m.loader(path)
	if err != nil {
		return nil, fmt.Errorf("%s model: %w", name, err)
	}
	if interp == nil {
		return nil, fmt.Errorf("%s model: loader returned no interpreter", name)
	}
	if dims := len(interp.Input().Shape); dims != 4 {
		interp.Close() //nolint:errcheck
		return nil, fmt.Errorf("%s model: expected 4D image input, got %dD", name, dims)
	}
	return &ModelHandle{name: name, interp: interp}, nil
}

func (m *ResourceManager) degrade(err error) {
	m.loadErr = err
	m.state.Store(int32(StateDegraded))
	m.logger.Error("trained models unavailable, primary tier disabled", zap.Error(err))
}

// Close releases the interpreters. It is meant for process teardown only.
func (m *ResourceManager) Close() error {
	var errs []error
	m.closeOnce.Do(func() {
		for _, h := range []*ModelHandle{m.edibility, m.species} {
			if h == nil {
				continue
			}
			h.mu.Lock()
			if err := h.interp.Close(); err != nil {
				errs = append(errs, err)
			}
			h.mu.Unlock()
		}
	})
	return errors.Join(errs...)
}
