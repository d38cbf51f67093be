package analysis

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidImage marks an absent, undecodable or zero-area image. It is
	// the only failure surfaced to callers through Result.Error.
	ErrInvalidImage = errors.New("invalid image")
	// ErrResourceUnavailable means the trained model pair cannot be used.
	ErrResourceUnavailable = errors.New("model resources unavailable")
	// ErrInferenceFailed covers runtime faults while invoking a model.
	ErrInferenceFailed = errors.New("inference failed")
	// ErrInvalidInput is returned by a tier that cannot operate on the given image.
	ErrInvalidInput = errors.New("invalid input")
)

// TierError reports why a tier could not produce a result. Kind is one of
// the sentinel errors above.
type TierError struct {
	Method Method
	Kind   error
	Err    error
}

// NewTierError builds a TierError; err may be nil.
func NewTierError(method Method, kind, err error) *TierError {
	return &TierError{Method: method, Kind: kind, Err: err}
}

// Error implements the error interface.
func (e *TierError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s tier: %v", e.Method, e.Kind)
	}
	return fmt.Sprintf("%s tier: %v: %v", e.Method, e.Kind, e.Err)
}

// Is matches the tier error against its kind.
func (e *TierError) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the underlying cause.
func (e *TierError) Unwrap() error {
	return e.Err
}
