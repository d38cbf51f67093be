package inference

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/mushroom-check/internal/analysis"
	"github.com/example/mushroom-check/internal/preprocess"
)

type staticModels struct {
	edibility *ModelHandle
	species   *ModelHandle
	err       error
}

func (s staticModels) GetModels() (*ModelHandle, *ModelHandle, error) {
	return s.edibility, s.species, s.err
}

func newTier(edibility, speciesModel Interpreter) *Tier {
	return NewTier(staticModels{
		edibility: &ModelHandle{name: "edibility", interp: edibility},
		species:   &ModelHandle{name: "species", interp: speciesModel},
	}, preprocess.New(), zap.NewNop())
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	return img
}

func TestClassifyEdibleWithKnownSpecies(t *testing.T) {
	tier := newTier(newFake(0.25, 0.75), newFake(0.05, 0.05, 0.1, 0.8))

	result, err := tier.Classify(context.Background(), testImage())
	require.NoError(t, err)

	assert.True(t, result.Edible)
	assert.InDelta(t, 75, result.EdibilityConfidence, 1e-4)
	assert.Equal(t, "Coprinus_comatus", result.Species)
	assert.InDelta(t, 80, result.SpeciesConfidence, 1e-4)
	assert.Equal(t, "24 hours (dissolves quickly)", result.Lifespan)
	assert.Equal(t, "10 days refrigerated, 18 days with treatment.", result.Preservation)
	assert.Equal(t, analysis.MethodTrainedModel, result.AnalysisMethod)
	assert.Empty(t, result.Warnings)
	require.NotNil(t, result.ModelDetails)
	assert.Equal(t, 3, result.ModelDetails.SpeciesIndex)
}

func TestClassifyPoisonousStillRunsSpecies(t *testing.T) {
	speciesModel := newFake(0.9, 0.05, 0.03, 0.02)
	tier := newTier(newFake(0.6, 0.4), speciesModel)

	result, err := tier.Classify(context.Background(), testImage())
	require.NoError(t, err)

	assert.False(t, result.Edible)
	assert.InDelta(t, 60, result.EdibilityConfidence, 1e-4)
	assert.Empty(t, result.Species)
	assert.Equal(t, analysis.Unknown, result.Lifespan)
	assert.Contains(t, result.Warnings, analysis.WarningNotEdible)
	assert.EqualValues(t, 1, speciesModel.calls.Load())
	assert.Equal(t, "Apioperdon_pyriforme", result.ModelDetails.SpeciesCandidate)
}

func TestClassifyUnknownSpeciesIndex(t *testing.T) {
	tier := newTier(newFake(0.1, 0.9), newFake(0.1, 0.1, 0.1, 0.1, 0.6))

	result, err := tier.Classify(context.Background(), testImage())
	require.NoError(t, err)

	assert.True(t, result.Edible)
	assert.Equal(t, "Unknown Species 4", result.Species)
	assert.Equal(t, analysis.Unknown, result.Lifespan)
	assert.Equal(t, analysis.Unknown, result.Preservation)
}

func TestClassifyTieIsPoisonous(t *testing.T) {
	tier := newTier(newFake(0.5, 0.5), newFake(1))

	result, err := tier.Classify(context.Background(), testImage())
	require.NoError(t, err)
	assert.False(t, result.Edible)
}

func TestInferIsRepeatable(t *testing.T) {
	tier := newTier(newFake(0.3, 0.7), newFake(0.2, 0.5, 0.3))
	tensor, err := preprocess.New().Tensor(testImage())
	require.NoError(t, err)

	first, err := tier.Infer(tensor)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		next, err := tier.Infer(tensor)
		require.NoError(t, err)
		assert.Equal(t, first.Edible, next.Edible)
		assert.Equal(t, first.ModelDetails.SpeciesIndex, next.ModelDetails.SpeciesIndex)
		assert.Equal(t, first.EdibilityConfidence, next.EdibilityConfidence)
	}
}

func TestInferFailures(t *testing.T) {
	nan := float32(math.NaN())

	cases := []struct {
		name      string
		edibility Interpreter
		species   Interpreter
	}{
		{name: "edibility shape mismatch", edibility: newFake(0.1, 0.2, 0.7), species: newFake(1)},
		{name: "edibility nan", edibility: newFake(nan, 0.5), species: newFake(1)},
		{name: "species nan", edibility: newFake(0.1, 0.9), species: newFake(0.2, nan)},
		{name: "runtime error", edibility: func() Interpreter {
			f := newFake(0.1, 0.9)
			f.invoke = func([]float32) ([]float32, error) { return nil, errors.New("invoke failed") }
			return f
		}(), species: newFake(1)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tier := newTier(tc.edibility, tc.species)
			_, err := tier.Classify(context.Background(), testImage())
			require.ErrorIs(t, err, analysis.ErrInferenceFailed)

			var tierErr *analysis.TierError
			require.ErrorAs(t, err, &tierErr)
			assert.Equal(t, analysis.MethodTrainedModel, tierErr.Method)
		})
	}
}

func TestClassifyReportsUnavailableResources(t *testing.T) {
	tier := NewTier(staticModels{err: &ResourceError{Cause: errors.New("missing")}}, nil, zap.NewNop())

	_, err := tier.Classify(context.Background(), testImage())
	require.ErrorIs(t, err, analysis.ErrResourceUnavailable)

	_, err = tier.Infer(&preprocess.Tensor{Data: []float32{1}})
	require.ErrorIs(t, err, analysis.ErrResourceUnavailable)
}

func TestClassifyUsesChannelFirstForNCHWModels(t *testing.T) {
	var seen []float32
	edibility := newFake(0.2, 0.8)
	edibility.input.Shape = []int64{1, 3, 224, 224}
	edibility.invoke = func(in []float32) ([]float32, error) {
		seen = in
		return []float32{0.2, 0.8}, nil
	}
	tier := newTier(edibility, newFake(1))

	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	_, err := tier.Classify(context.Background(), img)
	require.NoError(t, err)

	plane := 224 * 224
	require.Len(t, seen, 3*plane)
	assert.InDelta(t, 1.0, seen[0], 0.005)
	assert.InDelta(t, 0.0, seen[plane], 0.005)
	assert.InDelta(t, 0.0, seen[2*plane], 0.005)
}
