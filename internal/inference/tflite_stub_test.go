//go:build !tflite

package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/mushroom-check/internal/analysis"
)

func TestRuntimeLoaderWithoutTFLiteBackend(t *testing.T) {
	assert.False(t, TFLiteCompiled)

	paths := writeArtifacts(t, "edibility_model.tflite", "species_model.tflite")
	_, err := RuntimeLoader(Config{}, zap.NewNop())(paths[0])
	require.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestManagerDegradesWithoutTFLiteBackend(t *testing.T) {
	paths := writeArtifacts(t, "edibility_model.tflite", "species_model.tflite")
	m := NewResourceManager(Config{EdibilityModelPath: paths[0], SpeciesModelPath: paths[1]}, zap.NewNop())

	assert.Equal(t, StateDegraded, m.Warm())
	_, _, err := m.GetModels()
	require.ErrorIs(t, err, analysis.ErrResourceUnavailable)
	require.ErrorIs(t, err, ErrBackendUnavailable)
}
