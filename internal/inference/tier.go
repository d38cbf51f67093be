package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"go.uber.org/zap"

	"github.com/example/mushroom-check/internal/analysis"
	"github.com/example/mushroom-check/internal/preprocess"
	"github.com/example/mushroom-check/internal/species"
)

// ModelSource hands out the loaded model pair.
type ModelSource interface {
	GetModels() (*ModelHandle, *ModelHandle, error)
}

// Tier is the primary, trained-model classifier.
type Tier struct {
	models ModelSource
	pre    *preprocess.Preprocessor
	logger *zap.Logger
}

// NewTier builds the primary tier over models.
func NewTier(models ModelSource, pre *preprocess.Preprocessor, logger *zap.Logger) *Tier {
	if pre == nil {
		pre = preprocess.New()
	}
	return &Tier{models: models, pre: pre, logger: logger.Named("trained_model_tier")}
}

// Method implements pipeline.Classifier.
func (t *Tier) Method() analysis.Method {
	return analysis.MethodTrainedModel
}

// Classify preprocesses img and runs both models on it. Unavailable models
// are reported before any preprocessing work is done.
func (t *Tier) Classify(_ context.Context, img image.Image) (*analysis.Result, error) {
	edibility, speciesModel, err := t.models.GetModels()
	if err != nil {
		return nil, analysis.NewTierError(analysis.MethodTrainedModel, analysis.ErrResourceUnavailable, err)
	}
	tensor, err := t.pre.Tensor(img)
	if err != nil {
		return nil, analysis.NewTierError(analysis.MethodTrainedModel, analysis.ErrInvalidInput, err)
	}
	return t.run(edibility, speciesModel, tensor)
}

// Infer runs both models on an already preprocessed tensor.
func (t *Tier) Infer(tensor *preprocess.Tensor) (*analysis.Result, error) {
	edibility, speciesModel, err := t.models.GetModels()
	if err != nil {
		return nil, analysis.NewTierError(analysis.MethodTrainedModel, analysis.ErrResourceUnavailable, err)
	}
	if tensor == nil || len(tensor.Data) == 0 {
		return nil, analysis.NewTierError(analysis.MethodTrainedModel, analysis.ErrInvalidInput, errors.New("empty tensor"))
	}
	return t.run(edibility, speciesModel, tensor)
}

func (t *Tier) run(edibility, speciesModel *ModelHandle, tensor *preprocess.Tensor) (*analysis.Result, error) {
	pEdible, pPoisonous, err := t.predictEdibility(edibility, tensor)
	if err != nil {
		return nil, analysis.NewTierError(analysis.MethodTrainedModel, analysis.ErrInferenceFailed, err)
	}
	// Species runs regardless of edibility; callers decide what to surface.
	index, probs, err := t.predictSpecies(speciesModel, tensor)
	if err != nil {
		return nil, analysis.NewTierError(analysis.MethodTrainedModel, analysis.ErrInferenceFailed, err)
	}

	edible := pEdible > pPoisonous
	rec, known := species.Lookup(index)
	if !known {
		t.logger.Warn("species index outside reference table", zap.Int("index", index))
	}

	speciesPercent := make([]float64, len(probs))
	for i, p := range probs {
		speciesPercent[i] = p * 100
	}

	result := &analysis.Result{
		Edible:              edible,
		EdibilityConfidence: math.Max(pEdible, pPoisonous) * 100,
		Lifespan:            analysis.Unknown,
		Preservation:        analysis.Unknown,
		AnalysisMethod:      analysis.MethodTrainedModel,
		Warnings:            []string{},
		ModelDetails: &analysis.ModelDetails{
			PoisonousProbability: pPoisonous * 100,
			EdibleProbability:    pEdible * 100,
			SpeciesIndex:         index,
			SpeciesCandidate:     rec.ID,
			SpeciesProbabilities: speciesPercent,
		},
	}
	if edible {
		species.Apply(result, rec, probs[index]*100)
	}
	result.Normalize()
	return result, nil
}

// predictEdibility expects [p_poisonous, p_edible].
func (t *Tier) predictEdibility(h *ModelHandle, tensor *preprocess.Tensor) (float64, float64, error) {
	out, err := h.Run(inputFor(h, tensor).Data)
	if err != nil {
		return 0, 0, err
	}
	if len(out) != 2 {
		return 0, 0, fmt.Errorf("edibility model: expected 2 outputs, got %d", len(out))
	}
	if err := checkFinite(out); err != nil {
		return 0, 0, fmt.Errorf("edibility model: %w", err)
	}
	return float64(out[1]), float64(out[0]), nil
}

func (t *Tier) predictSpecies(h *ModelHandle, tensor *preprocess.Tensor) (int, []float64, error) {
	out, err := h.Run(inputFor(h, tensor).Data)
	if err != nil {
		return 0, nil, err
	}
	if len(out) == 0 {
		return 0, nil, errors.New("species model: empty output")
	}
	if err := checkFinite(out); err != nil {
		return 0, nil, fmt.Errorf("species model: %w", err)
	}
	probs := make([]float64, len(out))
	best := 0
	for i, v := range out {
		probs[i] = float64(v)
		if probs[i] > probs[best] {
			best = i
		}
	}
	return best, probs, nil
}

// inputFor converts the tensor to channel-first order when the model
// declares a [1,3,H,W] input.
func inputFor(h *ModelHandle, tensor *preprocess.Tensor) *preprocess.Tensor {
	shape := h.Input().Shape
	if len(shape) == 4 && shape[1] == preprocess.Channels && shape[3] != preprocess.Channels {
		return tensor.ToNCHW()
	}
	return tensor
}

func checkFinite(values []float32) error {
	for i, v := range values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("non-finite output at index %d", i)
		}
	}
	return nil
}
