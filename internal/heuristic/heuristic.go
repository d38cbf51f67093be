// Package heuristic estimates edibility from hand-engineered image
// statistics when the trained models cannot be used.
//
// The scoring coefficients and thresholds below carry no biological
// justification. Results from this package are approximations and are always
// tagged analysis.MethodHeuristic; species are drawn at random.
package heuristic

import (
	"context"
	"image"
	"math"

	"go.uber.org/zap"

	"github.com/example/mushroom-check/internal/analysis"
	"github.com/example/mushroom-check/internal/preprocess"
	"github.com/example/mushroom-check/internal/species"
)

// Scoring rule.
const (
	edgeDensityThreshold   = 0.1
	edgeBonus              = 0.3
	brightnessMin          = 80.0
	brightnessMax          = 180.0
	brightnessBonus        = 0.2
	saturationThreshold    = 150.0
	saturationPenalty      = 0.2
	textureThreshold       = 200.0
	textureBonus           = 0.1
	edibleScoreThreshold   = 0.3
	confidenceJitterMin    = 20.0
	confidenceJitterMax    = 40.0
	maxHeuristicConfidence = 95.0
)

// Tier is the heuristic fallback classifier.
type Tier struct {
	rng    species.Rand
	logger *zap.Logger
}

// New builds a heuristic tier. A nil rng uses species.DefaultRand.
func New(rng species.Rand, logger *zap.Logger) *Tier {
	if rng == nil {
		rng = species.DefaultRand
	}
	return &Tier{rng: rng, logger: logger.Named("heuristic_tier")}
}

// Method implements pipeline.Classifier.
func (t *Tier) Method() analysis.Method {
	return analysis.MethodHeuristic
}

// Classify implements pipeline.Classifier.
func (t *Tier) Classify(_ context.Context, img image.Image) (*analysis.Result, error) {
	return t.Estimate(img)
}

// Estimate scores img. It only fails for absent or zero-area images.
func (t *Tier) Estimate(img image.Image) (*analysis.Result, error) {
	if err := preprocess.Validate(img); err != nil {
		return nil, analysis.NewTierError(analysis.MethodHeuristic, analysis.ErrInvalidInput, err)
	}
	features := ComputeFeatures(img)
	result := t.decide(features)
	t.logger.Debug("heuristic estimate",
		zap.Float64("edible_score", result.Features.EdibleScore),
		zap.Float64("edge_density", features.EdgeDensity),
		zap.Float64("brightness", features.BrightnessMean),
		zap.Float64("saturation", features.SaturationMean),
		zap.Float64("texture_variance", features.TextureVariance),
	)
	return result, nil
}

func (t *Tier) decide(features analysis.Features) *analysis.Result {
	score := Score(features)
	features.EdibleScore = score

	confidence := math.Min(math.Abs(score)*100+species.Uniform(t.rng, confidenceJitterMin, confidenceJitterMax), maxHeuristicConfidence)
	result := &analysis.Result{
		Edible:              score > edibleScoreThreshold,
		EdibilityConfidence: confidence,
		Lifespan:            analysis.Unknown,
		Preservation:        analysis.Unknown,
		AnalysisMethod:      analysis.MethodHeuristic,
		Warnings:            []string{},
		Features:            &features,
	}
	if result.Edible {
		rec, conf := species.Draw(t.rng)
		species.Apply(result, rec, conf)
		result.AddWarning(analysis.WarningRandomSpecies)
	}
	result.Normalize()
	return result
}

// Score applies the additive rule. The sum is rounded to six decimals so
// that coefficient sums compare exactly against the threshold.
func Score(f analysis.Features) float64 {
	var score float64
	if f.EdgeDensity > edgeDensityThreshold {
		score += edgeBonus
	}
	if f.BrightnessMean >= brightnessMin && f.BrightnessMean <= brightnessMax {
		score += brightnessBonus
	}
	if f.SaturationMean > saturationThreshold {
		score -= saturationPenalty
	}
	if f.TextureVariance > textureThreshold {
		score += textureBonus
	}
	return math.Round(score*1e6) / 1e6
}
