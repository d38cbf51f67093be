// Package placeholder produces syntactically complete results without
// looking at image content. It backs demos, offline deployments and the last
// step of the fallback chain.
package placeholder

import (
	"context"
	"image"

	"github.com/example/mushroom-check/internal/analysis"
	"github.com/example/mushroom-check/internal/preprocess"
	"github.com/example/mushroom-check/internal/species"
)

// DefaultEdibleProbability is the chance that a placeholder result is edible.
const DefaultEdibleProbability = 0.7

// Edibility confidences are drawn from this range.
const (
	confidenceMin = 70.0
	confidenceMax = 90.0
)

// Tier is the placeholder classifier.
type Tier struct {
	rng               species.Rand
	edibleProbability float64
}

// New builds a placeholder tier. Probabilities outside [0,1] fall back to
// DefaultEdibleProbability; a nil rng uses species.DefaultRand.
func New(rng species.Rand, edibleProbability float64) *Tier {
	if rng == nil {
		rng = species.DefaultRand
	}
	if edibleProbability < 0 || edibleProbability > 1 {
		edibleProbability = DefaultEdibleProbability
	}
	return &Tier{rng: rng, edibleProbability: edibleProbability}
}

// Method implements pipeline.Classifier.
func (t *Tier) Method() analysis.Method {
	return analysis.MethodPlaceholder
}

// Classify implements pipeline.Classifier.
func (t *Tier) Classify(_ context.Context, img image.Image) (*analysis.Result, error) {
	return t.Placeholder(img)
}

// Placeholder returns a labelled, randomised result. Only an absent or
// zero-area image is rejected.
func (t *Tier) Placeholder(img image.Image) (*analysis.Result, error) {
	if err := preprocess.Validate(img); err != nil {
		return nil, analysis.NewTierError(analysis.MethodPlaceholder, analysis.ErrInvalidInput, err)
	}

	result := &analysis.Result{
		Edible:              t.rng.Float64() < t.edibleProbability,
		EdibilityConfidence: species.Uniform(t.rng, confidenceMin, confidenceMax),
		Lifespan:            analysis.Unknown,
		Preservation:        analysis.Unknown,
		AnalysisMethod:      analysis.MethodPlaceholder,
		Warnings:            []string{analysis.WarningPlaceholder},
		ImageInfo:           analysis.DescribeImage(img),
	}
	if result.Edible {
		rec, conf := species.Draw(t.rng)
		species.Apply(result, rec, conf)
		result.AddWarning(analysis.WarningRandomSpecies)
	}
	result.Normalize()
	return result, nil
}
