// Package pipeline runs the classification tiers in their fixed order and
// normalises whatever tier answered into one result shape.
package pipeline

import (
	"context"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/example/mushroom-check/internal/analysis"
	"github.com/example/mushroom-check/internal/logging"
	"github.com/example/mushroom-check/internal/preprocess"
)

// Classifier is one strategy for producing an analysis result.
type Classifier interface {
	Method() analysis.Method
	Classify(ctx context.Context, img image.Image) (*analysis.Result, error)
}

// Option wires an optional tier into the orchestrator.
type Option func(*Orchestrator)

// WithPrimary wires the trained-model tier.
func WithPrimary(c Classifier) Option {
	return func(o *Orchestrator) {
		o.primary = c
	}
}

// WithHeuristic wires the image-statistics tier.
func WithHeuristic(c Classifier) Option {
	return func(o *Orchestrator) {
		o.heuristic = c
	}
}

// Orchestrator tries primary, then heuristic, then the fallback. Tiers run
// sequentially and each is attempted at most once per call.
type Orchestrator struct {
	primary   Classifier
	heuristic Classifier
	fallback  Classifier
	logger    *zap.Logger
}

// NewOrchestrator builds an orchestrator around a fallback that cannot fail
// for a valid image.
func NewOrchestrator(fallback Classifier, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{fallback: fallback, logger: logger.Named("orchestrator")}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Tiers lists the wired tiers in the order they are tried.
func (o *Orchestrator) Tiers() []analysis.Method {
	var methods []analysis.Method
	for _, c := range o.chain() {
		methods = append(methods, c.Method())
	}
	return methods
}

func (o *Orchestrator) chain() []Classifier {
	chain := make([]Classifier, 0, 3)
	for _, c := range []Classifier{o.primary, o.heuristic, o.fallback} {
		if c != nil {
			chain = append(chain, c)
		}
	}
	return chain
}

// Analyze always returns a result. Only an absent or zero-area image yields
// a result with Error set.
func (o *Orchestrator) Analyze(ctx context.Context, img image.Image) *analysis.Result {
	opLogger := logging.WithOperation(o.logger, "pipeline.analyze", logging.RequestIDFromContext(ctx))
	if err := preprocess.Validate(img); err != nil {
		opLogger.Warn("rejecting image", zap.Error(err))
		return analysis.ErrorResult(err)
	}
	info := analysis.DescribeImage(img)

	for _, tier := range o.chain() {
		start := time.Now()
		result, err := tier.Classify(ctx, img)
		if err != nil {
			opLogger.Warn("tier failed, falling through",
				zap.String("tier", string(tier.Method())),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err),
			)
			continue
		}
		if result == nil {
			opLogger.Warn("tier returned no result", zap.String("tier", string(tier.Method())))
			continue
		}
		o.finalize(result, tier.Method(), info)
		opLogger.Info("analysis completed",
			zap.String("tier", string(result.AnalysisMethod)),
			zap.Bool("edible", result.Edible),
			zap.Float64("edibility_confidence", result.EdibilityConfidence),
			zap.Duration("elapsed", time.Since(start)),
		)
		return result
	}

	// Reached only if the fallback rejected an image Validate accepted.
	opLogger.Error("no tier produced a result")
	return analysis.ErrorResult(analysis.ErrInvalidImage)
}

func (o *Orchestrator) finalize(result *analysis.Result, method analysis.Method, info analysis.ImageInfo) {
	result.AnalysisMethod = method
	result.ImageInfo = info
	result.Error = ""
	switch method {
	case analysis.MethodHeuristic:
		result.AddWarning(analysis.WarningHeuristic)
	case analysis.MethodPlaceholder:
		result.AddWarning(analysis.WarningPlaceholder)
	}
	result.Normalize()
}
