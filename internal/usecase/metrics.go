package usecase

import (
	"context"

	"github.com/example/mushroom-check/internal/analysis"
)

// MetricsSummary represents aggregated analysis insights.
type MetricsSummary struct {
	TotalRequests              int64            `json:"total_requests"`
	EdibleRequests             int64            `json:"edible_requests"`
	EdibleRate                 float64          `json:"edible_rate"`
	TrainedModelRate           float64          `json:"trained_model_rate"`
	AverageEdibilityConfidence float64          `json:"average_edibility_confidence"`
	AverageProcessingLatencyMs float64          `json:"average_processing_latency_ms"`
	ByMethod                   map[string]int64 `json:"by_method"`
}

// GetMetricsSummary aggregates analysis metrics from persisted logs. The
// trained-model rate shows how often callers received the highest-trust tier.
func (uc *AnalysisUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:              aggregation.TotalCount,
		EdibleRequests:             aggregation.EdibleCount,
		AverageEdibilityConfidence: aggregation.AverageEdibilityConfidence,
		AverageProcessingLatencyMs: aggregation.AverageProcessingLatencyMs,
		ByMethod: map[string]int64{
			string(analysis.MethodTrainedModel): 0,
			string(analysis.MethodHeuristic):    0,
			string(analysis.MethodPlaceholder):  0,
		},
	}
	for _, m := range aggregation.ByMethod {
		summary.ByMethod[m.AnalysisMethod] += m.Count
	}

	if aggregation.TotalCount > 0 {
		total := float64(aggregation.TotalCount)
		summary.EdibleRate = float64(aggregation.EdibleCount) / total
		summary.TrainedModelRate = float64(summary.ByMethod[string(analysis.MethodTrainedModel)]) / total
	}

	return summary, nil
}
