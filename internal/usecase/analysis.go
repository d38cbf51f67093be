package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/mushroom-check/internal/analysis"
	"github.com/example/mushroom-check/internal/logging"
	"github.com/example/mushroom-check/internal/preprocess"
	"github.com/example/mushroom-check/internal/repository"
	"github.com/example/mushroom-check/internal/retry"
	"github.com/example/mushroom-check/internal/species"
)

const (
	processingTTL       = time.Minute
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	processingMarker    = "processing"
)

var (
	// ErrStillProcessing is returned by GetResult while an analysis is in flight.
	ErrStillProcessing = errors.New("analysis still processing")
	// ErrResultNotFound is returned by GetResult for unknown or foreign ids.
	ErrResultNotFound = errors.New("analysis result not found")
)

// AnalysisRepository defines the persistence operations needed by the use case.
type AnalysisRepository interface {
	SaveLog(ctx context.Context, log *repository.AnalysisLog) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.AnalysisLog, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*repository.AnalysisLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Analyzer runs the tiered classification pipeline.
type Analyzer interface {
	Analyze(ctx context.Context, img image.Image) *analysis.Result
}

// StoredAnalysis is an analysis result together with its request metadata.
type StoredAnalysis struct {
	RequestID string           `json:"request_id"`
	UserID    string           `json:"user_id"`
	SHA1Hash  string           `json:"sha1_hash"`
	CreatedAt time.Time        `json:"created_at"`
	Result    *analysis.Result `json:"result"`
}

// AnalysisUseCase encapsulates the business flow around the pipeline:
// decoding uploads, persisting history and caching results.
type AnalysisUseCase struct {
	repo      AnalysisRepository
	cache     Cache
	analyzer  Analyzer
	logger    *zap.Logger
	retry     retry.Policy
	resultTTL time.Duration
	now       func() time.Time
}

// NewAnalysisUseCase constructs a new use case instance.
func NewAnalysisUseCase(repo AnalysisRepository, cache Cache, analyzer Analyzer, logger *zap.Logger, resultTTL time.Duration) *AnalysisUseCase {
	if resultTTL <= 0 {
		resultTTL = 5 * time.Minute
	}
	return &AnalysisUseCase{
		repo:      repo,
		cache:     cache,
		analyzer:  analyzer,
		logger:    logger.Named("analysis_usecase"),
		retry:     retry.DefaultPolicy(),
		resultTTL: resultTTL,
		now:       time.Now,
	}
}

// AnalyzeImage decodes imageBytes, runs the pipeline and records the outcome.
// An undecodable image yields the canonical error result together with an
// error matching analysis.ErrInvalidImage.
func (uc *AnalysisUseCase) AnalyzeImage(ctx context.Context, userID string, imageBytes []byte) (string, *analysis.Result, error) {
	requestID := uuid.NewString()
	ctx = logging.ContextWithRequestID(ctx, requestID)
	opLogger := logging.WithOperation(uc.logger, "usecase.analyze_image", requestID)

	img, err := preprocess.Decode(imageBytes)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.decode_image", requestID, err)
		opLogger.Info("rejected upload", zap.Error(wrapped))
		return requestID, analysis.ErrorResult(err), wrapped
	}

	// Only accepted uploads get a processing marker.
	cacheKey := resultKey(requestID)
	if err := uc.withCacheRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, processingMarker, processingTTL)
	}); err != nil {
		opLogger.Warn("failed to set processing flag", logging.ErrorFields(err)...)
	}

	start := uc.now()
	result := uc.analyzer.Analyze(ctx, img)
	latency := uc.now().Sub(start)
	if result.Error != "" {
		wrapped := logging.NewOperationError("usecase.analyze", requestID, fmt.Errorf("%w: %s", analysis.ErrInvalidImage, result.Error))
		return requestID, result, wrapped
	}

	hash := sha1.Sum(imageBytes)
	stored := &StoredAnalysis{
		RequestID: requestID,
		UserID:    userID,
		SHA1Hash:  hex.EncodeToString(hash[:]),
		CreatedAt: uc.now().UTC(),
		Result:    result,
	}

	log := toLog(stored, latency)
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist analysis log", logging.ErrorFields(wrapped)...)
		uc.clearMarker(ctx, requestID, cacheKey)
		return "", nil, wrapped
	}

	serialized, err := json.Marshal(stored)
	if err != nil {
		opLogger.Error("failed to serialize analysis result", zap.Error(err))
		return requestID, result, nil
	}
	if err := uc.withCacheRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), uc.resultTTL)
	}); err != nil {
		opLogger.Warn("failed to cache analysis result", logging.ErrorFields(err)...)
	}

	opLogger.Info("analysis stored",
		zap.String("analysis_method", string(result.AnalysisMethod)),
		zap.Bool("edible", result.Edible),
		zap.Duration("latency", latency),
	)
	return requestID, result, nil
}

// GetResult retrieves a cached analysis or loads it from persistence.
func (uc *AnalysisUseCase) GetResult(ctx context.Context, userID, requestID string) (*StoredAnalysis, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)

	cached, err := uc.withCacheGet(ctx, requestID, "cache.get.result", resultKey(requestID))
	switch {
	case err == nil && cached == processingMarker:
		return nil, ErrStillProcessing
	case err == nil:
		var payload StoredAnalysis
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			opLogger.Warn("failed to decode cached result", zap.Error(err))
		} else if payload.UserID == userID {
			return &payload, nil
		}
	case !errors.Is(err, redis.Nil):
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	log, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromLog(log), nil
}

// GetHistory lists the most recent analyses of a user.
func (uc *AnalysisUseCase) GetHistory(ctx context.Context, userID string, limit int) ([]*StoredAnalysis, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	logs, err := uc.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	history := make([]*StoredAnalysis, 0, len(logs))
	for _, log := range logs {
		history = append(history, fromLog(log))
	}
	return history, nil
}

func resultKey(requestID string) string {
	return fmt.Sprintf("analysis:%s", requestID)
}

func toLog(stored *StoredAnalysis, latency time.Duration) *repository.AnalysisLog {
	r := stored.Result
	return &repository.AnalysisLog{
		RequestID:           stored.RequestID,
		UserID:              stored.UserID,
		AnalysisMethod:      string(r.AnalysisMethod),
		Edible:              r.Edible,
		EdibilityConfidence: r.EdibilityConfidence,
		Species:             r.Species,
		SpeciesConfidence:   r.SpeciesConfidence,
		Warnings:            r.Warnings,
		Width:               r.ImageInfo.Width,
		Height:              r.ImageInfo.Height,
		ColorMode:           r.ImageInfo.ColorMode,
		SHA1Hash:            stored.SHA1Hash,
		ProcessingLatencyMs: float64(latency) / float64(time.Millisecond),
		CreatedAt:           stored.CreatedAt,
	}
}

// fromLog rebuilds a result from persisted columns. Features and model
// details are not persisted.
func fromLog(log *repository.AnalysisLog) *StoredAnalysis {
	result := &analysis.Result{
		Edible:              log.Edible,
		EdibilityConfidence: log.EdibilityConfidence,
		Species:             log.Species,
		SpeciesConfidence:   log.SpeciesConfidence,
		Lifespan:            analysis.Unknown,
		Preservation:        analysis.Unknown,
		AnalysisMethod:      analysis.Method(log.AnalysisMethod),
		Warnings:            log.Warnings,
		ImageInfo: analysis.ImageInfo{
			Width:     log.Width,
			Height:    log.Height,
			ColorMode: log.ColorMode,
		},
	}
	if rec, ok := species.ByID(log.Species); ok {
		result.Lifespan = rec.Lifespan
		result.Preservation = rec.Preservation
	}
	if result.Warnings == nil {
		result.Warnings = []string{}
	}
	return &StoredAnalysis{
		RequestID: log.RequestID,
		UserID:    log.UserID,
		SHA1Hash:  log.SHA1Hash,
		CreatedAt: log.CreatedAt,
		Result:    result,
	}
}

func (uc *AnalysisUseCase) withCacheRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	return retry.Do(ctx, uc.logger, uc.retry, operation, requestID, fn)
}

// withCacheGet returns redis.Nil for a missing key without routing the miss
// through the retry logger.
func (uc *AnalysisUseCase) withCacheGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var (
		result string
		miss   bool
	)
	err := uc.withCacheRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if errors.Is(err, redis.Nil) {
			miss = true
			return nil
		}
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	if miss {
		return "", redis.Nil
	}
	return result, nil
}

// clearMarker drops the processing flag of an analysis that will never
// complete.
func (uc *AnalysisUseCase) clearMarker(ctx context.Context, requestID, cacheKey string) {
	if err := uc.withCacheRetry(ctx, requestID, "cache.delete.processing", func() error {
		return uc.cache.Delete(ctx, cacheKey)
	}); err != nil {
		uc.logger.Warn("failed to clear processing flag", logging.ErrorFields(err)...)
	}
}
