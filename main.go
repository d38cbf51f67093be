package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/mushroom-check/internal/analysis"
	"github.com/example/mushroom-check/internal/auth"
	"github.com/example/mushroom-check/internal/config"
	"github.com/example/mushroom-check/internal/grpcserver"
	"github.com/example/mushroom-check/internal/handlers"
	"github.com/example/mushroom-check/internal/heuristic"
	"github.com/example/mushroom-check/internal/inference"
	"github.com/example/mushroom-check/internal/logging"
	"github.com/example/mushroom-check/internal/pipeline"
	"github.com/example/mushroom-check/internal/placeholder"
	"github.com/example/mushroom-check/internal/preprocess"
	"github.com/example/mushroom-check/internal/repository"
	"github.com/example/mushroom-check/internal/species"
	"github.com/example/mushroom-check/internal/usecase"
)

func main() {
	cfg := config.Load(os.Getenv)

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	for _, warning := range cfg.Warnings {
		logger.Warn("invalid configuration value", zap.String("detail", warning))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	models := inference.NewResourceManager(cfg.Models, logger)
	defer func() {
		if err := models.Close(); err != nil {
			logger.Warn("failed to release models", zap.Error(err))
		}
	}()
	orchestrator := buildPipeline(cfg, models, logger)

	db := initDatabase(ctx, cfg.DatabaseDSN, logger)
	repo := repository.NewAnalysisRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)

	cache := usecase.NewRedisCache(redisClient)
	uc := usecase.NewAnalysisUseCase(repo, cache, orchestrator, logger, cfg.ResultCacheTTL)

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize

	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTAudience, logger)
	status := &pipelineStatus{models: models, orchestrator: orchestrator}
	handlers.RegisterRoutes(r, uc, status, verifier.Middleware(), logger)

	healthServer := grpcserver.New(models, logger)
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen for gRPC", zap.Error(err), zap.String("addr", cfg.GRPCAddr))
	}
	go func() {
		if err := healthServer.Serve(grpcListener); err != nil {
			logger.Error("gRPC server stopped", logging.ErrorFields(err)...)
		}
	}()
	defer healthServer.GracefulStop()

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	logger.Info("mushroom analysis API listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.Stringer("model_state", models.State()),
		zap.Any("tiers", orchestrator.Tiers()),
	)
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// buildPipeline loads the models eagerly and wires only the tiers whose
// capabilities are present.
func buildPipeline(cfg config.Config, models *inference.ResourceManager, logger *zap.Logger) *pipeline.Orchestrator {
	var opts []pipeline.Option

	switch state := models.Warm(); state {
	case inference.StateReady:
		opts = append(opts, pipeline.WithPrimary(inference.NewTier(models, preprocess.New(), logger)))
	default:
		logger.Warn("trained models unavailable, serving approximate tiers only",
			zap.Stringer("model_state", state),
			zap.Bool("tflite_compiled", inference.TFLiteCompiled),
		)
	}

	if cfg.HeuristicEnabled {
		opts = append(opts, pipeline.WithHeuristic(heuristic.New(species.DefaultRand, logger)))
	}

	fallback := placeholder.New(species.DefaultRand, cfg.PlaceholderEdibleProbability)
	return pipeline.NewOrchestrator(fallback, logger, opts...)
}

type pipelineStatus struct {
	models       *inference.ResourceManager
	orchestrator *pipeline.Orchestrator
}

func (s *pipelineStatus) ModelState() string       { return s.models.State().String() }
func (s *pipelineStatus) Tiers() []analysis.Method { return s.orchestrator.Tiers() }

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
