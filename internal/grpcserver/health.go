// Package grpcserver exposes pipeline readiness over the standard gRPC health
// protocol so orchestrators can tell a degraded process from a healthy one.
package grpcserver

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/example/mushroom-check/internal/inference"
	"github.com/example/mushroom-check/internal/logging"
)

// TrainedModelService is the health service name tracking the model tier.
const TrainedModelService = "mushroom.TrainedModel"

// StateSource reports the lifecycle of the trained models.
type StateSource interface {
	State() inference.State
}

// Server is a gRPC server carrying only the health and reflection services.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	models StateSource
	logger *zap.Logger
}

// New builds the server and publishes the current model state.
func New(models StateSource, logger *zap.Logger) *Server {
	logger = logger.Named("grpc")
	s := &Server{
		health: health.NewServer(),
		models: models,
		logger: logger,
	}
	s.grpc = grpc.NewServer(grpc.UnaryInterceptor(s.logUnary))
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.Sync()
	return s
}

// Sync maps the model state onto the health statuses. The overall service is
// always SERVING because the fallback tiers still answer.
func (s *Server) Sync() {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	modelStatus := healthpb.HealthCheckResponse_NOT_SERVING
	if s.models != nil && s.models.State() == inference.StateReady {
		modelStatus = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(TrainedModelService, modelStatus)
}

// Serve accepts connections on lis until GracefulStop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC health listening", zap.String("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil {
		return logging.NewOperationError("grpcserver.serve", "", err)
	}
	return nil
}

// GracefulStop marks every service NOT_SERVING and drains open streams.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func (s *Server) logUnary(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug("unary call",
		zap.String("method", info.FullMethod),
		zap.String("code", status.Code(err).String()),
		zap.Duration("latency", time.Since(start)),
	)
	return resp, err
}
