// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/example/mushroom-check/internal/inference"
	"github.com/example/mushroom-check/internal/placeholder"
)

// Config holds every setting the service reads at start-up.
type Config struct {
	HTTPAddr        string
	GRPCAddr        string
	DatabaseDSN     string
	RedisAddr       string
	JWTSecret       string
	JWTAudience     string
	LogLevel        string
	ShutdownTimeout time.Duration
	ResultCacheTTL  time.Duration

	Models                       inference.Config
	HeuristicEnabled             bool
	PlaceholderEdibleProbability float64

	// Warnings collects values that were present but unusable.
	Warnings []string
}

// Load reads the environment through getenv, falling back to defaults.
func Load(getenv func(string) string) Config {
	if getenv == nil {
		getenv = os.Getenv
	}
	l := loader{getenv: getenv}
	cfg := Config{
		HTTPAddr:        l.str("HTTP_ADDR", ":8080"),
		GRPCAddr:        l.str("GRPC_ADDR", ":9090"),
		DatabaseDSN:     l.str("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=mushrooms port=5432 sslmode=disable"),
		RedisAddr:       l.str("REDIS_ADDR", "redis:6379"),
		JWTSecret:       l.str("JWT_SECRET", "dev-secret"),
		JWTAudience:     l.str("JWT_AUDIENCE", ""),
		LogLevel:        l.str("LOG_LEVEL", "info"),
		ShutdownTimeout: l.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
		ResultCacheTTL:  l.duration("RESULT_CACHE_TTL", 5*time.Minute),
		Models: inference.Config{
			EdibilityModelPath: l.str("EDIBILITY_MODEL_PATH", "models/edibility_model.tflite"),
			SpeciesModelPath:   l.str("SPECIES_MODEL_PATH", "models/species_model.tflite"),
			ONNXLibraryPath:    l.str("ONNXRUNTIME_LIB", ""),
			NumThreads:         l.integer("TFLITE_THREADS", 2),
		},
		HeuristicEnabled:             l.boolean("HEURISTIC_ENABLED", true),
		PlaceholderEdibleProbability: l.probability("PLACEHOLDER_EDIBLE_PROBABILITY", placeholder.DefaultEdibleProbability),
	}
	cfg.Warnings = l.warnings
	return cfg
}

type loader struct {
	getenv   func(string) string
	warnings []string
}

func (l *loader) str(key, fallback string) string {
	if value := l.getenv(key); value != "" {
		return value
	}
	return fallback
}

func (l *loader) invalid(key, value string, fallback interface{}) {
	l.warnings = append(l.warnings, fmt.Sprintf("invalid %s=%q, using %v", key, value, fallback))
}

func (l *loader) integer(key string, fallback int) int {
	value := l.getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		l.invalid(key, value, fallback)
		return fallback
	}
	return n
}

func (l *loader) boolean(key string, fallback bool) bool {
	value := l.getenv(key)
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		l.invalid(key, value, fallback)
		return fallback
	}
	return b
}

func (l *loader) duration(key string, fallback time.Duration) time.Duration {
	value := l.getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		l.invalid(key, value, fallback)
		return fallback
	}
	return d
}

func (l *loader) probability(key string, fallback float64) float64 {
	value := l.getenv(key)
	if value == "" {
		return fallback
	}
	p, err := strconv.ParseFloat(value, 64)
	if err != nil || p < 0 || p > 1 {
		l.invalid(key, value, fallback)
		return fallback
	}
	return p
}
