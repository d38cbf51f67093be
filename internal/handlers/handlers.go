package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/mushroom-check/internal/analysis"
	"github.com/example/mushroom-check/internal/auth"
	"github.com/example/mushroom-check/internal/logging"
	"github.com/example/mushroom-check/internal/usecase"
)

// MaxUploadSize bounds the accepted multipart body.
const MaxUploadSize = 10 << 20

var allowedContentTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
	"image/bmp":  {},
	"image/tiff": {},
}

// Service is the application API exposed over HTTP.
type Service interface {
	AnalyzeImage(ctx context.Context, userID string, imageBytes []byte) (string, *analysis.Result, error)
	GetResult(ctx context.Context, userID, requestID string) (*usecase.StoredAnalysis, error)
	GetHistory(ctx context.Context, userID string, limit int) ([]*usecase.StoredAnalysis, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// StatusReporter describes which pipeline tiers are live.
type StatusReporter interface {
	ModelState() string
	Tiers() []analysis.Method
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc Service, status StatusReporter, authMiddleware gin.HandlerFunc, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{svc: svc, status: status, logger: logger.Named("http")}

	router.GET("/health", h.health)

	api := router.Group("/")
	if authMiddleware != nil {
		api.Use(authMiddleware)
	}
	api.POST("/analyze", h.analyze)
	api.GET("/result/:id", h.result)
	api.GET("/history", h.history)
	api.GET("/metrics", h.metrics)
}

type handler struct {
	svc    Service
	status StatusReporter
	logger *zap.Logger
}

func (h *handler) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.status != nil {
		body["model_state"] = h.status.ModelState()
		body["tiers"] = h.status.Tiers()
	}
	c.JSON(http.StatusOK, body)
}

func (h *handler) analyze(c *gin.Context) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize)
	file, err := c.FormFile("image")
	if err != nil {
		if bodyTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return
	}
	if !allowedContentType(file.Header.Get("Content-Type")) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image type"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return
	}

	requestID, result, err := h.svc.AnalyzeImage(c.Request.Context(), userID, data)
	switch {
	case errors.Is(err, analysis.ErrInvalidImage):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"request_id": requestID, "result": result})
		return
	case err != nil:
		h.logger.Error("analysis failed", logging.ErrorFields(err)...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analysis failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"request_id": requestID, "result": result})
}

func (h *handler) result(c *gin.Context) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	requestID := c.Param("id")
	if requestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	stored, err := h.svc.GetResult(c.Request.Context(), userID, requestID)
	switch {
	case errors.Is(err, usecase.ErrStillProcessing):
		c.JSON(http.StatusAccepted, gin.H{"request_id": requestID, "status": "processing"})
		return
	case errors.Is(err, usecase.ErrResultNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	case err != nil:
		h.logger.Error("result lookup failed", logging.ErrorFields(err)...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
		return
	}

	c.JSON(http.StatusOK, stored)
}

func (h *handler) history(c *gin.Context) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	history, err := h.svc.GetHistory(c.Request.Context(), userID, limit)
	if err != nil {
		h.logger.Error("history lookup failed", logging.ErrorFields(err)...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": history})
}

func (h *handler) metrics(c *gin.Context) {
	summary, err := h.svc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		h.logger.Error("metrics aggregation failed", logging.ErrorFields(err)...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// bodyTooLarge recognises the MaxBytesReader failure; the multipart reader
// does not always keep it wrapped.
func bodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

func allowedContentType(header string) bool {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	_, ok := allowedContentTypes[strings.ToLower(mediaType)]
	return ok
}
