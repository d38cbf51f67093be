package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/example/mushroom-check/internal/analysis"
	"github.com/example/mushroom-check/internal/auth"
	"github.com/example/mushroom-check/internal/usecase"
)

const testJWTSecret = "test-secret"

type stubService struct {
	analyzeCalls int
	analyzeUser  string
	analyzeErr   error
	result       *analysis.Result
	stored       *usecase.StoredAnalysis
	resultErr    error
	historyLimit int
	summary      *usecase.MetricsSummary
}

func (s *stubService) AnalyzeImage(ctx context.Context, userID string, imageBytes []byte) (string, *analysis.Result, error) {
	s.analyzeCalls++
	s.analyzeUser = userID
	return "req-1", s.result, s.analyzeErr
}

func (s *stubService) GetResult(ctx context.Context, userID, requestID string) (*usecase.StoredAnalysis, error) {
	if s.resultErr != nil {
		return nil, s.resultErr
	}
	return s.stored, nil
}

func (s *stubService) GetHistory(ctx context.Context, userID string, limit int) ([]*usecase.StoredAnalysis, error) {
	s.historyLimit = limit
	return []*usecase.StoredAnalysis{}, nil
}

func (s *stubService) GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error) {
	if s.summary == nil {
		return nil, errors.New("no metrics")
	}
	return s.summary, nil
}

type stubStatus struct{}

func (stubStatus) ModelState() string { return "degraded" }
func (stubStatus) Tiers() []analysis.Method {
	return []analysis.Method{analysis.MethodHeuristic, analysis.MethodPlaceholder}
}

func newTestRouter(svc Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	RegisterRoutes(router, svc, stubStatus{}, auth.JWTMiddleware(testJWTSecret, ""), nil)
	return router
}

func TestAnalyzeRejectsLargeUpload(t *testing.T) {
	svc := &stubService{}
	router := newTestRouter(svc)

	token := buildTestToken(t, "user-123")
	body, contentType := buildMultipartBody(t, "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1))

	resp := postAnalyze(router, body, contentType, token)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
	if svc.analyzeCalls != 0 {
		t.Fatal("service must not be called for oversized uploads")
	}
}

func TestAnalyzeRejectsUnsupportedContentType(t *testing.T) {
	router := newTestRouter(&stubService{})

	token := buildTestToken(t, "user-123")
	body, contentType := buildMultipartBody(t, "text/plain", []byte("hello"))

	resp := postAnalyze(router, body, contentType, token)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestAnalyzeRequiresToken(t *testing.T) {
	router := newTestRouter(&stubService{})
	body, contentType := buildMultipartBody(t, "image/png", []byte("png"))

	resp := postAnalyze(router, body, contentType, "")

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
}

func TestAnalyzeReturnsResult(t *testing.T) {
	svc := &stubService{result: &analysis.Result{
		Edible:              true,
		EdibilityConfidence: 88,
		Species:             "Coprinus_comatus",
		AnalysisMethod:      analysis.MethodTrainedModel,
		Warnings:            []string{},
	}}
	router := newTestRouter(svc)

	body, contentType := buildMultipartBody(t, "image/jpeg", []byte("jpeg-bytes"))
	resp := postAnalyze(router, body, contentType, buildTestToken(t, "user-9"))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.analyzeUser != "user-9" {
		t.Fatalf("expected token subject as user id, got %q", svc.analyzeUser)
	}

	var payload struct {
		RequestID string          `json:"request_id"`
		Result    analysis.Result `json:"result"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload.RequestID != "req-1" || payload.Result.AnalysisMethod != analysis.MethodTrainedModel {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestAnalyzeMapsInvalidImageTo422(t *testing.T) {
	svc := &stubService{
		result:     analysis.ErrorResult(analysis.ErrInvalidImage),
		analyzeErr: fmt.Errorf("decode: %w", analysis.ErrInvalidImage),
	}
	router := newTestRouter(svc)

	body, contentType := buildMultipartBody(t, "image/png", []byte("garbage"))
	resp := postAnalyze(router, body, contentType, buildTestToken(t, "user-1"))

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.Code)
	}
}

func TestAnalyzeMapsFailureTo500(t *testing.T) {
	svc := &stubService{analyzeErr: errors.New("db down")}
	router := newTestRouter(svc)

	body, contentType := buildMultipartBody(t, "image/png", []byte("png"))
	resp := postAnalyze(router, body, contentType, buildTestToken(t, "user-1"))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
}

func TestResultStatuses(t *testing.T) {
	tests := []struct {
		name string
		svc  *stubService
		want int
	}{
		{name: "found", svc: &stubService{stored: &usecase.StoredAnalysis{RequestID: "r"}}, want: http.StatusOK},
		{name: "processing", svc: &stubService{resultErr: usecase.ErrStillProcessing}, want: http.StatusAccepted},
		{name: "missing", svc: &stubService{resultErr: usecase.ErrResultNotFound}, want: http.StatusNotFound},
		{name: "backend failure", svc: &stubService{resultErr: errors.New("connection refused")}, want: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(tc.svc)
			req := httptest.NewRequest(http.MethodGet, "/result/r", nil)
			req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "user-1"))
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.Code)
			}
		})
	}
}

func TestHistoryParsesLimit(t *testing.T) {
	svc := &stubService{}
	router := newTestRouter(svc)
	token := buildTestToken(t, "user-1")

	req := httptest.NewRequest(http.MethodGet, "/history?limit=7", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK || svc.historyLimit != 7 {
		t.Fatalf("unexpected response %d with limit %d", resp.Code, svc.historyLimit)
	}

	req = httptest.NewRequest(http.MethodGet, "/history?limit=abc", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", resp.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	svc := &stubService{summary: &usecase.MetricsSummary{TotalRequests: 3}}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "user-1"))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var summary usecase.MetricsSummary
	if err := json.Unmarshal(resp.Body.Bytes(), &summary); err != nil || summary.TotalRequests != 3 {
		t.Fatalf("unexpected summary %+v (err %v)", summary, err)
	}
}

func TestHealthReportsTiersWithoutAuth(t *testing.T) {
	router := newTestRouter(&stubService{})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Status     string   `json:"status"`
		ModelState string   `json:"model_state"`
		Tiers      []string `json:"tiers"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body.ModelState != "degraded" || len(body.Tiers) != 2 || body.Tiers[0] != "heuristic" {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func postAnalyze(router *gin.Engine, body *bytes.Buffer, contentType, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func buildMultipartBody(t *testing.T, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="upload"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
