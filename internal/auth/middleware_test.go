package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newRouter(v *Verifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/me", v.Middleware(), func(c *gin.Context) {
		userID, ok := GetUserID(c.Request.Context())
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, userID)
	})
	return router
}

func serve(router *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	router := newRouter(NewVerifier(testSecret, "", nil))
	token := signToken(t, testSecret, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	resp := serve(router, "Bearer "+token)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if resp.Body.String() != "user-1" {
		t.Fatalf("unexpected user id: %s", resp.Body.String())
	}
}

func TestMiddlewareRejections(t *testing.T) {
	valid := jwt.RegisteredClaims{Subject: "user-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}

	tests := []struct {
		name     string
		verifier *Verifier
		header   string
	}{
		{name: "missing header", verifier: NewVerifier(testSecret, "", nil), header: ""},
		{name: "wrong scheme", verifier: NewVerifier(testSecret, "", nil), header: "Basic abc"},
		{name: "empty token", verifier: NewVerifier(testSecret, "", nil), header: "Bearer   "},
		{name: "wrong secret", verifier: NewVerifier(testSecret, "", nil), header: "Bearer " + signToken(t, "other", valid)},
		{name: "expired", verifier: NewVerifier(testSecret, "", nil), header: "Bearer " + signToken(t, testSecret, jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		})},
		{name: "missing subject", verifier: NewVerifier(testSecret, "", nil), header: "Bearer " + signToken(t, testSecret, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})},
		{name: "audience mismatch", verifier: NewVerifier(testSecret, "mushroom-api", nil), header: "Bearer " + signToken(t, testSecret, valid)},
		{name: "no secret configured", verifier: NewVerifier("", "", nil), header: "Bearer " + signToken(t, testSecret, valid)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := serve(newRouter(tc.verifier), tc.header)
			if resp.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.Code)
			}
		})
	}
}

func TestMiddlewareAcceptsMatchingAudience(t *testing.T) {
	router := newRouter(NewVerifier(testSecret, "mushroom-api", nil))
	token := signToken(t, testSecret, jwt.RegisteredClaims{
		Subject:   "user-2",
		Audience:  jwt.ClaimStrings{"mushroom-api"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	if resp := serve(router, "Bearer "+token); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}
