package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject string, audience ...string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  audience,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newRouter(secret, audience string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/private", RequireBearer(secret, audience, zap.NewNop()), func(c *gin.Context) {
		caller, _ := Caller(c.Request.Context())
		c.String(http.StatusOK, caller)
	})
	return router
}

func TestRequireBearer(t *testing.T) {
	cases := map[string]struct {
		secret   string
		audience string
		header   string
		status   int
		body     string
	}{
		"valid":           {secret: testSecret, header: "Bearer " + signToken(t, testSecret, "event-grid"), status: http.StatusOK, body: "event-grid"},
		"lowercase":       {secret: testSecret, header: "bearer " + signToken(t, testSecret, "ops"), status: http.StatusOK, body: "ops"},
		"missing header":  {secret: testSecret, status: http.StatusUnauthorized},
		"wrong scheme":    {secret: testSecret, header: "Basic abc", status: http.StatusUnauthorized},
		"wrong secret":    {secret: testSecret, header: "Bearer " + signToken(t, "other", "x"), status: http.StatusUnauthorized},
		"no secret":       {header: "Bearer " + signToken(t, testSecret, "x"), status: http.StatusUnauthorized},
		"no subject":      {secret: testSecret, header: "Bearer " + signToken(t, testSecret, ""), status: http.StatusUnauthorized},
		"audience match":  {secret: testSecret, audience: "face-blur", header: "Bearer " + signToken(t, testSecret, "x", "face-blur"), status: http.StatusOK, body: "x"},
		"audience differ": {secret: testSecret, audience: "face-blur", header: "Bearer " + signToken(t, testSecret, "x", "other"), status: http.StatusUnauthorized},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/private", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp := httptest.NewRecorder()
			newRouter(tc.secret, tc.audience).ServeHTTP(resp, req)

			if resp.Code != tc.status {
				t.Fatalf("expected status %d, got %d (%s)", tc.status, resp.Code, resp.Body.String())
			}
			if tc.body != "" && resp.Body.String() != tc.body {
				t.Fatalf("expected caller %q, got %q", tc.body, resp.Body.String())
			}
		})
	}
}

func TestCallerMissing(t *testing.T) {
	if _, ok := Caller(httptest.NewRequest(http.MethodGet, "/", nil).Context()); ok {
		t.Fatal("expected no caller on an unauthenticated context")
	}
}

func TestRequireBearerLogsRejections(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	router := gin.New()
	router.POST("/events", RequireBearer(testSecret, "", zap.New(core)), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/events", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}

	entries := logs.FilterMessage("rejected request").All()
	if len(entries) != 1 {
		t.Fatalf("expected one rejection log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["route"] != "/events" || fields["reason"] != "authorization header required" {
		t.Fatalf("unexpected log fields: %v", fields)
	}
}

func TestCallerField(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()
	logger.Info("anonymous", CallerField(ctx))
	logger.Info("authenticated", CallerField(context.WithValue(ctx, callerKey, "event-grid")))

	all := logs.All()
	if _, ok := all[0].ContextMap()["caller"]; ok {
		t.Fatal("expected no caller field for an anonymous request")
	}
	if all[1].ContextMap()["caller"] != "event-grid" {
		t.Fatalf("unexpected caller field: %v", all[1].ContextMap())
	}
}
