package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runHealth(t *testing.T, checks map[string]Check) (int, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := HealthHandler(nil, checks)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthHandler_AllHealthy(t *testing.T) {
	code, body := runHealth(t, map[string]Check{
		"redis": func(ctx context.Context) error { return nil },
	})
	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
	checks := body["checks"].(map[string]interface{})
	if checks["redis"] != "ok" {
		t.Errorf("expected redis ok, got %v", checks["redis"])
	}
	if _, ok := body["pool"]; ok {
		t.Error("expected no pool stats without a pool")
	}
}

func TestHealthHandler_FailingCheck(t *testing.T) {
	code, body := runHealth(t, map[string]Check{
		"redis":  func(ctx context.Context) error { return nil },
		"broker": func(ctx context.Context) error { return errors.New("connection refused") },
	})
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("expected unhealthy, got %v", body["status"])
	}
	checks := body["checks"].(map[string]interface{})
	if checks["broker"] != "connection refused" {
		t.Errorf("expected broker error message, got %v", checks["broker"])
	}
}
