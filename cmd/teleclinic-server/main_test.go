package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/teleclinic/teleclinic/internal/config"
	"github.com/teleclinic/teleclinic/internal/domain/scheduling"
	"github.com/teleclinic/teleclinic/internal/platform/db"
	"github.com/teleclinic/teleclinic/internal/platform/events"
	"github.com/teleclinic/teleclinic/internal/platform/locker"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:                "development",
		ClinicTimezone:     "UTC",
		DefaultSlotMinutes: 30,
		ReminderCron:       "@every 1h",
		ReminderLead:       time.Hour,
		RateLimitRPS:       1000,
		RateLimitBurst:     1000,
		RequestTimeout:     5 * time.Second,
		CORSOrigins:        []string{"http://localhost:3000"},
	}
}

func newDevServer(t *testing.T) *server {
	t.Helper()
	st, mem := memoryStores()
	logger := zerolog.Nop()
	srv := newServer(testConfig(), logger, st, events.NewLogPublisher(logger), locker.NewLocalLocker(), db.HealthHandler(nil, nil))
	if err := seedDemo(context.Background(), mem, srv.schedules); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return srv
}

func serve(srv *server, method, target, body, role string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if role != "" {
		req.Header.Set("X-Dev-Role", role)
		req.Header.Set("X-Dev-Patient-ID", "7")
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	srv := newDevServer(t)
	rec := serve(srv, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestServer_SlotsAndBooking(t *testing.T) {
	srv := newDevServer(t)

	// Next Monday is always in the future and a working day.
	now := time.Now().UTC()
	days := (int(time.Monday) - int(now.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	monday := now.AddDate(0, 0, days).Format("2006-01-02")

	rec := serve(srv, http.MethodGet, "/api/v1/doctors/1/slots?date="+monday+"&view=free", "", "patient")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Count(rec.Body.String(), `"available":true`) != 16 {
		t.Errorf("expected 16 free half-hour slots, got %s", rec.Body.String())
	}

	body := `{"doctor_id":1,"start":"` + monday + `T09:00:00Z","end":"` + monday + `T09:30:00Z"}`
	rec = serve(srv, http.MethodPost, "/api/v1/appointments", body, "patient")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = serve(srv, http.MethodPost, "/api/v1/appointments", body, "patient")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 on double booking, got %d", rec.Code)
	}
}

func TestServer_PatientCannotEditSchedule(t *testing.T) {
	srv := newDevServer(t)
	rec := serve(srv, http.MethodPut, "/api/v1/doctors/1/schedule/monday", `{"start_time":"08:00","end_time":"12:00"}`, "patient")
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestPrintSlots(t *testing.T) {
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	slots := scheduling.SlotList{
		{Start: day.Add(9 * time.Hour), End: day.Add(9*time.Hour + 30*time.Minute), Available: true},
		{Start: day.Add(9*time.Hour + 30*time.Minute), End: day.Add(10 * time.Hour), Available: false},
	}
	var buf bytes.Buffer
	printSlots(&buf, 1, day, slots)
	out := buf.String()
	if !strings.Contains(out, "Mon 2025-06-02") || !strings.Contains(out, "09:00  09:30  free") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "booked/blocked") {
		t.Errorf("expected an unavailable row:\n%s", out)
	}

	buf.Reset()
	printSlots(&buf, 1, day, scheduling.SlotList{})
	if !strings.Contains(buf.String(), "no slots") {
		t.Errorf("expected no slots message, got %q", buf.String())
	}
}

func TestPrintMigrationStatus(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	var buf bytes.Buffer
	printMigrationStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "scheduling", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "later"},
	})
	out := buf.String()
	if !strings.Contains(out, "applied") || !strings.Contains(out, "2025-01-02 03:04:05") || !strings.Contains(out, "pending") {
		t.Errorf("unexpected output:\n%s", out)
	}
}
