package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runRequireRole(t *testing.T, callerRoles []string, required ...string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, callerRoles))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := RequireRole(required...)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	return rec, err
}

func TestRequireRole_Allowed(t *testing.T) {
	rec, err := runRequireRole(t, []string{RoleDoctor}, RoleDoctor, RolePatient)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	if _, err := runRequireRole(t, []string{RoleAdmin}, RoleDoctor); err != nil {
		t.Errorf("expected admin to pass, got %v", err)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	_, err := runRequireRole(t, []string{RolePatient}, RoleDoctor)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", httpErr.Code)
	}
}

func TestRequireRole_NoRoles(t *testing.T) {
	if _, err := runRequireRole(t, nil, RolePatient); err == nil {
		t.Error("expected error without roles")
	}
}

func TestCanActForDoctor(t *testing.T) {
	tests := []struct {
		name     string
		roles    []string
		doctorID int64
		target   int64
		want     bool
	}{
		{"admin any doctor", []string{RoleAdmin}, 0, 9, true},
		{"doctor own calendar", []string{RoleDoctor}, 9, 9, true},
		{"doctor other calendar", []string{RoleDoctor}, 3, 9, false},
		{"patient", []string{RolePatient}, 0, 9, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithIdentity(context.Background(), "u", tt.roles, tt.doctorID, 0)
			if got := CanActForDoctor(ctx, tt.target); got != tt.want {
				t.Errorf("CanActForDoctor = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanActForPatient(t *testing.T) {
	tests := []struct {
		name      string
		roles     []string
		patientID int64
		target    int64
		want      bool
	}{
		{"admin", []string{RoleAdmin}, 0, 5, true},
		{"doctor on behalf of patient", []string{RoleDoctor}, 0, 5, true},
		{"patient self", []string{RolePatient}, 5, 5, true},
		{"patient other", []string{RolePatient}, 6, 5, false},
		{"no roles", nil, 5, 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithIdentity(context.Background(), "u", tt.roles, 0, tt.patientID)
			if got := CanActForPatient(ctx, tt.target); got != tt.want {
				t.Errorf("CanActForPatient = %v, want %v", got, tt.want)
			}
		})
	}
}
