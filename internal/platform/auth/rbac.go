package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole returns middleware that checks if the user has at least one of
// the specified roles. Admins pass every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(c.Request().Context(), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasRole reports whether the caller holds any of roles, or is an admin.
func HasRole(ctx context.Context, roles ...string) bool {
	for _, has := range RolesFromContext(ctx) {
		if has == RoleAdmin {
			return true
		}
		for _, required := range roles {
			if has == required {
				return true
			}
		}
	}
	return false
}

// CanActForDoctor reports whether the caller may manage doctorID's calendar:
// admins always, doctors only their own.
func CanActForDoctor(ctx context.Context, doctorID int64) bool {
	if HasRole(ctx, RoleAdmin) {
		return true
	}
	return HasRole(ctx, RoleDoctor) && DoctorIDFromContext(ctx) == doctorID
}

// CanActForPatient reports whether the caller may book or view appointments
// for patientID. Doctors book on behalf of any patient.
func CanActForPatient(ctx context.Context, patientID int64) bool {
	if HasRole(ctx, RoleAdmin, RoleDoctor) {
		return true
	}
	return HasRole(ctx, RolePatient) && PatientIDFromContext(ctx) == patientID
}
