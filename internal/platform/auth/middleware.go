package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
	DoctorIDKey  contextKey = "doctor_id"
	PatientIDKey contextKey = "patient_id"
)

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

// Claims are the token claims issued by the identity service. DoctorID and
// PatientID link the subject to the clinical record it may act for.
type Claims struct {
	jwt.RegisteredClaims
	Roles     []string `json:"roles"`
	DoctorID  int64    `json:"doctor_id,omitempty"`
	PatientID int64    `json:"patient_id,omitempty"`
}

type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
	Skipper    func(c echo.Context) bool
}

// JWTMiddleware validates an HS256 bearer token and stores the caller's
// identity on the request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	keyFunc := func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenStr) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx := WithIdentity(c.Request().Context(), claims.Subject, claims.Roles, claims.DoctorID, claims.PatientID)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// DevAuthMiddleware trusts the caller. Without headers the request runs as
// an admin; X-Dev-Role, X-Dev-Doctor-ID and X-Dev-Patient-ID impersonate
// other callers for local testing.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header
			role := h.Get("X-Dev-Role")
			if role == "" {
				role = RoleAdmin
			}
			doctorID, _ := strconv.ParseInt(h.Get("X-Dev-Doctor-ID"), 10, 64)
			patientID, _ := strconv.ParseInt(h.Get("X-Dev-Patient-ID"), 10, 64)

			ctx := WithIdentity(c.Request().Context(), "dev-user", []string{role}, doctorID, patientID)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// WithIdentity stores a caller identity on ctx.
func WithIdentity(ctx context.Context, userID string, roles []string, doctorID, patientID int64) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, UserRolesKey, roles)
	ctx = context.WithValue(ctx, DoctorIDKey, doctorID)
	ctx = context.WithValue(ctx, PatientIDKey, patientID)
	return ctx
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

func DoctorIDFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(DoctorIDKey).(int64)
	return id
}

func PatientIDFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(PatientIDKey).(int64)
	return id
}
