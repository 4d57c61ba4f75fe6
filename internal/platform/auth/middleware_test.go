package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			Issuer:    "teleclinic-auth",
			Audience:  jwt.ClaimStrings{"teleclinic-api"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles:    []string{RoleDoctor},
		DoctorID: 7,
	}
}

func runJWT(t *testing.T, cfg JWTConfig, header string) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/doctors/7/slots", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	var seen echo.Context
	err := JWTMiddleware(cfg)(func(c echo.Context) error {
		seen = c
		return c.String(http.StatusOK, "ok")
	})(c)
	return seen, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, "")
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	for _, header := range []string{"Token abc123", "Bearer", "Bearer ", "Basic dXNlcjpwYXNz"} {
		t.Run(header, func(t *testing.T) {
			_, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, header)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	cfg := JWTConfig{Issuer: "teleclinic-auth", Audience: "teleclinic-api", SigningKey: testSigningKey}
	token := createTestToken(t, validClaims(), testSigningKey)

	c, err := runJWT(t, cfg, "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := c.Request().Context()
	if UserIDFromContext(ctx) != "user-42" {
		t.Errorf("expected user-42, got %q", UserIDFromContext(ctx))
	}
	if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != RoleDoctor {
		t.Errorf("unexpected roles %v", roles)
	}
	if DoctorIDFromContext(ctx) != 7 {
		t.Errorf("expected doctor 7, got %d", DoctorIDFromContext(ctx))
	}
}

func TestJWTMiddleware_Rejections(t *testing.T) {
	cfg := JWTConfig{Issuer: "teleclinic-auth", Audience: "teleclinic-api", SigningKey: testSigningKey}

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "someone-else"

	wrongAudience := validClaims()
	wrongAudience.Audience = jwt.ClaimStrings{"other-api"}

	tests := []struct {
		name  string
		token string
	}{
		{"expired", createTestToken(t, expired, testSigningKey)},
		{"wrong issuer", createTestToken(t, wrongIssuer, testSigningKey)},
		{"wrong audience", createTestToken(t, wrongAudience, testSigningKey)},
		{"wrong key", createTestToken(t, validClaims(), []byte("another-key"))},
		{"garbage", "not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runJWT(t, cfg, "Bearer "+tt.token)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, Skipper: func(echo.Context) bool { return true }}
	if _, err := runJWT(t, cfg, ""); err != nil {
		t.Errorf("expected skipped request to pass, got %v", err)
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	var roles []string
	_ = DevAuthMiddleware()(func(c echo.Context) error {
		roles = RolesFromContext(c.Request().Context())
		return nil
	})(c)
	if len(roles) != 1 || roles[0] != RoleAdmin {
		t.Errorf("expected admin by default, got %v", roles)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Dev-Role", RolePatient)
	req.Header.Set("X-Dev-Patient-ID", "12")
	c = e.NewContext(req, httptest.NewRecorder())
	var patientID int64
	_ = DevAuthMiddleware()(func(c echo.Context) error {
		roles = RolesFromContext(c.Request().Context())
		patientID = PatientIDFromContext(c.Request().Context())
		return nil
	})(c)
	if roles[0] != RolePatient || patientID != 12 {
		t.Errorf("expected patient 12, got roles=%v patient=%d", roles, patientID)
	}
}
