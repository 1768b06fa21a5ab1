package auth_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/karipov/nostrust/pkg/auth"
)

// createTestToken generates a signed JWT for testing using the provided KeySet.
func createTestToken(t *testing.T, ks auth.KeySet, sub, role string, expiry time.Time) string {
	t.Helper()
	claims := auth.AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "nostrust-test",
		},
		Role: role,
	}
	token, err := ks.Sign(context.Background(), claims)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func setupValidator(t *testing.T, fill byte) (auth.KeySet, *auth.JWTValidator) {
	t.Helper()
	ks, err := auth.NewHMACKeySet(bytes.Repeat([]byte{fill}, auth.MinSecretSize))
	if err != nil {
		t.Fatalf("failed to create keyset: %v", err)
	}
	return ks, auth.NewJWTValidator(ks)
}

func serve(t *testing.T, validator *auth.JWTValidator, token string, wantCalled bool) *httptest.ResponseRecorder {
	t.Helper()
	called := false
	handler := auth.NewMiddleware(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/admin/save", nil)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if called != wantCalled {
		t.Errorf("handler called = %v, want %v", called, wantCalled)
	}
	return w
}

func TestMiddleware_ValidJWT(t *testing.T) {
	ks, validator := setupValidator(t, 1)

	var captured auth.Principal
	handler := auth.NewMiddleware(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.GetPrincipal(r.Context())
		if err != nil {
			t.Errorf("expected principal in context: %v", err)
		}
		captured = p
		w.WriteHeader(http.StatusOK)
	}))

	token := createTestToken(t, ks, "operator", auth.RoleAdmin, time.Now().Add(time.Hour))
	req := httptest.NewRequest("POST", "/admin/load", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if captured.Subject != "operator" || captured.Role != auth.RoleAdmin {
		t.Errorf("unexpected principal %+v", captured)
	}
}

func TestMiddleware_ExpiredJWT(t *testing.T) {
	ks, validator := setupValidator(t, 1)
	token := createTestToken(t, ks, "operator", auth.RoleAdmin, time.Now().Add(-time.Hour))

	if w := serve(t, validator, "Bearer "+token, false); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_MissingExpiry(t *testing.T) {
	ks, validator := setupValidator(t, 1)
	token, err := ks.Sign(context.Background(), auth.AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "operator"},
		Role:             auth.RoleAdmin,
	})
	if err != nil {
		t.Fatal(err)
	}

	if w := serve(t, validator, "Bearer "+token, false); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_MissingHeader(t *testing.T) {
	_, validator := setupValidator(t, 1)
	if w := serve(t, validator, "", false); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_BadScheme(t *testing.T) {
	ks, validator := setupValidator(t, 1)
	token := createTestToken(t, ks, "operator", auth.RoleAdmin, time.Now().Add(time.Hour))
	if w := serve(t, validator, "Token "+token, false); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_InvalidSignature(t *testing.T) {
	ks1, _ := setupValidator(t, 1)
	_, validator2 := setupValidator(t, 2)

	token := createTestToken(t, ks1, "operator", auth.RoleAdmin, time.Now().Add(time.Hour))
	if w := serve(t, validator2, "Bearer "+token, false); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_AlgNoneRejected(t *testing.T) {
	_, validator := setupValidator(t, 1)
	token := jwt.NewWithClaims(jwt.SigningMethodNone, auth.AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "operator", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		Role:             auth.RoleAdmin,
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	if w := serve(t, validator, "Bearer "+signed, false); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_NonAdminForbidden(t *testing.T) {
	ks, validator := setupValidator(t, 1)
	token := createTestToken(t, ks, "reader", "viewer", time.Now().Add(time.Hour))

	if w := serve(t, validator, "Bearer "+token, false); w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestMiddleware_MissingSubjectClaim(t *testing.T) {
	ks, validator := setupValidator(t, 1)
	token := createTestToken(t, ks, "", auth.RoleAdmin, time.Now().Add(time.Hour))

	if w := serve(t, validator, "Bearer "+token, false); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_NilValidator_FailClosed(t *testing.T) {
	if w := serve(t, nil, "Bearer some-token", false); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestNewHMACKeySet_ShortSecret(t *testing.T) {
	if _, err := auth.NewHMACKeySet([]byte("short")); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestGetRequestID_ExtractsFromContext(t *testing.T) {
	var got string
	handler := auth.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got == "" {
		t.Fatal("expected non-empty request id from context")
	}
	if w.Header().Get("X-Request-ID") != got {
		t.Fatal("expected X-Request-ID header to match context value")
	}
}

func TestGetRequestID_ReusesClientValue(t *testing.T) {
	var got string
	handler := auth.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "client-7")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got != "client-7" {
		t.Fatalf("expected client request id, got %q", got)
	}
}

func TestGetRequestID_ReplacesMalformedClientValue(t *testing.T) {
	var got string
	handler := auth.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.GetRequestID(r.Context())
	}))

	for _, bad := range []string{"has space", "line\nbreak", strings.Repeat("a", 65)} {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(auth.RequestIDHeader, bad)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if got == bad || got == "" {
			t.Fatalf("expected generated id for %q, got %q", bad, got)
		}
		if w.Header().Get(auth.RequestIDHeader) != got {
			t.Fatal("expected response header to carry the generated id")
		}
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := auth.CORSMiddleware([]string{"https://app.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("OPTIONS", "/", nil)
	req.Header.Set("Origin", "https://app.example")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204 preflight, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Error("expected origin to be echoed")
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unexpected origin allowed")
	}
}
