package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSignAndVerifyJWT(t *testing.T) {
	token, err := SignJWT("topsecret", TokenClaims{Sub: "user-1", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	claims, err := VerifyJWT("topsecret", token)
	if err != nil {
		t.Fatalf("VerifyJWT: %v", err)
	}
	if claims.Sub != "user-1" {
		t.Fatalf("sub = %q, want user-1", claims.Sub)
	}
}

func TestVerifyJWTWrongSecret(t *testing.T) {
	token, _ := SignJWT("topsecret", TokenClaims{Sub: "user-1"})
	if _, err := VerifyJWT("othersecret", token); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestVerifyJWTExpired(t *testing.T) {
	token, _ := SignJWT("topsecret", TokenClaims{Sub: "user-1", Exp: time.Now().Add(-time.Minute).Unix()})
	if _, err := VerifyJWT("topsecret", token); err == nil {
		t.Fatal("expected expiry error")
	}
}

func TestAuthJWTInjectsUserID(t *testing.T) {
	token, _ := SignJWT("topsecret", TokenClaims{Sub: "user-9", Exp: time.Now().Add(time.Hour).Unix()})

	var got string
	handler := AuthJWT("topsecret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got != "user-9" {
		t.Fatalf("user id = %q, want user-9", got)
	}
}

func TestAuthJWTRejectsMissingHeader(t *testing.T) {
	handler := AuthJWT("topsecret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}
