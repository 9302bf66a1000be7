package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func testModeAuth(secret string) *Auth {
	return &Auth{TestMode: true, TestSecret: []byte(secret)}
}

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestUserIDFromAuthHeaderHS256(t *testing.T) {
	signed := signHS256(t, "test-secret", jwt.MapClaims{
		"sub": "user-123",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	})

	userID, err := testModeAuth("test-secret").UserIDFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestUserIDFromAuthHeaderMissing(t *testing.T) {
	if _, err := testModeAuth("s").UserIDFromAuthHeader(""); err == nil || err.Error() != "missing authorization header" {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestUserIDFromAuthHeaderMalformed(t *testing.T) {
	auth := testModeAuth("s")
	for _, h := range []string{
		"Bearer",
		"Bearer notajwt",
		"Bearer " + strings.Repeat(".", 1000),
	} {
		if _, err := auth.UserIDFromAuthHeader(h); err == nil {
			t.Fatalf("expected error for header %q", h)
		}
	}
}

func TestUserIDFromAuthHeaderExpired(t *testing.T) {
	signed := signHS256(t, "test-secret", jwt.MapClaims{
		"sub": "user-123",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	if _, err := testModeAuth("test-secret").UserIDFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestUserIDFromAuthHeaderWrongScheme(t *testing.T) {
	signed := signHS256(t, "test-secret", jwt.MapClaims{"sub": "user-123"})
	if _, err := testModeAuth("test-secret").UserIDFromAuthHeader("Basic " + signed); err == nil {
		t.Fatal("expected non-bearer scheme to be rejected")
	}
}

func TestUserIDFromAuthHeaderWrongSecret(t *testing.T) {
	signed := signHS256(t, "other-secret", jwt.MapClaims{"sub": "user-123"})
	if _, err := testModeAuth("test-secret").UserIDFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatal("expected signature verification to fail")
	}
}

func TestUserIDFromAuthHeaderMissingSub(t *testing.T) {
	signed := signHS256(t, "test-secret", jwt.MapClaims{"aud": "x"})
	if _, err := testModeAuth("test-secret").UserIDFromAuthHeader("Bearer " + signed); err == nil || err.Error() != "missing sub" {
		t.Fatalf("expected missing sub error, got %v", err)
	}
}
