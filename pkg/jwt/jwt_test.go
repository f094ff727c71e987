package jwt

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signTestToken(t *testing.T, secret string, claims jwtlib.Claims) string {
	t.Helper()
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerifyTokenValid(t *testing.T) {
	verifier := NewTokenVerifier("test-secret")
	tokenString := signTestToken(t, "test-secret", &SupabaseClaims{
		Email:        "alice@example.com",
		Role:         "authenticated",
		UserMetadata: map[string]interface{}{"username": "alice"},
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "user-uuid-1",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := verifier.VerifyToken(tokenString)
	require.NoError(t, err)
	assert.Equal(t, "user-uuid-1", claims.UserID())
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "alice", claims.Username())
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	verifier := NewTokenVerifier("right-secret")
	tokenString := signTestToken(t, "wrong-secret", &SupabaseClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "user-uuid-1",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	_, err := verifier.VerifyToken(tokenString)
	assert.Error(t, err)
}

func TestVerifyTokenExpired(t *testing.T) {
	verifier := NewTokenVerifier("test-secret")
	tokenString := signTestToken(t, "test-secret", &SupabaseClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "user-uuid-1",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	_, err := verifier.VerifyToken(tokenString)
	assert.Error(t, err)
}

func TestVerifyTokenMissingSubject(t *testing.T) {
	verifier := NewTokenVerifier("test-secret")
	tokenString := signTestToken(t, "test-secret", &SupabaseClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	_, err := verifier.VerifyToken(tokenString)
	assert.Error(t, err)
}
