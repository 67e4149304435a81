package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestAccessTokenRoundTrip(t *testing.T) {
	tok, err := GenerateAccessToken(42, "Estudiante", testSecret)
	require.NoError(t, err)
	assert.Equal(t, int64(AccessTokenTTL.Seconds()), tok.ExpiresIn)

	claims, err := ParseAccessToken(tok.AccessToken, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.Subject)
	assert.Equal(t, "Estudiante", claims.UserType)
}

func TestParseAccessToken_WrongSecret(t *testing.T) {
	tok, err := GenerateAccessToken(42, "Estudiante", testSecret)
	require.NoError(t, err)

	_, err = ParseAccessToken(tok.AccessToken, "other")
	assert.Error(t, err)
}

func TestParseAccessToken_Expired(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		UserType: "Universidad",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = ParseAccessToken(signed, testSecret)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestParseAccessToken_RejectsNoneAlg(t *testing.T) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "1"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ParseAccessToken(signed, testSecret)
	assert.Error(t, err)
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("secreto1")
	require.NoError(t, err)
	assert.NotEqual(t, "secreto1", hash)
	assert.True(t, CheckPassword("secreto1", hash))
	assert.False(t, CheckPassword("secreto2", hash))
}
