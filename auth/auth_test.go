package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	SetJWTSecret("test-secret")

	token, err := GenerateJWT("operator-1")
	require.NoError(t, err)

	claims, err := ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "operator-1", claims.OperatorID)
}

func TestValidateJWT_RejectsBlacklisted(t *testing.T) {
	SetJWTSecret("test-secret")

	token, err := GenerateJWT("operator-2")
	require.NoError(t, err)

	BlacklistToken(token, time.Now().Add(time.Hour))

	_, err = ValidateJWT(token)
	assert.Error(t, err)
}

func TestIsTokenBlacklisted_ExpiresEntry(t *testing.T) {
	token := "expired-token"
	BlacklistToken(token, time.Now().Add(-time.Minute))
	assert.False(t, IsTokenBlacklisted(token))
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, CheckPassword("correct horse battery staple", hash))
	assert.False(t, CheckPassword("wrong", hash))
}

func TestOTPRoundTrip(t *testing.T) {
	secret, err := GenerateOTPSecret()
	require.NoError(t, err)
	assert.NotEmpty(t, secret)
	assert.Contains(t, GetOTPQRCodeURL(secret, "operator@ingestd"), "otpauth://totp/ingestd:")
}
