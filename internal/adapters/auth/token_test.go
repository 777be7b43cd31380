package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoattend/internal/domain"
)

func TestJWTCodec_IssueAndVerify(t *testing.T) {
	secret := "test-secret"
	codec := NewJWTCodec(secret)

	token, err := codec.Issue("user-123", "u@example.com", 24*time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	parsed, err := jwt.ParseWithClaims(token, &jwtClaims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	require.NoError(t, err)
	require.True(t, parsed.Valid)
	claims, ok := parsed.Claims.(*jwtClaims)
	require.True(t, ok)
	assert.Equal(t, "user-123", claims.Subject)
	assert.Equal(t, "u@example.com", claims.Email)

	userID, err := codec.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestJWTCodec_Verify_Invalid(t *testing.T) {
	codec := NewJWTCodec("test-secret")

	token, err := codec.Issue("user-123", "u@example.com", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", mustIssue(t, NewJWTCodec("other-secret"), "user-123")},
		{"expired", mustIssueExpired(t, codec)},
		{"tampered", token + "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Verify(tt.token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrUnauthorized))
		})
	}
}

func mustIssue(t *testing.T, codec *jwtCodec, userID string) string {
	t.Helper()
	token, err := codec.Issue(userID, "u@example.com", time.Hour)
	require.NoError(t, err)
	return token
}

func mustIssueExpired(t *testing.T, codec *jwtCodec) string {
	t.Helper()
	token, err := codec.Issue("user-123", "u@example.com", -time.Hour)
	require.NoError(t, err)
	return token
}
