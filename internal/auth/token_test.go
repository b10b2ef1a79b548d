package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParseAccess(t *testing.T) {
	svc := NewTokenService("0123456789abcdef0123456789abcdef", 15*time.Minute)

	signed, expiresAt, err := svc.IssueAccess("user-1", "sess-1", "user")
	require.NoError(t, err)
	require.NotEmpty(t, signed)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 5*time.Second)

	claims, err := svc.ParseAccess(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, "user", claims.Role)
}

func TestParseAccessWrongSecret(t *testing.T) {
	svc := NewTokenService("secret-one-secret-one-secret-one", 15*time.Minute)
	other := NewTokenService("secret-two-secret-two-secret-two", 15*time.Minute)

	signed, _, err := svc.IssueAccess("user-1", "sess-1", "user")
	require.NoError(t, err)

	_, err = other.ParseAccess(signed)
	assert.Error(t, err)
}

func TestParseAccessExpired(t *testing.T) {
	svc := NewTokenService("0123456789abcdef0123456789abcdef", -time.Minute)

	signed, _, err := svc.IssueAccess("user-1", "sess-1", "user")
	require.NoError(t, err)

	_, err = svc.ParseAccess(signed)
	assert.Error(t, err)
}

func TestParseAccessGarbage(t *testing.T) {
	svc := NewTokenService("0123456789abcdef0123456789abcdef", 15*time.Minute)
	_, err := svc.ParseAccess("not.a.jwt")
	assert.Error(t, err)
}

func TestNewRefreshToken(t *testing.T) {
	first, err := NewRefreshToken()
	require.NoError(t, err)
	second, err := NewRefreshToken()
	require.NoError(t, err)

	assert.NotEqual(t, first.Raw, second.Raw)
	assert.Equal(t, HashString(first.Raw), first.Hash)
	assert.NotContains(t, first.Hash, first.Raw)
	// 32 random bytes, base64url without padding.
	assert.Len(t, first.Raw, 43)
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, SecureCompare("abc", "abc"))
	assert.False(t, SecureCompare("abc", "abd"))
	assert.False(t, SecureCompare("abc", "abcd"))
}
