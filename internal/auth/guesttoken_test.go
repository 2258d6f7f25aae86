package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuestTokenRoundTrip(t *testing.T) {
	tokens := NewGuestTokens("secret")

	raw, err := tokens.Issue("ana@example.com", 42)
	require.NoError(t, err)

	claims, err := tokens.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", claims.Email)
	assert.Equal(t, int64(42), claims.ReservationID)
}

func TestGuestTokenVerifyRejects(t *testing.T) {
	tokens := NewGuestTokens("secret")

	_, err := tokens.Verify("")
	assert.Error(t, err)

	_, err = tokens.Verify("not-a-jwt")
	assert.Error(t, err)

	// Token signed under a different secret.
	other, err := NewGuestTokens("other").Issue("ana@example.com", 42)
	require.NoError(t, err)
	_, err = tokens.Verify(other)
	assert.Error(t, err)
}

func TestEmailMatches(t *testing.T) {
	assert.True(t, EmailMatches("Ana@Example.com", "ana@example.COM"))
	assert.True(t, EmailMatches(" ana@example.com ", "ana@example.com"))
	assert.False(t, EmailMatches("ana@example.com", "bruno@example.com"))
}
