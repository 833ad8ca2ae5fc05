package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateSigner_RoundTrip(t *testing.T) {
	signer, err := NewStateSigner("secret", time.Minute)
	require.NoError(t, err)

	state, err := signer.Issue("/compose")
	require.NoError(t, err)

	claims, err := signer.Verify(state)
	require.NoError(t, err)
	assert.Equal(t, "/compose", claims.ReturnTo)
	assert.NotEmpty(t, claims.ID)
}

func TestStateSigner_Rejects(t *testing.T) {
	signer, err := NewStateSigner("secret", time.Minute)
	require.NoError(t, err)
	state, err := signer.Issue("")
	require.NoError(t, err)

	t.Run("tampered", func(t *testing.T) {
		parts := strings.Split(state, ".")
		require.Len(t, parts, 3)
		parts[2] = strings.Repeat("A", len(parts[2]))
		_, err := signer.Verify(strings.Join(parts, "."))
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("other secret", func(t *testing.T) {
		other, err := NewStateSigner("different", time.Minute)
		require.NoError(t, err)
		_, err = other.Verify(state)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("expired", func(t *testing.T) {
		late, err := NewStateSigner("secret", time.Minute)
		require.NoError(t, err)
		late.now = func() time.Time { return time.Now().Add(time.Hour) }
		_, err = late.Verify(state)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := signer.Verify("not-a-state")
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestStateSigner_RandomSecret(t *testing.T) {
	a, err := NewStateSigner("", 0)
	require.NoError(t, err)
	b, err := NewStateSigner("", 0)
	require.NoError(t, err)

	state, err := a.Issue("")
	require.NoError(t, err)
	_, err = b.Verify(state)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 10*time.Minute, a.ttl)
}
