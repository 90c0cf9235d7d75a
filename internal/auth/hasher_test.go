package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasherRoundTrip(t *testing.T) {
	h, err := NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)

	first, err := h.Hash("pw1")
	require.NoError(t, err)
	second, err := h.Hash("pw1")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "digests must be salted")
	assert.True(t, h.Verify("pw1", first))
	assert.True(t, h.Verify("pw1", second))
	assert.False(t, h.Verify("pw2", first))
	assert.False(t, h.Verify("pw1", "not-a-digest"))
}

func TestBcryptHasherCost(t *testing.T) {
	h, err := NewBcryptHasher(0)
	require.NoError(t, err)
	assert.Equal(t, DefaultCost, h.cost)

	digest, err := h.Hash("pw")
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(digest))
	require.NoError(t, err)
	assert.Equal(t, DefaultCost, cost)

	_, err = NewBcryptHasher(bcrypt.MaxCost + 1)
	assert.Error(t, err)
}
