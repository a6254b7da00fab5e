package user

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost, 1)
	ctx := context.Background()

	hash, err := h.Hash(ctx, "secret1")
	require.NoError(t, err)

	ok, err := h.Verify(ctx, hash, "secret1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.Verify(ctx, hash, "secret2")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = h.Verify(ctx, "not-a-hash", "secret1")
	require.Error(t, err)
}

func TestNeedsRehash(t *testing.T) {
	low := NewBcryptHasher(bcrypt.MinCost, 1)
	hash, err := low.Hash(context.Background(), "secret1")
	require.NoError(t, err)

	require.False(t, low.NeedsRehash(hash))
	require.True(t, NewBcryptHasher(bcrypt.MinCost+2, 1).NeedsRehash(hash))
	require.False(t, low.NeedsRehash("garbage"))
}

func TestHasherHonoursContext(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Hash(ctx, "secret1")
	require.ErrorIs(t, err, context.Canceled)
}
