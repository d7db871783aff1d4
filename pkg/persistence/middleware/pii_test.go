package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/latch/pkg/adapters/memory"
	"github.com/aretw0/latch/pkg/domain"
	"github.com/aretw0/latch/pkg/persistence/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskMiddleware(t *testing.T) {
	underlying := memory.NewStore()
	masked := middleware.NewMaskMiddleware(middleware.SensitiveKeys)(underlying)
	ctx := context.Background()

	require.NoError(t, masked.Set(ctx, domain.CredAuthorization, "Bearer x"))
	require.NoError(t, masked.Set(ctx, domain.CredUsername, "alice"))

	got, err := masked.Get(ctx, domain.CredAuthorization)
	require.NoError(t, err)
	assert.Equal(t, middleware.Masked, got)

	got, err = masked.Get(ctx, domain.CredUsername)
	require.NoError(t, err)
	assert.Equal(t, "alice", got)

	// Writes are never masked.
	raw, err := underlying.Get(ctx, domain.CredAuthorization)
	require.NoError(t, err)
	assert.Equal(t, "Bearer x", raw)

	_, err = masked.Get(ctx, "absent")
	assert.ErrorIs(t, err, domain.ErrCredentialNotFound)
}

func TestChain_Order(t *testing.T) {
	underlying := memory.NewStore()
	key := generateKey(t)
	store := middleware.Chain(underlying,
		middleware.NewMaskMiddleware(middleware.SensitiveKeys),
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}),
	)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, domain.CredUserID, "42"))
	got, err := store.Get(ctx, domain.CredUserID)
	require.NoError(t, err)
	assert.Equal(t, "42", got, "mask runs on the decrypted value")
}
