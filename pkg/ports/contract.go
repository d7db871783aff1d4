package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/latch/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunCredentialStoreContract runs a suite of tests to verify that a CredentialStore
// implementation adheres to the defined interface contract.
func RunCredentialStoreContract(t *testing.T, store CredentialStore) {
	ctx := context.Background()
	prefix := "contract-" + time.Now().Format("20060102150405")

	t.Run("Set and Get", func(t *testing.T) {
		key := prefix + "-user"
		require.NoError(t, store.Set(ctx, key, "17841400000000001"))

		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "17841400000000001", got)

		// Overwrite
		require.NoError(t, store.Set(ctx, key, "other"))
		got, err = store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "other", got)
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, prefix+"-missing")
		assert.ErrorIs(t, err, domain.ErrCredentialNotFound)
	})

	t.Run("Values Survive Verbatim", func(t *testing.T) {
		key := prefix + "-auth"
		value := "Bearer IGT:2:eyJzZXNzaW9uaWQiOiJhJTNBYiJ9=\n"
		require.NoError(t, store.Set(ctx, key, value))
		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, value, got)
	})

	t.Run("Delete", func(t *testing.T) {
		key := prefix + "-delete"
		require.NoError(t, store.Set(ctx, key, "v"))
		require.NoError(t, store.Delete(ctx, key))

		_, err := store.Get(ctx, key)
		assert.ErrorIs(t, err, domain.ErrCredentialNotFound, "Get after Delete should return ErrCredentialNotFound")

		assert.NoError(t, store.Delete(ctx, key), "deleting twice is not an error")
	})

	t.Run("Keys", func(t *testing.T) {
		k1 := prefix + "-k1"
		k2 := prefix + "-k2"
		require.NoError(t, store.Set(ctx, k2, "2"))
		require.NoError(t, store.Set(ctx, k1, "1"))
		defer func() {
			_ = store.Delete(ctx, k1)
			_ = store.Delete(ctx, k2)
		}()

		keys, err := store.Keys(ctx)
		require.NoError(t, err)
		assert.Contains(t, keys, k1)
		assert.Contains(t, keys, k2)
		assert.IsNonDecreasing(t, keys)
	})
}
