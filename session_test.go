package latch_test

import (
	"context"
	"testing"

	"github.com/aretw0/latch"
	"github.com/aretw0/latch/internal/testutils"
	"github.com/aretw0/latch/pkg/adapters/memory"
	"github.com/aretw0/latch/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSession(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	_, err := latch.LoadSession(ctx, store)
	assert.ErrorIs(t, err, domain.ErrNoActiveSession)

	transport := testutils.NewScriptedTransport(testutils.LoginSuccess("42", "alice", testutils.Authorization("42", "sess-42")))
	client := newClient(transport, latch.WithCredentialStore(store))
	a := client.NewAttempt()
	_, err = a.BeginLogin(ctx, "alice", "pw")
	require.NoError(t, err)

	sess, err := latch.LoadSession(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, a.Session().UserID, sess.UserID)
	assert.Equal(t, "alice", sess.Username)
	assert.Equal(t, a.Session().Authorization, sess.Authorization)
	assert.Equal(t, client.Device(), sess.Device)
	assert.False(t, sess.LoggedInAt.IsZero())
}
