package session_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/latch/internal/runtime"
	"github.com/aretw0/latch/internal/testutils"
	"github.com/aretw0/latch/pkg/domain"
	"github.com/aretw0/latch/pkg/ports"
	"github.com/aretw0/latch/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SlowTransport simulates latency to provoke race conditions if locking is missing.
type SlowTransport struct {
	*testutils.ScriptedTransport
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (s *SlowTransport) Send(ctx context.Context, req domain.RequestSpec) (string, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		seen := s.maxSeen.Load()
		if n <= seen || s.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond) // Simulate IO
	return s.ScriptedTransport.Send(ctx, req)
}

func factoryFor(t ports.Transport) session.Factory {
	return func() ports.Attempt {
		return runtime.NewMachine(t, runtime.WithRetryPolicy(runtime.RetryPolicy{MaxAttempts: 1}))
	}
}

func TestManager_Flow(t *testing.T) {
	transport := testutils.NewScriptedTransport(
		testutils.TwoFactorRequired("ctx-1", "sms"),
		testutils.LoginSuccess("9", "alice", testutils.Authorization("9", "s")),
	)
	manager := session.NewManager(factoryFor(transport))
	ctx := context.Background()

	id, state, err := manager.Start(ctx, "alice", "pw")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.IsType(t, domain.TwoFactorPending{}, state)
	assert.Equal(t, []string{id}, manager.List())

	state, err = manager.SubmitTwoFactor(ctx, id, "", "123456")
	require.NoError(t, err)
	assert.True(t, state.(domain.Terminal).Success)

	a, err := manager.Get(id)
	require.NoError(t, err)
	require.NotNil(t, a.Session())
	assert.Equal(t, "9", a.Session().UserID)

	require.NoError(t, manager.Delete(ctx, id))
	_, err = manager.Get(id)
	assert.ErrorIs(t, err, domain.ErrAttemptNotFound)
}

func TestManager_UnknownAttempt(t *testing.T) {
	manager := session.NewManager(factoryFor(testutils.NewScriptedTransport()))
	ctx := context.Background()

	_, err := manager.Poll(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrAttemptNotFound)
	_, err = manager.SubmitCheckpoint(ctx, "missing", domain.StepAcknowledge, nil)
	assert.ErrorIs(t, err, domain.ErrAttemptNotFound)
	assert.ErrorIs(t, manager.Delete(ctx, "missing"), domain.ErrAttemptNotFound)
}

func TestManager_Locking(t *testing.T) {
	transport := &SlowTransport{ScriptedTransport: testutils.NewScriptedTransport(
		testutils.TwoFactorRequired("ctx-n", "notification"),
		testutils.ApprovalStatus("pending"),
	)}
	manager := session.NewManager(factoryFor(transport))
	ctx := context.Background()

	id, _, err := manager.Start(ctx, "bob", "pw")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := manager.Poll(ctx, id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), transport.maxSeen.Load(), "operations on one attempt must not overlap")
	assert.Len(t, transport.Requests(), 11)
}

type recordingLocker struct {
	mu     sync.Mutex
	locked []string
	freed  int
}

func (l *recordingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	l.mu.Lock()
	l.locked = append(l.locked, key)
	l.mu.Unlock()
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.freed++
		return nil
	}, nil
}

func TestManager_DistributedLock(t *testing.T) {
	locker := &recordingLocker{}
	transport := testutils.NewScriptedTransport(testutils.TwoFactorRequired("ctx", "sms"))
	manager := session.NewManager(factoryFor(transport), session.WithLocker(locker))

	id, _, err := manager.Start(context.Background(), "carol", "pw")
	require.NoError(t, err)

	assert.Equal(t, []string{"attempt:" + id}, locker.locked)
	assert.Equal(t, 1, locker.freed)
}

func TestManager_Prune(t *testing.T) {
	now := time.Unix(1000, 0)
	transport := testutils.NewScriptedTransport(testutils.ShowError("The password you entered is incorrect."))
	manager := session.NewManager(factoryFor(transport), session.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	done, _, err := manager.Start(ctx, "dave", "pw")
	require.Error(t, err)
	open := manager.Create()

	assert.Zero(t, manager.Prune(time.Minute))
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, manager.Prune(time.Minute))

	assert.Equal(t, []string{open.ID()}, manager.List())
	_, err = manager.Get(done)
	assert.ErrorIs(t, err, domain.ErrAttemptNotFound)
}
