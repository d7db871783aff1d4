package session

import (
	"context"
	"testing"

	"github.com/aretw0/latch/internal/runtime"
	"github.com/aretw0/latch/internal/testutils"
	"github.com/aretw0/latch/pkg/ports"
)

func TestManager_LockLifecycle(t *testing.T) {
	transport := testutils.NewScriptedTransport()
	mgr := NewManager(func() ports.Attempt { return runtime.NewMachine(transport) })
	ctx := context.Background()
	count := 1000

	// 1. Create and Delete many attempts
	for i := 0; i < count; i++ {
		a := mgr.Create()
		_ = mgr.Delete(ctx, a.ID())
	}

	// 2. Count locks and attempts remaining in the maps
	lockCount := len(mgr.locks)
	attemptCount := len(mgr.attempts)

	t.Logf("Attempts Created: %d, Locks Leaked: %d", count, lockCount)

	if lockCount != 0 {
		t.Errorf("Memory Leak Detected: %d locks remaining in memory after Delete", lockCount)
	}
	if attemptCount != 0 {
		t.Errorf("Expected no attempts left, got %d", attemptCount)
	}
}
