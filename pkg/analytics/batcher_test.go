package analytics_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/latch/internal/testutils"
	"github.com/aretw0/latch/pkg/analytics"
	"github.com/aretw0/latch/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func events(n int) []domain.AnalyticsEvent {
	out := make([]domain.AnalyticsEvent, n)
	for i := range out {
		out[i] = domain.AnalyticsEvent{Name: "state_success", WaterfallID: "wf"}
	}
	return out
}

func TestBatcher_FlushesOnBatchSize(t *testing.T) {
	transport := testutils.NewScriptedTransport("{}")
	b := analytics.NewBatcher(transport, analytics.WithBatchSize(2), analytics.WithFlushInterval(time.Hour))

	for _, ev := range events(4) {
		b.Enqueue(ev)
	}
	require.Eventually(t, func() bool { return len(transport.Requests()) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Close(context.Background()))

	req := transport.Requests()[0]
	assert.Equal(t, analytics.DefaultPath, req.Path)
	var batch []domain.AnalyticsEvent
	require.NoError(t, json.Unmarshal([]byte(req.Form["message"]), &batch))
	assert.Len(t, batch, 2)

	sent, failed, dropped := b.Stats()
	assert.Equal(t, int64(4), sent)
	assert.Zero(t, failed)
	assert.Zero(t, dropped)
}

func TestBatcher_CloseFlushesRemainder(t *testing.T) {
	transport := testutils.NewScriptedTransport("{}")
	b := analytics.NewBatcher(transport, analytics.WithBatchSize(100), analytics.WithFlushInterval(time.Hour))

	for _, ev := range events(3) {
		b.Enqueue(ev)
	}
	require.NoError(t, b.Close(context.Background()))
	require.Len(t, transport.Requests(), 1)

	b.Enqueue(domain.AnalyticsEvent{Name: "late"})
	_, _, dropped := b.Stats()
	assert.Equal(t, int64(1), dropped, "events after Close are dropped")
}

func TestBatcher_FlushesOnInterval(t *testing.T) {
	transport := testutils.NewScriptedTransport("{}")
	b := analytics.NewBatcher(transport, analytics.WithBatchSize(100), analytics.WithFlushInterval(10*time.Millisecond))
	defer b.Close(context.Background())

	b.Enqueue(domain.AnalyticsEvent{Name: "login_attempt"})
	require.Eventually(t, func() bool { return len(transport.Requests()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestBatcher_TransportFailureIsCounted(t *testing.T) {
	transport := testutils.NewScriptedTransport()
	transport.Push(testutils.Reply{Err: errors.New("offline")})
	b := analytics.NewBatcher(transport, analytics.WithBatchSize(1), analytics.WithFlushInterval(time.Hour))

	b.Enqueue(domain.AnalyticsEvent{Name: "x"})
	require.NoError(t, b.Close(context.Background()))

	_, failed, _ := b.Stats()
	assert.Equal(t, int64(1), failed)
}

type blockingTransport struct {
	release chan struct{}
}

func (t *blockingTransport) Send(ctx context.Context, _ domain.RequestSpec) (string, error) {
	<-t.release
	return "{}", nil
}

func TestBatcher_EnqueueNeverBlocks(t *testing.T) {
	transport := &blockingTransport{release: make(chan struct{})}
	b := analytics.NewBatcher(transport,
		analytics.WithBatchSize(1),
		analytics.WithBufferSize(2),
		analytics.WithFlushInterval(time.Hour),
	)

	done := make(chan struct{})
	go func() {
		for _, ev := range events(50) {
			b.Enqueue(ev)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked")
	}

	_, _, dropped := b.Stats()
	assert.Positive(t, dropped)

	close(transport.release)
	require.NoError(t, b.Close(context.Background()))
}
