package memory_test

import (
	"fmt"
	"testing"

	"github.com/aretw0/latch/pkg/adapters/memory"
	"github.com/aretw0/latch/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestSink_Limit(t *testing.T) {
	sink := memory.NewSink(2)
	for i := 0; i < 3; i++ {
		sink.Enqueue(domain.AnalyticsEvent{Name: fmt.Sprintf("e%d", i)})
	}
	assert.Equal(t, []string{"e1", "e2"}, sink.Names())
	assert.Len(t, sink.Events(), 2)
}

func TestSink_Unbounded(t *testing.T) {
	sink := memory.NewSink(0)
	for i := 0; i < 10; i++ {
		sink.Enqueue(domain.AnalyticsEvent{Name: "x"})
	}
	assert.Len(t, sink.Events(), 10)
}
