package runtime_test

import (
	"context"
	"testing"

	"github.com/aretw0/latch/internal/runtime"
	"github.com/aretw0/latch/internal/testutils"
	"github.com/aretw0/latch/pkg/adapters/memory"
	"github.com/aretw0/latch/pkg/domain"
)

func TestMachine_LifecycleHooks(t *testing.T) {
	transport := testutils.NewScriptedTransport(
		testutils.TwoFactorRequired("ctx-h", "sms"),
		testutils.LoginSuccess("3", "quinn", testutils.Authorization("3", "s")),
	)

	// Capture events
	var rounds []*domain.RoundEvent
	var transitions []string

	hooks := domain.LifecycleHooks{
		OnRound: func(ctx context.Context, e *domain.RoundEvent) {
			rounds = append(rounds, e)
		},
		OnTransition: func(ctx context.Context, e *domain.TransitionEvent) {
			transitions = append(transitions, e.From.State+"->"+e.To.State)
		},
	}
	sink := memory.NewSink(0)
	m := runtime.NewMachine(transport,
		runtime.WithLifecycleHooks(hooks),
		runtime.WithAnalytics(sink),
		runtime.WithAttemptID("hooked"),
	)

	ctx := context.Background()
	state, err := m.BeginLogin(ctx, "quinn", "pw")
	if err != nil {
		t.Fatalf("BeginLogin failed: %v", err)
	}
	pending := state.(domain.TwoFactorPending)
	if _, err := m.SubmitTwoFactorCode(ctx, pending.Context, "", "111111"); err != nil {
		t.Fatalf("SubmitTwoFactorCode failed: %v", err)
	}

	if len(rounds) != 2 {
		t.Fatalf("Expected 2 rounds, got %d", len(rounds))
	}
	if rounds[0].Operation != "login" || rounds[1].Operation != "two_factor" {
		t.Errorf("Unexpected operations: %s, %s", rounds[0].Operation, rounds[1].Operation)
	}
	if rounds[1].Round != 2 || rounds[1].AttemptID != "hooked" {
		t.Errorf("Unexpected round event: %+v", rounds[1])
	}

	want := []string{"none->two_factor_required", "two_factor_required->success"}
	if len(transitions) != len(want) {
		t.Fatalf("Expected transitions %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("Transition %d: expected %q, got %q", i, want[i], transitions[i])
		}
	}

	names := sink.Names()
	wantNames := []string{"login_attempt", "state_two_factor_required", "state_success"}
	if len(names) != len(wantNames) {
		t.Fatalf("Expected analytics %v, got %v", wantNames, names)
	}
	for i := range wantNames {
		if names[i] != wantNames[i] {
			t.Errorf("Event %d: expected %q, got %q", i, wantNames[i], names[i])
		}
	}
	for _, ev := range sink.Events() {
		if ev.WaterfallID == "" {
			t.Errorf("Event %s has no waterfall id", ev.Name)
		}
	}
}
