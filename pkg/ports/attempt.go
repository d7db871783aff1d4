package ports

import (
	"context"

	"github.com/aretw0/latch/pkg/domain"
)

// Attempt is one login handshake in progress.
// Every operation returns the next ChallengeState so callers can drive a
// single dispatch loop.
type Attempt interface {
	ID() string
	State() domain.ChallengeState
	Session() *domain.Session

	BeginLogin(ctx context.Context, username, secret string) (domain.ChallengeState, error)
	SubmitTwoFactorCode(ctx context.Context, tf domain.TwoFactorContext, method domain.TwoFactorMethod, code string) (domain.ChallengeState, error)
	SubmitCheckpointStep(ctx context.Context, step domain.StepKind, payload map[string]string) (domain.ChallengeState, error)
	PollNotificationApproval(ctx context.Context, tf domain.TwoFactorContext) (domain.ChallengeState, error)
}
