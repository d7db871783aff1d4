package ports

import (
	"context"

	"github.com/aretw0/latch/pkg/domain"
)

// Transport issues one request and returns the raw body.
// Any HTTP status yields the body; only failures to obtain a body are errors,
// and the machine treats every error as a network failure.
type Transport interface {
	Send(ctx context.Context, req domain.RequestSpec) (string, error)
}

// AuthorizationSink is implemented by transports that attach authorization
// material to AuthRequired requests. The machine hands over the value on success.
type AuthorizationSink interface {
	SetAuthorization(value string)
}

// CookieSource exposes cookies collected by a transport.
type CookieSource interface {
	Cookie(name string) (string, bool)
}

// AnalyticsSink accepts telemetry events. Enqueue must never block the caller.
type AnalyticsSink interface {
	Enqueue(event domain.AnalyticsEvent)
}

// Prompter supplies interactive input to the login loop.
// lastErr carries the recoverable error of the previous submission, if any.
type Prompter interface {
	// TwoFactorCode returns the method to use and the code the user entered.
	TwoFactorCode(ctx context.Context, pending domain.TwoFactorPending, lastErr error) (domain.TwoFactorMethod, string, error)

	// CheckpointInput returns the payload fields for the pending checkpoint step.
	CheckpointInput(ctx context.Context, pending domain.CheckpointPending, lastErr error) (map[string]string, error)
}
