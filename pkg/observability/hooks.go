package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/latch/pkg/domain"
)

// LoggingHooks logs rounds at Debug and transitions at Info.
func LoggingHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnRound: func(ctx context.Context, e *domain.RoundEvent) {
			attrs := []any{
				"attempt", e.AttemptID,
				"operation", e.Operation,
				"round", e.Round,
				"path", e.Path,
				"duration", e.Duration,
			}
			if e.Err != nil {
				attrs = append(attrs, "error", e.Err)
			}
			logger.Debug("round", attrs...)
		},
		OnTransition: func(ctx context.Context, e *domain.TransitionEvent) {
			attrs := []any{"attempt", e.AttemptID, "from", e.From.State, "to", e.To.State}
			if e.To.Step != "" {
				attrs = append(attrs, "step", e.To.Step)
			}
			if e.To.ErrorKind != "" {
				attrs = append(attrs, "kind", e.To.ErrorKind)
			}
			logger.Info("transition", attrs...)
		},
	}
}

// Combine fans every event out to each hook set, in order.
func Combine(hooks ...domain.LifecycleHooks) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnRound: func(ctx context.Context, e *domain.RoundEvent) {
			for _, h := range hooks {
				if h.OnRound != nil {
					h.OnRound(ctx, e)
				}
			}
		},
		OnTransition: func(ctx context.Context, e *domain.TransitionEvent) {
			for _, h := range hooks {
				if h.OnTransition != nil {
					h.OnTransition(ctx, e)
				}
			}
		},
	}
}
