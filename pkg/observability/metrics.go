package observability

import (
	"context"
	"errors"
	"net/http"

	"github.com/aretw0/latch/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records handshake rounds and outcomes.
type Metrics struct {
	Rounds      *prometheus.CounterVec
	RoundErrors *prometheus.CounterVec
	Latency     *prometheus.HistogramVec
	Transitions *prometheus.CounterVec
	Outcomes    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// Collectors already registered with reg are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Rounds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "latch_rounds_total",
				Help: "Total number of handshake request rounds",
			},
			[]string{"operation"},
		),
		RoundErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "latch_round_errors_total",
				Help: "Handshake rounds that failed at the network level",
			},
			[]string{"operation"},
		),
		Latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "latch_round_duration_seconds",
				Help:    "Duration of handshake request rounds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "latch_transitions_total",
				Help: "Challenge state transitions",
			},
			[]string{"to"},
		),
		Outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "latch_outcomes_total",
				Help: "Finished attempts by outcome",
			},
			[]string{"outcome", "kind"},
		),
	}

	var err error
	if m.Rounds, err = register(reg, m.Rounds); err != nil {
		return nil, err
	}
	if m.RoundErrors, err = register(reg, m.RoundErrors); err != nil {
		return nil, err
	}
	if m.Latency, err = register(reg, m.Latency); err != nil {
		return nil, err
	}
	if m.Transitions, err = register(reg, m.Transitions); err != nil {
		return nil, err
	}
	if m.Outcomes, err = register(reg, m.Outcomes); err != nil {
		return nil, err
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Hooks returns lifecycle hooks that feed the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnRound: func(ctx context.Context, e *domain.RoundEvent) {
			m.Rounds.WithLabelValues(e.Operation).Inc()
			m.Latency.WithLabelValues(e.Operation).Observe(e.Duration.Seconds())
			if e.Err != nil {
				m.RoundErrors.WithLabelValues(e.Operation).Inc()
			}
		},
		OnTransition: func(ctx context.Context, e *domain.TransitionEvent) {
			m.Transitions.WithLabelValues(e.To.State).Inc()
			if e.To.IsTerminal {
				outcome := "failure"
				if e.To.Success {
					outcome = "success"
				}
				m.Outcomes.WithLabelValues(outcome, string(e.To.ErrorKind)).Inc()
			}
		},
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
