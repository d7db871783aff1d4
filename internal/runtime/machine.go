// Package runtime implements the login handshake state machine.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/latch/internal/logging"
	"github.com/aretw0/latch/pkg/domain"
	"github.com/aretw0/latch/pkg/ports"
	"github.com/google/uuid"
)

// DefaultMaxChallengeRounds bounds the checkpoint ladder of one attempt.
const DefaultMaxChallengeRounds = 8

type phase int

const (
	phaseInit phase = iota
	phaseSubmitted
	phaseTwoFactor
	phaseCheckpoint
	phaseDone
)

func (p phase) String() string {
	switch p {
	case phaseInit:
		return "init"
	case phaseSubmitted:
		return "submitted"
	case phaseTwoFactor:
		return "two_factor"
	case phaseCheckpoint:
		return "checkpoint"
	default:
		return "done"
	}
}

// Machine drives one login attempt through the handshake.
//
// An attempt is strictly sequential: every operation issues at most one
// logical request (plus network retries) and returns the next ChallengeState.
// Operations are serialized internally, but a Machine is still meant to be
// driven by one caller at a time.
type Machine struct {
	mu sync.Mutex

	id        string
	transport ports.Transport
	store     ports.CredentialStore
	analytics ports.AnalyticsSink
	logger    *slog.Logger
	hooks     domain.LifecycleHooks
	retry     RetryPolicy
	maxRounds int
	device    domain.Device
	now       func() time.Time

	phase           phase
	state           domain.ChallengeState
	sc              *domain.SessionContext
	rounds          int
	challengeRounds int
	loginAttempts   int
	username        string
	secret          string
	session         *domain.Session
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) MachineOption {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) MachineOption {
	return func(m *Machine) {
		m.hooks = hooks
	}
}

// WithCredentialStore persists session fields on success.
func WithCredentialStore(store ports.CredentialStore) MachineOption {
	return func(m *Machine) {
		m.store = store
	}
}

// WithAnalytics feeds telemetry events to sink.
func WithAnalytics(sink ports.AnalyticsSink) MachineOption {
	return func(m *Machine) {
		m.analytics = sink
	}
}

// WithRetryPolicy sets how network failures are retried.
func WithRetryPolicy(p RetryPolicy) MachineOption {
	return func(m *Machine) {
		m.retry = p
	}
}

// WithMaxChallengeRounds bounds the checkpoint ladder. Values below 1 are ignored.
func WithMaxChallengeRounds(n int) MachineOption {
	return func(m *Machine) {
		if n > 0 {
			m.maxRounds = n
		}
	}
}

// WithDevice sets the device identity. Missing fields are generated.
func WithDevice(d domain.Device) MachineOption {
	return func(m *Machine) {
		m.device = CompleteDevice(d)
	}
}

// WithAttemptID overrides the generated attempt id.
func WithAttemptID(id string) MachineOption {
	return func(m *Machine) {
		if id != "" {
			m.id = id
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMachine creates a machine for one attempt. Each attempt gets a fresh
// SessionContext seeded with a waterfall id.
func NewMachine(transport ports.Transport, opts ...MachineOption) *Machine {
	m := &Machine{
		id:        uuid.NewString(),
		transport: transport,
		logger:    logging.NewNop(),
		retry:     DefaultRetryPolicy,
		maxRounds: DefaultMaxChallengeRounds,
		device:    NewDevice(),
		now:       time.Now,
		phase:     phaseInit,
		state:     domain.None{},
		sc:        domain.NewSessionContext(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.sc.Merge(map[string]any{domain.KeyWaterfallID: uuid.NewString()})
	return m
}

// ID returns the attempt id.
func (m *Machine) ID() string {
	return m.id
}

// State returns the current ChallengeState.
func (m *Machine) State() domain.ChallengeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the session of a successful attempt, or nil.
func (m *Machine) Session() *domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Device returns the device identity presented by this attempt.
func (m *Machine) Device() domain.Device {
	return m.device
}

// Context returns a snapshot of the SessionContext, or nil once the attempt ended.
func (m *Machine) Context() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sc == nil {
		return nil
	}
	return m.sc.Snapshot()
}

// Rounds returns the number of request rounds issued so far.
func (m *Machine) Rounds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rounds
}

// guard rejects operations on a finished attempt or in the wrong phase.
func (m *Machine) guard(want phase, op string) error {
	if m.state.IsTerminal() {
		return domain.ErrAttemptTerminated
	}
	if m.phase != want {
		return fmt.Errorf("%w: %s is not valid in phase %s", domain.ErrInvalidStep, op, m.phase)
	}
	return nil
}

// transition moves to next and emits events. Reaching Terminal discards the
// SessionContext and the stored secret.
func (m *Machine) transition(ctx context.Context, next domain.ChallengeState) domain.ChallengeState {
	from := m.state.Describe()
	m.state = next
	to := next.Describe()

	if m.hooks.OnTransition != nil {
		m.hooks.OnTransition(ctx, &domain.TransitionEvent{AttemptID: m.id, From: from, To: to})
	}
	m.emit("state_"+to.State, map[string]string{
		"step":   string(to.Step),
		"method": string(to.Method),
		"kind":   string(to.ErrorKind),
	})

	if next.IsTerminal() {
		m.phase = phaseDone
		m.sc = nil
		m.secret = ""
	}
	return next
}

// emit sends a fire-and-forget analytics event.
func (m *Machine) emit(name string, extra map[string]string) {
	if m.analytics == nil {
		return
	}
	clean := make(map[string]string, len(extra))
	for k, v := range extra {
		if v != "" {
			clean[k] = v
		}
	}
	ev := domain.AnalyticsEvent{Name: name, Time: m.now(), Extra: clean}
	if m.sc != nil {
		ev.WaterfallID = m.sc.String(domain.KeyWaterfallID)
	}
	m.analytics.Enqueue(ev)
}

// fail ends the attempt with a classified failure and returns it as an error.
func (m *Machine) fail(ctx context.Context, kind domain.ErrorKind, category, message string) (domain.ChallengeState, error) {
	if kind.IsDrift() {
		m.logger.Warn("protocol drift", "attempt", m.id, "kind", kind, "category", category, "message", message)
	} else {
		m.logger.Info("attempt failed", "attempt", m.id, "kind", kind, "category", category)
	}
	state := m.transition(ctx, domain.Failed(kind, message))
	return state, &domain.ProtocolError{Kind: kind, Category: category, Message: message, State: state}
}
