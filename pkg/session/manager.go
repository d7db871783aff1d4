package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"log/slog"

	"github.com/aretw0/latch/internal/logging"
	"github.com/aretw0/latch/pkg/domain"
	"github.com/aretw0/latch/pkg/ports"
)

// DefaultLockTTL bounds how long a distributed attempt lock survives a crash.
const DefaultLockTTL = 30 * time.Second

// Factory creates a fresh attempt.
type Factory func() ports.Attempt

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

type record struct {
	attempt ports.Attempt
	touched time.Time
}

// Manager keeps the in-flight attempts of a process and serializes the
// operations on each of them. It uses reference counting to garbage collect
// unused locks.
type Manager struct {
	factory Factory

	mu       sync.Mutex            // Global lock for both maps
	locks    map[string]*lockEntry // Map of active locks
	attempts map[string]*record

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the distributed lock expiry.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides time.Now, for pruning.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager that builds attempts with factory.
func NewManager(factory Factory, opts ...Option) *Manager {
	m := &Manager{
		factory:  factory,
		locks:    make(map[string]*lockEntry),
		attempts: make(map[string]*record),
		lockTTL:  DefaultLockTTL,
		logger:   logging.NewNop(), // Default to no-op
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(id) after unlocking.
func (m *Manager) acquire(id string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[id]
	if !exists {
		entry = &lockEntry{}
		m.locks[id] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[id]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, id)
	}
}

func (m *Manager) lookup(id string) (*record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.attempts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAttemptNotFound, id)
	}
	return rec, nil
}

// Create registers a fresh attempt and returns it.
func (m *Manager) Create() ports.Attempt {
	a := m.factory()
	m.mu.Lock()
	m.attempts[a.ID()] = &record{attempt: a, touched: m.now()}
	m.mu.Unlock()
	m.logger.Debug("attempt created", "attempt", a.ID())
	return a
}

// Start creates an attempt and submits the credentials. The attempt stays
// registered whatever the outcome, so its state can be inspected.
func (m *Manager) Start(ctx context.Context, username, secret string) (string, domain.ChallengeState, error) {
	a := m.Create()
	state, err := m.Do(ctx, a.ID(), func(ctx context.Context, a ports.Attempt) (domain.ChallengeState, error) {
		return a.BeginLogin(ctx, username, secret)
	})
	return a.ID(), state, err
}

// Get returns a registered attempt.
func (m *Manager) Get(id string) (ports.Attempt, error) {
	rec, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return rec.attempt, nil
}

// Do runs fn against the attempt while holding its lock.
func (m *Manager) Do(ctx context.Context, id string, fn func(context.Context, ports.Attempt) (domain.ChallengeState, error)) (domain.ChallengeState, error) {
	var state domain.ChallengeState
	err := m.WithLock(ctx, id, func(ctx context.Context) error {
		rec, err := m.lookup(id)
		if err != nil {
			return err
		}
		var opErr error
		state, opErr = fn(ctx, rec.attempt)
		m.mu.Lock()
		rec.touched = m.now()
		m.mu.Unlock()
		return opErr
	})
	return state, err
}

// SubmitTwoFactor submits a code for the pending two-factor challenge of id.
func (m *Manager) SubmitTwoFactor(ctx context.Context, id string, method domain.TwoFactorMethod, code string) (domain.ChallengeState, error) {
	return m.Do(ctx, id, func(ctx context.Context, a ports.Attempt) (domain.ChallengeState, error) {
		return a.SubmitTwoFactorCode(ctx, domain.TwoFactorContext{}, method, code)
	})
}

// SubmitCheckpoint satisfies the pending checkpoint step of id.
func (m *Manager) SubmitCheckpoint(ctx context.Context, id string, step domain.StepKind, payload map[string]string) (domain.ChallengeState, error) {
	return m.Do(ctx, id, func(ctx context.Context, a ports.Attempt) (domain.ChallengeState, error) {
		return a.SubmitCheckpointStep(ctx, step, payload)
	})
}

// Poll polls notification approval for id.
func (m *Manager) Poll(ctx context.Context, id string) (domain.ChallengeState, error) {
	return m.Do(ctx, id, func(ctx context.Context, a ports.Attempt) (domain.ChallengeState, error) {
		return a.PollNotificationApproval(ctx, domain.TwoFactorContext{})
	})
}

// Delete forgets the attempt.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.WithLock(ctx, id, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.attempts[id]; !ok {
			return fmt.Errorf("%w: %s", domain.ErrAttemptNotFound, id)
		}
		delete(m.attempts, id)
		return nil
	})
}

// List returns the registered attempt ids in sorted order.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.attempts))
	for id := range m.attempts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Prune forgets terminal attempts untouched for longer than maxIdle and
// returns how many were removed.
func (m *Manager) Prune(maxIdle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-maxIdle)
	removed := 0
	for id, rec := range m.attempts {
		if _, busy := m.locks[id]; busy {
			continue
		}
		if rec.attempt.State().IsTerminal() && rec.touched.Before(cutoff) {
			delete(m.attempts, id)
			removed++
		}
	}
	return removed
}

// WithLock executes a function while holding the lock for the attempt.
func (m *Manager) WithLock(ctx context.Context, id string, fn func(context.Context) error) error {
	entry := m.acquire(id)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(id)
	}()

	// Distributed Locking
	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, "attempt:"+id, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"attempt", id,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
