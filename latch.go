package latch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/latch/internal/logging"
	"github.com/aretw0/latch/internal/runtime"
	"github.com/aretw0/latch/pkg/domain"
	"github.com/aretw0/latch/pkg/ports"
	"github.com/aretw0/latch/pkg/push"
	"github.com/aretw0/latch/pkg/session"
)

// DefaultPollInterval is the wait between notification approval polls.
const DefaultPollInterval = 3 * time.Second

// RetryPolicy bounds how often a request is resent after a network failure.
type RetryPolicy = runtime.RetryPolicy

// DefaultRetryPolicy is used when no policy is configured.
var DefaultRetryPolicy = runtime.DefaultRetryPolicy

// Client is the high-level entry point for the latch library.
// It holds the collaborators shared by every attempt and hands out
// independent attempts over them.
type Client struct {
	transport    ports.Transport
	store        ports.CredentialStore
	analytics    ports.AnalyticsSink
	locker       ports.DistributedLocker
	hooks        domain.LifecycleHooks
	logger       *slog.Logger
	retry        RetryPolicy
	maxRounds    int
	device       domain.Device
	pollInterval time.Duration
}

// Option defines a functional option for configuring the Client.
type Option func(*Client)

// WithCredentialStore persists the session of every successful attempt.
func WithCredentialStore(store ports.CredentialStore) Option {
	return func(c *Client) {
		c.store = store
	}
}

// WithAnalytics sends telemetry events to sink.
func WithAnalytics(sink ports.AnalyticsSink) Option {
	return func(c *Client) {
		c.analytics = sink
	}
}

// WithLocker serializes attempt operations across processes in the Manager.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(c *Client) {
		c.locker = locker
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(c *Client) {
		c.hooks = hooks
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRetryPolicy overrides the network retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// WithMaxChallengeRounds bounds the checkpoint submissions of one attempt.
func WithMaxChallengeRounds(n int) Option {
	return func(c *Client) {
		c.maxRounds = n
	}
}

// WithDevice pins the emulated device identity. Missing fields are generated.
func WithDevice(d domain.Device) Option {
	return func(c *Client) {
		c.device = d
	}
}

// WithPollInterval sets the wait between notification approval polls in Login.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// New creates a Client over transport. Without WithDevice, a device identity
// is generated once and shared by every attempt of the Client.
func New(transport ports.Transport, opts ...Option) *Client {
	c := &Client{
		transport:    transport,
		logger:       logging.NewNop(),
		retry:        DefaultRetryPolicy,
		maxRounds:    runtime.DefaultMaxChallengeRounds,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.device = runtime.CompleteDevice(c.device)
	return c
}

// Device returns the identity presented by every attempt.
func (c *Client) Device() domain.Device {
	return c.device
}

// NewAttempt starts a fresh, independent handshake.
func (c *Client) NewAttempt() ports.Attempt {
	opts := []runtime.MachineOption{
		runtime.WithLogger(c.logger),
		runtime.WithLifecycleHooks(c.hooks),
		runtime.WithRetryPolicy(c.retry),
		runtime.WithMaxChallengeRounds(c.maxRounds),
		runtime.WithDevice(c.device),
	}
	if c.store != nil {
		opts = append(opts, runtime.WithCredentialStore(c.store))
	}
	if c.analytics != nil {
		opts = append(opts, runtime.WithAnalytics(c.analytics))
	}
	return runtime.NewMachine(c.transport, opts...)
}

// Manager returns a registry that creates attempts from this Client.
func (c *Client) Manager(opts ...session.Option) *session.Manager {
	base := []session.Option{session.WithLogger(c.logger)}
	if c.locker != nil {
		base = append(base, session.WithLocker(c.locker))
	}
	return session.NewManager(c.NewAttempt, append(base, opts...)...)
}

// Login drives one attempt to a terminal state, asking prompter for every
// code and checkpoint field. Invalid codes are handed back to the prompter
// as lastErr. Notification approvals are polled until ctx ends.
func (c *Client) Login(ctx context.Context, username, secret string, prompter ports.Prompter) (*domain.Session, error) {
	a := c.NewAttempt()
	state, err := a.BeginLogin(ctx, username, secret)

	for {
		var lastErr error
		if err != nil {
			if kind, _ := domain.KindOf(err); kind != domain.KindInvalid2FACode {
				return nil, err
			}
			lastErr = err
		}

		switch s := state.(type) {
		case domain.Terminal:
			if s.Success {
				return s.Session, nil
			}
			return nil, &domain.ProtocolError{Kind: s.Kind, Message: s.Message, State: s}

		case domain.TwoFactorPending:
			state, err = c.twoFactor(ctx, a, s, prompter, lastErr)

		case domain.CheckpointPending:
			var payload map[string]string
			if s.StepKind != domain.StepRequestChallenge && s.StepKind != domain.StepRetryLogin {
				payload, err = prompter.CheckpointInput(ctx, s, lastErr)
				if err != nil {
					return nil, fmt.Errorf("checkpoint input: %w", err)
				}
			}
			state, err = a.SubmitCheckpointStep(ctx, s.StepKind, payload)

		default:
			return nil, fmt.Errorf("%w: unexpected state %T", domain.ErrInvalidStep, state)
		}
	}
}

func (c *Client) twoFactor(ctx context.Context, a ports.Attempt, pending domain.TwoFactorPending, prompter ports.Prompter, lastErr error) (domain.ChallengeState, error) {
	method := pending.Method
	if method != domain.MethodNotification {
		var code string
		var err error
		method, code, err = prompter.TwoFactorCode(ctx, pending, lastErr)
		if err != nil {
			return nil, fmt.Errorf("two-factor input: %w", err)
		}
		if method != domain.MethodNotification {
			return a.SubmitTwoFactorCode(ctx, pending.Context, method, code)
		}
	}

	c.logger.Info("waiting for approval on a trusted device", "attempt", a.ID())
	for {
		state, err := a.PollNotificationApproval(ctx, pending.Context)
		if err != nil || !samePending(state, pending) {
			return state, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

func samePending(state domain.ChallengeState, pending domain.TwoFactorPending) bool {
	tf, ok := state.(domain.TwoFactorPending)
	return ok && tf.Context.Token == pending.Context.Token
}

// PushAuth derives realtime-channel credentials from a successful attempt.
func (c *Client) PushAuth(a ports.Attempt) (*push.Credentials, error) {
	sess := a.Session()
	if sess == nil {
		return nil, domain.ErrNoActiveSession
	}
	cookies, _ := c.transport.(ports.CookieSource)
	creds, err := push.FromSession(sess, cookies)
	if err != nil {
		return nil, err
	}
	return creds, nil
}

// IsRecoverable reports whether err leaves the attempt open for another try.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, domain.ErrInvalidStep) {
		return true
	}
	kind, ok := domain.KindOf(err)
	return ok && !kind.IsFatal()
}
