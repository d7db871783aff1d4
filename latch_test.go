package latch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/latch"
	"github.com/aretw0/latch/internal/testutils"
	"github.com/aretw0/latch/pkg/adapters/memory"
	"github.com/aretw0/latch/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedPrompter answers prompts from fixed queues and records lastErr values.
type scriptedPrompter struct {
	codes    []string
	payloads []map[string]string
	errs     []error
}

func (p *scriptedPrompter) TwoFactorCode(ctx context.Context, pending domain.TwoFactorPending, lastErr error) (domain.TwoFactorMethod, string, error) {
	p.errs = append(p.errs, lastErr)
	if len(p.codes) == 0 {
		return "", "", errors.New("no more codes")
	}
	code := p.codes[0]
	p.codes = p.codes[1:]
	return pending.Method, code, nil
}

func (p *scriptedPrompter) CheckpointInput(ctx context.Context, pending domain.CheckpointPending, lastErr error) (map[string]string, error) {
	p.errs = append(p.errs, lastErr)
	if len(p.payloads) == 0 {
		return nil, errors.New("no more payloads")
	}
	payload := p.payloads[0]
	p.payloads = p.payloads[1:]
	return payload, nil
}

func newClient(transport *testutils.ScriptedTransport, opts ...latch.Option) *latch.Client {
	base := []latch.Option{
		latch.WithRetryPolicy(latch.RetryPolicy{MaxAttempts: 1}),
		latch.WithPollInterval(time.Millisecond),
	}
	return latch.New(transport, append(base, opts...)...)
}

func TestLogin_TwoFactorWithRetry(t *testing.T) {
	transport := testutils.NewScriptedTransport(
		testutils.TwoFactorRequired("ctx-1", "sms"),
		testutils.ShowError("Please check the security code and try again."),
		testutils.LoginSuccess("42", "alice", testutils.Authorization("42", "sess-42")),
	)
	store := memory.NewStore()
	client := newClient(transport, latch.WithCredentialStore(store))
	prompter := &scriptedPrompter{codes: []string{"000000", "123456"}}

	sess, err := client.Login(context.Background(), "alice", "pw", prompter)
	require.NoError(t, err)
	assert.Equal(t, "42", sess.UserID)
	assert.Equal(t, client.Device(), sess.Device)

	require.Len(t, prompter.errs, 2)
	assert.NoError(t, prompter.errs[0])
	kind, _ := domain.KindOf(prompter.errs[1])
	assert.Equal(t, domain.KindInvalid2FACode, kind)

	keys, err := store.Keys(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, keys)
}

func TestLogin_CheckpointLadder(t *testing.T) {
	transport := testutils.NewScriptedTransport(
		testutils.CheckpointRequired("/challenge/7/xyz/"),
		testutils.Step("verify_code", map[string]any{"contact_point": "+1 ***-***-00"}),
		testutils.Close(),
		testutils.LoginSuccess("7", "bob", testutils.Authorization("7", "s")),
	)
	prompter := &scriptedPrompter{payloads: []map[string]string{{"security_code": "111111"}}}

	sess, err := newClient(transport).Login(context.Background(), "bob", "pw", prompter)
	require.NoError(t, err)
	assert.Equal(t, "7", sess.UserID)
	assert.Len(t, prompter.errs, 1, "request_challenge and retry_login need no input")
}

func TestLogin_NotificationApproval(t *testing.T) {
	transport := testutils.NewScriptedTransport(
		testutils.TwoFactorRequired("ctx-9", "notification"),
		testutils.ApprovalStatus("pending"),
		testutils.ApprovalStatus("pending"),
		testutils.LoginSuccess("9", "carol", testutils.Authorization("9", "s9")),
	)

	sess, err := newClient(transport).Login(context.Background(), "carol", "pw", &scriptedPrompter{})
	require.NoError(t, err)
	assert.Equal(t, "9", sess.UserID)
	assert.Len(t, transport.Requests(), 4)
}

func TestLogin_NotificationTimeout(t *testing.T) {
	transport := testutils.NewScriptedTransport(
		testutils.TwoFactorRequired("ctx-9", "notification"),
		testutils.ApprovalStatus("pending"),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newClient(transport).Login(ctx, "carol", "pw", &scriptedPrompter{})
	assert.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || latch.IsRecoverable(err))
}

func TestLogin_FatalFailure(t *testing.T) {
	transport := testutils.NewScriptedTransport(testutils.FailureDialog("The password you entered is incorrect."))

	_, err := newClient(transport).Login(context.Background(), "alice", "bad", &scriptedPrompter{})
	var pe *domain.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, domain.KindIncorrectPassword, pe.Kind)
	assert.False(t, latch.IsRecoverable(err))
}

func TestLogin_PrompterFailureStops(t *testing.T) {
	transport := testutils.NewScriptedTransport(testutils.TwoFactorRequired("ctx-1", "totp"))

	_, err := newClient(transport).Login(context.Background(), "alice", "pw", &scriptedPrompter{})
	assert.ErrorContains(t, err, "no more codes")
}

func TestPushAuth(t *testing.T) {
	transport := testutils.NewScriptedTransport(testutils.LoginSuccess("42", "alice", testutils.Authorization("42", "sess-42")))
	client := newClient(transport, latch.WithDevice(domain.Device{UUID: "0123456789abcdef0123456789"}))

	a := client.NewAttempt()
	_, err := client.PushAuth(a)
	assert.ErrorIs(t, err, domain.ErrNoActiveSession)

	_, err = a.BeginLogin(context.Background(), "alice", "pw")
	require.NoError(t, err)

	creds, err := client.PushAuth(a)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123", creds.ClientID)
	assert.Equal(t, "42", creds.AccountID)
	assert.Equal(t, "sessionid=sess-42", creds.Password)
}

func TestManager_SharesDevice(t *testing.T) {
	client := newClient(testutils.NewScriptedTransport(testutils.TwoFactorRequired("ctx-1", "sms")))
	manager := client.Manager()

	id, state, err := manager.Start(context.Background(), "alice", "pw")
	require.NoError(t, err)
	assert.IsType(t, domain.TwoFactorPending{}, state)
	assert.Equal(t, []string{id}, manager.List())
	assert.NotEmpty(t, client.Device().DeviceID)
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, latch.IsRecoverable(nil))
	assert.True(t, latch.IsRecoverable(&domain.NetworkError{Op: "send", Err: errors.New("reset")}))
	assert.True(t, latch.IsRecoverable(&domain.ProtocolError{Kind: domain.KindInvalid2FACode}))
	assert.True(t, latch.IsRecoverable(domain.ErrInvalidStep))
	assert.False(t, latch.IsRecoverable(&domain.ProtocolError{Kind: domain.KindAccountDisabled}))
	assert.False(t, latch.IsRecoverable(errors.New("boom")))
}
