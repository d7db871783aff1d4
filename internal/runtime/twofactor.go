package runtime

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/aretw0/latch/pkg/classify"
	"github.com/aretw0/latch/pkg/domain"
)

// Approval poll statuses.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalDenied   = "denied"
)

func (m *Machine) enterTwoFactor(ctx context.Context, tf *classify.TwoFactor) domain.ChallengeState {
	m.sc.Merge(nonEmpty(map[string]string{
		domain.KeyTwoFactorContext:    tf.Context,
		domain.KeyTwoFactorIdentifier: tf.Identifier,
		domain.KeyFlowSource:          tf.FlowSource,
	}))
	view := tf.ContextView()
	if view.Username == "" {
		view.Username = m.username
	}
	m.phase = phaseTwoFactor
	m.logger.Info("two-factor required", "attempt", m.id, "method", tf.DefaultMethod())
	return m.transition(ctx, domain.TwoFactorPending{Method: tf.DefaultMethod(), Context: view})
}

// pendingTwoFactor checks the phase and that tf refers to the pending context.
func (m *Machine) pendingTwoFactor(op string, tf domain.TwoFactorContext) (domain.TwoFactorPending, error) {
	if err := m.guard(phaseTwoFactor, op); err != nil {
		return domain.TwoFactorPending{}, err
	}
	pending := m.state.(domain.TwoFactorPending)
	if tf.Token != "" && tf.Token != pending.Context.Token {
		return pending, fmt.Errorf("%w: verification context does not match the pending challenge", domain.ErrInvalidStep)
	}
	return pending, nil
}

// SubmitTwoFactorCode sends a verification code for the pending two-factor
// challenge. A rejected code leaves the challenge pending and returns an
// Invalid2FACode error.
func (m *Machine) SubmitTwoFactorCode(ctx context.Context, tf domain.TwoFactorContext, method domain.TwoFactorMethod, code string) (domain.ChallengeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, err := m.pendingTwoFactor("submit_two_factor", tf)
	if err != nil {
		return m.state, err
	}
	if method == "" {
		method = pending.Method
	}
	if method == domain.MethodNotification {
		return m.state, fmt.Errorf("%w: notification approval is polled, not submitted", domain.ErrInvalidStep)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return m.state, fmt.Errorf("%w: empty verification code", domain.ErrInvalidStep)
	}

	req := m.request(twoFactorEndpoint, PathTwoFactorVerify, map[string]string{
		"verification_code":   code,
		"verification_method": string(method),
	})
	resp, err := m.exchange(ctx, twoFactorEndpoint, req)
	if err != nil {
		return m.state, err
	}
	pending.Method = method
	return m.afterTwoFactor(ctx, resp, pending)
}

// PollNotificationApproval asks whether the login was approved on a trusted
// device. A pending approval returns the unchanged state and no error.
func (m *Machine) PollNotificationApproval(ctx context.Context, tf domain.TwoFactorContext) (domain.ChallengeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, err := m.pendingTwoFactor("poll_approval", tf)
	if err != nil {
		return m.state, err
	}
	if pending.Method != domain.MethodNotification && !slices.Contains(pending.Context.Available, domain.MethodNotification) {
		return m.state, fmt.Errorf("%w: notification approval is not offered", domain.ErrInvalidStep)
	}

	req := m.request(pollEndpoint, PathApprovalPoll, nil)
	resp, err := m.exchange(ctx, pollEndpoint, req)
	if err != nil {
		return m.state, err
	}
	if user, ok := resp.LoggedInUser(); ok {
		return m.succeed(ctx, resp, user)
	}

	status := approvalStatus(resp)
	switch status {
	case ApprovalPending, "waiting":
		m.logger.Debug("approval pending", "attempt", m.id)
		if pending.Method != domain.MethodNotification {
			pending.Method = domain.MethodNotification
			return m.transition(ctx, pending), nil
		}
		return m.state, nil
	case ApprovalDenied, "rejected":
		return m.fail(ctx, domain.KindApprovalDenied, "approval_status", "login request was denied on the trusted device")
	case ApprovalApproved:
		return m.fail(ctx, domain.KindMalformedProtocolResponse, "approval_status", "approved without a login payload")
	}
	pending.Method = domain.MethodNotification
	return m.afterTwoFactor(ctx, resp, pending)
}

func approvalStatus(resp *classify.Response) string {
	if s, ok := resp.Params.String("approval_status"); ok {
		return strings.ToLower(s)
	}
	if resp.Body != nil {
		if s, ok := resp.Body["approval_status"].(string); ok {
			return strings.ToLower(s)
		}
	}
	return ""
}

func (m *Machine) afterTwoFactor(ctx context.Context, resp *classify.Response, pending domain.TwoFactorPending) (domain.ChallengeState, error) {
	if user, ok := resp.LoggedInUser(); ok {
		return m.succeed(ctx, resp, user)
	}
	res := classify.ClassifyResponse(resp)
	switch res.Kind {
	case domain.KindInvalid2FACode:
		m.logger.Info("verification code rejected", "attempt", m.id, "method", pending.Method)
		state := m.state
		if cur, ok := m.state.(domain.TwoFactorPending); ok && cur.Method != pending.Method {
			state = m.transition(ctx, pending)
		}
		return state, res.Err(state)
	case domain.KindTwoFactorRequired:
		return m.enterTwoFactor(ctx, res.TwoFactor), nil
	case domain.KindCheckpointRequired:
		return m.enterCheckpoint(ctx, res.Challenge)
	}
	return m.fail(ctx, res.Kind, res.Category, res.Message)
}

func nonEmpty(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
