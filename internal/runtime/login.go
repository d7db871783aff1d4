package runtime

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aretw0/latch/pkg/classify"
	"github.com/aretw0/latch/pkg/domain"
	"github.com/aretw0/latch/pkg/ports"
)

// BeginLogin submits the credentials of a fresh attempt.
//
// A network failure leaves the attempt unstarted so BeginLogin may be called
// again. Any other outcome moves the attempt forward.
func (m *Machine) BeginLogin(ctx context.Context, username, secret string) (domain.ChallengeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guard(phaseInit, "begin_login"); err != nil {
		return m.state, err
	}
	if username == "" || secret == "" {
		return m.state, fmt.Errorf("%w: username and secret are required", domain.ErrInvalidStep)
	}

	m.username, m.secret = username, secret
	m.sc.Merge(map[string]any{domain.KeyUsername: username})
	m.emit("login_attempt", nil)
	m.logger.Info("login started", "attempt", m.id, "username", username)

	return m.login(ctx)
}

// login posts the stored credentials and interprets the reply.
func (m *Machine) login(ctx context.Context) (domain.ChallengeState, error) {
	m.loginAttempts++
	req := m.request(loginEndpoint, PathLogin, map[string]string{
		"username":            m.username,
		"enc_password":        encodePassword(m.secret, m.now()),
		"login_attempt_count": strconv.Itoa(m.loginAttempts - 1),
	})

	resp, err := m.exchange(ctx, loginEndpoint, req)
	if err != nil {
		return m.state, err
	}
	if m.phase == phaseInit {
		m.phase = phaseSubmitted
	}
	return m.afterLogin(ctx, resp)
}

func (m *Machine) afterLogin(ctx context.Context, resp *classify.Response) (domain.ChallengeState, error) {
	if user, ok := resp.LoggedInUser(); ok {
		return m.succeed(ctx, resp, user)
	}
	res := classify.ClassifyResponse(resp)
	switch res.Kind {
	case domain.KindTwoFactorRequired:
		return m.enterTwoFactor(ctx, res.TwoFactor), nil
	case domain.KindCheckpointRequired:
		return m.enterCheckpoint(ctx, res.Challenge)
	}
	return m.fail(ctx, res.Kind, res.Category, res.Message)
}

// encodePassword renders the plaintext password envelope the login endpoint accepts.
func encodePassword(secret string, now time.Time) string {
	return fmt.Sprintf("#PWD_APP:0:%d:%s", now.Unix(), secret)
}

// succeed builds the session, hands the authorization to the transport and
// persists what a later run needs to resume.
func (m *Machine) succeed(ctx context.Context, resp *classify.Response, user map[string]any) (domain.ChallengeState, error) {
	userID := stringOf(user["pk"])
	if userID == "" {
		userID = stringOf(user["pk_id"])
	}
	if userID == "" {
		return m.fail(ctx, domain.KindMalformedProtocolResponse, classify.KeyLoggedInUser, "logged_in_user without pk")
	}
	username := stringOf(user["username"])
	if username == "" {
		username = m.username
	}

	sess := &domain.Session{
		UserID:        userID,
		Username:      username,
		Authorization: resp.Header("set-authorization"),
		Device:        m.device,
		LoggedInAt:    m.now().UTC(),
	}
	if sess.Authorization == "" {
		m.logger.Warn("login succeeded without authorization header", "attempt", m.id)
	}
	if sink, ok := m.transport.(ports.AuthorizationSink); ok && sess.Authorization != "" {
		sink.SetAuthorization(sess.Authorization)
	}
	m.persist(ctx, sess)

	m.session = sess
	m.logger.Info("login succeeded", "attempt", m.id, "user_id", userID, "rounds", m.rounds)
	return m.transition(ctx, domain.Succeeded(sess)), nil
}

// persist writes the session fields to the credential store. A store failure
// is logged and does not undo the login.
func (m *Machine) persist(ctx context.Context, sess *domain.Session) {
	if m.store == nil {
		return
	}
	values := map[string]string{
		domain.CredAuthorization:  sess.Authorization,
		domain.CredUserID:         sess.UserID,
		domain.CredUsername:       sess.Username,
		domain.CredDeviceID:       sess.Device.DeviceID,
		domain.CredUUID:           sess.Device.UUID,
		domain.CredPhoneID:        sess.Device.PhoneID,
		domain.CredFamilyDeviceID: sess.Device.FamilyDeviceID,
		domain.CredAdvertisingID:  sess.Device.AdvertisingID,
		domain.CredLastLogin:      sess.LoggedInAt.Format(time.RFC3339),
	}
	for k, v := range values {
		if v == "" {
			continue
		}
		if err := m.store.Set(ctx, k, v); err != nil {
			m.logger.Error("failed to persist credential", "attempt", m.id, "key", k, "error", err)
		}
	}
}

func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}
