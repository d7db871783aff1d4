package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aretw0/latch/pkg/classify"
	"github.com/aretw0/latch/pkg/domain"
)

// Checkpoint payload fields.
const (
	FieldChoice       = "choice"
	FieldSecurityCode = "security_code"
	FieldPhoneNumber  = "phone_number"
	FieldEmail        = "email"
)

// stepKinds maps server step names onto ladder steps.
var stepKinds = map[string]domain.StepKind{
	"select_verify_method": domain.StepSelectMethod,
	"select_contact_point": domain.StepSelectMethod,
	"verify_code":          domain.StepCodeEntry,
	"verify_email":         domain.StepCodeEntry,
	"verify_sms_code":      domain.StepCodeEntry,
	"delta_login_review":   domain.StepAcknowledge,
	"scraping_warning":     domain.StepAcknowledge,
	"submit_phone":         domain.StepSubmitPhone,
	"submit_email":         domain.StepSubmitEmail,
	"captcha":              domain.StepCaptcha,
	"recaptcha":            domain.StepCaptcha,
	"ufac_www_bloks":       domain.StepWebForm,
	"change_password":      domain.StepWebForm,
}

// requiredFields lists the payload fields each step cannot do without.
var requiredFields = map[domain.StepKind][]string{
	domain.StepSelectMethod: {FieldChoice},
	domain.StepCodeEntry:    {FieldSecurityCode},
	domain.StepSubmitPhone:  {FieldPhoneNumber},
	domain.StepSubmitEmail:  {FieldEmail},
}

// StepKindFor resolves a server step name.
func StepKindFor(name string) (domain.StepKind, bool) {
	k, ok := stepKinds[strings.ToLower(name)]
	return k, ok
}

func (m *Machine) enterCheckpoint(ctx context.Context, ch *classify.Challenge) (domain.ChallengeState, error) {
	m.phase = phaseCheckpoint
	m.logger.Info("checkpoint required", "attempt", m.id, "api_path", ch.APIPath)
	m.sc.Merge(nonEmpty(map[string]string{
		domain.KeyChallengeContext: ch.ChallengeContext,
		domain.KeyNonceCode:        ch.NonceCode,
	}))
	if ch.StepName != "" {
		return m.enterStep(ctx, ch, ch.APIPath)
	}
	return m.transition(ctx, domain.CheckpointPending{StepKind: domain.StepRequestChallenge, APIPath: ch.APIPath}), nil
}

// enterStep moves to the ladder step a server reply names.
func (m *Machine) enterStep(ctx context.Context, ch *classify.Challenge, apiPath string) (domain.ChallengeState, error) {
	kind, ok := StepKindFor(ch.StepName)
	if !ok {
		return m.fail(ctx, domain.KindUnknownChallengeStep, ch.StepName, "unrecognized challenge step "+ch.StepName)
	}
	if kind == domain.StepCaptcha {
		return m.fail(ctx, domain.KindCaptchaRequired, ch.StepName, "captcha cannot be solved by this client")
	}
	return m.transition(ctx, domain.CheckpointPending{
		StepKind: kind,
		APIPath:  apiPath,
		StepName: ch.StepName,
		Choices:  choicesFrom(ch.StepData),
		Contact:  contactFrom(ch.StepData),
	}), nil
}

// SubmitCheckpointStep satisfies the pending checkpoint step. step must match
// the pending StepKind. Each call counts towards the round limit; reaching it
// without leaving the ladder ends the attempt.
func (m *Machine) SubmitCheckpointStep(ctx context.Context, step domain.StepKind, payload map[string]string) (domain.ChallengeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guard(phaseCheckpoint, "submit_checkpoint"); err != nil {
		return m.state, err
	}
	pending := m.state.(domain.CheckpointPending)
	if step != pending.StepKind {
		return m.state, fmt.Errorf("%w: pending step is %s, got %s", domain.ErrInvalidStep, pending.StepKind, step)
	}
	for _, f := range requiredFields[step] {
		if strings.TrimSpace(payload[f]) == "" {
			return m.state, fmt.Errorf("%w: %s requires %s", domain.ErrInvalidStep, step, f)
		}
	}

	m.challengeRounds++
	state, err := m.checkpointRound(ctx, pending, payload)
	var ne *domain.NetworkError
	if errors.As(err, &ne) {
		m.challengeRounds--
		return state, err
	}
	if m.phase == phaseCheckpoint && m.challengeRounds >= m.maxRounds {
		m.logger.Warn("challenge round limit reached", "attempt", m.id, "rounds", m.challengeRounds)
		return m.fail(ctx, domain.KindChallengeLimitExceeded, "checkpoint",
			fmt.Sprintf("checkpoint not resolved after %d rounds", m.challengeRounds))
	}
	return state, err
}

func (m *Machine) checkpointRound(ctx context.Context, pending domain.CheckpointPending, payload map[string]string) (domain.ChallengeState, error) {
	if pending.StepKind == domain.StepRetryLogin {
		return m.login(ctx)
	}

	ep := challengePostEndpoint
	var explicit map[string]string
	switch pending.StepKind {
	case domain.StepRequestChallenge:
		ep = challengeGetEndpoint
	case domain.StepSelectMethod:
		explicit = map[string]string{FieldChoice: payload[FieldChoice]}
	case domain.StepCodeEntry:
		explicit = map[string]string{FieldSecurityCode: strings.TrimSpace(payload[FieldSecurityCode])}
	case domain.StepAcknowledge:
		choice := payload[FieldChoice]
		if choice == "" {
			choice = "0"
		}
		explicit = map[string]string{FieldChoice: choice}
	case domain.StepSubmitPhone:
		explicit = map[string]string{FieldPhoneNumber: payload[FieldPhoneNumber]}
	case domain.StepSubmitEmail:
		explicit = map[string]string{FieldEmail: payload[FieldEmail]}
	default:
		explicit = payload
	}

	req := m.request(ep, challengePath(pending.APIPath), explicit)
	if ep.method == http.MethodGet {
		req.Signed = false
	}
	resp, err := m.exchange(ctx, ep, req)
	if err != nil {
		return m.state, err
	}
	return m.afterCheckpoint(ctx, resp, pending)
}

func (m *Machine) afterCheckpoint(ctx context.Context, resp *classify.Response, pending domain.CheckpointPending) (domain.ChallengeState, error) {
	if user, ok := resp.LoggedInUser(); ok {
		return m.succeed(ctx, resp, user)
	}

	if resp.Body != nil {
		ch, err := classify.DecodeChallenge(resp.Body)
		if err == nil {
			if strings.EqualFold(ch.Action, "close") {
				m.logger.Debug("checkpoint closed, login will be retried", "attempt", m.id)
				return m.transition(ctx, domain.CheckpointPending{StepKind: domain.StepRetryLogin, APIPath: pending.APIPath}), nil
			}
			if ch.StepName != "" {
				m.sc.Merge(nonEmpty(map[string]string{
					domain.KeyChallengeContext: ch.ChallengeContext,
					domain.KeyNonceCode:        ch.NonceCode,
				}))
				apiPath := pending.APIPath
				if ch.APIPath != "" {
					apiPath = ch.APIPath
				}
				return m.enterStep(ctx, ch, apiPath)
			}
		}
	}

	res := classify.ClassifyResponse(resp)
	switch res.Kind {
	case domain.KindInvalid2FACode:
		m.logger.Info("security code rejected", "attempt", m.id, "step", pending.StepName)
		return m.state, res.Err(m.state)
	case domain.KindTwoFactorRequired:
		return m.enterTwoFactor(ctx, res.TwoFactor), nil
	case domain.KindCheckpointRequired:
		return m.transition(ctx, domain.CheckpointPending{StepKind: domain.StepRequestChallenge, APIPath: res.Challenge.APIPath}), nil
	}
	return m.fail(ctx, res.Kind, res.Category, res.Message)
}

// choicesFrom lists the selectable channels of a select_verify_method step.
func choicesFrom(data map[string]any) map[string]string {
	out := map[string]string{}
	if phone := stringOf(data[FieldPhoneNumber]); phone != "" {
		out["0"] = phone
	}
	if email := stringOf(data[FieldEmail]); email != "" {
		out["1"] = email
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func contactFrom(data map[string]any) string {
	for _, k := range []string{"contact_point", FieldPhoneNumber, FieldEmail} {
		if s := stringOf(data[k]); s != "" {
			return s
		}
	}
	return ""
}
