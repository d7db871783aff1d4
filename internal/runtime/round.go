package runtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/latch/pkg/classify"
	"github.com/aretw0/latch/pkg/domain"
)

// Endpoint paths, relative to the transport base URL.
const (
	PathLogin           = "/api/v1/bloks/apps/com.bloks.www.bloks.caa.login.async.send_login_request/"
	PathTwoFactorVerify = "/api/v1/bloks/apps/com.bloks.www.two_step_verification.verify_code.async/"
	PathApprovalPoll    = "/api/v1/bloks/apps/com.bloks.www.two_step_verification.has_been_approved.async/"
	apiPrefix           = "/api/v1"
)

// RetryPolicy bounds the retries of a request that failed at the network level.
type RetryPolicy struct {
	// MaxAttempts counts the first try. Values below 1 mean 1.
	MaxAttempts    int
	InitialBackoff time.Duration
	// MaxBackoff caps the doubling backoff. Zero means uncapped.
	MaxBackoff time.Duration
}

// DefaultRetryPolicy retries twice with a short exponential backoff.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
}

// endpoint describes which SessionContext keys a request draws from.
type endpoint struct {
	op          string
	method      string
	contextKeys []string
	signed      bool
	auth        bool
}

var (
	loginEndpoint = endpoint{
		op:          "login",
		method:      http.MethodPost,
		contextKeys: []string{domain.KeyWaterfallID},
		signed:      true,
	}
	twoFactorEndpoint = endpoint{
		op:     "two_factor",
		method: http.MethodPost,
		contextKeys: []string{
			domain.KeyWaterfallID, domain.KeyTwoFactorContext, domain.KeyTwoFactorIdentifier,
			domain.KeyFlowSource, domain.KeyUsername,
		},
		signed: true,
	}
	pollEndpoint = endpoint{
		op:     "poll_approval",
		method: http.MethodPost,
		contextKeys: []string{
			domain.KeyWaterfallID, domain.KeyTwoFactorContext, domain.KeyTwoFactorIdentifier, domain.KeyUsername,
		},
	}
	challengeGetEndpoint = endpoint{
		op:          "checkpoint",
		method:      http.MethodGet,
		contextKeys: []string{domain.KeyWaterfallID, domain.KeyChallengeContext},
	}
	challengePostEndpoint = endpoint{
		op:          "checkpoint",
		method:      http.MethodPost,
		contextKeys: []string{domain.KeyWaterfallID, domain.KeyChallengeContext, domain.KeyNonceCode},
		signed:      true,
	}
)

// bodyContextKeys are lifted from plain JSON replies into the SessionContext.
var bodyContextKeys = []string{
	domain.KeyChallengeContext, domain.KeyNonceCode,
	domain.KeyTwoFactorContext, domain.KeyTwoFactorIdentifier,
}

// OverlayParams merges request parameters. Explicit values beat context values,
// which beat defaults. Empty strings never override.
func OverlayParams(defaults, context, explicit map[string]string) map[string]string {
	out := make(map[string]string, len(defaults)+len(context)+len(explicit))
	for _, layer := range []map[string]string{defaults, context, explicit} {
		for k, v := range layer {
			if v != "" {
				out[k] = v
			}
		}
	}
	return out
}

func (m *Machine) defaults() map[string]string {
	return map[string]string{
		"device_id":        m.device.DeviceID,
		"guid":             m.device.UUID,
		"phone_id":         m.device.PhoneID,
		"family_device_id": m.device.FamilyDeviceID,
		"adid":             m.device.AdvertisingID,
	}
}

func (m *Machine) request(ep endpoint, path string, explicit map[string]string) domain.RequestSpec {
	fromContext := make(map[string]string, len(ep.contextKeys))
	for _, k := range ep.contextKeys {
		fromContext[k] = m.sc.String(k)
	}
	return domain.RequestSpec{
		Method:       ep.method,
		Path:         path,
		Form:         OverlayParams(m.defaults(), fromContext, explicit),
		Signed:       ep.signed,
		AuthRequired: ep.auth,
	}
}

// exchange runs one round: send (with retries), decode, fold parameters into
// the SessionContext.
func (m *Machine) exchange(ctx context.Context, ep endpoint, req domain.RequestSpec) (*classify.Response, error) {
	m.rounds++
	start := m.now()
	m.logger.Debug("round", "attempt", m.id, "round", m.rounds, "phase", m.phase, "op", ep.op, "path", req.Path)

	body, err := m.send(ctx, req)

	if m.hooks.OnRound != nil {
		m.hooks.OnRound(ctx, &domain.RoundEvent{
			AttemptID: m.id,
			Operation: ep.op,
			Round:     m.rounds,
			Path:      req.Path,
			Duration:  m.now().Sub(start),
			Err:       err,
		})
	}
	if err != nil {
		m.logger.Info("round failed", "attempt", m.id, "op", ep.op, "error", err)
		return nil, err
	}

	resp := classify.Decode(body)
	m.absorb(resp)
	return resp, nil
}

func (m *Machine) absorb(resp *classify.Response) {
	if n := m.sc.Merge(resp.Params); n > 0 {
		m.logger.Debug("context updated", "attempt", m.id, "changed", n, "known", m.sc.Len())
	}
	if resp.Body == nil {
		return
	}
	lifted := map[string]any{}
	for _, k := range bodyContextKeys {
		if s, ok := resp.Body[k].(string); ok && s != "" {
			lifted[k] = s
		}
	}
	m.sc.Merge(lifted)
}

// send issues req, retrying network failures with exponential backoff.
func (m *Machine) send(ctx context.Context, req domain.RequestSpec) (string, error) {
	attempts := m.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := m.retry.InitialBackoff

	var lastErr error
	for i := 1; i <= attempts; i++ {
		body, err := m.transport.Send(ctx, req)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil || i == attempts {
			break
		}
		m.logger.Debug("retrying request", "attempt", m.id, "path", req.Path, "try", i, "backoff", backoff, "error", err)
		if err := sleep(ctx, backoff); err != nil {
			lastErr = err
			break
		}
		backoff *= 2
		if m.retry.MaxBackoff > 0 && backoff > m.retry.MaxBackoff {
			backoff = m.retry.MaxBackoff
		}
	}

	var ne *domain.NetworkError
	if errors.As(lastErr, &ne) {
		return "", lastErr
	}
	return "", &domain.NetworkError{Op: req.Path, Err: lastErr}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// challengePath turns a server api_path into a transport path.
func challengePath(apiPath string) string {
	if !strings.HasPrefix(apiPath, "/") {
		apiPath = "/" + apiPath
	}
	if strings.HasPrefix(apiPath, apiPrefix+"/") {
		return apiPath
	}
	return apiPrefix + apiPath
}
