package classify

import (
	"strings"

	"github.com/aretw0/latch/pkg/domain"
	"github.com/aretw0/latch/pkg/paramexpr"
)

// Challenge is the checkpoint detail carried by a checkpoint reply or by one
// step of the checkpoint ladder.
type Challenge struct {
	APIPath          string         `mapstructure:"api_path"`
	URL              string         `mapstructure:"url"`
	StepName         string         `mapstructure:"step_name"`
	StepData         map[string]any `mapstructure:"step_data"`
	NonceCode        string         `mapstructure:"nonce_code"`
	ChallengeContext string         `mapstructure:"challenge_context"`
	Action           string         `mapstructure:"action"`
	Status           string         `mapstructure:"status"`
}

// DecodeChallenge reads a challenge object (or a ladder step reply) from m.
func DecodeChallenge(m map[string]any) (*Challenge, error) {
	var ch Challenge
	if err := weakDecode(m, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// ChallengeFrom locates the challenge object of a checkpoint reply: the nested
// "challenge" object of the body, then the body itself, then the action tree.
func ChallengeFrom(r *Response) (*Challenge, bool) {
	if r == nil {
		return nil, false
	}
	var candidates []map[string]any
	if r.Body != nil {
		if nested, ok := r.Body["challenge"].(map[string]any); ok {
			candidates = append(candidates, nested)
		}
		candidates = append(candidates, r.Body)
	}
	if m, err := paramexpr.ExtractMap(r.Tree, "api_path"); err == nil {
		candidates = append(candidates, m)
	}
	for _, c := range candidates {
		ch, err := DecodeChallenge(c)
		if err == nil && ch.APIPath != "" {
			return ch, true
		}
	}
	return nil, false
}

// TwoFactor is the verification detail carried by a two-factor reply.
type TwoFactor struct {
	Context         string `mapstructure:"two_step_verification_context"`
	Identifier      string `mapstructure:"two_factor_identifier"`
	Username        string `mapstructure:"username"`
	Method          string `mapstructure:"method"`
	FlowSource      string `mapstructure:"flow_source"`
	ObfuscatedPhone string `mapstructure:"obfuscated_phone_number"`
	SMS             bool   `mapstructure:"sms_two_factor_on"`
	TOTP            bool   `mapstructure:"totp_two_factor_on"`
	WhatsApp        bool   `mapstructure:"whatsapp_two_factor_on"`
	Email           bool   `mapstructure:"email_two_factor_on"`
	Notification    bool   `mapstructure:"trusted_notification_polling"`
}

// TwoFactorFrom locates the verification context of a two-factor reply: the
// action tree map owning the context key, then the legacy two_factor_info object.
func TwoFactorFrom(r *Response) (*TwoFactor, bool) {
	if r == nil {
		return nil, false
	}
	var candidates []map[string]any
	if m, err := paramexpr.ExtractMap(r.Tree, domain.KeyTwoFactorContext); err == nil {
		candidates = append(candidates, m)
	}
	if r.Body != nil {
		if info, ok := r.Body["two_factor_info"].(map[string]any); ok {
			candidates = append(candidates, info)
		}
	}

	var tf TwoFactor
	found := false
	for i := len(candidates) - 1; i >= 0; i-- {
		// Earlier candidates take precedence, so decode them last.
		if err := weakDecode(candidates[i], &tf); err == nil {
			found = true
		}
	}
	if !found || (tf.Context == "" && tf.Identifier == "") {
		return nil, false
	}
	if tf.Context == "" {
		tf.Context = tf.Identifier
	}
	return &tf, true
}

// Available lists the methods the server enabled. Backup codes are always offered.
func (tf *TwoFactor) Available() []domain.TwoFactorMethod {
	var out []domain.TwoFactorMethod
	if tf.SMS {
		out = append(out, domain.MethodSMS)
	}
	if tf.Email {
		out = append(out, domain.MethodEmail)
	}
	if tf.TOTP {
		out = append(out, domain.MethodTOTP)
	}
	if tf.WhatsApp {
		out = append(out, domain.MethodWhatsApp)
	}
	if tf.Notification {
		out = append(out, domain.MethodNotification)
	}
	return append(out, domain.MethodBackupCodes)
}

// DefaultMethod picks the method the server asked for, falling back to the
// strongest enabled channel and finally to generic code entry.
func (tf *TwoFactor) DefaultMethod() domain.TwoFactorMethod {
	if m, ok := domain.ParseTwoFactorMethod(strings.ToLower(tf.Method)); ok {
		return m
	}
	switch {
	case tf.Notification:
		return domain.MethodNotification
	case tf.TOTP:
		return domain.MethodTOTP
	case tf.WhatsApp:
		return domain.MethodWhatsApp
	case tf.SMS:
		return domain.MethodSMS
	case tf.Email:
		return domain.MethodEmail
	}
	return domain.MethodGenericCode
}

// ContextView builds the domain view of the verification context.
func (tf *TwoFactor) ContextView() domain.TwoFactorContext {
	return domain.TwoFactorContext{
		Token:           tf.Context,
		Identifier:      tf.Identifier,
		Username:        tf.Username,
		ObfuscatedPhone: tf.ObfuscatedPhone,
		Available:       tf.Available(),
	}
}
