package domain

// TwoFactorMethod is one of the verification channels the server may offer.
type TwoFactorMethod string

const (
	MethodSMS          TwoFactorMethod = "sms"
	MethodEmail        TwoFactorMethod = "email"
	MethodTOTP         TwoFactorMethod = "totp"
	MethodBackupCodes  TwoFactorMethod = "backup_codes"
	MethodWhatsApp     TwoFactorMethod = "whatsapp"
	MethodNotification TwoFactorMethod = "notification"
	MethodGenericCode  TwoFactorMethod = "generic_code_entry"
)

// TwoFactorMethods lists every supported method in server preference order.
var TwoFactorMethods = []TwoFactorMethod{
	MethodSMS, MethodEmail, MethodTOTP, MethodBackupCodes,
	MethodWhatsApp, MethodNotification, MethodGenericCode,
}

// ParseTwoFactorMethod maps a server or user supplied name to a method.
func ParseTwoFactorMethod(s string) (TwoFactorMethod, bool) {
	for _, m := range TwoFactorMethods {
		if string(m) == s {
			return m, true
		}
	}
	switch s {
	case "phone", "sms_code":
		return MethodSMS, true
	case "app", "authenticator", "totp_code":
		return MethodTOTP, true
	case "backup", "backup_code":
		return MethodBackupCodes, true
	case "whatsapp_code":
		return MethodWhatsApp, true
	case "push", "trusted_device", "device_approval":
		return MethodNotification, true
	}
	return "", false
}

// StepKind identifies one rung of the checkpoint escalation ladder.
type StepKind string

const (
	StepRequestChallenge StepKind = "request_challenge"
	StepSelectMethod     StepKind = "select_method"
	StepCodeEntry        StepKind = "code_entry"
	StepAcknowledge      StepKind = "acknowledge"
	StepSubmitPhone      StepKind = "submit_phone"
	StepSubmitEmail      StepKind = "submit_email"
	StepCaptcha          StepKind = "captcha"
	StepWebForm          StepKind = "web_form"
	StepRetryLogin       StepKind = "retry_login"
)

// TwoFactorContext is the opaque server-issued token echoed on every 2FA request,
// plus the identifiers the server bound to it.
type TwoFactorContext struct {
	Token           string            `json:"token"`
	Identifier      string            `json:"identifier,omitempty"`
	Username        string            `json:"username,omitempty"`
	ObfuscatedPhone string            `json:"obfuscated_phone,omitempty"`
	Available       []TwoFactorMethod `json:"available,omitempty"`
}

// ChallengeState tells the caller what must happen next.
// The variant set is closed: None, TwoFactorPending, CheckpointPending, Terminal.
type ChallengeState interface {
	IsTerminal() bool
	Describe() StateView
	challengeState()
}

// None is the state of an attempt that has not been started.
type None struct{}

// TwoFactorPending waits for exactly one verification submission (or a poll, for notification).
type TwoFactorPending struct {
	Method  TwoFactorMethod
	Context TwoFactorContext
}

// CheckpointPending waits for the caller to satisfy one checkpoint step.
type CheckpointPending struct {
	StepKind StepKind
	APIPath  string
	// StepName is the raw server step identifier, kept for diagnostics.
	StepName string
	// Choices lists selectable verification channels for StepSelectMethod.
	Choices map[string]string
	// Contact is the masked destination (phone or email) a code was sent to.
	Contact string
}

// Terminal ends an attempt. Exactly one of Session (success) or Kind (failure) is meaningful.
type Terminal struct {
	Success bool
	Kind    ErrorKind
	Message string
	Session *Session
}

func (None) challengeState()              {}
func (TwoFactorPending) challengeState()  {}
func (CheckpointPending) challengeState() {}
func (Terminal) challengeState()          {}

func (None) IsTerminal() bool              { return false }
func (TwoFactorPending) IsTerminal() bool  { return false }
func (CheckpointPending) IsTerminal() bool { return false }
func (Terminal) IsTerminal() bool          { return true }

// Succeeded builds a successful Terminal state.
func Succeeded(s *Session) Terminal {
	return Terminal{Success: true, Session: s}
}

// Failed builds a failed Terminal state.
func Failed(kind ErrorKind, message string) Terminal {
	return Terminal{Kind: kind, Message: message}
}

// StateView is a flat, serializable rendering of a ChallengeState for adapters.
type StateView struct {
	State      string            `json:"state"`
	Method     TwoFactorMethod   `json:"method,omitempty"`
	TwoFactor  *TwoFactorContext `json:"two_factor,omitempty"`
	Step       StepKind          `json:"step,omitempty"`
	StepName   string            `json:"step_name,omitempty"`
	APIPath    string            `json:"api_path,omitempty"`
	Choices    map[string]string `json:"choices,omitempty"`
	Contact    string            `json:"contact,omitempty"`
	Success    bool              `json:"success,omitempty"`
	ErrorKind  ErrorKind         `json:"error_kind,omitempty"`
	Message    string            `json:"message,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	Username   string            `json:"username,omitempty"`
	IsTerminal bool              `json:"terminal"`
}

func (None) Describe() StateView {
	return StateView{State: "none"}
}

func (s TwoFactorPending) Describe() StateView {
	tf := s.Context
	return StateView{State: "two_factor_required", Method: s.Method, TwoFactor: &tf}
}

func (s CheckpointPending) Describe() StateView {
	return StateView{
		State:    "checkpoint_required",
		Step:     s.StepKind,
		StepName: s.StepName,
		APIPath:  s.APIPath,
		Choices:  s.Choices,
		Contact:  s.Contact,
	}
}

func (s Terminal) Describe() StateView {
	v := StateView{IsTerminal: true, Success: s.Success, ErrorKind: s.Kind, Message: s.Message}
	if s.Success {
		v.State = "success"
		if s.Session != nil {
			v.UserID = s.Session.UserID
			v.Username = s.Session.Username
		}
	} else {
		v.State = "failed"
	}
	return v
}
