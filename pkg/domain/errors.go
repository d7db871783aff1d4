package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a handshake failure (or a server-requested detour).
// The set is closed: classifiers never invent new kinds at runtime.
type ErrorKind string

const (
	KindNetwork                   ErrorKind = "network_error"
	KindMalformedProtocolResponse ErrorKind = "malformed_protocol_response"
	KindIncorrectPassword         ErrorKind = "incorrect_password"
	KindInvalidUsername           ErrorKind = "invalid_username"
	KindAccountDisabled           ErrorKind = "account_disabled"
	KindAccountDeletionRequested  ErrorKind = "account_deletion_requested"
	KindTooManyAttempts           ErrorKind = "too_many_attempts"
	KindUnexpectedLoginError      ErrorKind = "unexpected_login_error"
	KindChallengeLimitExceeded    ErrorKind = "challenge_iteration_limit_exceeded"
	KindUnknownChallengeStep      ErrorKind = "unknown_challenge_step"
	KindInvalid2FACode            ErrorKind = "invalid_2fa_code"
	KindNoActiveSession           ErrorKind = "no_active_session"
	KindCaptchaRequired           ErrorKind = "captcha_required"
	KindApprovalDenied            ErrorKind = "approval_denied"

	// Categories: not failures by themselves, they route the machine into a sub-flow.
	KindTwoFactorRequired  ErrorKind = "two_factor_required"
	KindCheckpointRequired ErrorKind = "checkpoint_required"

	// KindUnclassified carries the raw category string of a response nothing matched.
	KindUnclassified ErrorKind = "unclassified_protocol_error"
)

// IsRetryable reports whether the caller may retry the same request.
// Only network failures qualify; protocol failures are never retried automatically.
func (k ErrorKind) IsRetryable() bool {
	return k == KindNetwork
}

// IsDrift reports whether the kind signals that the server format changed.
func (k ErrorKind) IsDrift() bool {
	return k == KindMalformedProtocolResponse || k == KindUnknownChallengeStep
}

// IsFatal reports whether the kind ends the attempt.
func (k ErrorKind) IsFatal() bool {
	switch k {
	case KindNetwork, KindInvalid2FACode, KindTwoFactorRequired, KindCheckpointRequired:
		return false
	}
	return true
}

var (
	// ErrNoActiveSession is returned when push credentials are requested before a successful login.
	ErrNoActiveSession = errors.New("no active session")

	// ErrAttemptTerminated is returned when an operation is invoked on a finished attempt.
	ErrAttemptTerminated = errors.New("login attempt already terminated")

	// ErrInvalidStep is returned when an operation does not match the pending challenge.
	ErrInvalidStep = errors.New("operation does not match pending challenge")

	// ErrCredentialNotFound is returned when a key is absent from the credential store.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrAttemptNotFound is returned when an attempt ID is unknown to the session manager.
	ErrAttemptNotFound = errors.New("attempt not found")
)

// ProtocolError is a classified, server-side failure.
// State carries whatever challenge context was recovered so callers can resume.
type ProtocolError struct {
	Kind     ErrorKind
	Category string
	Message  string
	State    ChallengeState
}

func (e *ProtocolError) Error() string {
	msg := string(e.Kind)
	if e.Category != "" && e.Category != string(e.Kind) {
		msg += " [" + e.Category + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Is matches sentinel errors by kind so errors.Is(err, domain.ErrNoActiveSession) works.
func (e *ProtocolError) Is(target error) bool {
	return e.Kind == KindNoActiveSession && target == ErrNoActiveSession
}

// NetworkError wraps a transport-level failure. It is the only retryable failure.
type NetworkError struct {
	Op     string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("network error during %s (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return KindNetwork, true
	}
	if errors.Is(err, ErrNoActiveSession) {
		return KindNoActiveSession, true
	}
	return "", false
}
