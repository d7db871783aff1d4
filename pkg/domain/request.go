package domain

import (
	"context"
	"time"
)

// RequestSpec describes one outbound request for the Transport collaborator.
type RequestSpec struct {
	// Method defaults to POST when empty.
	Method string `json:"method,omitempty"`
	// Path is relative to the transport's base URL.
	Path string `json:"path"`
	// Form holds the body parameters (or query parameters for GET).
	Form map[string]string `json:"form,omitempty"`
	// AuthRequired asks the transport to attach stored authorization material.
	AuthRequired bool `json:"auth_required,omitempty"`
	// Signed asks the transport to wrap Form in the signed_body envelope.
	Signed bool `json:"signed,omitempty"`
}

// Device carries the identifiers a mobile client presents on every request.
type Device struct {
	DeviceID       string `json:"device_id" yaml:"device_id" mapstructure:"device_id"`
	UUID           string `json:"uuid" yaml:"uuid" mapstructure:"uuid"`
	PhoneID        string `json:"phone_id" yaml:"phone_id" mapstructure:"phone_id"`
	FamilyDeviceID string `json:"family_device_id" yaml:"family_device_id" mapstructure:"family_device_id"`
	AdvertisingID  string `json:"advertising_id" yaml:"advertising_id" mapstructure:"advertising_id"`
}

// Session is the long-lived identity produced by a successful attempt.
type Session struct {
	UserID        string    `json:"user_id"`
	Username      string    `json:"username"`
	Authorization string    `json:"-"`
	Device        Device    `json:"device"`
	LoggedInAt    time.Time `json:"logged_in_at"`
}

// Credential store keys persisted on success.
const (
	CredAuthorization  = "authorization"
	CredUserID         = "user_id"
	CredUsername       = "username"
	CredDeviceID       = "device_id"
	CredUUID           = "uuid"
	CredPhoneID        = "phone_id"
	CredFamilyDeviceID = "family_device_id"
	CredAdvertisingID  = "advertising_id"
	CredLastLogin      = "last_login"
)

// AnalyticsEvent is a fire-and-forget telemetry record emitted by the handshake.
type AnalyticsEvent struct {
	Name        string            `json:"name"`
	Time        time.Time         `json:"time"`
	WaterfallID string            `json:"waterfall_id,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// RoundEvent describes one request/response round of the handshake.
type RoundEvent struct {
	AttemptID string
	Operation string
	Round     int
	Path      string
	Duration  time.Duration
	Err       error
}

// TransitionEvent describes a ChallengeState change.
type TransitionEvent struct {
	AttemptID string
	From      StateView
	To        StateView
}

// LifecycleHooks defines callbacks for handshake observability.
type LifecycleHooks struct {
	OnRound      func(context.Context, *RoundEvent)
	OnTransition func(context.Context, *TransitionEvent)
}
