// Package push derives realtime-channel credentials from a logged-in session.
package push

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/latch/pkg/domain"
	"github.com/aretw0/latch/pkg/ports"
)

// ClientIDLength is the number of device uuid characters used as client id.
const ClientIDLength = 20

// SessionCookie is the cookie carrying the web session.
const SessionCookie = "sessionid"

const bearerPrefix = "Bearer IGT:2:"

// Credentials authenticate the realtime push channel.
type Credentials struct {
	ClientID  string `json:"client_id"`
	AccountID string `json:"account_id"`
	Password  string `json:"-"`
}

// FromSession derives push credentials. cookies may be nil, in which case the
// session id is recovered from the authorization header.
func FromSession(session *domain.Session, cookies ports.CookieSource) (*Credentials, error) {
	if session == nil || session.UserID == "" {
		return nil, domain.ErrNoActiveSession
	}

	sessionID := ""
	if cookies != nil {
		sessionID, _ = cookies.Cookie(SessionCookie)
	}
	if sessionID == "" {
		claims, err := DecodeAuthorization(session.Authorization)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrNoActiveSession, err)
		}
		sessionID = claims.SessionID
	}
	if sessionID == "" {
		return nil, fmt.Errorf("%w: no session cookie", domain.ErrNoActiveSession)
	}

	clientID := session.Device.UUID
	if len(clientID) > ClientIDLength {
		clientID = clientID[:ClientIDLength]
	}
	return &Credentials{
		ClientID:  clientID,
		AccountID: session.UserID,
		Password:  SessionCookie + "=" + sessionID,
	}, nil
}

// Claims is the payload of a bearer authorization.
type Claims struct {
	UserID    string `json:"ds_user_id"`
	SessionID string `json:"sessionid"`
}

// DecodeAuthorization reads the claims of a "Bearer IGT:2:<base64 json>" value.
func DecodeAuthorization(value string) (*Claims, error) {
	if !strings.HasPrefix(value, bearerPrefix) {
		return nil, fmt.Errorf("unsupported authorization format")
	}
	encoded := strings.TrimPrefix(value, bearerPrefix)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode authorization: %w", err)
	}

	var c Claims
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to parse authorization claims: %w", err)
	}
	return &c, nil
}
