package push_test

import (
	"testing"

	"github.com/aretw0/latch/internal/testutils"
	"github.com/aretw0/latch/pkg/domain"
	"github.com/aretw0/latch/pkg/push"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cookieJar map[string]string

func (j cookieJar) Cookie(name string) (string, bool) {
	v, ok := j[name]
	return v, ok
}

func session() *domain.Session {
	return &domain.Session{
		UserID:        "17841400000000001",
		Username:      "alice",
		Authorization: testutils.Authorization("17841400000000001", "auth-session"),
		Device:        domain.Device{UUID: "0f8fad5b-d9cb-469f-a165-70867728950e"},
	}
}

func TestFromSession_PrefersCookie(t *testing.T) {
	creds, err := push.FromSession(session(), cookieJar{"sessionid": "cookie-session"})
	require.NoError(t, err)

	assert.Equal(t, "0f8fad5b-d9cb-469f-a", creds.ClientID)
	assert.Len(t, creds.ClientID, push.ClientIDLength)
	assert.Equal(t, "17841400000000001", creds.AccountID)
	assert.Equal(t, "sessionid=cookie-session", creds.Password)
}

func TestFromSession_FallsBackToAuthorization(t *testing.T) {
	creds, err := push.FromSession(session(), cookieJar{})
	require.NoError(t, err)
	assert.Equal(t, "sessionid=auth-session", creds.Password)

	creds, err = push.FromSession(session(), nil)
	require.NoError(t, err)
	assert.Equal(t, "sessionid=auth-session", creds.Password)
}

func TestFromSession_ShortUUID(t *testing.T) {
	s := session()
	s.Device.UUID = "short"
	creds, err := push.FromSession(s, nil)
	require.NoError(t, err)
	assert.Equal(t, "short", creds.ClientID)
}

func TestFromSession_NoActiveSession(t *testing.T) {
	_, err := push.FromSession(nil, nil)
	assert.ErrorIs(t, err, domain.ErrNoActiveSession)

	_, err = push.FromSession(&domain.Session{}, nil)
	assert.ErrorIs(t, err, domain.ErrNoActiveSession)

	s := session()
	s.Authorization = "garbage"
	_, err = push.FromSession(s, nil)
	assert.ErrorIs(t, err, domain.ErrNoActiveSession)

	kind, ok := domain.KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, domain.KindNoActiveSession, kind)
}

func TestDecodeAuthorization(t *testing.T) {
	c, err := push.DecodeAuthorization(testutils.Authorization("1", "abc"))
	require.NoError(t, err)
	assert.Equal(t, "1", c.UserID)
	assert.Equal(t, "abc", c.SessionID)

	_, err = push.DecodeAuthorization("Bearer IGT:2:!!!")
	assert.Error(t, err)
}
