package latch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/latch/pkg/domain"
	"github.com/aretw0/latch/pkg/ports"
)

// LoadSession rebuilds the session persisted by the last successful login.
// It returns domain.ErrNoActiveSession when the store holds no user id.
func LoadSession(ctx context.Context, store ports.CredentialStore) (*domain.Session, error) {
	get := func(key string) (string, error) {
		v, err := store.Get(ctx, key)
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", key, err)
		}
		return v, nil
	}

	userID, err := get(domain.CredUserID)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, domain.ErrNoActiveSession
	}

	sess := &domain.Session{UserID: userID}
	fields := []struct {
		key string
		dst *string
	}{
		{domain.CredUsername, &sess.Username},
		{domain.CredAuthorization, &sess.Authorization},
		{domain.CredDeviceID, &sess.Device.DeviceID},
		{domain.CredUUID, &sess.Device.UUID},
		{domain.CredPhoneID, &sess.Device.PhoneID},
		{domain.CredFamilyDeviceID, &sess.Device.FamilyDeviceID},
		{domain.CredAdvertisingID, &sess.Device.AdvertisingID},
	}
	for _, f := range fields {
		if *f.dst, err = get(f.key); err != nil {
			return nil, err
		}
	}

	lastLogin, err := get(domain.CredLastLogin)
	if err != nil {
		return nil, err
	}
	if lastLogin != "" {
		if t, perr := time.Parse(time.RFC3339, lastLogin); perr == nil {
			sess.LoggedInAt = t
		}
	}
	return sess, nil
}
