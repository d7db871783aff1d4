package ports

import "context"

// CredentialStore persists the long-lived fields of a session (domain.Cred* keys).
type CredentialStore interface {
	// Get returns the value stored under key.
	// Returns domain.ErrCredentialNotFound if the key does not exist.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists every stored key in sorted order.
	Keys(ctx context.Context) ([]string, error)
}
