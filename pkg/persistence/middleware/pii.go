package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/latch/pkg/ports"
)

// Masked replaces values hidden by the mask middleware.
const Masked = "***"

// SensitiveKeys are the credential keys masked by default for display.
var SensitiveKeys = []string{`^authorization$`, `session`, `password`, `token`}

type maskMiddleware struct {
	next     ports.CredentialStore
	patterns []*regexp.Regexp
}

// NewMaskMiddleware creates a read-side middleware that masks values of keys
// matching the patterns. Writes pass through untouched; it is meant for
// listing credentials without revealing them.
func NewMaskMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.CredentialStore) ports.CredentialStore {
		return &maskMiddleware{next: next, patterns: patterns}
	}
}

func (m *maskMiddleware) Get(ctx context.Context, key string) (string, error) {
	v, err := m.next.Get(ctx, key)
	if err != nil {
		return "", err
	}
	for _, p := range m.patterns {
		if p.MatchString(key) {
			return Masked, nil
		}
	}
	return v, nil
}

func (m *maskMiddleware) Set(ctx context.Context, key, value string) error {
	return m.next.Set(ctx, key, value)
}

func (m *maskMiddleware) Delete(ctx context.Context, key string) error {
	return m.next.Delete(ctx, key)
}

func (m *maskMiddleware) Keys(ctx context.Context) ([]string, error) {
	return m.next.Keys(ctx)
}
