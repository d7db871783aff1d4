package middleware

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/latch/pkg/ports"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/hkdf"
)

// envelopePrefix marks values written by the encryption middleware.
const envelopePrefix = "enc:v1:"

// keyInfo binds derived keys to this use so the same secret can serve elsewhere.
const keyInfo = "latch credential store v1"

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

// DeriveKey stretches an operator-supplied secret of any length into a 32 byte
// AES-256 key using HKDF-SHA256.
func DeriveKey(secret []byte, salt string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("encryption secret is empty")
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, []byte(salt), []byte(keyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// envelope is the sealed form of one value, CBOR-encoded with integer keys.
type envelope struct {
	KeyID      []byte `cbor:"1,keyasint"`
	Nonce      []byte `cbor:"2,keyasint"`
	Ciphertext []byte `cbor:"3,keyasint"`
}

type encryptionMiddleware struct {
	next   ports.CredentialStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals every value with AES-GCM.
// The credential key is bound as additional data, so a sealed value copied to a
// different key fails to open.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.CredentialStore) ports.CredentialStore {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}
}

func (m *encryptionMiddleware) Set(ctx context.Context, key, value string) error {
	sealed, err := seal([]byte(value), []byte(key), m.config.ActiveKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential %q: %w", key, err)
	}
	return m.next.Set(ctx, key, sealed)
}

func (m *encryptionMiddleware) Get(ctx context.Context, key string) (string, error) {
	stored, err := m.next.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(stored, envelopePrefix) {
		// Fail secure: plaintext values are never returned once encryption is on.
		return "", fmt.Errorf("credential %q is missing the encrypted envelope", key)
	}
	plain, err := open(stored, []byte(key), m.config)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential %q: %w", key, err)
	}
	return string(plain), nil
}

func (m *encryptionMiddleware) Delete(ctx context.Context, key string) error {
	return m.next.Delete(ctx, key)
}

func (m *encryptionMiddleware) Keys(ctx context.Context) ([]string, error) {
	return m.next.Keys(ctx)
}

// Helpers

func keyID(key []byte) []byte {
	sum := sha256.Sum256(key)
	return sum[:4]
}

func seal(plaintext, aad, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	raw, err := cbor.Marshal(envelope{
		KeyID:      keyID(key),
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, aad),
	})
	if err != nil {
		return "", err
	}
	return envelopePrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

func open(stored string, aad []byte, config EncryptionConfig) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(stored, envelopePrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to decode envelope base64: %w", err)
	}
	var env envelope
	if err := cbor.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}

	// Try the key the envelope names first, then every key in order.
	keys := append([][]byte{config.ActiveKey}, config.FallbackKeys...)
	for _, k := range keys {
		if bytes.Equal(keyID(k), env.KeyID) {
			if plain, err := decrypt(env, aad, k); err == nil {
				return plain, nil
			}
		}
	}
	for _, k := range keys {
		if plain, err := decrypt(env, aad, k); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(env envelope, aad, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(env.Nonce) != gcm.NonceSize() {
		return nil, errors.New("invalid nonce size")
	}
	return gcm.Open(nil, env.Nonce, env.Ciphertext, aad)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
