package middleware

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/hs2pool/pkg/domain"
	"github.com/aretw0/hs2pool/pkg/ports"
)

// sealedPrefix marks a secret sealed by this middleware.
var sealedPrefix = []byte("hs2s:v1:")

// ErrUnsealedSecret is returned when a record read through the middleware carries a plain secret.
var ErrUnsealedSecret = errors.New("session secret is not sealed")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.SessionStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals the handle secret of
// every session record with AES-GCM. The GUID is bound as additional data so a
// sealed secret cannot be moved to another record.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if len(config.ActiveKey) != 32 {
		return nil, errors.New("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.SessionStore) ports.SessionStore {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}, nil
}

func (m *encryptionMiddleware) seal(s *domain.Session) (*domain.Session, error) {
	sealed := s.Clone()
	ciphertext, err := encrypt(s.Secret, m.config.ActiveKey, s.GUID)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt session secret: %w", err)
	}
	sealed.Secret = append(append([]byte(nil), sealedPrefix...), ciphertext...)
	return sealed, nil
}

func (m *encryptionMiddleware) open(s *domain.Session) (*domain.Session, error) {
	if !bytes.HasPrefix(s.Secret, sealedPrefix) {
		// Fail secure: a configured key means every record must be sealed.
		return nil, ErrUnsealedSecret
	}
	plain, err := decryptWithRotation(s.Secret[len(sealedPrefix):], s.GUID, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session secret: %w", err)
	}
	s.Secret = plain
	return s, nil
}

func (m *encryptionMiddleware) openOne(s *domain.Session, err error) (*domain.Session, error) {
	if err != nil {
		return nil, err
	}
	return m.open(s)
}

func (m *encryptionMiddleware) CountActive(ctx context.Context, key domain.PoolKey) (int, error) {
	return m.next.CountActive(ctx, key)
}

func (m *encryptionMiddleware) MostRecent(ctx context.Context, key domain.PoolKey) (*domain.Session, error) {
	return m.openOne(m.next.MostRecent(ctx, key))
}

func (m *encryptionMiddleware) LeastRecentlyUsedFree(ctx context.Context, key domain.PoolKey, limit int) (*domain.Session, error) {
	return m.openOne(m.next.LeastRecentlyUsedFree(ctx, key, limit))
}

func (m *encryptionMiddleware) Get(ctx context.Context, key domain.PoolKey, id string) (*domain.Session, error) {
	return m.openOne(m.next.Get(ctx, key, id))
}

func (m *encryptionMiddleware) List(ctx context.Context, key domain.PoolKey) ([]*domain.Session, error) {
	sessions, err := m.next.List(ctx, key)
	if err != nil {
		return nil, err
	}
	for i, s := range sessions {
		if sessions[i], err = m.open(s); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

func (m *encryptionMiddleware) Insert(ctx context.Context, s *domain.Session) error {
	sealed, err := m.seal(s)
	if err != nil {
		return err
	}
	return m.next.Insert(ctx, sealed)
}

func (m *encryptionMiddleware) Update(ctx context.Context, s *domain.Session) error {
	sealed, err := m.seal(s)
	if err != nil {
		return err
	}
	return m.next.Update(ctx, sealed)
}

func (m *encryptionMiddleware) Delete(ctx context.Context, s *domain.Session) error {
	return m.next.Delete(ctx, s)
}

// Helpers

func encrypt(plaintext, key, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

func decryptWithRotation(ciphertext, aad, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	// Try active key first
	if plain, err := decrypt(ciphertext, activeKey, aad); err == nil {
		return plain, nil
	}

	// Try fallbacks in order
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key, aad); err == nil {
			return plain, nil
		}
	}

	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext, key, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	ciphertextBytes := ciphertext[gcm.NonceSize():]

	return gcm.Open(nil, nonce, ciphertextBytes, aad)
}
