package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// fieldPrefix marks a sealed column value. Values without it are read back
// unchanged.
const fieldPrefix = "enc:v1:"

const defaultRotation = time.Hour

// DataKey is one AES-256 data encryption key and its wrapped form.
type DataKey struct {
	Plaintext  []byte
	Ciphertext []byte
	KeyID      string
}

// KeyWrapper issues data keys and unwraps stored ones.
type KeyWrapper interface {
	GenerateDataKey(ctx context.Context) (*DataKey, error)
	UnwrapDataKey(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// Manager seals individual fields with envelope encryption. The wrapped data
// key travels with every value, so rotation never needs a re-encrypt pass.
type Manager struct {
	wrapper  KeyWrapper
	rotation time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	current   *DataKey
	currentAt time.Time

	keyCache sync.Map // wrapped DEK (base64) -> plaintext DEK
}

// NewManager reuses each data key for rotation before asking the wrapper for
// a new one. A non-positive rotation means one hour.
func NewManager(wrapper KeyWrapper, rotation time.Duration, logger *zap.Logger) *Manager {
	if rotation <= 0 {
		rotation = defaultRotation
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		wrapper:  wrapper,
		rotation: rotation,
		logger:   logger,
		now:      time.Now,
	}
}

func (m *Manager) dataKey(ctx context.Context) (*DataKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.now().Sub(m.currentAt) < m.rotation {
		return m.current, nil
	}
	key, err := m.wrapper.GenerateDataKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: generate data key: %v", ErrEncryptionFailed, err)
	}
	m.current = key
	m.currentAt = m.now()
	m.keyCache.Store(base64.StdEncoding.EncodeToString(key.Ciphertext), key.Plaintext)
	m.logger.Debug("Rotated field data key", zap.String("key_id", key.KeyID))
	return key, nil
}

// EncryptField seals plaintext. Empty input stays empty.
func (m *Manager) EncryptField(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	key, err := m.dataKey(ctx)
	if err != nil {
		return "", err
	}

	gcm, err := newGCM(key.Plaintext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	return fieldPrefix +
		base64.StdEncoding.EncodeToString(key.Ciphertext) + ":" +
		base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptField opens a value produced by EncryptField. Unsealed values are
// returned as stored.
func (m *Manager) DecryptField(ctx context.Context, value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	wrapped, payload, ok := strings.Cut(strings.TrimPrefix(value, fieldPrefix), ":")
	if !ok {
		return "", fmt.Errorf("%w: malformed field", ErrDecryptionFailed)
	}

	key, err := m.unwrap(ctx, wrapped)
	if err != nil {
		return "", err
	}
	sealed, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	plaintext, err := gcm.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}

func (m *Manager) unwrap(ctx context.Context, wrapped string) ([]byte, error) {
	if cached, ok := m.keyCache.Load(wrapped); ok {
		return cached.([]byte), nil
	}
	blob, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
	}
	key, err := m.wrapper.UnwrapDataKey(ctx, blob)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap DEK: %v", ErrDecryptionFailed, err)
	}
	m.keyCache.Store(wrapped, key)
	return key, nil
}

// ClearCache drops every cached plaintext DEK and forces a new data key on
// the next encrypt.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
	m.keyCache.Range(func(key, _ interface{}) bool {
		m.keyCache.Delete(key)
		return true
	})
}

// CacheSize returns the number of cached DEKs
func (m *Manager) CacheSize() int {
	count := 0
	m.keyCache.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// IsEncrypted reports whether value carries the sealed-field prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, fieldPrefix)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
