// Package crypto implements AEAD encryption for credential blobs at rest.
// AES-256-GCM, versioned so keys can rotate without a flag day.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidCiphertext is returned when a stored blob is malformed or was
// encrypted with an unknown key version.
var ErrInvalidCiphertext = errors.New("crypto: invalid ciphertext")

// Sealer encrypts and decrypts credential plaintext with AES-256-GCM. A
// single key version is supported at a time; rotation means instantiating
// a new Sealer with an updated key and re-encrypting on next write.
type Sealer struct {
	key     []byte // 32 bytes
	version int
}

// NewSealer builds a Sealer from a base64-encoded 32-byte key.
func NewSealer(keyB64 string, version int) (*Sealer, error) {
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("crypto: key must be 32 bytes, got %d", len(key))
	}
	return &Sealer{key: key, version: version}, nil
}

// Version returns the key version this Sealer encrypts with.
func (s *Sealer) Version() int { return s.version }

// Seal encrypts plaintext and returns a base64-encoded "v<version>:<nonce+ciphertext>"
// string suitable for storage. The version prefix lets Open use the right
// key if called through a multi-version keyring (see Keyring).
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("crypto: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce: %w", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return fmt.Sprintf("v%d:%s", s.version, base64.StdEncoding.EncodeToString(ciphertext)), nil
}

// Open decrypts a blob produced by Seal, verifying the version prefix
// matches this Sealer's key version.
func (s *Sealer) Open(blob string) ([]byte, error) {
	version, raw, err := splitVersion(blob)
	if err != nil {
		return nil, err
	}
	if version != s.version {
		return nil, fmt.Errorf("%w: key version %d, have %d", ErrInvalidCiphertext, version, s.version)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, ErrInvalidCiphertext
	}
	nonce, ct := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return plaintext, nil
}

func splitVersion(blob string) (int, string, error) {
	for i := 0; i < len(blob); i++ {
		if blob[i] == ':' {
			if len(blob) < 2 || blob[0] != 'v' {
				return 0, "", ErrInvalidCiphertext
			}
			var version int
			if _, err := fmt.Sscanf(blob[:i], "v%d", &version); err != nil {
				return 0, "", ErrInvalidCiphertext
			}
			return version, blob[i+1:], nil
		}
	}
	return 0, "", ErrInvalidCiphertext
}

// Keyring resolves the active Sealer for encryption and can decrypt blobs
// written under any previously known key version, supporting rotation.
type Keyring struct {
	active   *Sealer
	byVersion map[int]*Sealer
}

// NewKeyring builds a keyring whose only key is active. Use AddRetired to
// register older keys so historical blobs remain decryptable after rotation.
func NewKeyring(active *Sealer) *Keyring {
	return &Keyring{
		active:    active,
		byVersion: map[int]*Sealer{active.Version(): active},
	}
}

// AddRetired registers a previously-active Sealer so blobs it wrote can
// still be opened after the active key rotates.
func (k *Keyring) AddRetired(s *Sealer) {
	k.byVersion[s.Version()] = s
}

// Seal always encrypts with the active key.
func (k *Keyring) Seal(plaintext []byte) (string, error) {
	return k.active.Seal(plaintext)
}

// Open decrypts using whichever key version the blob was written under.
func (k *Keyring) Open(blob string) ([]byte, error) {
	version, _, err := splitVersion(blob)
	if err != nil {
		return nil, err
	}
	sealer, ok := k.byVersion[version]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key version %d", ErrInvalidCiphertext, version)
	}
	return sealer.Open(blob)
}
