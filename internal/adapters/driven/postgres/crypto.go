package postgres

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// secretVersion is the version byte for the encrypted blob format.
	secretVersion = 0x01

	// nonceSize is the AES-GCM nonce size
	nonceSize = 12

	// keySize is the required key size for AES-256
	keySize = 32

	keyDerivationSalt = "ledgersync/token-store"
	keyDerivationInfo = "aes-256-gcm secret_blob v1"
)

var (
	// ErrInvalidKeySize is returned when the encryption key is not 32 bytes.
	ErrInvalidKeySize = errors.New("encryption key must be 32 bytes")

	// ErrInvalidBlobSize is returned when the encrypted blob is too small.
	ErrInvalidBlobSize = errors.New("encrypted blob is too small")

	// ErrUnsupportedVersion is returned when the blob version is not supported.
	ErrUnsupportedVersion = errors.New("unsupported secret blob version")

	// ErrDecryptionFailed is returned when decryption fails (wrong key or corrupted data).
	ErrDecryptionFailed = errors.New("failed to decrypt secret blob")

	// ErrEmptySecret is returned when no key material is configured.
	ErrEmptySecret = errors.New("encryption secret is empty")
)

// DeriveKey turns the configured secret into a 32-byte AES key.
// A 64-character hex string is used as the key directly; anything else is
// stretched with HKDF-SHA256.
func DeriveKey(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if len(secret) == 2*keySize {
		if key, err := hex.DecodeString(secret); err == nil {
			return key, nil
		}
	}

	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, []byte(secret), []byte(keyDerivationSalt), []byte(keyDerivationInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// SecretEncryptor handles AES-256-GCM encryption of token secrets.
// The encrypted format is: version(1) || nonce(12) || ciphertext(N)
type SecretEncryptor struct {
	gcm cipher.AEAD
}

// NewSecretEncryptor creates a new encryptor with the given 32-byte key.
func NewSecretEncryptor(key []byte) (*SecretEncryptor, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &SecretEncryptor{gcm: gcm}, nil
}

// NewSecretEncryptorFromSecret derives the key from secret and builds an encryptor.
func NewSecretEncryptorFromSecret(secret string) (*SecretEncryptor, error) {
	key, err := DeriveKey(secret)
	if err != nil {
		return nil, err
	}
	return NewSecretEncryptor(key)
}

// Encrypt JSON-marshals value and seals it.
// aad binds the blob to its row so a blob copied to another company fails to open.
func (e *SecretEncryptor) Encrypt(value any, aad []byte) ([]byte, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := e.gcm.Seal(nil, nonce, plaintext, aad)

	blob := make([]byte, 1+nonceSize+len(ciphertext))
	blob[0] = secretVersion
	copy(blob[1:1+nonceSize], nonce)
	copy(blob[1+nonceSize:], ciphertext)

	return blob, nil
}

// Decrypt opens a blob sealed with the same aad and unmarshals it into value.
func (e *SecretEncryptor) Decrypt(blob, aad []byte, value any) error {
	minSize := 1 + nonceSize + e.gcm.Overhead()
	if len(blob) < minSize {
		return ErrInvalidBlobSize
	}

	if version := blob[0]; version != secretVersion {
		return fmt.Errorf("%w: got version %d", ErrUnsupportedVersion, version)
	}

	nonce := blob[1 : 1+nonceSize]
	ciphertext := blob[1+nonceSize:]

	plaintext, err := e.gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return ErrDecryptionFailed
	}

	if err := json.Unmarshal(plaintext, value); err != nil {
		return fmt.Errorf("unmarshal decrypted value: %w", err)
	}
	return nil
}
