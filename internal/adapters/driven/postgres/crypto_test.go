package postgres

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

var testKey = []byte("01234567890123456789012345678901")

func TestSecretEncryptor_RoundTrip(t *testing.T) {
	encryptor, err := NewSecretEncryptor(testKey)
	if err != nil {
		t.Fatalf("NewSecretEncryptor: %v", err)
	}

	original := tokenSecrets{
		AccessToken:  "eyJlbmMiOiJBMTI4Q0JDLUhTMjU2",
		RefreshToken: "AB11730470470zD1Z1e4ZgLUs2ZM",
		Raw:          []byte(`{"realmId":"9130"}`),
	}
	aad := []byte("company-1")

	blob, err := encryptor.Encrypt(original, aad)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if blob[0] != secretVersion {
		t.Errorf("version byte: got %d, want %d", blob[0], secretVersion)
	}
	if bytes.Contains(blob, []byte(original.RefreshToken)) {
		t.Fatal("refresh token visible in ciphertext")
	}

	var decrypted tokenSecrets
	if err := encryptor.Decrypt(blob, aad, &decrypted); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if decrypted.AccessToken != original.AccessToken || decrypted.RefreshToken != original.RefreshToken {
		t.Errorf("decrypted = %+v", decrypted)
	}
	if string(decrypted.Raw) != string(original.Raw) {
		t.Errorf("Raw: got %s, want %s", decrypted.Raw, original.Raw)
	}
}

func TestSecretEncryptor_InvalidKeySize(t *testing.T) {
	tests := []struct {
		name    string
		keySize int
	}{
		{"too short", 16},
		{"too long", 64},
		{"empty", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSecretEncryptor(make([]byte, tt.keySize))
			if !errors.Is(err, ErrInvalidKeySize) {
				t.Errorf("error = %v, want ErrInvalidKeySize", err)
			}
		})
	}
}

func TestSecretEncryptor_DecryptInvalidBlob(t *testing.T) {
	encryptor, _ := NewSecretEncryptor(testKey)

	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", []byte{}},
		{"too short", []byte{0x01, 0x02}},
		{"wrong version", append([]byte{0x99}, make([]byte, 100)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result string
			if err := encryptor.Decrypt(tt.blob, nil, &result); err == nil {
				t.Error("expected error for invalid blob")
			}
		})
	}
}

func TestSecretEncryptor_WrongKey(t *testing.T) {
	enc1, _ := NewSecretEncryptor(testKey)
	enc2, _ := NewSecretEncryptor([]byte("10987654321098765432109876543210"))

	blob, err := enc1.Encrypt("secret data", nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	var result string
	if err := enc2.Decrypt(blob, nil, &result); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("error = %v, want ErrDecryptionFailed", err)
	}
}

func TestSecretEncryptor_BlobBoundToCompany(t *testing.T) {
	encryptor, _ := NewSecretEncryptor(testKey)

	blob, err := encryptor.Encrypt("secret data", []byte("company-1"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	var result string
	if err := encryptor.Decrypt(blob, []byte("company-2"), &result); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("error = %v, want ErrDecryptionFailed", err)
	}
}

func TestSecretEncryptor_UniqueNonce(t *testing.T) {
	encryptor, _ := NewSecretEncryptor(testKey)

	nonces := make(map[string]bool)
	for i := 0; i < 10; i++ {
		blob, err := encryptor.Encrypt("same value", nil)
		if err != nil {
			t.Fatalf("Encrypt %d: %v", i, err)
		}
		nonce := string(blob[1 : 1+nonceSize])
		if nonces[nonce] {
			t.Errorf("duplicate nonce at index %d", i)
		}
		nonces[nonce] = true
	}
}

func TestDeriveKey(t *testing.T) {
	hexKey := hex.EncodeToString(testKey)
	key, err := DeriveKey(hexKey)
	if err != nil {
		t.Fatalf("DeriveKey(hex): %v", err)
	}
	if !bytes.Equal(key, testKey) {
		t.Error("a 64-char hex secret should be used as the key directly")
	}

	a, err := DeriveKey("correct horse battery staple")
	if err != nil {
		t.Fatalf("DeriveKey(passphrase): %v", err)
	}
	b, _ := DeriveKey("correct horse battery staple")
	if len(a) != keySize || !bytes.Equal(a, b) {
		t.Errorf("derived key should be %d deterministic bytes", keySize)
	}
	c, _ := DeriveKey("another passphrase")
	if bytes.Equal(a, c) {
		t.Error("different secrets should derive different keys")
	}

	if _, err := DeriveKey("  "); !errors.Is(err, ErrEmptySecret) {
		t.Errorf("error = %v, want ErrEmptySecret", err)
	}

	if _, err := NewSecretEncryptorFromSecret("correct horse battery staple"); err != nil {
		t.Errorf("NewSecretEncryptorFromSecret: %v", err)
	}
}
