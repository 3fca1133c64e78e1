// Package vaultcrypto provides at-rest encryption for stored document
// chunks, adapted from the teacher's XChaCha20-Poly1305 + Argon2id
// primitives (pkg/crypto in the example pack) into a storage.Store
// wrapper so a repo can opt into encryption without its other
// components knowing about it.
package vaultcrypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeySize   = 32
	NonceSize = 24
	SaltSize  = 16
)

var (
	ErrInvalidKey = errors.New("vaultcrypto: invalid key size")
	ErrDecrypt    = errors.New("vaultcrypto: decryption failed")
)

// Key is a 32-byte symmetric encryption key.
type Key [KeySize]byte

// GenerateKey creates a new random key.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return k, err
	}
	return k, nil
}

// DeriveKey derives a key from a passphrase and salt using Argon2id with
// OWASP-recommended parameters (3 passes, 64 MiB, 2 threads).
func DeriveKey(passphrase, salt []byte) Key {
	var k Key
	dk := argon2.IDKey(passphrase, salt, 3, 64*1024, 2, KeySize)
	copy(k[:], dk)
	return k
}

// GenerateSalt creates a random salt suitable for DeriveKey.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// Encrypt seals plaintext with key using XChaCha20-Poly1305, binding aad
// as associated data. Output is [nonce][ciphertext][tag].
func Encrypt(key Key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("vaultcrypto: new aead: %w", err)
	}

	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vaultcrypto: generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Decrypt opens ciphertext produced by Encrypt, verifying aad.
func Decrypt(key Key, ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrDecrypt
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("vaultcrypto: new aead: %w", err)
	}
	nonce, sealed := ciphertext[:NonceSize], ciphertext[NonceSize:]
	plaintext, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
