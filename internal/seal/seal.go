// Package seal encrypts a tenant's bearer credential under a
// per-session key so that a decrypted credential never outlives
// the downstream call that needed it.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	KeySize    = 32
	SecretSize = 32
	SaltSize   = 16

	// argon2id parameters. Deliberately slow so an attacker holding
	// the encrypted blob cannot cheaply brute-force the session secret.
	argonTime    = 2
	argonMemory  = 19 * 1024
	argonThreads = 1
)

var ErrMalformedCiphertext = errors.New("seal: malformed ciphertext")

// NewSecret returns fresh random session secret and salt material.
func NewSecret() (secret, salt []byte, err error) {
	secret = make([]byte, SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, nil, fmt.Errorf("seal: failed to generate secret: %w", err)
	}
	salt = make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("seal: failed to generate salt: %w", err)
	}
	return secret, salt, nil
}

// DeriveKey stretches a session secret into a fixed-length key.
func DeriveKey(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, argonTime, argonMemory, argonThreads, KeySize)
}

// Encrypt seals plaintext under key with AES-256-GCM.
// The nonce is prepended to the returned ciphertext.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seal: failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt. It fails closed:
// a truncated, altered, or cross-key ciphertext yields an error,
// never garbage plaintext.
func Decrypt(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize()+gcm.Overhead() {
		return nil, ErrMalformedCiphertext
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrMalformedCiphertext
	}
	return plaintext, nil
}

// Zero wipes sensitive byte material in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
