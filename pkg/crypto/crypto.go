// Package crypto provides the cryptographic primitives for passvault.
//
// This package implements authenticated encryption behind the Provider
// interface and Argon2id key derivation following OWASP recommendations.
//
// # Security Features
//
//   - AES-256-GCM authenticated encryption (hardware-accelerated path)
//   - ChaCha20-Poly1305 authenticated encryption (software path)
//   - Argon2id key derivation (64MB memory, 3 iterations, 4 threads)
//   - Cryptographically secure random nonce and salt generation
//   - Secure memory wiping for sensitive data
//
// # Example Usage
//
//	// Derive a key from password
//	salt, _ := crypto.GenerateSalt()
//	key := crypto.DeriveKey([]byte("password"), salt)
//
//	// Encrypt and decrypt data with the selected provider
//	p := crypto.Select()
//	blob, err := p.Encrypt(key, plaintext)
//	plaintext, err := p.Decrypt(key, blob)
//
//	// Securely wipe sensitive data
//	crypto.SecureWipe(key)
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters following OWASP recommendations.
const (
	// Argon2Memory is the memory cost in KiB (64MB).
	Argon2Memory = 64 * 1024

	// Argon2Time is the number of iterations.
	Argon2Time = 3

	// Argon2Threads is the degree of parallelism.
	Argon2Threads = 4

	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// NonceLength is the length of AEAD nonces in bytes (96 bits).
	// Both supported ciphers use 12-byte nonces.
	NonceLength = 12

	// SaltLength is the length of key derivation salts in bytes (256 bits).
	SaltLength = 32

	// MinSaltLength is the smallest salt DeriveKey accepts.
	MinSaltLength = 16
)

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrInvalidSaltLength indicates the salt is shorter than 16 bytes.
	ErrInvalidSaltLength = errors.New("crypto: invalid salt length, must be at least 16 bytes")

	// ErrDecryptionFailed indicates decryption or authentication tag verification failed.
	ErrDecryptionFailed = errors.New("crypto: decryption failed, authentication tag verification failed")

	// ErrCiphertextTooShort indicates the blob is shorter than nonce plus tag.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
)

// DeriveKey derives a 256-bit encryption key from a password using Argon2id.
//
// The function uses OWASP-recommended parameters:
//   - Memory: 64 MB
//   - Iterations: 3
//   - Parallelism: 4 threads
//
// The derivation is deterministic: the same password and salt always yield
// the same key. The salt must be at least 16 bytes of cryptographically
// secure random data; GenerateSalt produces 32 bytes.
func DeriveKey(password, salt []byte) ([]byte, error) {
	if len(salt) < MinSaltLength {
		return nil, ErrInvalidSaltLength
	}
	return argon2.IDKey(password, salt, Argon2Time, Argon2Memory, Argon2Threads, KeyLength), nil
}

// GenerateSalt returns a fresh 32-byte random salt for key derivation.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate salt: %w", err)
	}
	return salt, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
// This is critical for securely destroying sensitive data like the master key.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// runtime.KeepAlive ensures the write operations are not optimized away
	// by the compiler since b is still "in use" after the loop.
	runtime.KeepAlive(b)
}

// ConstantTimeEqual compares two byte slices in constant time.
// All comparisons involving secret-derived material go through here.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
