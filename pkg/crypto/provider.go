package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/sys/cpu"
)

// Provider is an authenticated encryption backend. Both implementations
// produce the same blob layout (nonce followed by ciphertext and tag), so
// callers never need to know which one is active. The choice happens once
// at startup via Select; Name exists for diagnostics only.
type Provider interface {
	// Encrypt seals plaintext with a fresh random nonce and returns the
	// nonce-prefixed blob.
	Encrypt(key, plaintext []byte) ([]byte, error)

	// Decrypt opens a blob produced by Encrypt. Truncated, tampered, or
	// wrong-key input returns ErrDecryptionFailed.
	Decrypt(key, blob []byte) ([]byte, error)

	// Name identifies the cipher for logs and status output.
	Name() string
}

// Select returns the provider for this process: AES-256-GCM when the CPU
// has AES instructions, ChaCha20-Poly1305 otherwise.
func Select() Provider {
	if cpu.X86.HasAES || cpu.ARM64.HasAES || cpu.S390X.HasAES {
		return GCMProvider{}
	}
	return ChaChaProvider{}
}

// GCMProvider implements Provider using AES-256-GCM.
type GCMProvider struct{}

// Name returns "aes-256-gcm".
func (GCMProvider) Name() string { return "aes-256-gcm" }

// Encrypt encrypts plaintext using AES-256-GCM authenticated encryption.
//
// The function generates a cryptographically secure random 12-byte nonce
// using crypto/rand. The returned blob is nonce || ciphertext || tag.
func (GCMProvider) Encrypt(key, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return seal(aead, plaintext)
}

// Decrypt decrypts a blob produced by Encrypt.
//
// The authentication tag is verified before any plaintext is returned.
// If the tag verification fails (indicating tampering, corruption, or a
// wrong key), ErrDecryptionFailed is returned.
func (GCMProvider) Decrypt(key, blob []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return open(aead, blob)
}

// ChaChaProvider implements Provider using ChaCha20-Poly1305. It is the
// pure-software fallback for CPUs without AES instructions.
type ChaChaProvider struct{}

// Name returns "chacha20-poly1305".
func (ChaChaProvider) Name() string { return "chacha20-poly1305" }

// Encrypt encrypts plaintext using ChaCha20-Poly1305. The returned blob
// layout matches GCMProvider: nonce || ciphertext || tag.
func (ChaChaProvider) Encrypt(key, plaintext []byte) ([]byte, error) {
	aead, err := newChaCha(key)
	if err != nil {
		return nil, err
	}
	return seal(aead, plaintext)
}

// Decrypt decrypts a blob produced by Encrypt, verifying the tag first.
func (ChaChaProvider) Decrypt(key, blob []byte) ([]byte, error) {
	aead, err := newChaCha(key)
	if err != nil {
		return nil, err
	}
	return open(aead, blob)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}

func newChaCha(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create chacha20poly1305: %w", err)
	}
	return aead, nil
}

func seal(aead cipher.AEAD, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}
	// Seal appends ciphertext and tag to the nonce in one allocation.
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func open(aead cipher.AEAD, blob []byte) ([]byte, error) {
	if len(blob) < NonceLength+aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	nonce, ciphertext := blob[:NonceLength], blob[NonceLength:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
