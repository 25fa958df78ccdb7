// Package crypto protects the SSH key material caravel holds at rest.
// This is part of the Functional Core - all functions are pure with no I/O.
//
// Private keys are encrypted with AES-256-GCM before they reach the store.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrKeyTooShort is returned when the encryption key is too short.
	ErrKeyTooShort = errors.New("encryption key must be at least 32 bytes")

	// ErrInvalidCiphertext is returned when decryption fails due to invalid ciphertext.
	ErrInvalidCiphertext = errors.New("invalid ciphertext: too short")

	// ErrDecryptionFailed is returned when decryption fails (wrong key or corrupted data).
	ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")

	// ErrInvalidSSHKey is returned when the SSH key cannot be parsed.
	ErrInvalidSSHKey = errors.New("invalid SSH private key format")
)

// =============================================================================
// Key Derivation
// =============================================================================

// DeriveKey derives a 32-byte AES-256 key from a passphrase using SHA-256.
// Deterministic: same input always produces the same output.
func DeriveKey(passphrase string) []byte {
	hash := sha256.Sum256([]byte(passphrase))
	return hash[:]
}

// =============================================================================
// AES-256-GCM
// =============================================================================

// Encrypt encrypts plaintext using AES-256-GCM with the provided key.
// The ciphertext format is: nonce (12 bytes) || encrypted data || auth tag (16 bytes).
func Encrypt(plaintext, key []byte) ([]byte, error) {
	if len(key) < 32 {
		return nil, ErrKeyTooShort
	}
	key = key[:32]

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

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext that was encrypted with Encrypt.
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	if len(key) < 32 {
		return nil, ErrKeyTooShort
	}
	key = key[:32]

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ErrInvalidCiphertext
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// =============================================================================
// SSH Key Utilities
// =============================================================================

// EncryptSSHKey encrypts an SSH private key for storage.
func EncryptSSHKey(privateKey, encryptionKey []byte) ([]byte, error) {
	return Encrypt(privateKey, encryptionKey)
}

// DecryptSSHKey decrypts an SSH private key loaded from storage.
func DecryptSSHKey(encryptedKey, encryptionKey []byte) ([]byte, error) {
	return Decrypt(encryptedKey, encryptionKey)
}

// ValidateSSHPrivateKey validates that the given bytes are a parseable SSH
// private key.
func ValidateSSHPrivateKey(privateKey []byte) error {
	_, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return ErrInvalidSSHKey
	}
	return nil
}

// ParseSSHPrivateKey parses an SSH private key and returns the signer.
func ParseSSHPrivateKey(privateKey []byte) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, ErrInvalidSSHKey
	}
	return signer, nil
}

// GetSSHPublicKeyFingerprint returns the SHA256 fingerprint of the public key
// derived from the private key.
func GetSSHPublicKeyFingerprint(privateKey []byte) (string, error) {
	signer, err := ParseSSHPrivateKey(privateKey)
	if err != nil {
		return "", err
	}

	hash := sha256.Sum256(signer.PublicKey().Marshal())
	return "SHA256:" + base64.StdEncoding.EncodeToString(hash[:]), nil
}

// GenerateSSHKeyPair generates a new Ed25519 SSH key pair.
// Returns the private key in PEM format and the public key in OpenSSH
// authorized_keys format.
func GenerateSSHKeyPair() (privateKeyPEM []byte, publicKey string, err error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("generate ed25519 key: %w", err)
	}

	sshPrivKey, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		return nil, "", fmt.Errorf("marshal private key: %w", err)
	}

	pemBytes := pem.EncodeToMemory(sshPrivKey)

	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return nil, "", fmt.Errorf("create public key: %w", err)
	}

	return pemBytes, string(ssh.MarshalAuthorizedKey(sshPubKey)), nil
}

// GetSSHPublicKey returns the OpenSSH authorized_keys format public key
// derived from the private key.
func GetSSHPublicKey(privateKey []byte) (string, error) {
	signer, err := ParseSSHPrivateKey(privateKey)
	if err != nil {
		return "", err
	}
	return string(ssh.MarshalAuthorizedKey(signer.PublicKey())), nil
}
