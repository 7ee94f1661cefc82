// Package crypto decrypts the AES-256-GCM envelope an admin-managed
// ModelConfig.OpaqueAPIKey may carry, so vendor credentials are never stored
// in plaintext at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const keySize = 32

// deriveKey pads or truncates the master key to exactly 32 bytes, matching the
// source system's envelope key derivation.
func deriveKey(masterKey string) []byte {
	key := make([]byte, keySize)
	copy(key, masterKey)
	return key
}

// Encrypt seals plaintext under masterKey, returning base64(nonce || ciphertext).
func Encrypt(masterKey, plaintext string) (string, error) {
	block, err := aes.NewCipher(deriveKey(masterKey))
	if err != nil {
		return "", fmt.Errorf("op=crypto.Encrypt: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("op=crypto.Encrypt: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("op=crypto.Encrypt: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens an envelope produced by Encrypt. On any failure it returns the
// original input unchanged as a fallback for dev-mode literal keys that were
// never actually encrypted, matching the source system's fail-open behaviour.
func Decrypt(masterKey, envelope string) string {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return envelope
	}
	block, err := aes.NewCipher(deriveKey(masterKey))
	if err != nil {
		return envelope
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return envelope
	}
	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return envelope
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return envelope
	}
	return string(plaintext)
}
