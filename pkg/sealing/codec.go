package sealing

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// NonceSize is the AES-GCM nonce length prefixed to every sealed blob.
const NonceSize = 12

// Encrypt seals plaintext under key with a fresh random nonce and returns
// base64(nonce || ciphertext).
func Encrypt(key, plaintext []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("sealing: nonce: %w", err)
	}

	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, plaintext, nil)), nil
}

// Decrypt reverses Encrypt. Any decoding, length or tag failure returns
// ErrAuthenticationFailed and no plaintext.
func Decrypt(key []byte, blob string) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrAuthenticationFailed, err)
	}
	if len(raw) < NonceSize+gcm.Overhead() {
		return nil, fmt.Errorf("%w: sealed blob too short", ErrAuthenticationFailed)
	}

	nonce, ct := raw[:NonceSize], raw[NonceSize:]
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return pt, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("sealing: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("sealing: gcm: %w", err)
	}
	return gcm, nil
}
