package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
)

// NewEncryptionTransformation returns a Transformation that seals values
// with AES-256-GCM before persistence and opens them on retrieval.
//
// The set-transform marshals the value to JSON, encrypts it and emits a
// base64 string; the get-transform reverses the steps. The key must be
// exactly 32 bytes. Keys belong in proper key management, never in source.
func NewEncryptionTransformation(id string, key []byte) (Transformation, error) {
	if len(key) != 32 {
		return Transformation{}, fmt.Errorf("key must be exactly 32 bytes for AES-256, got %d bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return Transformation{}, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Transformation{}, fmt.Errorf("failed to create GCM: %w", err)
	}

	return Transformation{
		ID: id,
		Set: func(value any) (any, error) {
			plaintext, err := json.Marshal(value)
			if err != nil {
				return nil, err
			}

			// Fresh random nonce per value, prepended to the ciphertext.
			nonce := make([]byte, gcm.NonceSize())
			if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
				return nil, fmt.Errorf("failed to generate nonce: %w", err)
			}
			sealed := gcm.Seal(nonce, nonce, plaintext, nil)
			return base64.StdEncoding.EncodeToString(sealed), nil
		},
		Get: func(value any) (any, error) {
			encoded, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("encrypted value must be a string, got %T", value)
			}
			sealed, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return nil, err
			}
			if len(sealed) < gcm.NonceSize() {
				return nil, fmt.Errorf("ciphertext too short: %d bytes", len(sealed))
			}

			nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
			plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
			if err != nil {
				return nil, fmt.Errorf("decryption failed: %w", err)
			}
			var out any
			if err := json.Unmarshal(plaintext, &out); err != nil {
				return nil, err
			}
			return out, nil
		},
	}, nil
}
