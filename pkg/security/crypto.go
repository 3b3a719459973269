package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

// sealedPrefix marks values produced by Seal so legacy plaintext rows can be
// told apart from ciphertext.
const sealedPrefix = "enc:v1:"

// DeriveKey returns a 32-byte key for AES-GCM.
// Priority:
// 1) encKey (base64-encoded 32 bytes)
// 2) sha256 of jwtSecret
func DeriveKey(encKey, jwtSecret string) ([]byte, error) {
	if v := strings.TrimSpace(encKey); v != "" {
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, err
		}
		if len(b) != 32 {
			return nil, errors.New("encryption key must decode to 32 bytes")
		}
		return b, nil
	}

	jwtSecret = strings.TrimSpace(jwtSecret)
	if jwtSecret == "" {
		return nil, errors.New("no encryption key or jwt secret configured")
	}
	sum := sha256.Sum256([]byte(jwtSecret))
	return sum[:], nil
}

// Sealer encrypts sensitive report fields at rest.
type Sealer struct {
	gcm cipher.AEAD
}

func NewSealer(key []byte) (*Sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{gcm: gcm}, nil
}

// Seal encrypts plaintext. Empty and already sealed values pass through.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" || IsSealed(plaintext) {
		return plaintext, nil
	}
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := s.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	payload := append(nonce, ciphertext...)
	return sealedPrefix + base64.StdEncoding.EncodeToString(payload), nil
}

// Open decrypts a value produced by Seal. Unsealed values pass through.
func (s *Sealer) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	payload, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", err
	}

	ns := s.gcm.NonceSize()
	if len(payload) < ns {
		return "", errors.New("ciphertext too short")
	}
	nonce, ct := payload[:ns], payload[ns:]

	pt, err := s.gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}
