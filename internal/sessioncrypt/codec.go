package sessioncrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// ErrInvalidSession is returned when a stored session string cannot be
// decrypted. A changed encryption secret surfaces the same way; callers
// treat it as "not connected" and fall back to a fresh login.
var ErrInvalidSession = errors.New("invalid session")

const (
	saltSize = 16
	keyIters = 4096
	keyLen   = 32
)

// Codec encrypts and decrypts session strings for at-rest storage with
// AES-256-GCM, keyed by a process-wide secret. No key rotation support.
type Codec struct {
	secret []byte
}

// New creates a codec from the process-wide session encryption secret.
func New(secret string) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("session encryption secret is empty")
	}
	return &Codec{secret: []byte(secret)}, nil
}

// Encrypt returns the base64 ciphertext of a plaintext session string.
// Output layout: salt || nonce || sealed.
func (c *Codec) Encrypt(plain string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := c.aead(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plain), nil)

	out := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Any failure (bad base64, truncated input,
// wrong secret, tampered ciphertext) is reported as ErrInvalidSession.
func (c *Codec) Decrypt(cipherText string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return "", ErrInvalidSession
	}
	if len(raw) < saltSize {
		return "", ErrInvalidSession
	}

	salt, rest := raw[:saltSize], raw[saltSize:]
	gcm, err := c.aead(salt)
	if err != nil {
		return "", err
	}
	if len(rest) < gcm.NonceSize() {
		return "", ErrInvalidSession
	}

	nonce, sealed := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrInvalidSession
	}
	return string(plain), nil
}

func (c *Codec) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(c.secret, salt, keyIters, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
