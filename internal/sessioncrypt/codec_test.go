package sessioncrypt

import (
	"errors"
	"strings"
	"testing"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	c, err := New("test-secret")
	if err != nil {
		t.Fatal(err)
	}

	tests := []string{
		"1BVtsOHcBu2...opaque-session-payload",
		"",
		"短い非ASCIIセッション",
	}
	for _, plain := range tests {
		cipherText, err := c.Encrypt(plain)
		if err != nil {
			t.Fatalf("Encrypt(%q) error = %v", plain, err)
		}
		got, err := c.Decrypt(cipherText)
		if err != nil {
			t.Fatalf("Decrypt error = %v", err)
		}
		if got != plain {
			t.Errorf("roundtrip = %q, want %q", got, plain)
		}
	}
}

func TestEncryptNotDeterministic(t *testing.T) {
	c, _ := New("test-secret")
	a, _ := c.Encrypt("session")
	b, _ := c.Encrypt("session")
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical ciphertext")
	}
}

func TestDecryptWrongSecret(t *testing.T) {
	c1, _ := New("secret-one")
	c2, _ := New("secret-two")

	cipherText, err := c1.Encrypt("session-data")
	if err != nil {
		t.Fatal(err)
	}

	_, err = c2.Decrypt(cipherText)
	if !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Decrypt with wrong secret: error = %v, want ErrInvalidSession", err)
	}
}

func TestDecryptGarbage(t *testing.T) {
	c, _ := New("test-secret")

	for _, input := range []string{
		"not base64 at all %%%",
		"aGVsbG8=", // valid base64, too short
		"",
	} {
		if _, err := c.Decrypt(input); !errors.Is(err, ErrInvalidSession) {
			t.Errorf("Decrypt(%q) error = %v, want ErrInvalidSession", input, err)
		}
	}
}

func TestDecryptTampered(t *testing.T) {
	c, _ := New("test-secret")
	cipherText, err := c.Encrypt("session-data")
	if err != nil {
		t.Fatal(err)
	}

	// Flip a character near the end of the base64 payload.
	tampered := cipherText[:len(cipherText)-2] + strings.Repeat("A", 2)
	if _, err := c.Decrypt(tampered); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Decrypt(tampered) error = %v, want ErrInvalidSession", err)
	}
}

func TestNewEmptySecret(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("New(\"\") should fail")
	}
}
