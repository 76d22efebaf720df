package codec

import (
	"errors"
	"strings"
	"testing"

	"github.com/fernet/fernet-go"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := New("test-secret", nil, false)
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	return c
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCodec(t)

	tests := []struct {
		name       string
		plaintext  string
		compressed bool
	}{
		{name: "short message", plaintext: "hello vendor", compressed: false},
		{name: "empty-adjacent short", plaintext: "x", compressed: false},
		{name: "exactly at threshold", plaintext: strings.Repeat("a", 100), compressed: false},
		{name: "one past threshold", plaintext: strings.Repeat("a", 101), compressed: true},
		{name: "long repetitive", plaintext: strings.Repeat("order update ", 500), compressed: true},
		{name: "unicode", plaintext: "препоръчай ми продукт 🙂", compressed: false},
		{name: "newlines and tabs", plaintext: "line one\n\tline two\n", compressed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := c.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}
			if enc.Compressed != tt.compressed {
				t.Errorf("compressed = %v, want %v", enc.Compressed, tt.compressed)
			}
			if enc.Digest != Digest(tt.plaintext) {
				t.Errorf("digest mismatch")
			}
			if enc.Ciphertext == tt.plaintext {
				t.Errorf("ciphertext equals plaintext")
			}

			plain, err := c.Decrypt(enc.Ciphertext)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if plain != tt.plaintext {
				t.Errorf("round trip mismatch: got %q, want %q", plain, tt.plaintext)
			}
		})
	}
}

func TestEncryptFreshNonce(t *testing.T) {
	c := newTestCodec(t)

	a, err := c.Encrypt("same plaintext")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	b, err := c.Encrypt("same plaintext")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if a.Ciphertext == b.Ciphertext {
		t.Error("two encryptions of the same plaintext produced identical blobs")
	}
}

func TestEncryptTooLarge(t *testing.T) {
	c := newTestCodec(t)

	_, err := c.Encrypt(strings.Repeat("x", maxPlaintextBytes+1))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestDecryptRejectsTamperedData(t *testing.T) {
	c := newTestCodec(t)

	enc, err := c.Encrypt("do not touch this")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	tests := []struct {
		name string
		blob string
	}{
		{name: "flipped marker", blob: "c" + enc.Ciphertext[1:]},
		{name: "truncated", blob: enc.Ciphertext[:len(enc.Ciphertext)/2]},
		{name: "corrupted body", blob: enc.Ciphertext[:len(enc.Ciphertext)-4] + "AAAA"},
		{name: "empty", blob: ""},
		{name: "garbage", blob: "zzzz-not-a-blob"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Decrypt(tt.blob); !errors.Is(err, ErrDecrypt) {
				t.Errorf("expected ErrDecrypt, got %v", err)
			}
		})
	}
}

func TestDecryptWrongKey(t *testing.T) {
	c := newTestCodec(t)
	other, err := New("a-different-secret", nil, false)
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}

	enc, err := c.Encrypt("sealed under the first key")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if _, err := other.Decrypt(enc.Ciphertext); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt under the wrong key, got %v", err)
	}
}

func TestDecryptLegacyFernet(t *testing.T) {
	var key fernet.Key
	if err := key.Generate(); err != nil {
		t.Fatalf("generate fernet key: %v", err)
	}
	tok, err := fernet.EncryptAndSign([]byte("message from the old scheme"), &key)
	if err != nil {
		t.Fatalf("fernet encrypt: %v", err)
	}

	withLegacy, err := New("test-secret", []string{key.Encode()}, false)
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	plain, err := withLegacy.Decrypt(string(tok))
	if err != nil {
		t.Fatalf("legacy decrypt failed: %v", err)
	}
	if plain != "message from the old scheme" {
		t.Errorf("legacy decrypt mismatch: %q", plain)
	}

	// Without the legacy key the blob is unreadable.
	withoutLegacy := newTestCodec(t)
	if _, err := withoutLegacy.Decrypt(string(tok)); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt without legacy key, got %v", err)
	}
}

func TestNewFailsClosedWithoutSecret(t *testing.T) {
	if _, err := New("", nil, false); err == nil {
		t.Fatal("expected error for empty secret outside dev mode")
	}

	c, err := New("", nil, true)
	if err != nil {
		t.Fatalf("dev mode should fall back to the dev secret: %v", err)
	}
	enc, err := c.Encrypt("dev roundtrip")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if plain, err := c.Decrypt(enc.Ciphertext); err != nil || plain != "dev roundtrip" {
		t.Fatalf("dev mode round trip failed: %q %v", plain, err)
	}
}

func TestDigestIndependentOfCompression(t *testing.T) {
	c := newTestCodec(t)

	long := strings.Repeat("b", 500)
	enc, err := c.Encrypt(long)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if !enc.Compressed {
		t.Fatal("expected compression for long plaintext")
	}
	if enc.Digest != Digest(long) {
		t.Error("digest should cover the original plaintext, not the compressed payload")
	}
}
