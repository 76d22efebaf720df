// Package codec turns message plaintext into an opaque, integrity-checked blob
// and back: optional gzip compression followed by AES-256-GCM, with a SHA-256
// digest of the original plaintext carried alongside for tamper detection.
package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/hkdf"
)

const (
	// compressThreshold is the plaintext length above which compression pays off.
	// Short strings gain nothing and still cost CPU.
	compressThreshold = 100

	// maxPlaintextBytes bounds what we accept for encryption.
	maxPlaintextBytes = 100 * 1024
	// maxCiphertextBytes bounds what we accept for decryption and what Encrypt
	// may produce.
	maxCiphertextBytes = 200 * 1024

	markerCompressed = 'c'
	markerPlain      = 'p'

	// devSecret seeds the key in dev mode when no secret is configured.
	// Construction fails outside dev mode instead of falling back to it.
	devSecret = "marketchat-dev-only-insecure-secret"

	hkdfInfo = "marketchat message key v1"
)

var (
	// ErrTooLarge is returned when input exceeds the codec size limits.
	ErrTooLarge = errors.New("payload too large")
	// ErrDecrypt is returned when a blob cannot be authenticated or decoded.
	ErrDecrypt = errors.New("cannot decrypt payload")
)

// Encrypted is the result of encrypting one plaintext.
type Encrypted struct {
	Ciphertext string
	Digest     string
	Compressed bool
}

// Codec encrypts and decrypts message bodies with a single symmetric key
// derived once at construction. Safe for concurrent use.
type Codec struct {
	aead       cipher.AEAD
	fernetKeys []*fernet.Key
}

// New derives the symmetric key from secret via HKDF-SHA256 and prepares the
// AEAD. legacyKeys are fernet keys from the previous encryption scheme, tried
// as a decrypt fallback for historical messages. An empty secret is an error
// unless devMode is set.
func New(secret string, legacyKeys []string, devMode bool) (*Codec, error) {
	if secret == "" {
		if !devMode {
			return nil, errors.New("encryption secret is required outside dev mode")
		}
		secret = devSecret
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}

	fernetKeys := make([]*fernet.Key, 0, len(legacyKeys))
	for _, raw := range legacyKeys {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if fk, err := fernet.DecodeKey(trimmed); err == nil {
			fernetKeys = append(fernetKeys, fk)
		}
	}

	return &Codec{aead: aead, fernetKeys: fernetKeys}, nil
}

// Digest computes the integrity digest of a plaintext. It is taken over the
// original text, independent of compression, so it survives codec evolution.
func Digest(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Encrypt compresses (when worthwhile) and seals plaintext under a fresh nonce.
// Output layout: one marker byte ('c' or 'p') + base64(nonce || ciphertext).
func (c *Codec) Encrypt(plaintext string) (Encrypted, error) {
	if len(plaintext) > maxPlaintextBytes {
		return Encrypted{}, fmt.Errorf("%w: plaintext %d bytes", ErrTooLarge, len(plaintext))
	}

	payload := []byte(plaintext)
	marker := byte(markerPlain)
	compressed := false
	if len(plaintext) > compressThreshold {
		// Compression failure degrades to the uncompressed path.
		if gz, err := compress(payload); err == nil {
			payload = gz
			marker = markerCompressed
			compressed = true
		}
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Encrypted{}, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, payload, nil)
	blob := string(marker) + base64.StdEncoding.EncodeToString(sealed)
	if len(blob) > maxCiphertextBytes {
		return Encrypted{}, fmt.Errorf("%w: ciphertext %d bytes", ErrTooLarge, len(blob))
	}

	return Encrypted{
		Ciphertext: blob,
		Digest:     Digest(plaintext),
		Compressed: compressed,
	}, nil
}

// Decrypt opens a blob produced by Encrypt. Blobs sealed under a configured
// legacy fernet key are handled transparently. A blob marked compressed whose
// payload fails to decompress is a decryption error; callers substitute a
// placeholder rather than fail the whole read.
func (c *Codec) Decrypt(blob string) (string, error) {
	if len(blob) < 2 || len(blob) > maxCiphertextBytes {
		return "", ErrDecrypt
	}

	marker := blob[0]
	if marker != markerCompressed && marker != markerPlain {
		return c.decryptLegacy(blob)
	}

	raw, err := base64.StdEncoding.DecodeString(blob[1:])
	if err != nil {
		return c.decryptLegacy(blob)
	}
	if len(raw) <= c.aead.NonceSize() {
		return "", ErrDecrypt
	}

	nonce := raw[:c.aead.NonceSize()]
	sealed := raw[c.aead.NonceSize():]
	payload, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return c.decryptLegacy(blob)
	}

	if marker == markerCompressed {
		plain, err := decompress(payload)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
		}
		return string(plain), nil
	}
	return string(payload), nil
}

func (c *Codec) decryptLegacy(blob string) (string, error) {
	if len(c.fernetKeys) > 0 {
		if plain := fernet.VerifyAndDecrypt([]byte(blob), 0*time.Second, c.fernetKeys); plain != nil {
			return string(plain), nil
		}
	}
	return "", ErrDecrypt
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// Guard against decompression bombs beyond the plaintext limit.
	out, err := io.ReadAll(io.LimitReader(r, maxPlaintextBytes+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxPlaintextBytes {
		return nil, ErrTooLarge
	}
	return out, nil
}
