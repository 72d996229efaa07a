// Package cipher seals and opens document payloads with AES-256-GCM under a
// single process-owned key. A Cipher is constructed empty, initialized exactly
// once, and is then safe for concurrent use without further locking.
//
// Sealed blob layout: nonce (12 bytes) || ciphertext || tag (16 bytes).
package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"unicode/utf8"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM nonce length prepended to every sealed blob.
	NonceSize = 12
	// TagSize is the GCM authentication tag length appended by Seal.
	TagSize = 16
	// MinSealedSize is the shortest blob Open will attempt to authenticate.
	MinSealedSize = NonceSize + TagSize
)

// Cipher holds the process key. The zero value is uninitialized; use New.
type Cipher struct {
	mu   sync.Mutex // serializes initialization only
	aead atomic.Pointer[aeadHolder]
	rand io.Reader
}

type aeadHolder struct{ gocipher.AEAD }

// New returns an uninitialized Cipher that draws nonces and generated keys
// from crypto/rand.
func New() *Cipher {
	return &Cipher{rand: rand.Reader}
}

// NewWithSeed is shorthand for New followed by InitializeFromSeed.
func NewWithSeed(seed []byte) (*Cipher, error) {
	c := New()
	if err := c.InitializeFromSeed(seed); err != nil {
		return nil, err
	}
	return c, nil
}

// InitializeFromSeed installs the key derived from seed by zero-padding or
// truncating it to KeySize bytes. A nil seed installs a freshly generated
// random key instead.
func (c *Cipher) InitializeFromSeed(seed []byte) error {
	if seed != nil {
		return c.Initialize(KeyFromSeed(seed))
	}
	if c.Initialized() {
		return ErrAlreadyInitialized
	}
	k, err := generateKey(c.source())
	if err != nil {
		return err
	}
	return c.Initialize(k)
}

// Initialize installs key. It may succeed only once per Cipher.
func (c *Cipher) Initialize(key Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aead.Load() != nil {
		return ErrAlreadyInitialized
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := gocipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("create gcm: %w", err)
	}
	c.aead.Store(&aeadHolder{gcm})
	return nil
}

// Initialized reports whether a key has been installed.
func (c *Cipher) Initialized() bool { return c.aead.Load() != nil }

// Seal encrypts plaintext under a fresh random nonce and returns
// nonce || ciphertext || tag.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	h := c.aead.Load()
	if h == nil {
		return nil, ErrNotInitialized
	}
	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(c.source(), out); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return h.Seal(out, out[:NonceSize], plaintext, nil), nil
}

// Open authenticates and decrypts a blob produced by Seal and returns the
// plaintext as a string. Blobs shorter than MinSealedSize are rejected
// without attempting verification.
func (c *Cipher) Open(blob []byte) (string, error) {
	h := c.aead.Load()
	if h == nil {
		return "", ErrNotInitialized
	}
	if len(blob) < MinSealedSize {
		return "", ErrMalformedInput
	}
	plaintext, err := h.Open(nil, blob[:NonceSize], blob[NonceSize:], nil)
	if err != nil {
		return "", ErrAuthenticationFailure
	}
	if !utf8.Valid(plaintext) {
		return "", ErrInvalidEncoding
	}
	return string(plaintext), nil
}

func (c *Cipher) source() io.Reader {
	if c.rand == nil {
		return rand.Reader
	}
	return c.rand
}
