package cipher

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// hkdfInfo binds derived keys to this application.
const hkdfInfo = "docvault document key v1"

// Key is a raw AES-256 key.
type Key [KeySize]byte

// KeyFromSeed copies seed into a Key, zero-padding short seeds and truncating
// long ones. No key-derivation function is applied; the caller must supply
// high-entropy material.
func KeyFromSeed(seed []byte) Key {
	var k Key
	copy(k[:], seed)
	return k
}

// DeriveKeyHKDF stretches seed into a Key with HKDF-SHA256. Keys derived this
// way are not interchangeable with KeyFromSeed keys.
func DeriveKeyHKDF(seed []byte) (Key, error) {
	var k Key
	if len(seed) == 0 {
		return k, fmt.Errorf("hkdf: empty seed")
	}
	r := hkdf.New(sha256.New, seed, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, k[:]); err != nil {
		return k, fmt.Errorf("hkdf: %w", err)
	}
	return k, nil
}

// NewSeed returns a random seed string of exactly KeySize characters, suitable
// for DOCVAULT_ENCRYPTION_KEY under either derivation mode.
func NewSeed(r io.Reader) (string, error) {
	// 24 random bytes encode to 32 base64url characters.
	b := make([]byte, KeySize*3/4)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("generate seed: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func generateKey(r io.Reader) (Key, error) {
	var k Key
	if _, err := io.ReadFull(r, k[:]); err != nil {
		return k, fmt.Errorf("generate key: %w", err)
	}
	return k, nil
}
