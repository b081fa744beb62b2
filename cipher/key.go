package cipher

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// GenerateKey returns bits/8 random bytes. bits must be 128, 192 or 256.
func GenerateKey(bits int) ([]byte, error) {
	if err := validKeyLength(bits / 8); err != nil || bits%8 != 0 {
		return nil, fmt.Errorf("%w: key size must be 128, 192 or 256 bits", ErrCrypto)
	}
	key := make([]byte, bits/8)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return key, nil
}

// DeriveKey stretches an arbitrary secret into an AES key with HKDF-SHA256.
// The same secret and info always yield the same key.
func DeriveKey(secret []byte, info string, bits int) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", ErrCrypto)
	}
	if err := validKeyLength(bits / 8); err != nil || bits%8 != 0 {
		return nil, fmt.Errorf("%w: key size must be 128, 192 or 256 bits", ErrCrypto)
	}
	key := make([]byte, bits/8)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return key, nil
}
