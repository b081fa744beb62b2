package cipher

import (
	"crypto/aes"
	"encoding/base64"
	"fmt"
	"strings"
)

// LegacyECB reads values written by the old AES-ECB field encryption.
//
// It can only decrypt. Values it opens should be re-sealed with a Cipher.
//
// Deprecated: ECB leaks plaintext structure. Keep this only until every
// stored value has been migrated.
type LegacyECB struct {
	inner *Cipher
}

// NewLegacyECB returns a decrypt-only ECB reader for key.
//
// Deprecated: see LegacyECB.
func NewLegacyECB(key []byte) (*LegacyECB, error) {
	c, err := New(key)
	if err != nil {
		return nil, err
	}
	return &LegacyECB{inner: c}, nil
}

// Decrypt opens a base64 ECB ciphertext. Embedded line breaks from MIME
// style encoders are ignored.
//
// Deprecated: see LegacyECB.
func (l *LegacyECB) Decrypt(ciphertext string) (string, error) {
	cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(ciphertext)
	raw, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext is not a multiple of the block size", ErrCrypto)
	}

	plain := make([]byte, len(raw))
	for off := 0; off < len(raw); off += aes.BlockSize {
		l.inner.block.Decrypt(plain[off:off+aes.BlockSize], raw[off:off+aes.BlockSize])
	}
	return finish(plain)
}
