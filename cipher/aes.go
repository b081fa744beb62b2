package cipher

import (
	"bytes"
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ErrCrypto is wrapped by every key, encryption and decryption failure.
var ErrCrypto = errors.New("crypto error")

// Cipher is a symmetric AES-CBC cipher bound to one key.
//
// Encrypt output is base64(IV || ciphertext) with the standard padded
// alphabet. A Cipher holds only immutable key state and is safe for
// concurrent use.
type Cipher struct {
	block stdcipher.Block
	rand  io.Reader
}

// New returns a Cipher for a 16, 24 or 32 byte key.
func New(key []byte) (*Cipher, error) {
	if err := validKeyLength(len(key)); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return &Cipher{block: block, rand: rand.Reader}, nil
}

// Encrypt encrypts the UTF-8 bytes of plaintext under a fresh random IV.
// Two calls with the same input return different ciphertexts.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if !utf8.ValidString(plaintext) {
		return "", fmt.Errorf("%w: plaintext is not valid utf-8", ErrCrypto)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return "", fmt.Errorf("%w: generate iv: %v", ErrCrypto, err)
	}
	stdcipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out[aes.BlockSize:], padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Malformed base64, truncated input, a body that
// is not a block multiple, bad padding and non UTF-8 output all fail with
// ErrCrypto.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	if len(raw) < 2*aes.BlockSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrCrypto)
	}
	if len(raw)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext is not a multiple of the block size", ErrCrypto)
	}

	iv, body := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plain := make([]byte, len(body))
	stdcipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plain, body)

	return finish(plain)
}

// IsCiphertext reports whether value decrypts cleanly under this key.
func (c *Cipher) IsCiphertext(value string) bool {
	_, err := c.Decrypt(value)
	return err == nil
}

func finish(plain []byte) (string, error) {
	unpadded, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(unpadded) {
		return "", fmt.Errorf("%w: plaintext is not valid utf-8", ErrCrypto)
	}
	return string(unpadded), nil
}

func validKeyLength(n int) error {
	switch n {
	case 16, 24, 32:
		return nil
	default:
		return fmt.Errorf("%w: key must be 16, 24 or 32 bytes, got %d", ErrCrypto, n)
	}
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append(make([]byte, 0, len(data)+n), data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("%w: invalid padded length", ErrCrypto)
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, fmt.Errorf("%w: invalid padding", ErrCrypto)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("%w: invalid padding", ErrCrypto)
		}
	}
	return data[:len(data)-n], nil
}
