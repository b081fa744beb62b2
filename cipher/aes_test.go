package cipher

import (
	"bytes"
	"crypto/aes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

var testKey = []byte("0123456789abcdef")

func newTestCipher(t *testing.T, key []byte) *Cipher {
	t.Helper()
	c, err := New(key)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	return c
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	for _, key := range [][]byte{testKey, bytes.Repeat([]byte("k"), 24), bytes.Repeat([]byte("k"), 32)} {
		c := newTestCipher(t, key)
		for _, in := range []string{
			"",
			"hello",
			"exactly16bytes!!",
			"测试AES加密解密：包含特殊字符！@#$%^&*()",
			`{"name":"x","age":25}`,
			"\x00\x01\x1f\x7f\r\n\t",
			strings.Repeat("\x00", 15) + "\x10",
		} {
			ct, err := c.Encrypt(in)
			if err != nil {
				t.Fatalf("encrypt %q: %v", in, err)
			}
			got, err := c.Decrypt(ct)
			if err != nil {
				t.Fatalf("decrypt %q: %v", in, err)
			}
			if got != in {
				t.Fatalf("round trip mismatch: want %q got %q", in, got)
			}
		}
	}
}

func TestEncryptUsesFreshIV(t *testing.T) {
	c := newTestCipher(t, testKey)

	a, err := c.Encrypt("same input")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	b, err := c.Encrypt("same input")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if a == b {
		t.Fatal("expected different ciphertexts for repeated encryption")
	}

	rawA, _ := base64.StdEncoding.DecodeString(a)
	rawB, _ := base64.StdEncoding.DecodeString(b)
	if bytes.Equal(rawA[:16], rawB[:16]) {
		t.Fatal("expected different IVs")
	}
	for _, ct := range []string{a, b} {
		if got, err := c.Decrypt(ct); err != nil || got != "same input" {
			t.Fatalf("expected both ciphertexts to decrypt, got %q err=%v", got, err)
		}
	}
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	c := newTestCipher(t, testKey)
	valid, err := c.Encrypt("payload")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(valid)

	cases := map[string]string{
		"not base64":      "not base64!!",
		"plain text":      "hello",
		"too short":       base64.StdEncoding.EncodeToString(make([]byte, 10)),
		"iv only":         base64.StdEncoding.EncodeToString(raw[:16]),
		"not block sized": base64.StdEncoding.EncodeToString(append(append([]byte{}, raw...), 1, 2, 3)),
	}
	for name, in := range cases {
		if _, err := c.Decrypt(in); !errors.Is(err, ErrCrypto) {
			t.Fatalf("%s: expected ErrCrypto, got %v", name, err)
		}
		if c.IsCiphertext(in) {
			t.Fatalf("%s: expected IsCiphertext to be false", name)
		}
	}

	other := newTestCipher(t, []byte("fedcba9876543210"))
	if _, err := other.Decrypt(valid); !errors.Is(err, ErrCrypto) {
		t.Fatalf("expected wrong key to fail with ErrCrypto, got %v", err)
	}
}

func TestEncryptRejectsInvalidUTF8(t *testing.T) {
	c := newTestCipher(t, testKey)
	if _, err := c.Encrypt(string([]byte{0xff, 0xfe})); !errors.Is(err, ErrCrypto) {
		t.Fatalf("expected ErrCrypto, got %v", err)
	}
}

func TestNewRejectsBadKeyLength(t *testing.T) {
	for _, n := range []int{0, 8, 15, 17, 31, 64} {
		if _, err := New(make([]byte, n)); !errors.Is(err, ErrCrypto) {
			t.Fatalf("key length %d: expected ErrCrypto, got %v", n, err)
		}
	}
}

func TestGenerateKey(t *testing.T) {
	for _, bits := range []int{128, 192, 256} {
		key, err := GenerateKey(bits)
		if err != nil {
			t.Fatalf("generate %d: %v", bits, err)
		}
		if len(key) != bits/8 {
			t.Fatalf("expected %d bytes, got %d", bits/8, len(key))
		}
		if _, err := New(key); err != nil {
			t.Fatalf("generated key rejected: %v", err)
		}
	}
	if _, err := GenerateKey(100); !errors.Is(err, ErrCrypto) {
		t.Fatalf("expected ErrCrypto for 100 bits, got %v", err)
	}
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	a, err := DeriveKey([]byte("passphrase"), "fields", 256)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	b, _ := DeriveKey([]byte("passphrase"), "fields", 256)
	c, _ := DeriveKey([]byte("passphrase"), "other", 256)
	if !bytes.Equal(a, b) {
		t.Fatal("expected same secret and info to derive the same key")
	}
	if bytes.Equal(a, c) {
		t.Fatal("expected different info to derive a different key")
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 byte key, got %d", len(a))
	}
	if _, err := DeriveKey(nil, "fields", 256); !errors.Is(err, ErrCrypto) {
		t.Fatalf("expected ErrCrypto for empty secret, got %v", err)
	}
}

func FuzzDecrypt(f *testing.F) {
	c, err := New(testKey)
	if err != nil {
		f.Fatal(err)
	}
	seed, _ := c.Encrypt("seed")
	f.Add(seed)
	f.Add("")
	f.Add("AAAA")
	f.Add("enc:v1:abc")

	f.Fuzz(func(t *testing.T, input string) {
		if _, err := c.Decrypt(input); err != nil && !errors.Is(err, ErrCrypto) {
			t.Fatalf("unclassified decrypt error: %v", err)
		}
	})
}

func FuzzEncryptDecrypt(f *testing.F) {
	c, err := New(testKey)
	if err != nil {
		f.Fatal(err)
	}
	f.Add("")
	f.Add("plain")
	f.Add("\x00\x01\x1f\x7f\r\n\t")
	f.Add(strings.Repeat("\x10", aes.BlockSize))

	f.Fuzz(func(t *testing.T, input string) {
		if !utf8.ValidString(input) {
			t.Skip()
		}
		ct, err := c.Encrypt(input)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		got, err := c.Decrypt(ct)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if got != input {
			t.Fatalf("round trip mismatch: want %q got %q", input, got)
		}
	})
}
