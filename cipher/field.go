package cipher

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"log"
	"strings"
)

// Tag prefixes every value sealed by a FieldCodec.
const Tag = "enc:v1:"

// FallbackKind identifies which compatibility path opened an untagged value.
type FallbackKind int

const (
	// FallbackRawCBC means the value was untagged CBC ciphertext under the current key.
	FallbackRawCBC FallbackKind = iota + 1
	// FallbackLegacyECB means the value was opened by the deprecated ECB reader.
	FallbackLegacyECB
	// FallbackPlaintext means nothing could decrypt the value and it was returned as-is.
	FallbackPlaintext
)

func (k FallbackKind) String() string {
	switch k {
	case FallbackRawCBC:
		return "raw_cbc"
	case FallbackLegacyECB:
		return "legacy_ecb"
	case FallbackPlaintext:
		return "plaintext"
	default:
		return "unknown"
	}
}

// FieldCodec seals plaintext for storage and opens stored values.
//
// Sealed values carry Tag. Untagged values are only probed when migration
// probing is enabled, which is the default.
type FieldCodec struct {
	cipher *Cipher
	legacy *LegacyECB
	logger *log.Logger
	hook   func(FallbackKind)
	strict bool
}

// FieldOption configures a FieldCodec.
type FieldOption func(*FieldCodec)

// WithLegacyECB lets Open read values written by the old ECB encryption.
func WithLegacyECB(l *LegacyECB) FieldOption {
	return func(f *FieldCodec) { f.legacy = l }
}

// WithLogger sets the logger used for plaintext fallback warnings.
func WithLogger(l *log.Logger) FieldOption {
	return func(f *FieldCodec) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithFallbackHook is called every time an untagged value takes a
// compatibility path.
func WithFallbackHook(fn func(FallbackKind)) FieldOption {
	return func(f *FieldCodec) { f.hook = fn }
}

// WithStrictTags disables probing of untagged values. Untagged values are
// then plaintext to both Seal and Open.
func WithStrictTags() FieldOption {
	return func(f *FieldCodec) { f.strict = true }
}

// NewFieldCodec returns a codec sealing with c.
func NewFieldCodec(c *Cipher, opts ...FieldOption) (*FieldCodec, error) {
	if c == nil {
		return nil, errors.New("field codec requires a cipher")
	}
	f := &FieldCodec{cipher: c, logger: log.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Seal returns the storage form of value. A value that is already sealed is
// returned unchanged, so Seal is idempotent.
func (f *FieldCodec) Seal(value string) (string, error) {
	if body, ok := strings.CutPrefix(value, Tag); ok && f.cipher.IsCiphertext(body) {
		return value, nil
	}
	if !f.strict && f.cipher.IsCiphertext(value) {
		f.note(FallbackRawCBC)
		return Tag + value, nil
	}

	ct, err := f.cipher.Encrypt(value)
	if err != nil {
		return "", err
	}
	return Tag + ct, nil
}

// Open returns the plaintext of a stored value. Tagged values that fail to
// decrypt are an error. Untagged values fall back to raw CBC, then legacy
// ECB, then are returned unchanged with a logged warning.
func (f *FieldCodec) Open(stored string) (string, error) {
	if body, ok := strings.CutPrefix(stored, Tag); ok {
		return f.cipher.Decrypt(body)
	}
	if f.strict {
		return stored, nil
	}
	return f.openUntagged(stored), nil
}

func (f *FieldCodec) openUntagged(stored string) string {
	if plain, err := f.cipher.Decrypt(stored); err == nil {
		f.note(FallbackRawCBC)
		return plain
	}
	if f.legacy != nil {
		if plain, err := f.legacy.Decrypt(stored); err == nil {
			f.note(FallbackLegacyECB)
			return plain
		}
	}
	f.logger.Print("authcore: stored field is not encrypted, returning it unchanged")
	f.note(FallbackPlaintext)
	return stored
}

func (f *FieldCodec) note(kind FallbackKind) {
	if f.hook != nil {
		f.hook(kind)
	}
}

// Field is a nullable string column that is sealed on write and opened on
// read. Obtain one from FieldCodec.Field or FieldCodec.NullField so it
// carries its codec.
type Field struct {
	Plain string
	Valid bool

	codec *FieldCodec
}

// Field wraps plain for storage.
func (f *FieldCodec) Field(plain string) Field {
	return Field{Plain: plain, Valid: true, codec: f}
}

// NullField returns a NULL column bound to f, ready to Scan into.
func (f *FieldCodec) NullField() Field {
	return Field{codec: f}
}

// Value implements driver.Valuer.
func (fd Field) Value() (driver.Value, error) {
	if !fd.Valid {
		return nil, nil
	}
	if fd.codec == nil {
		return nil, errors.New("cipher: field has no codec")
	}
	return fd.codec.Seal(fd.Plain)
}

// Scan implements sql.Scanner.
func (fd *Field) Scan(src any) error {
	if fd.codec == nil {
		return errors.New("cipher: field has no codec")
	}
	var stored string
	switch v := src.(type) {
	case nil:
		fd.Plain, fd.Valid = "", false
		return nil
	case string:
		stored = v
	case []byte:
		stored = string(v)
	default:
		return fmt.Errorf("cipher: cannot scan %T into Field", src)
	}

	plain, err := fd.codec.Open(stored)
	if err != nil {
		return err
	}
	fd.Plain, fd.Valid = plain, true
	return nil
}
