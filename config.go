package authcore

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/session"
)

// Config holds process-wide settings. It is read once by Builder.Build and
// must not change afterwards.
type Config struct {
	Mode    Mode
	Token   TokenConfig
	Session SessionConfig
	Cipher  CipherConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

// TokenConfig configures token signing and validation.
type TokenConfig struct {
	// DefaultTTL applies when Login is not given an explicit TTL. Zero
	// issues tokens that never expire.
	DefaultTTL    time.Duration
	SigningMethod jwt.SigningMethod
	// SigningKey is the HMAC secret, or the Ed25519 private key.
	SigningKey   []byte
	PublicKey    []byte
	Issuer       string
	Audience     string
	Leeway       time.Duration
	SubjectClaim string
	KeyID        string
	VerifyKeys   map[string][]byte
}

// SessionConfig configures the session cache.
type SessionConfig struct {
	Prefix string
	TTL    time.Duration
}

// CipherConfig configures the field cipher. An empty Key disables it.
type CipherConfig struct {
	Key []byte
	// LegacyECBKey enables reading values written by the old ECB encryption.
	LegacyECBKey []byte
	// StrictTags disables probing of untagged stored values.
	StrictTags bool
}

// AuditConfig configures the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig configures the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns a stateful configuration with seven day tokens and
// sessions and a five second leeway. SigningKey must still be set.
func DefaultConfig() Config {
	return Config{
		Mode: ModeStateful,
		Token: TokenConfig{
			DefaultTTL:    jwt.DefaultTTL,
			SigningMethod: jwt.MethodHS256,
			Issuer:        jwt.DefaultIssuer,
			Leeway:        jwt.DefaultLeeway,
			SubjectClaim:  jwt.DefaultSubjectClaim,
		},
		Session: SessionConfig{
			Prefix: session.DefaultPrefix,
			TTL:    session.DefaultTTL,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.SigningKey = cloneBytes(cfg.Token.SigningKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	out.Cipher.Key = cloneBytes(cfg.Cipher.Key)
	out.Cipher.LegacyECBKey = cloneBytes(cfg.Cipher.LegacyECBKey)
	if cfg.Token.VerifyKeys != nil {
		out.Token.VerifyKeys = make(map[string][]byte, len(cfg.Token.VerifyKeys))
		for kid, key := range cfg.Token.VerifyKeys {
			out.Token.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Mode != ModeStateless && c.Mode != ModeStateful {
		return errors.New("Mode must be stateless or stateful")
	}

	// Token
	if c.Token.DefaultTTL < 0 {
		return errors.New("Token DefaultTTL must be >= 0")
	}
	switch c.Token.SigningMethod {
	case jwt.MethodHS256, jwt.MethodHS384, jwt.MethodHS512:
		if len(c.Token.SigningKey) == 0 {
			return errors.New("HMAC signing requires SigningKey")
		}
		if len(c.Token.SigningKey) < 32 {
			return errors.New("HMAC SigningKey must be at least 32 bytes")
		}
	case jwt.MethodEd25519:
		if len(c.Token.PublicKey) == 0 && len(c.Token.VerifyKeys) == 0 {
			return errors.New("ed25519 requires PublicKey or VerifyKeys")
		}
	default:
		return errors.New("unsupported token signing method")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be between 0 and 2m")
	}
	if strings.TrimSpace(c.Token.Issuer) == "" {
		return errors.New("Token Issuer must not be empty")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if strings.ContainsAny(c.Session.Prefix, " \t\r\n") {
		return errors.New("Session Prefix must not contain whitespace")
	}

	// Cipher
	if n := len(c.Cipher.Key); n != 0 && n != 16 && n != 24 && n != 32 {
		return errors.New("Cipher Key must be 16, 24 or 32 bytes")
	}
	if n := len(c.Cipher.LegacyECBKey); n != 0 && n != 16 && n != 24 && n != 32 {
		return errors.New("Cipher LegacyECBKey must be 16, 24 or 32 bytes")
	}
	if len(c.Cipher.LegacyECBKey) > 0 && len(c.Cipher.Key) == 0 {
		return errors.New("Cipher LegacyECBKey requires Key")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}
