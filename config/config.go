// Package config loads authcore.Config and the demo server settings from the
// environment and an optional .env file using Viper.
package config

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/cipher"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/spf13/viper"
)

// Settings is everything a host process needs.
type Settings struct {
	Core authcore.Config

	// HTTPAddr is the listen address of the demo server.
	HTTPAddr string
	// RedisAddr is host:port of the session cache. Empty uses an in-process
	// miniredis, which is only suitable for development.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// DatabaseURL selects the identity database: postgres:// URLs use pgx,
	// anything else is a SQLite path.
	DatabaseURL string
	CORSOrigins []string
	// LoginRate is the sustained logins per second allowed per client IP.
	LoginRate  float64
	LoginBurst int
	// LoginMaxFailures failed logins per client IP within LoginFailureWindow
	// block further logins from that IP until the window ends.
	LoginMaxFailures   int
	LoginFailureWindow time.Duration
	// AuthFailedStatus is 401 or 403.
	AuthFailedStatus int
	// StatelessFallback lets stateful routes fall back to token-only checks
	// while the cache is down.
	StatelessFallback bool
	ShutdownTimeout   time.Duration
	// DemoLogin enables POST /login, which issues a session for any known
	// principal id without checking a credential. Development only.
	DemoLogin bool
}

type env struct {
	Mode             string        `mapstructure:"AUTHCORE_MODE"`
	TokenTTL         time.Duration `mapstructure:"AUTHCORE_TOKEN_TTL"`
	SigningMethod    string        `mapstructure:"AUTHCORE_SIGNING_METHOD"`
	SigningKey       string        `mapstructure:"AUTHCORE_SIGNING_KEY"`
	PublicKey        string        `mapstructure:"AUTHCORE_PUBLIC_KEY"`
	Issuer           string        `mapstructure:"AUTHCORE_ISSUER"`
	Audience         string        `mapstructure:"AUTHCORE_AUDIENCE"`
	Leeway           time.Duration `mapstructure:"AUTHCORE_LEEWAY"`
	SubjectClaim     string        `mapstructure:"AUTHCORE_SUBJECT_CLAIM"`
	KeyID            string        `mapstructure:"AUTHCORE_KEY_ID"`
	SessionPrefix    string        `mapstructure:"AUTHCORE_SESSION_PREFIX"`
	SessionTTL       time.Duration `mapstructure:"AUTHCORE_SESSION_TTL"`
	CipherKey        string        `mapstructure:"AUTHCORE_CIPHER_KEY"`
	LegacyECBKey     string        `mapstructure:"AUTHCORE_LEGACY_ECB_KEY"`
	StrictTags       bool          `mapstructure:"AUTHCORE_STRICT_TAGS"`
	AuditEnabled     bool          `mapstructure:"AUTHCORE_AUDIT_ENABLED"`
	AuditBuffer      int           `mapstructure:"AUTHCORE_AUDIT_BUFFER"`
	MetricsEnabled   bool          `mapstructure:"AUTHCORE_METRICS_ENABLED"`
	LatencyHistogram bool          `mapstructure:"AUTHCORE_LATENCY_HISTOGRAMS"`

	HTTPAddr          string        `mapstructure:"HTTP_ADDR"`
	RedisAddr         string        `mapstructure:"REDIS_ADDR"`
	RedisPassword     string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB           int           `mapstructure:"REDIS_DB"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	CORSOrigins       string        `mapstructure:"CORS_ORIGINS"`
	LoginRate         float64       `mapstructure:"LOGIN_RATE"`
	LoginBurst        int           `mapstructure:"LOGIN_BURST"`
	LoginMaxFailures  int           `mapstructure:"LOGIN_MAX_FAILURES"`
	LoginFailWindow   time.Duration `mapstructure:"LOGIN_FAILURE_WINDOW"`
	AuthFailedStatus  int           `mapstructure:"AUTH_FAILED_STATUS"`
	StatelessFallback bool          `mapstructure:"STATELESS_FALLBACK"`
	ShutdownTimeout   time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	DemoLogin         bool          `mapstructure:"DEMO_LOGIN"`
}

// Load reads envFile when it exists (".env" when empty), then the process
// environment, which wins. The result is validated.
func Load(envFile string) (*Settings, error) {
	v := viper.New()
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", envFile, err)
		}
	}
	v.AutomaticEnv()

	core := authcore.DefaultConfig()
	// every key needs a default for AutomaticEnv to reach it through Unmarshal
	v.SetDefault("AUTHCORE_MODE", core.Mode.String())
	v.SetDefault("AUTHCORE_TOKEN_TTL", core.Token.DefaultTTL)
	v.SetDefault("AUTHCORE_SIGNING_METHOD", string(core.Token.SigningMethod))
	v.SetDefault("AUTHCORE_SIGNING_KEY", "")
	v.SetDefault("AUTHCORE_PUBLIC_KEY", "")
	v.SetDefault("AUTHCORE_ISSUER", core.Token.Issuer)
	v.SetDefault("AUTHCORE_AUDIENCE", "")
	v.SetDefault("AUTHCORE_LEEWAY", core.Token.Leeway)
	v.SetDefault("AUTHCORE_SUBJECT_CLAIM", core.Token.SubjectClaim)
	v.SetDefault("AUTHCORE_KEY_ID", "")
	v.SetDefault("AUTHCORE_SESSION_PREFIX", core.Session.Prefix)
	v.SetDefault("AUTHCORE_SESSION_TTL", core.Session.TTL)
	v.SetDefault("AUTHCORE_CIPHER_KEY", "")
	v.SetDefault("AUTHCORE_LEGACY_ECB_KEY", "")
	v.SetDefault("AUTHCORE_STRICT_TAGS", false)
	v.SetDefault("AUTHCORE_AUDIT_ENABLED", core.Audit.Enabled)
	v.SetDefault("AUTHCORE_AUDIT_BUFFER", core.Audit.BufferSize)
	v.SetDefault("AUTHCORE_METRICS_ENABLED", core.Metrics.Enabled)
	v.SetDefault("AUTHCORE_LATENCY_HISTOGRAMS", true)

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DATABASE_URL", "authcore.db")
	v.SetDefault("CORS_ORIGINS", "")
	v.SetDefault("LOGIN_RATE", 1.0)
	v.SetDefault("LOGIN_BURST", 5)
	v.SetDefault("LOGIN_MAX_FAILURES", 5)
	v.SetDefault("LOGIN_FAILURE_WINDOW", 15*time.Minute)
	v.SetDefault("AUTH_FAILED_STATUS", 401)
	v.SetDefault("STATELESS_FALLBACK", false)
	v.SetDefault("SHUTDOWN_TIMEOUT", 10*time.Second)
	v.SetDefault("DEMO_LOGIN", false)

	var e env
	if err := v.Unmarshal(&e); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return e.settings(core)
}

func (e env) settings(core authcore.Config) (*Settings, error) {
	mode, ok := authcore.ParseMode(strings.ToLower(strings.TrimSpace(e.Mode)))
	if !ok {
		return nil, fmt.Errorf("config: AUTHCORE_MODE %q is not stateless or stateful", e.Mode)
	}
	core.Mode = mode

	var err error
	core.Token.DefaultTTL = e.TokenTTL
	core.Token.SigningMethod = jwt.SigningMethod(strings.ToLower(e.SigningMethod))
	if core.Token.SigningKey, err = ParseKey(e.SigningKey); err != nil {
		return nil, fmt.Errorf("config: AUTHCORE_SIGNING_KEY: %w", err)
	}
	if core.Token.PublicKey, err = ParseKey(e.PublicKey); err != nil {
		return nil, fmt.Errorf("config: AUTHCORE_PUBLIC_KEY: %w", err)
	}
	core.Token.Issuer = e.Issuer
	core.Token.Audience = e.Audience
	core.Token.Leeway = e.Leeway
	core.Token.SubjectClaim = e.SubjectClaim
	core.Token.KeyID = e.KeyID
	if core.Token.KeyID != "" && len(core.Token.PublicKey) > 0 {
		core.Token.VerifyKeys = map[string][]byte{core.Token.KeyID: core.Token.PublicKey}
	}

	core.Session.Prefix = e.SessionPrefix
	core.Session.TTL = e.SessionTTL

	if core.Cipher.Key, err = ParseCipherKey(e.CipherKey); err != nil {
		return nil, fmt.Errorf("config: AUTHCORE_CIPHER_KEY: %w", err)
	}
	if core.Cipher.LegacyECBKey, err = ParseKey(e.LegacyECBKey); err != nil {
		return nil, fmt.Errorf("config: AUTHCORE_LEGACY_ECB_KEY: %w", err)
	}
	core.Cipher.StrictTags = e.StrictTags

	core.Audit.Enabled = e.AuditEnabled
	core.Audit.BufferSize = e.AuditBuffer
	core.Metrics.Enabled = e.MetricsEnabled
	core.Metrics.EnableLatencyHistograms = e.LatencyHistogram

	if err := core.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	s := &Settings{
		Core:               core,
		HTTPAddr:           e.HTTPAddr,
		RedisAddr:          e.RedisAddr,
		RedisPassword:      e.RedisPassword,
		RedisDB:            e.RedisDB,
		DatabaseURL:        e.DatabaseURL,
		CORSOrigins:        splitList(e.CORSOrigins),
		LoginRate:          e.LoginRate,
		LoginBurst:         e.LoginBurst,
		LoginMaxFailures:   e.LoginMaxFailures,
		LoginFailureWindow: e.LoginFailWindow,
		AuthFailedStatus:   e.AuthFailedStatus,
		StatelessFallback:  e.StatelessFallback,
		ShutdownTimeout:    e.ShutdownTimeout,
		DemoLogin:          e.DemoLogin,
	}
	if s.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if s.AuthFailedStatus != 401 && s.AuthFailedStatus != 403 {
		return nil, errors.New("config: AUTH_FAILED_STATUS must be 401 or 403")
	}
	if s.LoginRate <= 0 || s.LoginBurst <= 0 {
		return nil, errors.New("config: LOGIN_RATE and LOGIN_BURST must be > 0")
	}
	if s.LoginMaxFailures <= 0 || s.LoginFailureWindow <= 0 {
		return nil, errors.New("config: LOGIN_MAX_FAILURES and LOGIN_FAILURE_WINDOW must be > 0")
	}
	return s, nil
}

// ParseKey decodes key material written as "hex:<digits>", "base64:<std>"
// or used as raw bytes. An empty string yields nil.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return nil, nil
	case strings.HasPrefix(s, "hex:"):
		return hex.DecodeString(strings.TrimPrefix(s, "hex:"))
	case strings.HasPrefix(s, "base64:"):
		return base64.StdEncoding.DecodeString(strings.TrimPrefix(s, "base64:"))
	default:
		return []byte(s), nil
	}
}

// cipherKeyInfo is the HKDF info label for passphrase-derived cipher keys.
const cipherKeyInfo = "authcore field cipher"

// ParseCipherKey accepts everything ParseKey does plus "derive:<passphrase>",
// which stretches the passphrase into a 256-bit AES key with HKDF.
func ParseCipherKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "derive:") {
		return ParseKey(s)
	}
	return cipher.DeriveKey([]byte(strings.TrimPrefix(s, "derive:")), cipherKeyInfo, 256)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
