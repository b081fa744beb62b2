package jwt

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod names the algorithm a Manager signs and verifies with.
type SigningMethod string

const (
	// MethodHS256 signs with HMAC-SHA256 over a shared secret.
	MethodHS256 SigningMethod = "hs256"
	// MethodHS384 signs with HMAC-SHA384 over a shared secret.
	MethodHS384 SigningMethod = "hs384"
	// MethodHS512 signs with HMAC-SHA512 over a shared secret.
	MethodHS512 SigningMethod = "hs512"
	// MethodEd25519 signs with an Ed25519 private key and verifies with the public key.
	MethodEd25519 SigningMethod = "ed25519"
)

const (
	// DefaultTTL is the lifetime applied by Encode.
	DefaultTTL = 7 * 24 * time.Hour
	// DefaultLeeway is the clock-skew tolerance used by the root configuration.
	DefaultLeeway = 5 * time.Second
	// DefaultIssuer is written to and required from every token when Config.Issuer is empty.
	DefaultIssuer = "authcore"
	// DefaultSubjectClaim is the claim that names the principal.
	DefaultSubjectClaim = "sub"

	maxLeeway = 2 * time.Minute
)

var (
	// ErrTokenInvalid covers malformed tokens, bad signatures, a missing iat and
	// issuer or audience mismatches.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired is returned only for tokens that are otherwise valid but
	// whose exp has passed beyond the leeway.
	ErrTokenExpired = errors.New("token expired")
	// ErrInvalidTTL is returned by EncodeWithTTL for a negative lifetime.
	ErrInvalidTTL = errors.New("invalid token ttl")
)

var registeredClaims = []string{"iss", "sub", "aud", "exp", "nbf", "iat", "jti"}

// Claims is the decoded or to-be-encoded claims set of a token.
type Claims map[string]any

// Custom returns a copy of c with the registered claims removed except sub
// and jti. The result is safe to pass back into Encode.
func (c Claims) Custom() Claims {
	out := make(Claims, len(c))
	for k, v := range c {
		out[k] = v
	}
	for _, k := range registeredClaims {
		if k == "sub" || k == "jti" {
			continue
		}
		delete(out, k)
	}
	return out
}

// Config defines how a Manager signs and validates tokens.
//
// Config values are read once by NewManager and treated as immutable afterwards.
type Config struct {
	DefaultTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	SubjectClaim  string
	KeyID         string
	VerifyKeys    map[string][]byte
	Now           func() time.Time
}

// Manager encodes and decodes signed tokens. It performs no I/O and is safe
// for concurrent use.
type Manager struct {
	config Config
}

// NewManager validates cfg and returns a ready Manager.
//
// A zero DefaultTTL becomes DefaultTTL, an empty Issuer becomes DefaultIssuer and
// an empty SigningMethod becomes MethodHS256. Leeway is used as given.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.DefaultTTL < 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.Leeway < 0 || cfg.Leeway > maxLeeway {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.SigningMethod == "" {
		cfg.SigningMethod = MethodHS256
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	cfg.SubjectClaim = strings.TrimSpace(cfg.SubjectClaim)
	if cfg.SubjectClaim == "" {
		cfg.SubjectClaim = DefaultSubjectClaim
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256, MethodHS384, MethodHS512:
		if len(cfg.PrivateKey) == 0 {
			return nil, fmt.Errorf("%s requires private key", cfg.SigningMethod)
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if len(key) == 0 {
				return nil, fmt.Errorf("empty verify key for kid %q", kid)
			}
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return &Manager{config: cfg}, nil
}

// DefaultTTL reports the lifetime Encode applies.
func (m *Manager) DefaultTTL() time.Duration {
	return m.config.DefaultTTL
}

// Encode signs claims with the configured default lifetime.
func (m *Manager) Encode(claims Claims) (string, error) {
	return m.EncodeWithTTL(claims, m.config.DefaultTTL)
}

// EncodeWithTTL signs claims with an explicit lifetime. A ttl of zero produces
// a token without exp that never expires; any exp supplied by the caller is
// dropped in that case. iss and iat are always set by the Manager.
func (m *Manager) EncodeWithTTL(claims Claims, ttl time.Duration) (string, error) {
	if ttl < 0 {
		return "", ErrInvalidTTL
	}

	now := m.config.Now().UTC()
	mc := make(jwt.MapClaims, len(claims)+4)
	for k, v := range claims {
		mc[k] = v
	}
	mc["iss"] = m.config.Issuer
	mc["iat"] = jwt.NewNumericDate(now)
	if ttl > 0 {
		mc["exp"] = jwt.NewNumericDate(now.Add(ttl))
	} else {
		delete(mc, "exp")
	}
	if m.config.Audience != "" {
		mc["aud"] = m.config.Audience
	}

	token := jwt.NewWithClaims(m.method(), mc)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}

	signKey, err := m.signKey()
	if err != nil {
		return "", err
	}
	return token.SignedString(signKey)
}

// Decode verifies the signature and validates the claims of tokenStr.
//
// When verifyExpiry is false the exp claim is still type-checked but its
// value is not enforced; stateful callers rely on the session record for
// lifetime. ErrTokenExpired is only reported after every other check passed.
func (m *Manager) Decode(tokenStr string, verifyExpiry bool) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithoutClaimsValidation(),
		jwt.WithJSONNumber(),
	)
	token, err := parser.ParseWithClaims(tokenStr, jwt.MapClaims{}, m.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if err := m.validate(mc, verifyExpiry); err != nil {
		return nil, err
	}
	return Claims(mc), nil
}

// Subject extracts the principal identifier from claims. String and integral
// numeric values are accepted.
func (m *Manager) Subject(claims Claims) (string, error) {
	raw, ok := claims[m.config.SubjectClaim]
	if !ok {
		return "", fmt.Errorf("%w: missing %s claim", ErrTokenInvalid, m.config.SubjectClaim)
	}

	var subject string
	switch v := raw.(type) {
	case string:
		subject = v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			subject = strconv.FormatInt(n, 10)
			break
		}
		f, err := v.Float64()
		if err != nil || f != math.Trunc(f) {
			return "", fmt.Errorf("%w: non-integral %s claim", ErrTokenInvalid, m.config.SubjectClaim)
		}
		subject = strconv.FormatFloat(f, 'f', -1, 64)
	case float64:
		if v != math.Trunc(v) {
			return "", fmt.Errorf("%w: non-integral %s claim", ErrTokenInvalid, m.config.SubjectClaim)
		}
		subject = strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		subject = strconv.Itoa(v)
	case int64:
		subject = strconv.FormatInt(v, 10)
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", fmt.Errorf("%w: empty %s claim", ErrTokenInvalid, m.config.SubjectClaim)
	}
	return subject, nil
}

// SubjectClaim reports the claim name Subject reads.
func (m *Manager) SubjectClaim() string {
	return m.config.SubjectClaim
}

func (m *Manager) validate(claims jwt.MapClaims, verifyExpiry bool) error {
	now := m.config.Now()
	leeway := m.config.Leeway

	iat, err := claims.GetIssuedAt()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if iat == nil {
		return fmt.Errorf("%w: missing iat", ErrTokenInvalid)
	}
	if iat.Time.After(now.Add(leeway)) {
		return fmt.Errorf("%w: iat in the future", ErrTokenInvalid)
	}

	iss, err := claims.GetIssuer()
	if err != nil || iss != m.config.Issuer {
		return fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
	}

	if m.config.Audience != "" {
		aud, err := claims.GetAudience()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
		found := false
		for _, a := range aud {
			if a == m.config.Audience {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
		}
	}

	nbf, err := claims.GetNotBefore()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if nbf != nil && now.Add(leeway).Before(nbf.Time) {
		return fmt.Errorf("%w: token not valid yet", ErrTokenInvalid)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if verifyExpiry && exp != nil && !now.Before(exp.Time.Add(leeway)) {
		return ErrTokenExpired
	}
	return nil
}

func (m *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != m.method().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(m.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := m.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return m.keyBytesToVerifyKey(key)
	}

	if m.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != m.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return m.verifyKey()
}

func (m *Manager) method() jwt.SigningMethod {
	switch m.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	case MethodHS384:
		return jwt.SigningMethodHS384
	case MethodHS512:
		return jwt.SigningMethodHS512
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (m *Manager) isHMAC() bool {
	return m.config.SigningMethod != MethodEd25519
}

func (m *Manager) signKey() (interface{}, error) {
	if m.isHMAC() {
		return m.config.PrivateKey, nil
	}
	if len(m.config.PrivateKey) == 0 {
		return nil, errors.New("ed25519 private key not configured")
	}
	return parseEdPrivateKey(m.config.PrivateKey)
}

func (m *Manager) verifyKey() (interface{}, error) {
	if m.isHMAC() {
		return m.config.PrivateKey, nil
	}
	return parseEdPublicKey(m.config.PublicKey)
}

func (m *Manager) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	if m.isHMAC() {
		return key, nil
	}
	return parseEdPublicKey(key)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
