package authcore

import (
	"errors"

	"github.com/MrEthical07/authcore/cipher"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/session"
)

var (
	// ErrNotAuthenticated is returned when no credential was presented.
	ErrNotAuthenticated = errors.New("authentication credentials were not provided")
	// ErrAuthenticationFailed is returned when a presented credential does not
	// resolve to a principal. It wraps the specific cause.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrSessionNotFound is wrapped by ErrAuthenticationFailed when the session
	// record is absent.
	ErrSessionNotFound = errors.New("session not found or expired")
	// ErrPrincipalNotFound is returned by PrincipalStore implementations and
	// wrapped by ErrAuthenticationFailed.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrEngineNotReady is returned by methods called on a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrSessionStoreRequired is returned by session operations when no
	// backend was configured.
	ErrSessionStoreRequired = errors.New("session store not configured")
	// ErrCipherNotConfigured is returned by field operations without a cipher key.
	ErrCipherNotConfigured = errors.New("field cipher not configured")

	// ErrTokenInvalid covers malformed tokens and signature or claim failures.
	ErrTokenInvalid = jwt.ErrTokenInvalid
	// ErrTokenExpired is returned for tokens that are valid apart from exp.
	ErrTokenExpired = jwt.ErrTokenExpired
	// ErrCrypto covers field cipher key and ciphertext failures.
	ErrCrypto = cipher.ErrCrypto
	// ErrCacheUnavailable is returned when the session backend cannot be reached.
	ErrCacheUnavailable = session.ErrCacheUnavailable
)

// Kind classifies an error for the boundary that renders it.
type Kind int

const (
	// KindNone is the classification of a nil error.
	KindNone Kind = iota
	KindNotAuthenticated
	KindTokenInvalid
	KindTokenExpired
	KindAuthenticationFailed
	KindCrypto
	KindCacheUnavailable
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotAuthenticated:
		return "not_authenticated"
	case KindTokenInvalid:
		return "token_invalid"
	case KindTokenExpired:
		return "token_expired"
	case KindAuthenticationFailed:
		return "authentication_failed"
	case KindCrypto:
		return "crypto"
	case KindCacheUnavailable:
		return "cache_unavailable"
	default:
		return "internal"
	}
}

// KindOf returns the most specific Kind matching err. An expired or invalid
// token wrapped in ErrAuthenticationFailed reports the token kind.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotAuthenticated):
		return KindNotAuthenticated
	case errors.Is(err, ErrCacheUnavailable):
		return KindCacheUnavailable
	case errors.Is(err, ErrTokenExpired):
		return KindTokenExpired
	case errors.Is(err, ErrTokenInvalid):
		return KindTokenInvalid
	case errors.Is(err, ErrAuthenticationFailed):
		return KindAuthenticationFailed
	case errors.Is(err, ErrCrypto):
		return KindCrypto
	default:
		return KindInternal
	}
}
