package authcore

import (
	"context"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/session"
)

// Mode selects how requests are verified.
type Mode int

const (
	// ModeStateless verifies the token signature and expiry only.
	ModeStateless Mode = iota
	// ModeStateful additionally requires a live session record for the token.
	ModeStateful
)

func (m Mode) String() string {
	switch m {
	case ModeStateless:
		return "stateless"
	case ModeStateful:
		return "stateful"
	default:
		return "unknown"
	}
}

// ParseMode maps "stateless" and "stateful" to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "stateless", "jwt":
		return ModeStateless, true
	case "stateful", "session":
		return ModeStateful, true
	default:
		return 0, false
	}
}

// Principal is an identity resolved from a token. The core never creates or
// modifies principals.
type Principal struct {
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// PrincipalStore resolves principals by identifier. Implementations return
// an error wrapping ErrPrincipalNotFound for unknown or inactive ids.
type PrincipalStore interface {
	FindPrincipalByID(ctx context.Context, id string) (Principal, error)
}

// PrincipalStoreFunc adapts a function to PrincipalStore.
type PrincipalStoreFunc func(ctx context.Context, id string) (Principal, error)

// FindPrincipalByID implements PrincipalStore.
func (f PrincipalStoreFunc) FindPrincipalByID(ctx context.Context, id string) (Principal, error) {
	return f(ctx, id)
}

// Result is the outcome of a successful authentication.
//
// Session is nil in stateless mode.
type Result struct {
	Principal Principal
	Token     string
	Claims    jwt.Claims
	Session   *session.Record
	Mode      Mode
}
