package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/session"
)

// Authenticator resolves the raw value of the credential header to a
// principal.
//
// An empty header fails with ErrNotAuthenticated. A presented credential
// that cannot be resolved fails with ErrAuthenticationFailed wrapping the
// cause. A session backend outage fails with ErrCacheUnavailable.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) (*Result, error)
}

// ExtractToken trims surrounding whitespace from a raw header value. The
// token travels without a scheme prefix.
func ExtractToken(header string) (string, error) {
	token := strings.TrimSpace(header)
	if token == "" {
		return "", ErrNotAuthenticated
	}
	return token, nil
}

// StatelessGate trusts the token alone: signature, claims and expiry.
type StatelessGate struct {
	tokens     *jwt.Manager
	principals PrincipalStore
}

// NewStatelessGate returns a gate verifying with tokens and resolving
// subjects through principals.
func NewStatelessGate(tokens *jwt.Manager, principals PrincipalStore) (*StatelessGate, error) {
	if tokens == nil {
		return nil, errors.New("stateless gate requires a token manager")
	}
	if principals == nil {
		return nil, errors.New("stateless gate requires a principal store")
	}
	return &StatelessGate{tokens: tokens, principals: principals}, nil
}

// Authenticate implements Authenticator.
func (g *StatelessGate) Authenticate(ctx context.Context, header string) (*Result, error) {
	token, err := ExtractToken(header)
	if err != nil {
		return nil, err
	}

	claims, err := g.tokens.Decode(token, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	principal, err := resolvePrincipal(ctx, g.tokens, g.principals, claims)
	if err != nil {
		return nil, err
	}

	return &Result{Principal: principal, Token: token, Claims: claims, Mode: ModeStateless}, nil
}

// StatefulGate requires a live session record for the token. The record's
// TTL is authoritative, so the token's own exp is not re-checked.
type StatefulGate struct {
	tokens     *jwt.Manager
	sessions   *session.Store
	principals PrincipalStore
}

// NewStatefulGate returns a gate that consults sessions before the token.
func NewStatefulGate(tokens *jwt.Manager, sessions *session.Store, principals PrincipalStore) (*StatefulGate, error) {
	if tokens == nil {
		return nil, errors.New("stateful gate requires a token manager")
	}
	if sessions == nil {
		return nil, errors.New("stateful gate requires a session store")
	}
	if principals == nil {
		return nil, errors.New("stateful gate requires a principal store")
	}
	return &StatefulGate{tokens: tokens, sessions: sessions, principals: principals}, nil
}

// Authenticate implements Authenticator.
func (g *StatefulGate) Authenticate(ctx context.Context, header string) (*Result, error) {
	token, err := ExtractToken(header)
	if err != nil {
		return nil, err
	}

	rec, err := g.sessions.Get(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, ErrSessionNotFound)
		case errors.Is(err, session.ErrCorruptRecord):
			return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
		default:
			return nil, err
		}
	}

	claims, err := g.tokens.Decode(token, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	principal, err := resolvePrincipal(ctx, g.tokens, g.principals, claims)
	if err != nil {
		return nil, err
	}

	return &Result{Principal: principal, Token: token, Claims: claims, Session: rec, Mode: ModeStateful}, nil
}

func resolvePrincipal(ctx context.Context, tokens *jwt.Manager, principals PrincipalStore, claims jwt.Claims) (Principal, error) {
	subject, err := tokens.Subject(claims)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}

	principal, err := principals.FindPrincipalByID(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return Principal{}, fmt.Errorf("%w: %w", ErrAuthenticationFailed, ErrPrincipalNotFound)
		}
		return Principal{}, fmt.Errorf("find principal %q: %w", subject, err)
	}
	if principal.ID == "" {
		principal.ID = subject
	}
	return principal, nil
}
