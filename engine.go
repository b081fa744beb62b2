package authcore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authcore/cipher"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/session"
	"github.com/google/uuid"
)

// Engine ties the token codec, session store, field cipher and principal
// store together. Construct it with New().Build().
type Engine struct {
	config     Config
	tokens     *jwt.Manager
	tokenTTL   time.Duration
	sessions   *session.Store
	fields     *cipher.FieldCodec
	principals PrincipalStore
	stateless  *StatelessGate
	stateful   *StatefulGate
	logger     *log.Logger
	metrics    *Metrics
	audit      *auditDispatcher
	closed     atomic.Bool
}

// LoginOption adjusts a single Login call.
type LoginOption func(*loginOptions)

type loginOptions struct {
	claims jwt.Claims
	ttl    time.Duration
	ttlSet bool
}

// WithClaims adds custom claims to the issued token. The subject and jti
// claims are always set by the Engine.
func WithClaims(claims map[string]any) LoginOption {
	return func(o *loginOptions) {
		if o.claims == nil {
			o.claims = make(jwt.Claims, len(claims))
		}
		for k, v := range claims {
			o.claims[k] = v
		}
	}
}

// WithTokenTTL overrides the token lifetime. Zero issues a token without exp.
func WithTokenTTL(ttl time.Duration) LoginOption {
	return func(o *loginOptions) {
		o.ttl = ttl
		o.ttlSet = true
	}
}

// Close stops the audit dispatcher. The Engine rejects further calls.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closed.Store(true)
	e.audit.Close()
}

// AuditDropped reports audit events dropped because the buffer was full or
// the caller's context ended while waiting for room.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}, Histograms: map[MetricID][]uint64{}}
	}
	return e.metrics.Snapshot()
}

// Mode reports the configured verification mode.
func (e *Engine) Mode() Mode {
	return e.config.Mode
}

// Tokens exposes the token manager for callers that encode or decode
// outside the login flow.
func (e *Engine) Tokens() *jwt.Manager {
	return e.tokens
}

// Sessions exposes the session store, or nil when no backend was configured.
func (e *Engine) Sessions() *session.Store {
	return e.sessions
}

func (e *Engine) ready() error {
	if e == nil || e.closed.Load() {
		return ErrEngineNotReady
	}
	return nil
}

// Login issues a token for an already-verified principal and, when a session
// backend is configured, saves payload and extra as its session record.
//
// Credential checking is the caller's job. Login only confirms that the
// principal exists.
func (e *Engine) Login(ctx context.Context, principalID string, payload any, extra map[string]any, opts ...LoginOption) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}

	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		e.metrics.Inc(MetricLoginFailure)
		return "", fmt.Errorf("%w: empty principal id", ErrPrincipalNotFound)
	}
	if _, err := e.principals.FindPrincipalByID(ctx, principalID); err != nil {
		e.metrics.Inc(MetricLoginFailure)
		e.audit.Emit(ctx, AuditEvent{EventType: AuditLoginFailure, PrincipalID: principalID, Error: err.Error()})
		return "", err
	}

	var o loginOptions
	for _, opt := range opts {
		opt(&o)
	}
	claims := make(jwt.Claims, len(o.claims)+2)
	for k, v := range o.claims {
		claims[k] = v
	}
	claims[e.tokens.SubjectClaim()] = principalID
	claims["jti"] = uuid.NewString()

	ttl := e.tokenTTL
	if o.ttlSet {
		ttl = o.ttl
	}
	token, err := e.tokens.EncodeWithTTL(claims, ttl)
	if err != nil {
		e.metrics.Inc(MetricLoginFailure)
		return "", err
	}

	if e.sessions != nil {
		if err := e.sessions.Save(ctx, token, payload, extra, session.WithPrincipal(principalID)); err != nil {
			e.metrics.Inc(MetricLoginFailure)
			e.noteBackendError(err)
			return "", err
		}
		e.metrics.Inc(MetricSessionCreated)
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.audit.Emit(ctx, AuditEvent{EventType: AuditLogin, PrincipalID: principalID, TokenID: tokenID(claims), Success: true})
	return token, nil
}

// Authenticate resolves header using the configured mode.
func (e *Engine) Authenticate(ctx context.Context, header string) (*Result, error) {
	return e.authenticate(ctx, header, e.config.Mode)
}

// Gate returns an Authenticator bound to mode, for routes that need a
// different mode than the default.
func (e *Engine) Gate(mode Mode) Authenticator {
	return modeGate{engine: e, mode: mode}
}

type modeGate struct {
	engine *Engine
	mode   Mode
}

func (g modeGate) Authenticate(ctx context.Context, header string) (*Result, error) {
	return g.engine.authenticate(ctx, header, g.mode)
}

func (e *Engine) authenticate(ctx context.Context, header string, mode Mode) (*Result, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	var gate Authenticator
	switch mode {
	case ModeStateless:
		gate = e.stateless
	case ModeStateful:
		if e.stateful == nil {
			return nil, ErrSessionStoreRequired
		}
		gate = e.stateful
	default:
		return nil, fmt.Errorf("unknown verification mode %d", mode)
	}

	start := time.Now()
	res, err := gate.Authenticate(ctx, header)
	e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
	e.recordAuthOutcome(ctx, err)
	return res, err
}

func (e *Engine) recordAuthOutcome(ctx context.Context, err error) {
	kind := KindOf(err)
	switch kind {
	case KindNone:
		e.metrics.Inc(MetricAuthenticateSuccess)
		return
	case KindNotAuthenticated:
		e.metrics.Inc(MetricAuthenticateNotAuthenticated)
		return
	case KindCacheUnavailable:
		e.metrics.Inc(MetricCacheUnavailable)
	case KindTokenExpired:
		e.metrics.Inc(MetricTokenExpired)
	case KindTokenInvalid:
		e.metrics.Inc(MetricTokenInvalid)
	}
	if errors.Is(err, ErrSessionNotFound) {
		e.metrics.Inc(MetricSessionMiss)
	}
	e.metrics.Inc(MetricAuthenticateFailure)
	e.audit.Emit(ctx, AuditEvent{
		EventType: AuditAuthenticationFailed,
		Error:     err.Error(),
		Metadata:  map[string]string{"kind": kind.String()},
	})
}

// Session returns the session record for token.
func (e *Engine) Session(ctx context.Context, token string) (*session.Record, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.sessions == nil {
		return nil, ErrSessionStoreRequired
	}
	rec, err := e.sessions.Get(ctx, strings.TrimSpace(token))
	if err != nil {
		return nil, e.sessionError(err)
	}
	return rec, nil
}

// UpdateSession merges payload and extra into the session for token while
// keeping its remaining TTL. It never creates a session: an absent token
// fails with ErrSessionNotFound.
func (e *Engine) UpdateSession(ctx context.Context, token string, payload any, extra map[string]any, opts ...session.Option) (*session.Record, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.sessions == nil {
		return nil, ErrSessionStoreRequired
	}
	rec, err := e.sessions.Update(ctx, strings.TrimSpace(token), payload, extra, opts...)
	if err != nil {
		return nil, e.sessionError(err)
	}
	e.metrics.Inc(MetricSessionUpdated)
	e.audit.Emit(ctx, AuditEvent{EventType: AuditSessionUpdate, TokenID: e.peekTokenID(token), Success: true})
	return rec, nil
}

// ExtendSession restarts the full session TTL for token.
func (e *Engine) ExtendSession(ctx context.Context, token string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.sessions == nil {
		return ErrSessionStoreRequired
	}
	if err := e.sessions.Touch(ctx, strings.TrimSpace(token)); err != nil {
		return e.sessionError(err)
	}
	return nil
}

// Refresh issues a replacement for token carrying the same custom claims
// and a fresh lifetime. When a session exists it moves to the new token and
// the old token stops working.
//
// In stateful mode the session must exist and the old token's exp is not
// checked. In stateless mode the old token must be unexpired.
func (e *Engine) Refresh(ctx context.Context, token string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	newToken, principalID, err := e.refresh(ctx, token)
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		e.noteBackendError(err)
		e.audit.Emit(ctx, AuditEvent{EventType: AuditRefresh, PrincipalID: principalID, Error: err.Error()})
		return "", err
	}
	e.metrics.Inc(MetricRefreshSuccess)
	e.audit.Emit(ctx, AuditEvent{EventType: AuditRefresh, PrincipalID: principalID, TokenID: e.peekTokenID(newToken), Success: true})
	return newToken, nil
}

func (e *Engine) refresh(ctx context.Context, raw string) (string, string, error) {
	token, err := ExtractToken(raw)
	if err != nil {
		return "", "", err
	}
	stateful := e.config.Mode == ModeStateful

	var rec *session.Record
	if e.sessions != nil {
		rec, err = e.sessions.Get(ctx, token)
		switch {
		case err == nil:
		case errors.Is(err, session.ErrNotFound):
			if stateful {
				return "", "", fmt.Errorf("%w: %w", ErrAuthenticationFailed, ErrSessionNotFound)
			}
		default:
			return "", "", err
		}
	}

	claims, err := e.tokens.Decode(token, !stateful)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	principal, err := resolvePrincipal(ctx, e.tokens, e.principals, claims)
	if err != nil {
		return "", "", err
	}

	next := claims.Custom()
	next[e.tokens.SubjectClaim()] = principal.ID
	next["jti"] = uuid.NewString()
	ttl := e.tokenTTL
	if _, ok := claims["exp"]; !ok {
		ttl = 0
	}
	newToken, err := e.tokens.EncodeWithTTL(next, ttl)
	if err != nil {
		return "", principal.ID, err
	}

	if rec != nil {
		if err := e.sessions.Save(ctx, newToken, rec.Data, rec.Extra, session.WithPrincipal(principal.ID)); err != nil {
			return "", principal.ID, err
		}
		if err := e.sessions.Delete(ctx, token); err != nil {
			if cleanupErr := e.sessions.Delete(ctx, newToken); cleanupErr != nil {
				e.logger.Printf("authcore: refresh cleanup failed: %v", cleanupErr)
			}
			return "", principal.ID, err
		}
	}
	return newToken, principal.ID, nil
}

// Logout deletes the session for token. Logging out an unknown token is not
// an error.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.sessions == nil {
		return ErrSessionStoreRequired
	}
	token = strings.TrimSpace(token)
	if err := e.sessions.Delete(ctx, token); err != nil {
		e.noteBackendError(err)
		return err
	}
	e.metrics.Inc(MetricLogout)
	e.audit.Emit(ctx, AuditEvent{EventType: AuditLogout, TokenID: e.peekTokenID(token), Success: true})
	return nil
}

// InvalidatePrincipal deletes every session issued to principalID. Call it
// when the principal is deleted or deactivated.
func (e *Engine) InvalidatePrincipal(ctx context.Context, principalID string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if e.sessions == nil {
		return 0, ErrSessionStoreRequired
	}
	n, err := e.sessions.InvalidatePrincipal(ctx, principalID)
	if err != nil {
		e.noteBackendError(err)
		return 0, err
	}
	e.metrics.Inc(MetricPrincipalInvalidated)
	e.audit.Emit(ctx, AuditEvent{
		EventType:   AuditPrincipalInvalidated,
		PrincipalID: principalID,
		Success:     true,
		Metadata:    map[string]string{"sessions": fmt.Sprint(n)},
	})
	return n, nil
}

// FieldCodec returns the configured field codec, or nil when no cipher key
// was configured.
func (e *Engine) FieldCodec() *cipher.FieldCodec {
	return e.fields
}

// SealField encrypts a value for storage. Already sealed values pass
// through unchanged.
func (e *Engine) SealField(value string) (string, error) {
	if e.fields == nil {
		return "", ErrCipherNotConfigured
	}
	out, err := e.fields.Seal(value)
	if err == nil {
		e.metrics.Inc(MetricFieldSealed)
	}
	return out, err
}

// OpenField decrypts a stored value. Untagged legacy values are opened
// through the migration fallbacks.
func (e *Engine) OpenField(stored string) (string, error) {
	if e.fields == nil {
		return "", ErrCipherNotConfigured
	}
	out, err := e.fields.Open(stored)
	if err == nil {
		e.metrics.Inc(MetricFieldOpened)
	}
	return out, err
}

func (e *Engine) sessionError(err error) error {
	if errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrSessionNotFound, err)
	}
	e.noteBackendError(err)
	return err
}

func (e *Engine) noteBackendError(err error) {
	if errors.Is(err, ErrCacheUnavailable) {
		e.metrics.Inc(MetricCacheUnavailable)
	}
}

func (e *Engine) noteFallback(kind cipher.FallbackKind) {
	switch kind {
	case cipher.FallbackRawCBC:
		e.metrics.Inc(MetricFieldFallbackRawCBC)
	case cipher.FallbackLegacyECB:
		e.metrics.Inc(MetricFieldFallbackLegacyECB)
	case cipher.FallbackPlaintext:
		e.metrics.Inc(MetricFieldFallbackPlaintext)
	}
}

// peekTokenID reads jti for audit records without enforcing expiry.
func (e *Engine) peekTokenID(token string) string {
	if e.audit == nil {
		return ""
	}
	claims, err := e.tokens.Decode(strings.TrimSpace(token), false)
	if err != nil {
		return ""
	}
	return tokenID(claims)
}

func tokenID(claims jwt.Claims) string {
	id, _ := claims["jti"].(string)
	return id
}
