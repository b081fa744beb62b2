package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultPrefix namespaces every key written by a Store.
	DefaultPrefix = "authcore"
	// DefaultTTL is the session lifetime applied by Save.
	DefaultTTL = 7 * 24 * time.Hour
)

// ErrEmptyToken is returned when an operation is given an empty token.
var ErrEmptyToken = errors.New("session token is empty")

// Config configures a Store.
type Config struct {
	Prefix string
	TTL    time.Duration
}

// Store maps tokens to session records on top of a Backend.
//
//	Keys: <prefix>:s:<token> for records, <prefix>:p:<principal> for the index.
type Store struct {
	backend Backend
	indexer Indexer
	prefix  string
	ttl     time.Duration
}

// Option adjusts a single Save or Update call.
type Option func(*options)

type options struct {
	principal string
	ttl       time.Duration
	ttlSet    bool
}

// WithPrincipal records the token under principal so InvalidatePrincipal can
// find it. Only used by Save.
func WithPrincipal(id string) Option {
	return func(o *options) { o.principal = strings.TrimSpace(id) }
}

// WithTTL overrides the lifetime written by Save or Update. Zero stores the
// record without expiry.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
		o.ttlSet = true
	}
}

// NewStore returns a Store writing through backend. An empty prefix becomes
// DefaultPrefix and a zero TTL becomes DefaultTTL.
func NewStore(backend Backend, cfg Config) (*Store, error) {
	if backend == nil {
		return nil, errors.New("session store requires a backend")
	}
	if cfg.TTL < 0 {
		return nil, errors.New("invalid session TTL")
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	prefix := strings.TrimSuffix(strings.TrimSpace(cfg.Prefix), ":")
	if prefix == "" {
		prefix = DefaultPrefix
	}

	s := &Store{backend: backend, prefix: prefix, ttl: cfg.TTL}
	if ix, ok := backend.(Indexer); ok {
		s.indexer = ix
	}
	return s, nil
}

// TTL reports the lifetime Save applies.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

func (s *Store) key(token string) string {
	return s.prefix + ":s:" + token
}

func (s *Store) principalKey(id string) string {
	return s.prefix + ":p:" + id
}

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Save writes {extra..., data: payload, token: token} under token with the
// configured TTL, overwriting any existing record.
func (s *Store) Save(ctx context.Context, token string, payload any, extra map[string]any, opts ...Option) error {
	if token == "" {
		return ErrEmptyToken
	}
	o := collect(opts)
	ttl := s.ttl
	if o.ttlSet {
		ttl = o.ttl
	}
	if ttl < 0 {
		return errors.New("invalid session TTL")
	}

	data, err := encodePayload(payload)
	if err != nil {
		return err
	}
	rec := Record{Token: token, Data: data, Extra: copyExtra(extra)}
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}

	if o.principal == "" {
		return s.backend.Set(ctx, s.key(token), blob, ttl)
	}
	if s.indexer == nil {
		return ErrIndexUnsupported
	}
	return s.indexer.SetIndexed(ctx, s.key(token), blob, ttl, s.principalKey(o.principal), token)
}

// Get returns the record for token or ErrNotFound.
func (s *Store) Get(ctx context.Context, token string) (*Record, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	blob, err := s.backend.Get(ctx, s.key(token))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(blob, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return &rec, nil
}

// Update merges into an existing record and never creates one.
//
// extra is shallow-merged over the stored metadata. A nil payload keeps the
// stored data; an object payload is shallow-merged over an object; anything
// else replaces it. The record keeps its remaining TTL unless WithTTL is
// given. Returns ErrNotFound when there is nothing to update.
func (s *Store) Update(ctx context.Context, token string, payload any, extra map[string]any, opts ...Option) (*Record, error) {
	current, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}

	o := collect(opts)
	ttl := o.ttl
	if !o.ttlSet {
		remaining, err := s.backend.TTL(ctx, s.key(token))
		if err != nil {
			return nil, err
		}
		switch {
		case remaining == NoExpiry:
			ttl = 0
		case remaining <= 0:
			// in its last millisecond; a zero TTL would drop the expiry
			return nil, ErrNotFound
		default:
			ttl = remaining
		}
	}
	if ttl < 0 {
		return nil, errors.New("invalid session TTL")
	}

	next, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	merged := &Record{Token: token, Data: current.Data, Extra: copyExtra(current.Extra)}
	for k, v := range extra {
		merged.Extra[k] = v
	}
	delete(merged.Extra, "data")
	delete(merged.Extra, "token")
	if next != nil {
		if merged.Data, err = mergeData(current.Data, next); err != nil {
			return nil, fmt.Errorf("merge session payload: %w", err)
		}
	}

	blob, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode session record: %w", err)
	}
	if err := s.backend.Replace(ctx, s.key(token), blob, ttl); err != nil {
		return nil, err
	}
	return merged, nil
}

// Delete removes the record for token. Deleting an absent token is not an error.
func (s *Store) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.backend.Delete(ctx, s.key(token))
}

// Touch restarts the full TTL of an existing record.
func (s *Store) Touch(ctx context.Context, token string) error {
	if token == "" {
		return ErrNotFound
	}
	blob, err := s.backend.Get(ctx, s.key(token))
	if err != nil {
		return err
	}
	return s.backend.Replace(ctx, s.key(token), blob, s.ttl)
}

// Remaining reports the remaining lifetime of token's record, NoExpiry, or
// ErrNotFound.
func (s *Store) Remaining(ctx context.Context, token string) (time.Duration, error) {
	if token == "" {
		return 0, ErrNotFound
	}
	return s.backend.TTL(ctx, s.key(token))
}

// Tokens lists the tokens indexed for principal. Entries may refer to
// records that have since expired or been deleted.
func (s *Store) Tokens(ctx context.Context, principal string) ([]string, error) {
	if s.indexer == nil {
		return nil, ErrIndexUnsupported
	}
	return s.indexer.Members(ctx, s.principalKey(principal))
}

// InvalidatePrincipal deletes every session saved WithPrincipal(principal)
// and the index itself. It returns the number of indexed tokens.
//
// ATOMICITY NOTE: the index is read and then deleted in a second call. A
// session saved for the same principal in between survives; callers that
// disable the principal first close that window.
func (s *Store) InvalidatePrincipal(ctx context.Context, principal string) (int, error) {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return 0, errors.New("principal id is empty")
	}
	tokens, err := s.Tokens(ctx, principal)
	if err != nil {
		return 0, err
	}

	keys := make([]string, 0, len(tokens)+1)
	for _, tok := range tokens {
		keys = append(keys, s.key(tok))
	}
	keys = append(keys, s.principalKey(principal))
	if err := s.backend.Delete(ctx, keys...); err != nil {
		return 0, err
	}
	return len(tokens), nil
}

func copyExtra(extra map[string]any) map[string]any {
	out := make(map[string]any, len(extra))
	for k, v := range extra {
		out[k] = v
	}
	return out
}
