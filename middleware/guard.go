package middleware

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/response"
)

// DefaultHeader carries the raw token.
const DefaultHeader = "Authorization"

type resultContextKey struct{}

// ResultFromContext returns the result stored by a guard.
func ResultFromContext(ctx context.Context) (*authcore.Result, bool) {
	res, ok := ctx.Value(resultContextKey{}).(*authcore.Result)
	return res, ok
}

// Option configures a guard.
type Option func(*guardConfig)

type guardConfig struct {
	header   string
	bearer   bool
	fallback authcore.Authenticator
	mapper   *response.Mapper
	logger   *log.Logger
}

// WithHeader reads the token from name instead of DefaultHeader.
func WithHeader(name string) Option {
	return func(c *guardConfig) {
		c.header = name
	}
}

// WithBearer strips an optional "Bearer " scheme before authenticating.
func WithBearer() Option {
	return func(c *guardConfig) {
		c.bearer = true
	}
}

// WithFallback retries with fallback when the primary Authenticator reports
// ErrCacheUnavailable, typically a stateless gate behind a stateful one.
func WithFallback(fallback authcore.Authenticator) Option {
	return func(c *guardConfig) {
		c.fallback = fallback
	}
}

// WithMapper renders failures with m instead of response.DefaultMapper.
func WithMapper(m *response.Mapper) Option {
	return func(c *guardConfig) {
		c.mapper = m
	}
}

// WithLogger sets the logger used for fallback notices.
func WithLogger(l *log.Logger) Option {
	return func(c *guardConfig) {
		c.logger = l
	}
}

// Guard returns middleware that rejects requests auth cannot resolve.
func Guard(auth authcore.Authenticator, opts ...Option) func(http.Handler) http.Handler {
	cfg := guardConfig{
		header: DefaultHeader,
		mapper: response.DefaultMapper,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				cfg.mapper.Error(w, authcore.ErrEngineNotReady)
				return
			}

			ctx := authcore.WithUserAgent(authcore.WithClientIP(r.Context(), clientIP(r)), r.UserAgent())
			header := r.Header.Get(cfg.header)
			if cfg.bearer {
				header = stripBearer(header)
			}

			res, err := auth.Authenticate(ctx, header)
			if err != nil && cfg.fallback != nil && errors.Is(err, authcore.ErrCacheUnavailable) {
				cfg.logger.Printf("authcore: session cache unavailable, using fallback: %v", err)
				res, err = cfg.fallback.Authenticate(ctx, header)
			}
			if err != nil {
				cfg.mapper.Error(w, err)
				return
			}

			ctx = context.WithValue(ctx, resultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireStateless authenticates with the engine's stateless gate.
func RequireStateless(engine *authcore.Engine, opts ...Option) func(http.Handler) http.Handler {
	return Guard(engine.Gate(authcore.ModeStateless), opts...)
}

// RequireStateful authenticates with the engine's stateful gate.
func RequireStateful(engine *authcore.Engine, opts ...Option) func(http.Handler) http.Handler {
	return Guard(engine.Gate(authcore.ModeStateful), opts...)
}

func stripBearer(value string) string {
	value = strings.TrimSpace(value)
	const bearer = "bearer "
	if len(value) >= len(bearer) && strings.EqualFold(value[:len(bearer)], bearer) {
		return value[len(bearer):]
	}
	return value
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
