package main

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/config"
	attempts "github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/MrEthical07/authcore/response"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 64 << 10

type server struct {
	engine  *authcore.Engine
	mapper  *response.Mapper
	guard   func(http.Handler) http.Handler
	limiter *ipLimiter
	// failures counts failed logins per client IP across instances.
	failures *attempts.Limiter
	metrics  http.Handler
	logger   *log.Logger
	// demoLogin mounts the credential-free /login.
	demoLogin bool
}

func newServer(engine *authcore.Engine, settings *config.Settings, failures *attempts.Limiter, logger *log.Logger) *server {
	failed := response.StatusUnauthorized
	if settings.AuthFailedStatus == http.StatusForbidden {
		failed = response.StatusForbidden
	}
	mapper := response.NewMapper(response.WithAuthenticationFailedStatus(failed))

	opts := []middleware.Option{
		middleware.WithBearer(),
		middleware.WithMapper(mapper),
		middleware.WithLogger(logger),
	}
	if settings.StatelessFallback && engine.Mode() == authcore.ModeStateful {
		opts = append(opts, middleware.WithFallback(engine.Gate(authcore.ModeStateless)))
	}

	return &server{
		engine:    engine,
		mapper:    mapper,
		guard:     middleware.Guard(engine, opts...),
		limiter:   newIPLimiter(rate.Limit(settings.LoginRate), settings.LoginBurst),
		failures:  failures,
		metrics:   prometheus.NewCollector(engine).Handler(),
		logger:    logger,
		demoLogin: settings.DemoLogin,
	}
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		response.Success(w, map[string]string{"status": "ok", "mode": s.engine.Mode().String()})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics).Methods(http.MethodGet)

	if s.demoLogin {
		r.Handle("/login", s.limiter.Limit(http.HandlerFunc(s.login))).Methods(http.MethodPost)
	}
	r.HandleFunc("/refresh", s.refresh).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.logout).Methods(http.MethodPost)

	r.Handle("/me", s.guard(http.HandlerFunc(s.me))).Methods(http.MethodGet)
	r.Handle("/session", s.guard(http.HandlerFunc(s.updateSession))).Methods(http.MethodPatch)
	r.Handle("/session/extend", s.guard(http.HandlerFunc(s.extendSession))).Methods(http.MethodPost)
	r.Handle("/principals/{id}/invalidate", s.guard(http.HandlerFunc(s.invalidate))).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, response.StatusNotFound, "", nil)
	})
	return r
}

type loginRequest struct {
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data"`
	Extra map[string]any  `json:"extra"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// login issues a token for any principal id the store knows. No credential
// is checked, so it is only mounted with DEMO_LOGIN.
func (s *server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" {
		response.JSON(w, response.StatusValidation, "id is required", nil)
		return
	}

	ip := remoteIP(r)
	failKey := "login:" + ip
	if err := s.failures.Check(r.Context(), failKey); err != nil {
		if errors.Is(err, attempts.ErrRateLimited) {
			response.JSON(w, response.StatusRateLimited, "too many failed logins", nil)
			return
		}
		// counting is best effort; a cache outage must not block logins
		s.logger.Printf("login throttle: %v", err)
	}

	ctx := authcore.WithUserAgent(authcore.WithClientIP(r.Context(), ip), r.UserAgent())
	var payload any
	if len(req.Data) > 0 {
		payload = req.Data
	}
	token, err := s.engine.Login(ctx, req.ID, payload, req.Extra)
	if err != nil {
		if errors.Is(err, authcore.ErrPrincipalNotFound) {
			if err := s.failures.Hit(r.Context(), failKey); err != nil && !errors.Is(err, attempts.ErrRateLimited) {
				s.logger.Printf("login throttle: %v", err)
			}
			response.JSON(w, response.StatusUnauthorized, "unknown principal", nil)
			return
		}
		s.fail(w, "login", err)
		return
	}
	if err := s.failures.Reset(r.Context(), failKey); err != nil {
		s.logger.Printf("login throttle: %v", err)
	}
	response.Success(w, tokenResponse{Token: token})
}

func (s *server) refresh(w http.ResponseWriter, r *http.Request) {
	token, err := s.engine.Refresh(r.Context(), bearerToken(r))
	if err != nil {
		s.fail(w, "refresh", err)
		return
	}
	response.Success(w, tokenResponse{Token: token})
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		s.mapper.Error(w, authcore.ErrNotAuthenticated)
		return
	}
	if err := s.engine.Logout(r.Context(), token); err != nil {
		s.fail(w, "logout", err)
		return
	}
	response.Success(w, nil)
}

type meResponse struct {
	Principal authcore.Principal `json:"principal"`
	Mode      string             `json:"mode"`
	Session   any                `json:"session,omitempty"`
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.ResultFromContext(r.Context())
	out := meResponse{Principal: res.Principal, Mode: res.Mode.String()}
	if res.Session != nil {
		out.Session = res.Session
	}
	response.Success(w, out)
}

type sessionRequest struct {
	Data  json.RawMessage `json:"data"`
	Extra map[string]any  `json:"extra"`
}

func (s *server) updateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, _ := middleware.ResultFromContext(r.Context())

	var payload any
	if len(req.Data) > 0 {
		payload = req.Data
	}
	rec, err := s.engine.UpdateSession(r.Context(), res.Token, payload, req.Extra)
	if err != nil {
		s.fail(w, "update session", err)
		return
	}
	response.Success(w, rec)
}

func (s *server) extendSession(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.ResultFromContext(r.Context())
	if err := s.engine.ExtendSession(r.Context(), res.Token); err != nil {
		s.fail(w, "extend session", err)
		return
	}
	response.Success(w, nil)
}

func (s *server) invalidate(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.ResultFromContext(r.Context())
	id := mux.Vars(r)["id"]
	if res.Principal.ID != id {
		response.JSON(w, response.StatusForbidden, "principals may only invalidate their own sessions", nil)
		return
	}
	n, err := s.engine.InvalidatePrincipal(r.Context(), id)
	if err != nil {
		s.fail(w, "invalidate principal", err)
		return
	}
	response.Success(w, map[string]int{"invalidated": n})
}

// fail writes err through the mapper. Session misses outside the gate are
// reported as 404; internal failures are logged since the body hides them.
func (s *server) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, authcore.ErrSessionStoreRequired):
		response.JSON(w, response.StatusBadRequest, "sessions are disabled in stateless mode", nil)
		return
	case errors.Is(err, authcore.ErrSessionNotFound) && authcore.KindOf(err) == authcore.KindInternal:
		response.JSON(w, response.StatusNotFound, "session not found", nil)
		return
	}
	if kind := authcore.KindOf(err); kind == authcore.KindInternal || kind == authcore.KindCacheUnavailable {
		s.logger.Printf("%s: %v", op, err)
	}
	s.mapper.Error(w, err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		response.JSON(w, response.StatusBadRequest, "malformed JSON body", nil)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get(middleware.DefaultHeader))
	const prefix = "bearer "
	if len(h) >= len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return h
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ipLimiter is a token bucket per client IP. Idle buckets are swept on
// access once a minute.
type ipLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu        sync.Mutex
	buckets   map[string]*ipBucket
	lastSweep time.Time
}

type ipBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{
		limit:     limit,
		burst:     burst,
		idle:      5 * time.Minute,
		buckets:   make(map[string]*ipBucket),
		lastSweep: time.Now(),
	}
}

func (l *ipLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > time.Minute {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > l.idle {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[ip]
	if !ok {
		b = &ipBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// Limit rejects requests over the per-IP budget with 429.
func (l *ipLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(remoteIP(r), time.Now()) {
			response.JSON(w, response.StatusRateLimited, "", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
