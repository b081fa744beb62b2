package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/response"
	"github.com/MrEthical07/authcore/session"
)

type stubAuth struct {
	res    *authcore.Result
	err    error
	header string
}

func (s *stubAuth) Authenticate(ctx context.Context, header string) (*authcore.Result, error) {
	s.header = header
	return s.res, s.err
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, ok := ResultFromContext(r.Context())
		if !ok {
			t.Fatal("expected result in context")
		}
		response.Success(w, map[string]string{"id": res.Principal.ID})
	})
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) response.Body {
	t.Helper()
	var body response.Body
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body
}

func newEngine(t *testing.T) *authcore.Engine {
	t.Helper()
	cfg := authcore.DefaultConfig()
	cfg.Token.SigningKey = []byte("0123456789abcdef0123456789abcdef")
	engine, err := authcore.New().
		WithConfig(cfg).
		WithBackend(session.NewMemoryBackend(nil)).
		WithPrincipalStore(authcore.PrincipalStoreFunc(func(_ context.Context, id string) (authcore.Principal, error) {
			if id != "u1" {
				return authcore.Principal{}, authcore.ErrPrincipalNotFound
			}
			return authcore.Principal{ID: id}, nil
		})).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func TestGuardPassesResult(t *testing.T) {
	auth := &stubAuth{res: &authcore.Result{Principal: authcore.Principal{ID: "u1"}}}
	h := Guard(auth)(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if auth.header != "tok" {
		t.Fatalf("expected raw header, got %q", auth.header)
	}
}

func TestGuardCustomHeaderAndBearer(t *testing.T) {
	auth := &stubAuth{res: &authcore.Result{Principal: authcore.Principal{ID: "u1"}}}
	h := Guard(auth, WithHeader("X-Session-Token"), WithBearer())(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-Session-Token", "Bearer abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || auth.header != "abc" {
		t.Fatalf("unexpected %d header=%q", rec.Code, auth.header)
	}
}

func TestGuardRendersFailures(t *testing.T) {
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("next must not run")
	})

	rec := httptest.NewRecorder()
	Guard(&stubAuth{err: authcore.ErrNotAuthenticated})(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if body := decode(t, rec); body.Message != authcore.ErrNotAuthenticated.Error() {
		t.Fatalf("unexpected message %q", body.Message)
	}

	rec = httptest.NewRecorder()
	mapper := response.NewMapper(response.WithAuthenticationFailedStatus(response.StatusForbidden))
	Guard(&stubAuth{err: authcore.ErrAuthenticationFailed}, WithMapper(mapper))(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	Guard(nil)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for missing authenticator, got %d", rec.Code)
	}
}

func TestGuardFallbackOnCacheOutage(t *testing.T) {
	primary := &stubAuth{err: authcore.ErrCacheUnavailable}
	fallback := &stubAuth{res: &authcore.Result{Principal: authcore.Principal{ID: "u1"}, Mode: authcore.ModeStateless}}
	var logs bytes.Buffer

	h := Guard(primary, WithFallback(fallback), WithLogger(log.New(&logs, "", 0)))(okHandler(t))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || fallback.header != "tok" {
		t.Fatalf("expected fallback to serve the request, got %d", rec.Code)
	}
	if logs.Len() == 0 {
		t.Fatal("expected fallback to be logged")
	}

	primary.err = errors.New("boom")
	fallback.header = ""
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError || fallback.header != "" {
		t.Fatalf("expected only cache outages to fall back, got %d", rec.Code)
	}
}

func TestRequireStatefulAndStateless(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()

	token, err := engine.Login(ctx, "u1", nil, nil, authcore.WithTokenTTL(time.Hour))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := engine.Logout(ctx, token); err != nil {
		t.Fatalf("logout: %v", err)
	}

	serve := func(mw func(http.Handler) http.Handler) int {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", token)
		rec := httptest.NewRecorder()
		mw(okHandler(t)).ServeHTTP(rec, req)
		return rec.Code
	}

	if code := serve(RequireStateful(engine)); code != http.StatusUnauthorized {
		t.Fatalf("expected logged-out token rejected by stateful guard, got %d", code)
	}
	if code := serve(RequireStateless(engine)); code != http.StatusOK {
		t.Fatalf("expected stateless guard to accept a still-valid token, got %d", code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	if got := clientIP(req); got != "203.0.113.9" {
		t.Fatalf("unexpected ip %q", got)
	}
	req.RemoteAddr = "pipe"
	if got := clientIP(req); got != "pipe" {
		t.Fatalf("unexpected ip %q", got)
	}
}
