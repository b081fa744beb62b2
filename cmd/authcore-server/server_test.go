package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/config"
	attempts "github.com/MrEthical07/authcore/internal/rate"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func testSettings() *config.Settings {
	core := authcore.DefaultConfig()
	core.Token.SigningKey = []byte("0123456789abcdef0123456789abcdef")
	return &config.Settings{
		Core:               core,
		HTTPAddr:           ":0",
		LoginRate:          100,
		LoginBurst:         100,
		LoginMaxFailures:   5,
		LoginFailureWindow: time.Minute,
		AuthFailedStatus:   http.StatusUnauthorized,
		DemoLogin:          true,
	}
}

func newTestServer(t *testing.T, mutate func(*config.Settings)) (http.Handler, *authcore.Engine) {
	t.Helper()
	settings := testSettings()
	if mutate != nil {
		mutate(settings)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	principals := authcore.PrincipalStoreFunc(func(_ context.Context, id string) (authcore.Principal, error) {
		if id != "alice" && id != "bob" {
			return authcore.Principal{}, authcore.ErrPrincipalNotFound
		}
		return authcore.Principal{ID: id}, nil
	})
	logger := log.New(io.Discard, "", 0)
	engine, err := authcore.New().
		WithConfig(settings.Core).
		WithRedis(rdb).
		WithPrincipalStore(principals).
		WithLogger(logger).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	failures, err := attempts.New(rdb, attempts.Config{
		Prefix: "test:lf",
		Max:    settings.LoginMaxFailures,
		Window: settings.LoginFailureWindow,
	})
	if err != nil {
		t.Fatalf("login throttle: %v", err)
	}
	return newServer(engine, settings, failures, logger).routes(), engine
}

func do(t *testing.T, h http.Handler, method, path, token, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: decode body %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, env
}

func loginToken(t *testing.T, h http.Handler, id string) string {
	t.Helper()
	rec, env := do(t, h, http.MethodPost, "/login", "", `{"id":"`+id+`","data":{"role":"reader"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", id, rec.Code, rec.Body.String())
	}
	var out tokenResponse
	if err := json.Unmarshal(env.Data, &out); err != nil || out.Token == "" {
		t.Fatalf("login %s: no token in %s", id, env.Data)
	}
	return out.Token
}

func TestLoginMeUpdateLogout(t *testing.T) {
	h, _ := newTestServer(t, nil)
	token := loginToken(t, h, "alice")

	rec, env := do(t, h, http.MethodGet, "/me", token, "")
	if rec.Code != http.StatusOK || env.Code != http.StatusOK {
		t.Fatalf("me: status %d body %s", rec.Code, rec.Body.String())
	}
	var me struct {
		Principal authcore.Principal `json:"principal"`
		Mode      string             `json:"mode"`
		Session   map[string]any     `json:"session"`
	}
	if err := json.Unmarshal(env.Data, &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.Principal.ID != "alice" || me.Mode != "stateful" {
		t.Fatalf("unexpected me %+v", me)
	}
	if me.Session["token"] != token {
		t.Fatalf("expected session record for token, got %v", me.Session)
	}

	rec, env = do(t, h, http.MethodPatch, "/session", token, `{"data":{"theme":"dark"},"extra":{"device":"cli"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status %d body %s", rec.Code, rec.Body.String())
	}
	var updated map[string]any
	if err := json.Unmarshal(env.Data, &updated); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	data, _ := updated["data"].(map[string]any)
	if data["role"] != "reader" || data["theme"] != "dark" || updated["device"] != "cli" {
		t.Fatalf("unexpected merged record %v", updated)
	}

	if rec, _ := do(t, h, http.MethodPost, "/session/extend", token, ""); rec.Code != http.StatusOK {
		t.Fatalf("extend: status %d", rec.Code)
	}
	if rec, _ := do(t, h, http.MethodPost, "/logout", token, ""); rec.Code != http.StatusOK {
		t.Fatalf("logout: status %d", rec.Code)
	}

	rec, env = do(t, h, http.MethodGet, "/me", token, "")
	if rec.Code != http.StatusUnauthorized || env.Message != authcore.ErrAuthenticationFailed.Error() {
		t.Fatalf("after logout: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestMissingCredentialIsNotAuthenticated(t *testing.T) {
	h, _ := newTestServer(t, nil)

	rec, env := do(t, h, http.MethodGet, "/me", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if env.Message != authcore.ErrNotAuthenticated.Error() {
		t.Fatalf("expected not-authenticated message, got %q", env.Message)
	}
	if rec, _ := do(t, h, http.MethodPost, "/logout", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("logout without token: expected 401, got %d", rec.Code)
	}
}

func TestLoginValidation(t *testing.T) {
	h, _ := newTestServer(t, nil)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"id":`, http.StatusBadRequest},
		{"missing id", `{}`, http.StatusUnprocessableEntity},
		{"unknown principal", `{"id":"mallory"}`, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, env := do(t, h, http.MethodPost, "/login", "", tc.body)
			if rec.Code != tc.want || env.Code != tc.want {
				t.Fatalf("expected %d, got status %d body %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestLoginNotMountedWithoutDemoFlag(t *testing.T) {
	h, _ := newTestServer(t, func(s *config.Settings) { s.DemoLogin = false })

	rec, env := do(t, h, http.MethodPost, "/login", "", `{"id":"alice"}`)
	if rec.Code != http.StatusNotFound || env.Code != http.StatusNotFound {
		t.Fatalf("expected 404 with demo login off, got status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestAuthFailedStatusIsConfigurable(t *testing.T) {
	h, _ := newTestServer(t, func(s *config.Settings) { s.AuthFailedStatus = http.StatusForbidden })

	rec, _ := do(t, h, http.MethodGet, "/me", "not-a-token", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a bad token, got %d", rec.Code)
	}
	rec, _ = do(t, h, http.MethodGet, "/me", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing credential must stay 401, got %d", rec.Code)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	h, _ := newTestServer(t, nil)
	token := loginToken(t, h, "alice")

	rec, env := do(t, h, http.MethodPost, "/refresh", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status %d body %s", rec.Code, rec.Body.String())
	}
	var out tokenResponse
	if err := json.Unmarshal(env.Data, &out); err != nil || out.Token == "" || out.Token == token {
		t.Fatalf("expected a new token, got %s", env.Data)
	}

	if rec, _ := do(t, h, http.MethodGet, "/me", token, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("old token: expected 401, got %d", rec.Code)
	}
	if rec, _ := do(t, h, http.MethodGet, "/me", out.Token, ""); rec.Code != http.StatusOK {
		t.Fatalf("new token: expected 200, got %d", rec.Code)
	}
}

func TestInvalidatePrincipal(t *testing.T) {
	h, _ := newTestServer(t, nil)
	first := loginToken(t, h, "alice")
	second := loginToken(t, h, "alice")
	bob := loginToken(t, h, "bob")

	if rec, _ := do(t, h, http.MethodPost, "/principals/alice/invalidate", bob, ""); rec.Code != http.StatusForbidden {
		t.Fatalf("foreign invalidate: expected 403, got %d", rec.Code)
	}

	rec, env := do(t, h, http.MethodPost, "/principals/alice/invalidate", first, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("invalidate: status %d body %s", rec.Code, rec.Body.String())
	}
	var out map[string]int
	if err := json.Unmarshal(env.Data, &out); err != nil || out["invalidated"] != 2 {
		t.Fatalf("expected 2 invalidated sessions, got %s", env.Data)
	}

	for _, tok := range []string{first, second} {
		if rec, _ := do(t, h, http.MethodGet, "/me", tok, ""); rec.Code != http.StatusUnauthorized {
			t.Fatalf("invalidated token still accepted: %d", rec.Code)
		}
	}
	if rec, _ := do(t, h, http.MethodGet, "/me", bob, ""); rec.Code != http.StatusOK {
		t.Fatalf("other principal affected: %d", rec.Code)
	}
}

func TestLoginRateLimit(t *testing.T) {
	h, _ := newTestServer(t, func(s *config.Settings) {
		s.LoginRate = 0.001
		s.LoginBurst = 2
	})

	for i := 0; i < 2; i++ {
		if rec, _ := do(t, h, http.MethodPost, "/login", "", `{"id":"alice"}`); rec.Code != http.StatusOK {
			t.Fatalf("login %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec, env := do(t, h, http.MethodPost, "/login", "", `{"id":"alice"}`)
	if rec.Code != http.StatusTooManyRequests || env.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestFailedLoginsBlockIP(t *testing.T) {
	h, _ := newTestServer(t, func(s *config.Settings) { s.LoginMaxFailures = 2 })

	for i := 0; i < 2; i++ {
		if rec, _ := do(t, h, http.MethodPost, "/login", "", `{"id":"mallory"}`); rec.Code != http.StatusUnauthorized {
			t.Fatalf("failure %d: expected 401, got %d", i, rec.Code)
		}
	}
	rec, env := do(t, h, http.MethodPost, "/login", "", `{"id":"alice"}`)
	if rec.Code != http.StatusTooManyRequests || env.Message != "too many failed logins" {
		t.Fatalf("expected the IP to be blocked, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestSuccessfulLoginResetsFailures(t *testing.T) {
	h, _ := newTestServer(t, func(s *config.Settings) { s.LoginMaxFailures = 2 })

	do(t, h, http.MethodPost, "/login", "", `{"id":"mallory"}`)
	loginToken(t, h, "alice")
	do(t, h, http.MethodPost, "/login", "", `{"id":"mallory"}`)
	loginToken(t, h, "alice")
}

func TestIPLimiterSweepsIdleBuckets(t *testing.T) {
	l := newIPLimiter(1, 1)
	start := time.Now()

	if !l.allow("10.0.0.1", start) {
		t.Fatal("first request must pass")
	}
	if l.allow("10.0.0.1", start) {
		t.Fatal("second request in the same instant must be limited")
	}
	if !l.allow("10.0.0.2", start) {
		t.Fatal("limits are per IP")
	}

	later := start.Add(10 * time.Minute)
	if !l.allow("10.0.0.3", later) {
		t.Fatal("fresh IP must pass")
	}
	l.mu.Lock()
	n := len(l.buckets)
	l.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected idle buckets to be swept, have %d", n)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestServer(t, nil)
	loginToken(t, h, "alice")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("authcore_login_success_total 1")) {
		t.Fatalf("login counter missing from exposition:\n%s", rec.Body.String())
	}
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	h, _ := newTestServer(t, nil)
	rec, env := do(t, h, http.MethodGet, "/nope", "", "")
	if rec.Code != http.StatusNotFound || env.Code != http.StatusNotFound {
		t.Fatalf("expected enveloped 404, got %d %s", rec.Code, rec.Body.String())
	}
}
