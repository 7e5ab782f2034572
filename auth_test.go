package staffkit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nhalm/staffkit/token"
)

func principalHandler(got *Principal, called *int) http.Handler {
	return http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		*called++
		p, ok := PrincipalFromContext(r.Context())
		if ok {
			*got = p
		}
		SetResponse(r, http.StatusOK, map[string]int64{"id": p.UserID})
	})
}

func TestRequireAuth(t *testing.T) {
	f := newGateFixture(t)
	tok := f.issue(t, f.user.ID, token.DefaultLoginTTL)

	tests := []struct {
		name          string
		setAuth       func(r *http.Request)
		wantStatus    int
		wantMethod    AuthMethod
		wantChallenge bool
	}{
		{
			name:       "basic email and password",
			setAuth:    func(r *http.Request) { r.SetBasicAuth("ada@example.com", fixturePassword) },
			wantStatus: http.StatusOK,
			wantMethod: AuthMethodPassword,
		},
		{
			name:       "basic token as username",
			setAuth:    func(r *http.Request) { r.SetBasicAuth(tok, "unused") },
			wantStatus: http.StatusOK,
			wantMethod: AuthMethodToken,
		},
		{
			name:       "bearer token",
			setAuth:    func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) },
			wantStatus: http.StatusOK,
			wantMethod: AuthMethodToken,
		},
		{
			name:       "lowercase bearer scheme",
			setAuth:    func(r *http.Request) { r.Header.Set("Authorization", "bearer "+tok) },
			wantStatus: http.StatusOK,
			wantMethod: AuthMethodToken,
		},
		{
			name:          "missing header",
			setAuth:       func(*http.Request) {},
			wantStatus:    http.StatusUnauthorized,
			wantChallenge: true,
		},
		{
			name:          "wrong password",
			setAuth:       func(r *http.Request) { r.SetBasicAuth("ada@example.com", "wrong") },
			wantStatus:    http.StatusUnauthorized,
			wantChallenge: true,
		},
		{
			name:          "empty bearer",
			setAuth:       func(r *http.Request) { r.Header.Set("Authorization", "Bearer   ") },
			wantStatus:    http.StatusUnauthorized,
			wantChallenge: true,
		},
		{
			name:          "unknown scheme",
			setAuth:       func(r *http.Request) { r.Header.Set("Authorization", "Digest abc") },
			wantStatus:    http.StatusUnauthorized,
			wantChallenge: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Principal
			var called int
			handler := Handler()(RequireAuth(f.gate)(principalHandler(&got, &called)))

			req := httptest.NewRequest(http.MethodGet, "/token", http.NoBody)
			tt.setAuth(req)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			challenge := rec.Header().Get("WWW-Authenticate")
			if tt.wantChallenge {
				if challenge != `Basic realm="staffkit"` {
					t.Errorf("expected Basic challenge, got %q", challenge)
				}
				if called != 0 {
					t.Error("handler must not run for rejected request")
				}
				return
			}
			if got.UserID != f.user.ID || got.Method != tt.wantMethod {
				t.Errorf("unexpected principal %+v", got)
			}
		})
	}
}

func TestRequireAuth_ExpiredToken(t *testing.T) {
	f := newGateFixture(t)
	tok := f.issue(t, f.user.ID, 600*time.Second)
	f.clock.Advance(600 * time.Second)

	var got Principal
	var called int
	handler := Handler()(RequireAuth(f.gate)(principalHandler(&got, &called)))

	req := httptest.NewRequest(http.MethodGet, "/token", http.NoBody)
	req.SetBasicAuth(tok, "")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAuth_CustomRealm(t *testing.T) {
	f := newGateFixture(t)
	var got Principal
	var called int
	handler := Handler()(RequireAuth(f.gate, AuthWithRealm("users"))(principalHandler(&got, &called)))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if got := rec.Header().Get("WWW-Authenticate"); got != `Basic realm="users"` {
		t.Errorf("expected custom realm, got %q", got)
	}
}

func TestRequireAuth_WithoutHandlerState(t *testing.T) {
	f := newGateFixture(t)
	handler := RequireAuth(f.gate)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("expected challenge header")
	}
}

func TestRequireAuth_RateLimited(t *testing.T) {
	f := newGateFixture(t)
	f.clock.Set(time.Unix(900, 0))
	limiter := NewRateLimiter(newMemoryCounter(t, f.clock), 3, 15*time.Minute)

	var got Principal
	var called int
	r := chi.NewRouter()
	r.Use(Handler())
	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(f.gate, AuthWithRateLimiter(limiter)))
		r.Get("/v1/users/all", principalHandler(&got, &called).ServeHTTP)
	})

	authed := func() *http.Request {
		req := newRequest(http.MethodGet, "/v1/users/all", "10.0.0.1")
		req.SetBasicAuth("ada@example.com", fixturePassword)
		return req
	}

	// Failed logins never touch the counter.
	for range 5 {
		req := newRequest(http.MethodGet, "/v1/users/all", "10.0.0.1")
		req.SetBasicAuth("ada@example.com", "wrong")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "" {
			t.Fatal("rate limit headers on unauthenticated response")
		}
	}

	for i := range 3 {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, authed())
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Reset"); got != "1800" {
			t.Errorf("request %d: expected reset 1800, got %s", i+1, got)
		}
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authed())
	if rec.Code != DefaultExceededStatus {
		t.Fatalf("expected %d, got %d", DefaultExceededStatus, rec.Code)
	}
	if body := rec.Body.String(); body != DefaultExceededBody {
		t.Errorf("expected body %q, got %q", DefaultExceededBody, body)
	}
	if got := rec.Header().Get("Retry-After"); got != "900" {
		t.Errorf("expected Retry-After 900, got %s", got)
	}
	if called != 3 {
		t.Errorf("expected handler called 3 times, got %d", called)
	}
}

func TestRequireAuth_RateLimitInContext(t *testing.T) {
	f := newGateFixture(t)
	limiter := NewRateLimiter(newMemoryCounter(t, f.clock), 10, time.Minute, RateLimitWithIP())

	var state RateLimitState
	var ok bool
	handler := Handler()(RequireAuth(f.gate, AuthWithRateLimiter(limiter))(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		state, ok = RateLimitFromContext(r.Context())
		SetResponse(r, http.StatusOK, nil)
	})))

	req := newRequest(http.MethodGet, "/", "10.0.0.1")
	req.SetBasicAuth("ada@example.com", fixturePassword)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !ok || state.Count != 1 || state.Remaining() != 9 {
		t.Errorf("unexpected state %+v (found %v)", state, ok)
	}
}

func TestRequireAuth_StoreUnavailable(t *testing.T) {
	f := newGateFixture(t)
	limiter := NewRateLimiter(NewFixedWindow(failingStore{}), 10, time.Minute)

	var got Principal
	var called int
	handler := Handler()(RequireAuth(f.gate, AuthWithRateLimiter(limiter))(principalHandler(&got, &called)))

	req := newRequest(http.MethodGet, "/", "10.0.0.1")
	req.SetBasicAuth("ada@example.com", fixturePassword)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if called != 0 {
		t.Error("handler must not run when the store is down")
	}
}

func TestRequireAuth_UserStoreFailure(t *testing.T) {
	f := newGateFixture(t)
	g := NewGate(brokenUsers{}, f.tokens, nil)

	var got Principal
	var called int
	handler := Handler()(RequireAuth(g)(principalHandler(&got, &called)))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.SetBasicAuth("ada@example.com", fixturePassword)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestPrincipalFromContext_Missing(t *testing.T) {
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Error("expected no principal")
	}
}
