package staffkit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestSLO_SetsTierInContext(t *testing.T) {
	tests := []struct {
		name           string
		tier           SLOTier
		expectedTarget time.Duration
	}{
		{"Read", SLORead, 100 * time.Millisecond},
		{"Write", SLOWrite, 250 * time.Millisecond},
		{"PasswordHash", SLOPasswordHash, 1000 * time.Millisecond},
		{"Unknown", SLOTier("batch"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var capturedTier SLOTier
			var capturedTarget time.Duration
			var found bool

			handler := SLO(tt.tier)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				capturedTier, capturedTarget, found = GetSLO(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if !found {
				t.Fatal("expected SLO tier to be set in context")
			}
			if capturedTier != tt.tier {
				t.Errorf("expected tier %s, got %s", tt.tier, capturedTier)
			}
			if capturedTarget != tt.expectedTarget {
				t.Errorf("expected target %v, got %v", tt.expectedTarget, capturedTarget)
			}
		})
	}
}

func TestSLOWithTarget_SetsCustomTarget(t *testing.T) {
	var capturedTier SLOTier
	var capturedTarget time.Duration

	handler := SLOWithTarget(200 * time.Millisecond)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		capturedTier, capturedTarget, _ = GetSLO(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if capturedTier != "custom" {
		t.Errorf("expected tier 'custom', got %s", capturedTier)
	}
	if capturedTarget != 200*time.Millisecond {
		t.Errorf("expected target 200ms, got %v", capturedTarget)
	}
}

func TestGetSLO_NoContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)

	tier, target, found := GetSLO(req.Context())
	if found || tier != "" || target != 0 {
		t.Errorf("GetSLO() = %q, %v, %v; want empty", tier, target, found)
	}
}

func TestSLO_DifferentRoutesHaveDifferentTiers(t *testing.T) {
	r := chi.NewRouter()

	var loginTier, userTier, updateTier SLOTier
	var plainFound bool

	r.With(SLO(SLOPasswordHash)).Post("/v1/login", func(_ http.ResponseWriter, r *http.Request) {
		loginTier, _, _ = GetSLO(r.Context())
	})
	r.With(SLO(SLORead)).Get("/v1/users/{id}", func(_ http.ResponseWriter, r *http.Request) {
		userTier, _, _ = GetSLO(r.Context())
	})
	r.With(SLO(SLOWrite)).Put("/v1/users/{id}", func(_ http.ResponseWriter, r *http.Request) {
		updateTier, _, _ = GetSLO(r.Context())
	})
	r.Get("/healthz", func(_ http.ResponseWriter, r *http.Request) {
		_, _, plainFound = GetSLO(r.Context())
	})

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/v1/login", http.NoBody),
		httptest.NewRequest(http.MethodGet, "/v1/users/1", http.NoBody),
		httptest.NewRequest(http.MethodPut, "/v1/users/1", http.NoBody),
		httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	if loginTier != SLOPasswordHash {
		t.Errorf("expected login tier %s, got %s", SLOPasswordHash, loginTier)
	}
	if userTier != SLORead {
		t.Errorf("expected user tier %s, got %s", SLORead, userTier)
	}
	if updateTier != SLOWrite {
		t.Errorf("expected update tier %s, got %s", SLOWrite, updateTier)
	}
	if plainFound {
		t.Error("expected no SLO on /healthz")
	}
}
