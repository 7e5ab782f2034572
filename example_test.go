package staffkit_test

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nhalm/staffkit"
	"github.com/nhalm/staffkit/password"
	"github.com/nhalm/staffkit/store"
	"github.com/nhalm/staffkit/token"
	"github.com/nhalm/staffkit/users"
)

func ExampleHandler() {
	r := chi.NewRouter()
	r.Use(staffkit.Handler(staffkit.WithCanonlog(), staffkit.WithRequestID()))

	r.Get("/v1/users/{id}", func(_ http.ResponseWriter, r *http.Request) {
		staffkit.SetResponse(r, http.StatusOK, map[string]string{"email": "ada@example.com"})
	})
}

func ExampleSetError() {
	handler := func(_ http.ResponseWriter, r *http.Request) {
		staffkit.SetError(r, staffkit.ErrNotFound.With("User not found"))
	}
	_ = handler
}

func ExampleNewRateLimiter() {
	st := store.NewMemory()
	defer st.Close()

	// 300 requests per 15 minutes per route and client IP.
	limiter := staffkit.NewRateLimiter(staffkit.NewFixedWindow(st), 300, 15*time.Minute)

	r := chi.NewRouter()
	r.Use(staffkit.Handler())
	r.Group(func(r chi.Router) {
		r.Use(limiter.Handler)
		r.Get("/v1/users/all", func(_ http.ResponseWriter, r *http.Request) {
			staffkit.SetResponse(r, http.StatusOK, nil)
		})
	})
}

func ExampleRequireAuth() {
	st := store.NewMemory()
	defer st.Close()

	secret, _ := token.NewSecret()
	tokens, _ := token.New(token.Config{Secret: secret})
	hasher, _ := password.NewArgon2(password.DefaultConfig())
	gate := staffkit.NewGate(users.NewMemory(), tokens, hasher)

	limiter := staffkit.NewRateLimiter(staffkit.NewFixedWindow(st), 3, time.Minute)

	r := chi.NewRouter()
	r.Use(staffkit.Handler())
	r.Group(func(r chi.Router) {
		r.Use(staffkit.RequireAuth(gate, staffkit.AuthWithRateLimiter(limiter)))
		r.Get("/token", func(_ http.ResponseWriter, r *http.Request) {
			p, _ := staffkit.PrincipalFromContext(r.Context())
			tok, err := tokens.Issue(p.UserID, token.DefaultEndpointTTL)
			if err != nil {
				staffkit.SetError(r, staffkit.ErrInternal)
				return
			}
			staffkit.SetResponse(r, http.StatusOK, map[string]string{"token": tok})
		})
	})
}
