// Package api is the HTTP surface of the service: token issuance, login,
// registration and account management.
//
// Parameters are accepted from the query string or a form body, and from a
// JSON body when the request says application/json. Account routes require
// authentication and share one fixed-window rate limit per route and client.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nhalm/staffkit"
	"github.com/nhalm/staffkit/token"
	"github.com/nhalm/staffkit/users"
)

// TokenIssuer signs tokens for a user id.
type TokenIssuer interface {
	Issue(userID int64, ttl time.Duration) (string, error)
}

// PasswordHasher hashes and checks passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
	NeedsRehash(hash string) bool
}

// Config wires the API to its collaborators.
type Config struct {
	Users     users.Store
	Tokens    TokenIssuer
	Passwords PasswordHasher
	Gate      *staffkit.Gate

	// AccountLimiter is applied after authentication on /token and the
	// /v1/users account routes. Nil disables rate limiting there.
	AccountLimiter *staffkit.RateLimiter

	// LoginLimiter, if set, counts every POST /v1/login attempt.
	LoginLimiter *staffkit.RateLimiter

	LoginTTL     time.Duration
	EndpointTTL  time.Duration
	MaxBodyBytes int64

	// StrictStatusCodes replaces the 200 answers to failed logins,
	// duplicate registrations and mismatched passwords with 401, 409 and 400.
	StrictStatusCodes bool
}

// API serves the routes. Create it with New.
type API struct {
	users     users.Store
	tokens    TokenIssuer
	passwords PasswordHasher
	gate      *staffkit.Gate

	accountLimiter *staffkit.RateLimiter
	loginLimiter   *staffkit.RateLimiter

	loginTTL    time.Duration
	endpointTTL time.Duration
	maxBody     int64
	strict      bool
}

func New(cfg Config) (*API, error) {
	switch {
	case cfg.Users == nil:
		return nil, errors.New("api: users store is required")
	case cfg.Tokens == nil:
		return nil, errors.New("api: token issuer is required")
	case cfg.Passwords == nil:
		return nil, errors.New("api: password hasher is required")
	case cfg.Gate == nil:
		return nil, errors.New("api: gate is required")
	}

	a := &API{
		users:          cfg.Users,
		tokens:         cfg.Tokens,
		passwords:      cfg.Passwords,
		gate:           cfg.Gate,
		accountLimiter: cfg.AccountLimiter,
		loginLimiter:   cfg.LoginLimiter,
		loginTTL:       cfg.LoginTTL,
		endpointTTL:    cfg.EndpointTTL,
		maxBody:        cfg.MaxBodyBytes,
		strict:         cfg.StrictStatusCodes,
	}
	if a.loginTTL <= 0 {
		a.loginTTL = token.DefaultLoginTTL
	}
	if a.endpointTTL <= 0 {
		a.endpointTTL = token.DefaultEndpointTTL
	}
	if a.maxBody <= 0 {
		a.maxBody = staffkit.DefaultMaxBodyBytes
	}
	return a, nil
}

// Routes returns the router with every endpoint mounted.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(staffkit.Handler(
		staffkit.WithCanonlog(),
		staffkit.WithSLOs(),
		staffkit.WithRequestID(),
	))
	r.Use(staffkit.MaxBodySize(a.maxBody))
	r.Use(staffkit.Binder())

	r.NotFound(func(_ http.ResponseWriter, r *http.Request) {
		staffkit.SetError(r, staffkit.ErrNotFound)
	})
	r.MethodNotAllowed(func(_ http.ResponseWriter, r *http.Request) {
		staffkit.SetError(r, staffkit.ErrMethodNotAllowed)
	})

	login := r.With(staffkit.SLO(staffkit.SLOPasswordHash))
	if a.loginLimiter != nil {
		login = login.With(a.loginLimiter.Handler)
	}
	login.Post("/v1/login", a.login)

	r.With(staffkit.SLO(staffkit.SLOPasswordHash)).Post("/v1/users/register", a.register)
	r.With(staffkit.SLO(staffkit.SLORead)).Get("/v1/users/{id:[0-9]+}", a.getUser)

	r.Group(func(r chi.Router) {
		var opts []staffkit.AuthOption
		if a.accountLimiter != nil {
			opts = append(opts, staffkit.AuthWithRateLimiter(a.accountLimiter))
		}
		r.Use(staffkit.RequireAuth(a.gate, opts...))

		r.With(staffkit.SLO(staffkit.SLOPasswordHash)).Get("/token", a.issueToken)
		r.With(staffkit.SLO(staffkit.SLORead)).Get("/v1/users/all", a.listUsers)
		r.With(staffkit.SLO(staffkit.SLOWrite)).Put("/v1/users/{id:[0-9]+}", a.updateUser)
		r.With(staffkit.SLO(staffkit.SLOWrite)).Delete("/v1/users/{id:[0-9]+}", a.deleteUser)
	})

	return r
}
