package staffkit

import (
	"context"
	"net/http"
	"strings"
)

type authContextKey string

const principalKey authContextKey = "principal"

// DefaultRealm is the realm advertised in WWW-Authenticate challenges.
const DefaultRealm = "staffkit"

type authConfig struct {
	limiter *RateLimiter
	realm   string
}

// AuthOption configures RequireAuth middleware.
type AuthOption func(*authConfig)

// AuthWithRateLimiter counts authenticated requests against l. Requests that
// fail authentication are rejected before the counter is touched.
func AuthWithRateLimiter(l *RateLimiter) AuthOption {
	return func(c *authConfig) {
		c.limiter = l
	}
}

// AuthWithRealm sets the realm in the WWW-Authenticate challenge.
func AuthWithRealm(realm string) AuthOption {
	return func(c *authConfig) {
		c.realm = realm
	}
}

// RequireAuth returns middleware that admits only requests the gate accepts.
//
// Credentials come from the Authorization header, either
// "Basic base64(identifier:password)" where identifier is an email or a
// token, or "Bearer <token>". Returns 401 with a Basic challenge when
// authentication fails. With AuthWithRateLimiter, authenticated requests are
// then rate limited exactly as RateLimiter.Handler would.
//
// The principal is available downstream through PrincipalFromContext.
func RequireAuth(g *Gate, opts ...AuthOption) func(http.Handler) http.Handler {
	cfg := &authConfig{realm: DefaultRealm}
	for _, opt := range opts {
		opt(cfg)
	}
	challenge := `Basic realm="` + cfg.realm + `"`

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			useWrapper := HasState(ctx)

			unauthorized := func(msg string) {
				if useWrapper {
					SetHeader(r, "WWW-Authenticate", challenge)
					SetError(r, ErrUnauthorized.With(msg))
				} else {
					w.Header().Set("WWW-Authenticate", challenge)
					http.Error(w, msg, http.StatusUnauthorized)
				}
			}

			creds, ok := credentialsFromRequest(r)
			if !ok {
				unauthorized("Missing or malformed authorization header")
				return
			}

			var key string
			if cfg.limiter != nil {
				var missingDim string
				key, missingDim = cfg.limiter.buildKey(r)
				if missingDim != "" {
					errMsg := "Missing required " + missingDim
					if useWrapper {
						SetError(r, ErrBadRequest.With(errMsg))
					} else {
						http.Error(w, errMsg, http.StatusBadRequest)
					}
					return
				}
			}

			outcome := g.Admit(ctx, creds, cfg.limiter, key)
			addLogFields(ctx, map[string]any{"auth_outcome": outcome.Reason.String()})

			switch outcome.Reason {
			case RejectUnauthorized:
				unauthorized("Invalid credentials")
				return
			case RejectStoreUnavailable:
				cfg.limiter.failClosed(w, r, outcome.Err)
				return
			case RejectInternal:
				addLogError(ctx, outcome.Err)
				if useWrapper {
					SetError(r, ErrInternal)
				} else {
					http.Error(w, ErrInternal.Message, http.StatusInternalServerError)
				}
				return
			}

			if outcome.RateLimit != nil {
				if !cfg.limiter.apply(w, r, *outcome.RateLimit) {
					return
				}
				ctx = withRateLimit(ctx, *outcome.RateLimit)
			}

			ctx = context.WithValue(ctx, principalKey, outcome.Principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// credentialsFromRequest parses Basic or Bearer credentials. The scheme name
// is case-insensitive per RFC 7235.
func credentialsFromRequest(r *http.Request) (Credentials, bool) {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		tok := strings.TrimSpace(auth[7:])
		return Credentials{Identifier: tok, TokenOnly: true}, tok != ""
	}

	identifier, password, ok := r.BasicAuth()
	if !ok || identifier == "" {
		return Credentials{}, false
	}
	return Credentials{Identifier: identifier, Password: password}, true
}

// PrincipalFromContext returns the principal admitted by RequireAuth.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
