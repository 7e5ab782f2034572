package staffkit

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhalm/staffkit/token"
	"github.com/nhalm/staffkit/users"
)

var (
	// ErrBadCredentials means neither a valid token nor a matching
	// email/password pair was presented. Token failures are wrapped in it, so
	// errors.Is(err, token.ErrTokenExpired) still distinguishes the cause.
	ErrBadCredentials = errors.New("staffkit: bad credentials")

	// ErrUnknownUser means a valid token named a user that no longer exists.
	ErrUnknownUser = errors.New("staffkit: token user no longer exists")
)

// AuthMethod records how a principal proved its identity.
type AuthMethod string

const (
	AuthMethodPassword AuthMethod = "password"
	AuthMethodToken    AuthMethod = "token"
)

// Credentials are what a caller presented on one request.
type Credentials struct {
	// Identifier is an email address or a token.
	Identifier string

	// Password accompanies an email. Ignored when Identifier is a valid token.
	Password string

	// TokenOnly restricts Identifier to tokens, as with a Bearer header.
	TokenOnly bool
}

// Principal is the identity resolved for one request. It is never shared
// across requests.
type Principal struct {
	UserID int64
	Email  string
	Method AuthMethod
}

// RejectReason says why the gate refused a request.
type RejectReason int

const (
	// RejectNone is the reason of an admitted request.
	RejectNone RejectReason = iota
	RejectUnauthorized
	RejectRateLimited
	RejectStoreUnavailable

	// RejectInternal covers user store failures during authentication.
	RejectInternal
)

func (r RejectReason) String() string {
	switch r {
	case RejectNone:
		return "none"
	case RejectUnauthorized:
		return "unauthorized"
	case RejectRateLimited:
		return "rate_limited"
	case RejectStoreUnavailable:
		return "store_unavailable"
	case RejectInternal:
		return "internal"
	default:
		return fmt.Sprintf("RejectReason(%d)", int(r))
	}
}

// Outcome is the gate's verdict for one request.
type Outcome struct {
	Admitted  bool
	Reason    RejectReason
	Principal Principal

	// RateLimit is set whenever a limiter was consulted, including on
	// RejectRateLimited so the caller can report it.
	RateLimit *RateLimitState

	// Err carries the underlying cause of a rejection.
	Err error
}

// TokenVerifier resolves a token to the user id it was issued for.
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// PasswordVerifier checks a password against a stored hash. It must return
// false, not panic, for malformed hashes.
type PasswordVerifier interface {
	Verify(password, hash string) bool
}

// Gate authenticates requests and applies rate limits to authenticated ones.
// It holds no per-request state and is safe for concurrent use.
type Gate struct {
	users     users.Store
	tokens    TokenVerifier
	passwords PasswordVerifier
}

// NewGate returns a Gate reading identities from u.
func NewGate(u users.Store, tokens TokenVerifier, passwords PasswordVerifier) *Gate {
	return &Gate{
		users:     u,
		tokens:    tokens,
		passwords: passwords,
	}
}

// Authenticate resolves creds to a principal.
//
// The identifier is tried as a token first. If it does not verify and creds
// allow a password, it is looked up as an email and the password checked.
// Identity is read from the user store on every call; nothing is cached.
func (g *Gate) Authenticate(ctx context.Context, creds Credentials) (Principal, error) {
	if creds.Identifier == "" {
		return Principal{}, ErrBadCredentials
	}

	userID, tokenErr := g.tokens.Verify(creds.Identifier)
	if tokenErr == nil {
		u, err := g.users.FindByID(ctx, userID)
		if errors.Is(err, users.ErrNotFound) {
			addLogFields(ctx, map[string]any{"auth_method": AuthMethodToken, "token_user_id": userID})
			return Principal{}, fmt.Errorf("%w: %w: user %d", ErrBadCredentials, ErrUnknownUser, userID)
		}
		if err != nil {
			return Principal{}, fmt.Errorf("staffkit: load token user: %w", err)
		}
		p := Principal{UserID: u.ID, Email: u.Email, Method: AuthMethodToken}
		addLogFields(ctx, map[string]any{"auth_method": p.Method, "user_id": p.UserID})
		return p, nil
	}

	if errors.Is(tokenErr, token.ErrTokenExpired) {
		addLogFields(ctx, map[string]any{"token_error": "expired"})
	} else if creds.TokenOnly || creds.Password == "" {
		addLogFields(ctx, map[string]any{"token_error": "invalid"})
	}

	if creds.TokenOnly || creds.Password == "" {
		return Principal{}, fmt.Errorf("%w: %w", ErrBadCredentials, tokenErr)
	}

	u, err := g.users.FindByEmail(ctx, creds.Identifier)
	if errors.Is(err, users.ErrNotFound) {
		return Principal{}, ErrBadCredentials
	}
	if err != nil {
		return Principal{}, fmt.Errorf("staffkit: load user by email: %w", err)
	}
	if !g.passwords.Verify(creds.Password, u.PasswordHash) {
		return Principal{}, ErrBadCredentials
	}

	p := Principal{UserID: u.ID, Email: u.Email, Method: AuthMethodPassword}
	addLogFields(ctx, map[string]any{"auth_method": p.Method, "user_id": p.UserID})
	return p, nil
}

// Admit authenticates creds and, once authenticated, counts the request
// against limiter under key. A nil limiter or empty key skips the rate limit.
//
// Unauthenticated requests never touch the counter.
func (g *Gate) Admit(ctx context.Context, creds Credentials, limiter *RateLimiter, key string) Outcome {
	p, err := g.Authenticate(ctx, creds)
	if err != nil {
		reason := RejectInternal
		if errors.Is(err, ErrBadCredentials) {
			reason = RejectUnauthorized
		}
		return Outcome{Reason: reason, Err: err}
	}

	if limiter == nil || key == "" {
		return Outcome{Admitted: true, Principal: p}
	}

	state, err := limiter.Check(ctx, key)
	if err != nil {
		return Outcome{Reason: RejectStoreUnavailable, Principal: p, Err: err}
	}
	if state.OverLimit() {
		return Outcome{Reason: RejectRateLimited, Principal: p, RateLimit: &state}
	}
	return Outcome{Admitted: true, Principal: p, RateLimit: &state}
}
