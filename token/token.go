// Package token issues and verifies short-lived signed tokens that carry a
// user id.
//
// Tokens are HS256 JWTs signed with a secret held only in process memory.
// The secret is created once at startup with NewSecret and is never
// persisted, so restarting the process invalidates every outstanding token.
// Deployments that cannot tolerate a mass sign-out on restart must supply a
// stable secret instead.
package token

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/nhalm/staffkit/clock"
)

// SecretSize is the length in bytes of secrets produced by NewSecret.
const SecretSize = 32

const (
	// DefaultLoginTTL is the lifetime of tokens handed out by the login endpoint.
	DefaultLoginTTL = 600 * time.Second

	// DefaultEndpointTTL is the lifetime of tokens handed out by the token endpoint.
	DefaultEndpointTTL = 600 * time.Second
)

var (
	// ErrTokenExpired means the token was authentic but its expiry has passed.
	ErrTokenExpired = errors.New("token: expired")

	// ErrTokenInvalid means the token was malformed, carried a bad signature,
	// or was issued by someone else.
	ErrTokenInvalid = errors.New("token: invalid")
)

// Claims is the signed payload of a token.
type Claims struct {
	UserID int64 `json:"id"`
	jwt.RegisteredClaims
}

// Config configures an Authenticator.
type Config struct {
	// Secret is the HMAC key. Must be at least SecretSize bytes.
	Secret []byte

	// Issuer is written to and required in the iss claim.
	Issuer string

	// Clock defaults to clock.Real().
	Clock clock.Clock
}

// Authenticator issues and verifies tokens. Safe for concurrent use; its
// state is read-only after New returns.
type Authenticator struct {
	secret []byte
	issuer string
	clock  clock.Clock
	parser *jwt.Parser
}

// NewSecret returns SecretSize bytes from crypto/rand.
func NewSecret() ([]byte, error) {
	secret := make([]byte, SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("token: generate secret: %w", err)
	}
	return secret, nil
}

// New returns an Authenticator. The secret is copied.
func New(cfg Config) (*Authenticator, error) {
	if len(cfg.Secret) < SecretSize {
		return nil, fmt.Errorf("token: secret must be at least %d bytes", SecretSize)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	a := &Authenticator{
		secret: append([]byte(nil), cfg.Secret...),
		issuer: cfg.Issuer,
		clock:  cfg.Clock,
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	a.parser = jwt.NewParser(opts...)

	return a, nil
}

// Issue signs a token for userID that expires ttl from now.
// Timestamps have one-second precision.
func (a *Authenticator) Issue(userID int64, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("token: ttl must be positive, got %s", ttl)
	}

	now := a.clock.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of tokenString and returns the user
// id it was issued for. A token stops verifying at the first instant its
// expiry second is reached; no leeway is applied.
//
// The signature is checked before any claim, so a forged token reports
// ErrTokenInvalid even when its expiry has also passed.
func (a *Authenticator) Verify(tokenString string) (int64, error) {
	claims, err := a.Parse(tokenString)
	if err != nil {
		return 0, err
	}
	return claims.UserID, nil
}

// Parse is Verify returning the full claim set.
func (a *Authenticator) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	tok, err := a.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if !tok.Valid || claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: missing user id", ErrTokenInvalid)
	}
	return claims, nil
}
