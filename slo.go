package staffkit

// Latency objectives per route class. SLO records the class in the request
// context and Handler(WithSLOs()) logs PASS or FAIL against it.

import (
	"context"
	"net/http"
	"time"
)

// SLOTier classifies a route by the work it does.
type SLOTier string

const (
	// SLORead is for lookups authenticated by token: 100ms.
	SLORead SLOTier = "read"

	// SLOWrite is for account mutations: 250ms.
	SLOWrite SLOTier = "write"

	// SLOPasswordHash is for routes that run argon2 on the request path,
	// such as login and registration: 1000ms.
	SLOPasswordHash SLOTier = "password_hash"

	// sloCustom is used internally for SLOWithTarget.
	sloCustom SLOTier = "custom"
)

var sloTargets = map[SLOTier]time.Duration{
	SLORead:         100 * time.Millisecond,
	SLOWrite:        250 * time.Millisecond,
	SLOPasswordHash: 1000 * time.Millisecond,
}

type sloContextKey string

const sloConfigKey sloContextKey = "slo_config"

type sloConfig struct {
	tier   SLOTier
	target time.Duration
}

// SLO sets a predefined tier in context. An unknown tier has a zero target
// and always logs FAIL.
func SLO(tier SLOTier) func(http.Handler) http.Handler {
	return sloMiddleware(&sloConfig{tier: tier, target: sloTargets[tier]})
}

// SLOWithTarget sets a custom target in context, logged as tier "custom".
func SLOWithTarget(target time.Duration) func(http.Handler) http.Handler {
	return sloMiddleware(&sloConfig{tier: sloCustom, target: target})
}

func sloMiddleware(cfg *sloConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), sloConfigKey, cfg)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSLO retrieves the SLO tier and target from context.
func GetSLO(ctx context.Context) (SLOTier, time.Duration, bool) {
	cfg, ok := ctx.Value(sloConfigKey).(*sloConfig)
	if !ok {
		return "", 0, false
	}
	return cfg.tier, cfg.target, true
}
