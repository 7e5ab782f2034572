// Rate limiting middleware for Chi and standard http.Handler.
//
// A RateLimiter pairs a FixedWindow counter with a rule (limit per window) and
// a set of key dimensions that decide which requests share a counter. With no
// dimensions configured the key is the chi route pattern plus the client IP,
// so each logical endpoint is limited per caller:
//
//	counter := staffkit.NewFixedWindow(redisStore)
//	limiter := staffkit.NewRateLimiter(counter, 300, 15*time.Minute)
//	r.Group(func(r chi.Router) {
//	    r.Use(limiter.Handler)
//	    r.Get("/v1/users/all", listUsers)
//	})
//
// Register the middleware with Group or With rather than on the root router;
// chi only knows the route pattern once routing has matched.
//
// Every response carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset. Rejected requests get 400 "You hit the rate limit" plus
// Retry-After unless RateLimitWithExceeded says otherwise.
//
// When the store is unreachable the request fails closed with 503. With
// RateLimitWithFailOpen an in-process token bucket takes over instead.

package staffkit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	// DefaultExceededStatus is the status of an over-limit response.
	DefaultExceededStatus = http.StatusBadRequest

	// DefaultExceededBody is the plain-text body of an over-limit response.
	DefaultExceededBody = "You hit the rate limit"
)

// RateLimitHeaderMode controls when rate limit headers are included in responses.
type RateLimitHeaderMode int

const (
	// RateLimitHeadersAlways includes rate limit headers on all responses (default).
	RateLimitHeadersAlways RateLimitHeaderMode = iota

	// RateLimitHeadersOnLimitExceeded includes rate limit headers only on rejections.
	RateLimitHeadersOnLimitExceeded

	// RateLimitHeadersNever never includes rate limit headers in any response.
	RateLimitHeadersNever
)

type rateLimitContextKey string

const rateLimitStateKey rateLimitContextKey = "rate_limit_state"

// rateLimitKeyFunc extracts a rate limiting key component from an HTTP request.
// Returning an empty string indicates the value is missing.
type rateLimitKeyFunc func(*http.Request) string

// rateLimitDimension holds a key function with validation metadata.
type rateLimitDimension struct {
	fn       rateLimitKeyFunc
	required bool
	name     string // for error messages (e.g., "header X-API-Key")
}

// RateLimiter implements rate limiting middleware.
type RateLimiter struct {
	counter        *FixedWindow
	limit          int64
	window         time.Duration
	name           string
	keyDims        []rateLimitDimension
	headerMode     RateLimitHeaderMode
	exceededStatus int
	exceededBody   string
	failOpen       bool
	fallback       *localLimiter
}

// RateLimitOption configures a RateLimiter.
type RateLimitOption func(*RateLimiter)

// RateLimitWithHeaderMode configures when rate limit headers are included in responses.
func RateLimitWithHeaderMode(mode RateLimitHeaderMode) RateLimitOption {
	return func(l *RateLimiter) {
		l.headerMode = mode
	}
}

// RateLimitWithName sets a prefix for rate limit keys (default "rate-limit").
// Use to prevent key collisions when layering multiple rate limiters.
func RateLimitWithName(name string) RateLimitOption {
	return func(l *RateLimiter) {
		l.name = name
	}
}

// RateLimitWithExceeded sets the status and plain-text body of over-limit
// responses. An empty body switches to the JSON ErrRateLimited error with the
// given status.
func RateLimitWithExceeded(status int, body string) RateLimitOption {
	return func(l *RateLimiter) {
		l.exceededStatus = status
		l.exceededBody = body
	}
}

// RateLimitWithFailOpen admits requests when the store is unavailable,
// bounded by a per-process token bucket refilling at limit/window. Each
// instance then enforces the limit on its own, so the effective cluster-wide
// limit grows with the number of instances until the store recovers.
func RateLimitWithFailOpen() RateLimitOption {
	return func(l *RateLimiter) {
		l.failOpen = true
	}
}

// RateLimitWithIP adds the client IP address (from RemoteAddr) to the rate limiting key.
// Use this for direct connections without a proxy. RemoteAddr is always present.
func RateLimitWithIP() RateLimitOption {
	return func(l *RateLimiter) {
		l.keyDims = append(l.keyDims, ipDimension())
	}
}

func ipDimension() rateLimitDimension {
	return rateLimitDimension{
		fn:   remoteIP,
		name: "IP",
	}
}

func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// RateLimitWithRealIP adds the client IP from X-Forwarded-For or X-Real-IP headers.
// Use this when behind a proxy/load balancer.
// If neither header is present, rate limiting is skipped for that request.
//
// SECURITY: Only use this behind a trusted reverse proxy that sets these headers.
// Without a proxy, clients can spoof X-Forwarded-For to bypass rate limits.
func RateLimitWithRealIP() RateLimitOption {
	return rateLimitWithRealIP(false)
}

// RateLimitWithRealIPRequired is RateLimitWithRealIP, but returns 400 Bad
// Request when neither header is present.
func RateLimitWithRealIPRequired() RateLimitOption {
	return rateLimitWithRealIP(true)
}

func rateLimitWithRealIP(required bool) RateLimitOption {
	return func(l *RateLimiter) {
		l.keyDims = append(l.keyDims, rateLimitDimension{
			fn: func(r *http.Request) string {
				if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
					first, _, _ := strings.Cut(xff, ",")
					return strings.TrimSpace(first)
				}
				return strings.TrimSpace(r.Header.Get("X-Real-IP"))
			},
			required: required,
			name:     "X-Forwarded-For or X-Real-IP header",
		})
	}
}

// RateLimitWithEndpoint adds the HTTP method and concrete path to the key.
// Key component format: "<method>:<path>".
func RateLimitWithEndpoint() RateLimitOption {
	return func(l *RateLimiter) {
		l.keyDims = append(l.keyDims, rateLimitDimension{
			fn: func(r *http.Request) string {
				return r.Method + ":" + r.URL.Path
			},
			name: "endpoint",
		})
	}
}

// RateLimitWithRoute adds the logical endpoint, the chi route pattern such as
// "/v1/users/{id}", to the key. All methods and all ids on that route share
// one counter. Falls back to the concrete path outside a chi router.
func RateLimitWithRoute() RateLimitOption {
	return func(l *RateLimiter) {
		l.keyDims = append(l.keyDims, routeDimension())
	}
}

func routeDimension() rateLimitDimension {
	return rateLimitDimension{
		fn:   routePattern,
		name: "route",
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// RateLimitWithHeader adds a header value to the rate limiting key.
// If the header is missing, rate limiting is skipped for that request.
func RateLimitWithHeader(header string) RateLimitOption {
	return rateLimitWithHeader(header, false)
}

// RateLimitWithHeaderRequired adds a header value to the rate limiting key.
// Returns 400 Bad Request when the header is missing.
func RateLimitWithHeaderRequired(header string) RateLimitOption {
	return rateLimitWithHeader(header, true)
}

func rateLimitWithHeader(header string, required bool) RateLimitOption {
	return func(l *RateLimiter) {
		l.keyDims = append(l.keyDims, rateLimitDimension{
			fn: func(r *http.Request) string {
				return r.Header.Get(header)
			},
			required: required,
			name:     fmt.Sprintf("header %s", header),
		})
	}
}

// NewRateLimiter creates a rate limiter admitting limit requests per window
// for each key. Without key dimension options the key is route pattern plus
// client IP.
//
// Panics if limit < 1 or window < 1s.
func NewRateLimiter(counter *FixedWindow, limit int, window time.Duration, opts ...RateLimitOption) *RateLimiter {
	if limit < 1 || window < time.Second {
		panic(fmt.Sprintf("ratelimit: limit must be >= 1 and window >= 1s, got %d per %s", limit, window))
	}

	l := &RateLimiter{
		counter:        counter,
		limit:          int64(limit),
		window:         window,
		name:           "rate-limit",
		headerMode:     RateLimitHeadersAlways,
		exceededStatus: DefaultExceededStatus,
		exceededBody:   DefaultExceededBody,
	}
	for _, opt := range opts {
		opt(l)
	}
	if len(l.keyDims) == 0 {
		l.keyDims = []rateLimitDimension{routeDimension(), ipDimension()}
	}
	if l.failOpen {
		l.fallback = newLocalLimiter(l.limit, l.window, counter.clock)
	}
	return l
}

// Limit returns the number of requests admitted per window.
func (l *RateLimiter) Limit() int64 { return l.limit }

// Window returns the window length.
func (l *RateLimiter) Window() time.Duration { return l.window }

// Check counts one request against key. In fail-open mode a store failure is
// logged and answered by the local fallback with Degraded set; otherwise the
// error wraps ErrStoreUnavailable.
func (l *RateLimiter) Check(ctx context.Context, key string) (RateLimitState, error) {
	state, err := l.counter.Check(ctx, key, l.limit, l.window)
	if err == nil || !l.failOpen {
		return state, err
	}

	addLogError(ctx, err)

	allowed, left := l.fallback.take(key)
	state = RateLimitState{
		Limit:    l.limit,
		Window:   l.window,
		Reset:    l.counter.windowReset(l.window),
		Degraded: true,
	}
	if allowed {
		state.Count = l.limit - left
	} else {
		state.Count = l.limit + 1
	}
	state.Current = min(state.Count, l.limit)
	return state, nil
}

// Handler returns the rate limiting middleware. The computed state is
// available to downstream handlers through RateLimitFromContext.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		useWrapper := HasState(ctx)

		key, missingDim := l.buildKey(r)

		if missingDim != "" {
			errMsg := fmt.Sprintf("Missing required %s", missingDim)
			if useWrapper {
				SetError(r, ErrBadRequest.With(errMsg))
			} else {
				http.Error(w, errMsg, http.StatusBadRequest)
			}
			return
		}

		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		state, err := l.Check(ctx, key)
		if err != nil {
			l.failClosed(w, r, err)
			return
		}

		if !l.apply(w, r, state) {
			return
		}
		next.ServeHTTP(w, r.WithContext(withRateLimit(ctx, state)))
	})
}

// apply writes rate limit headers and, when over the limit, the rejection.
// Returns true when the request may proceed.
func (l *RateLimiter) apply(w http.ResponseWriter, r *http.Request, state RateLimitState) bool {
	useWrapper := HasState(r.Context())
	exceeded := state.OverLimit()

	addLogFields(r.Context(), map[string]any{
		"rate_limit_remaining": state.Remaining(),
		"rate_limit_degraded":  state.Degraded,
	})

	shouldSetHeaders := l.headerMode == RateLimitHeadersAlways || (l.headerMode == RateLimitHeadersOnLimitExceeded && exceeded)

	setHeader := w.Header().Set
	if useWrapper {
		setHeader = func(key, value string) { SetHeader(r, key, value) }
	}

	if shouldSetHeaders {
		setHeader("X-RateLimit-Remaining", strconv.FormatInt(state.Remaining(), 10))
		setHeader("X-RateLimit-Limit", strconv.FormatInt(state.Limit, 10))
		setHeader("X-RateLimit-Reset", strconv.FormatInt(state.Reset.Unix(), 10))
	}

	if !exceeded {
		return true
	}

	if shouldSetHeaders {
		setHeader("Retry-After", strconv.FormatInt(state.RetryAfter(l.counter.clock.Now()), 10))
	}

	switch {
	case l.exceededBody == "" && useWrapper:
		SetError(r, ErrRateLimited.WithStatus(l.exceededStatus))
	case l.exceededBody == "":
		http.Error(w, ErrRateLimited.Message, l.exceededStatus)
	case useWrapper:
		SetText(r, l.exceededStatus, l.exceededBody)
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(l.exceededStatus)
		w.Write([]byte(l.exceededBody))
	}
	return false
}

func (l *RateLimiter) failClosed(w http.ResponseWriter, r *http.Request, err error) {
	addLogError(r.Context(), err)
	if HasState(r.Context()) {
		SetError(r, ErrServiceUnavailable.With("Rate limit check failed"))
	} else {
		http.Error(w, "Rate limit check failed", http.StatusServiceUnavailable)
	}
}

// buildKey builds the rate limit key from all dimensions.
// Returns (key, missingDimName). If missingDimName is non-empty, a required dimension was missing.
func (l *RateLimiter) buildKey(r *http.Request) (string, string) {
	var sb strings.Builder
	sb.Grow(20 + len(l.keyDims)*30)
	parts := 0

	if l.name != "" {
		sb.WriteString(l.name)
	}

	for _, dim := range l.keyDims {
		part := dim.fn(r)
		if part == "" {
			if dim.required {
				return "", dim.name
			}
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(':')
		}
		sb.WriteString(part)
		parts++
	}

	if parts == 0 {
		return "", ""
	}
	return sb.String(), ""
}

func withRateLimit(ctx context.Context, state RateLimitState) context.Context {
	return context.WithValue(ctx, rateLimitStateKey, state)
}

// RateLimitFromContext returns the state computed for this request by a
// RateLimiter or by RequireAuth.
func RateLimitFromContext(ctx context.Context) (RateLimitState, bool) {
	state, ok := ctx.Value(rateLimitStateKey).(RateLimitState)
	return state, ok
}
