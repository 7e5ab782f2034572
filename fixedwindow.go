package staffkit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nhalm/staffkit/clock"
	"github.com/nhalm/staffkit/store"
)

const (
	// DefaultExpirationGrace keeps a window's counter alive past its reset so a
	// request landing just before rollover can still report the old reset.
	DefaultExpirationGrace = 10 * time.Second

	// DefaultStoreTimeout bounds a single counter store round trip.
	DefaultStoreTimeout = 250 * time.Millisecond
)

var (
	// ErrStoreUnavailable wraps any counter store failure or timeout.
	ErrStoreUnavailable = errors.New("staffkit: rate limit store unavailable")

	// ErrInvalidRule is returned for a limit below 1 or a window under one second.
	ErrInvalidRule = errors.New("staffkit: invalid rate limit rule")
)

// RateLimitState is the outcome of one fixed-window check.
type RateLimitState struct {
	Limit  int64
	Window time.Duration

	// Current is the counter capped at Limit, so bursts never report a
	// negative or misleading remaining count.
	Current int64

	// Count is the raw counter after this request's increment.
	Count int64

	// Reset is the end of the window the request was counted in.
	Reset time.Time

	// Degraded is set when the state came from the in-process fallback
	// limiter because the shared store was unreachable.
	Degraded bool
}

// Remaining returns how many more requests the window admits.
func (s RateLimitState) Remaining() int64 {
	return max(0, s.Limit-s.Current)
}

// OverLimit reports whether this request exceeded the limit. Exactly Limit
// requests are admitted per window; the next one is over.
func (s RateLimitState) OverLimit() bool {
	return s.Count > s.Limit
}

// RetryAfter returns the whole seconds from now until Reset, at least 1.
func (s RateLimitState) RetryAfter(now time.Time) int64 {
	secs := int64(s.Reset.Sub(now).Round(time.Second) / time.Second)
	return max(1, secs)
}

// FixedWindow counts requests per key in fixed, clock-aligned windows.
//
// Windows start at multiples of the window length since the unix epoch, so
// every instance sharing a store agrees on boundaries without coordination.
// The counter key embeds the window's reset time, which makes consecutive
// windows distinct keys and gives the store an exact expiry anchor.
type FixedWindow struct {
	store   store.Store
	clock   clock.Clock
	grace   time.Duration
	timeout time.Duration
}

// FixedWindowOption configures a FixedWindow.
type FixedWindowOption func(*FixedWindow)

// FixedWindowWithClock sets the clock used to place requests in windows.
func FixedWindowWithClock(c clock.Clock) FixedWindowOption {
	return func(f *FixedWindow) {
		f.clock = c
	}
}

// FixedWindowWithGrace sets how long a counter outlives its window
// (default DefaultExpirationGrace).
func FixedWindowWithGrace(d time.Duration) FixedWindowOption {
	return func(f *FixedWindow) {
		f.grace = d
	}
}

// FixedWindowWithTimeout bounds each store call (default DefaultStoreTimeout).
// Zero disables the bound and relies on the caller's context.
func FixedWindowWithTimeout(d time.Duration) FixedWindowOption {
	return func(f *FixedWindow) {
		f.timeout = d
	}
}

// NewFixedWindow returns a FixedWindow counting in st.
func NewFixedWindow(st store.Store, opts ...FixedWindowOption) *FixedWindow {
	f := &FixedWindow{
		store:   st,
		clock:   clock.Real(),
		grace:   DefaultExpirationGrace,
		timeout: DefaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Check increments the counter for scopeKey in the current window and
// returns the resulting state. Every call counts, including calls that end
// up over the limit, so abusive traffic pays for its own rejections.
//
// Store failures and timeouts return an error wrapping ErrStoreUnavailable;
// no state is returned with them.
func (f *FixedWindow) Check(ctx context.Context, scopeKey string, limit int64, window time.Duration) (RateLimitState, error) {
	if limit < 1 || window < time.Second {
		return RateLimitState{}, fmt.Errorf("%w: limit=%d window=%s", ErrInvalidRule, limit, window)
	}

	reset := f.windowReset(window)
	key := scopeKey + ":" + strconv.FormatInt(reset.Unix(), 10)

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	count, err := f.store.Increment(ctx, key, reset.Add(f.grace))
	if err != nil {
		return RateLimitState{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	return RateLimitState{
		Limit:   limit,
		Window:  window,
		Current: min(count, limit),
		Count:   count,
		Reset:   reset,
	}, nil
}

// windowReset returns the end of the window containing now. Windows are whole
// seconds; sub-second window lengths are truncated.
func (f *FixedWindow) windowReset(window time.Duration) time.Time {
	per := int64(window / time.Second)
	now := f.clock.Now().Unix()
	return time.Unix((now/per)*per+per, 0)
}
