// Package staffkit guards an HTTP API with signed-token or password
// authentication and a fixed-window rate limit shared through Redis.
//
// Handlers never write to the ResponseWriter directly. They record an error,
// a JSON body, or a plain-text body in the request State, and the Handler
// middleware writes exactly one response once the chain returns.
package staffkit

import (
	"context"
	"net/http"
	"sync"
)

type stateContextKey string

const stateKey stateContextKey = "staffkit_state"

// State holds the response state for a request.
type State struct {
	mu      sync.Mutex
	err     *APIError
	status  int
	body    any
	text    *string
	headers http.Header
}

// HasState returns true if Handler middleware state exists in the context.
func HasState(ctx context.Context) bool {
	return getState(ctx) != nil
}

func getState(ctx context.Context) *State {
	state, _ := ctx.Value(stateKey).(*State)
	return state
}
