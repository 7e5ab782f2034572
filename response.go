package staffkit

import "net/http"

// SetError sets an error response in the request context.
// If Handler middleware is not present (state is nil), this is a no-op.
// Use HasState() to check if Handler middleware is active.
func SetError(r *http.Request, err *APIError) {
	state := getState(r.Context())
	if state == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.err = err
}

// SetResponse sets a JSON success response in the request context.
// If Handler middleware is not present (state is nil), this is a no-op.
func SetResponse(r *http.Request, status int, body any) {
	state := getState(r.Context())
	if state == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.status = status
	state.body = body
	state.text = nil
}

// SetText sets a plain-text response in the request context. It is used for
// the rate limit rejection, whose body is a bare sentence rather than JSON.
// If Handler middleware is not present (state is nil), this is a no-op.
func SetText(r *http.Request, status int, text string) {
	state := getState(r.Context())
	if state == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.status = status
	state.body = nil
	state.text = &text
}

// SetHeader sets a response header in the request context.
// If Handler middleware is not present (state is nil), this is a no-op.
func SetHeader(r *http.Request, key, value string) {
	state := getState(r.Context())
	if state == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.headers == nil {
		state.headers = make(http.Header)
	}
	state.headers.Set(key, value)
}

// AddHeader adds a response header value in the request context.
// If Handler middleware is not present (state is nil), this is a no-op.
func AddHeader(r *http.Request, key, value string) {
	state := getState(r.Context())
	if state == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.headers == nil {
		state.headers = make(http.Header)
	}
	state.headers.Add(key, value)
}
