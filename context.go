package crmgate

import "context"

type sessionIDContextKey struct{}
type stateContextKey struct{}
type clientIPContextKey struct{}

// WithSessionID attaches the browser session ID to ctx. The session cookie
// middleware sets it for every request.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDContextKey{}, sessionID)
}

// SessionIDFromContext returns the browser session ID attached by WithSessionID.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, _ := ctx.Value(sessionIDContextKey{}).(string)
	return id, id != ""
}

// WithState attaches the session state the gate decided on, so handlers
// render with the same identity the decision saw.
func WithState(ctx context.Context, st State) context.Context {
	return context.WithValue(ctx, stateContextKey{}, st)
}

// StateFromContext returns the state attached by WithState.
func StateFromContext(ctx context.Context) (State, bool) {
	if ctx == nil {
		return State{}, false
	}
	st, ok := ctx.Value(stateContextKey{}).(State)
	return st, ok
}

// WithClientIP attaches the browser's address to ctx. Login uses it for the
// per-IP sign-in throttle.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// ClientIPFromContext returns the address attached by WithClientIP.
func ClientIPFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip, ip != ""
}
