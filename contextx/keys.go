// Package contextx holds the request-scoped values the server interceptors
// attach to handler contexts.
package contextx

// contextKey is an unexported type used as context key to avoid collisions
// with keys defined in other packages.
type contextKey int

const (
	requestIDKey contextKey = iota
)
