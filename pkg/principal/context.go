package principal

import "context"

// contextKey is a private type for context keys defined in this package,
// preventing collisions with keys from other packages.
type contextKey int

const principalKey contextKey = iota

// NewContext returns a copy of ctx carrying p.
func NewContext(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext extracts the principal attached by the authentication
// middleware. The second return value is false on requests that did not
// pass through it, or passed through the optional variant without
// credentials.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

// MustFromContext extracts the principal and panics when absent. Use it
// only in handlers mounted behind the required authentication
// middleware.
func MustFromContext(ctx context.Context) *Principal {
	p, ok := FromContext(ctx)
	if !ok {
		panic("principal: no principal in context; ensure authentication middleware is configured")
	}
	return p
}
