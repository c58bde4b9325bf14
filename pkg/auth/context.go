package auth

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// identityKeyType keys the authenticated Identity in a context. An
// unexported struct type cannot collide with keys from other packages.
type identityKeyType struct{}

var identityKey identityKeyType

// ContextWithIdentity attaches a verified Identity to the context. The
// HTTP middleware and the gRPC interceptors call this once token
// verification succeeds; handlers read it back with
// [IdentityFromContext].
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext returns the Identity attached to the context. ok
// is false when the request never passed verification, for example a
// guest admitted by [OptionalMiddleware]:
//
//	identity, ok := auth.IdentityFromContext(ctx)
//	if !ok {
//	    // anonymous request
//	}
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

// MustIdentityFromContext is [IdentityFromContext] for handlers that sit
// behind [Middleware], where a missing identity means the middleware was
// never installed. It panics rather than returning ok=false.
func MustIdentityFromContext(ctx context.Context) Identity {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		panic("auth: no identity in context; ensure authentication middleware is configured")
	}
	return identity
}

// TraceIDFromContext returns the hex trace id of the span recording on
// the context, if any. The boundary logging uses it to tie rejected
// requests to their distributed traces.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return "", false
	}
	return sc.TraceID().String(), true
}

// SpanIDFromContext returns the hex span id of the span recording on
// the context, if any.
func SpanIDFromContext(ctx context.Context) (string, bool) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasSpanID() {
		return "", false
	}
	return sc.SpanID().String(), true
}
