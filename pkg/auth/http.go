package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	iderr "github.com/StricklySoft/identity-core/pkg/errors"
)

// HeaderAuthorization is the standard authorization header carrying the
// bearer token. The lowercase form works in both transports: http.Header.Get
// canonicalizes its key, and gRPC metadata keys are lowercased on the wire.
const HeaderAuthorization = "authorization"

// bearerPrefix is the standard "Bearer " prefix for authorization tokens.
const bearerPrefix = "Bearer "

// Boundary response bodies. Every client-caused rejection produces the same
// 401 body regardless of which check failed; dependency failures produce
// the retryable 503 body. The classified kind is logged server-side only.
const (
	unauthorizedBody = `{"error":"authentication failed"}`
	unavailableBody  = `{"error":"identity verification temporarily unavailable"}`
)

// TokenVerifier verifies a raw bearer token and returns its verified claims.
// [*Verifier] is the canonical implementation; the middleware and the gRPC
// interceptors accept the interface so tests can substitute fakes.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*VerifiedClaims, error)
}

var _ TokenVerifier = (*Verifier)(nil)

// PrincipalProvisioner binds the durable principal record for a verified
// identity into the request context. The principal package provides the
// canonical implementation and owns the context accessors for the stored
// record; this package only threads the enriched context through to the
// handler. Implementations must return the input context unchanged when
// they fail.
type PrincipalProvisioner interface {
	AttachPrincipal(ctx context.Context, identity Identity) (context.Context, error)
}

// ExtractBearerToken extracts the token from an authorization header value.
// It handles the "Bearer " prefix case-insensitively.
// Returns an empty string if the header is empty or does not have a bearer prefix.
func ExtractBearerToken(authHeader string) string {
	if len(authHeader) <= len(bearerPrefix) {
		return ""
	}
	// Case-insensitive comparison for "Bearer " prefix.
	prefix := authHeader[:len(bearerPrefix)]
	if !strings.EqualFold(prefix, bearerPrefix) {
		return ""
	}
	return authHeader[len(bearerPrefix):]
}

// Middleware returns HTTP middleware that authenticates every request.
//
// The middleware performs the following steps:
//  1. Extracts the bearer token from the Authorization header
//  2. Verifies the token using the provided [TokenVerifier]
//  3. Resolves the verified claims into an [Identity], stored in the
//     request context
//  4. Resolves the identity to its durable principal via the provisioner,
//     stored in the context under the provisioner's own key
//
// Client-caused failures (missing, malformed, expired, or otherwise
// rejected tokens) respond 401 with an opaque JSON body; failures of the
// key discovery or principal storage dependencies respond 503. The
// classified kind is logged before the response is written.
//
// A nil provisioner skips principal resolution, leaving only the Identity
// in the context.
//
// Example:
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/api/v1/me", handleMe)
//	handler := auth.Middleware(verifier, provisioner)(mux)
//	http.ListenAndServe(":8080", handler)
func Middleware(verifier TokenVerifier, provisioner PrincipalProvisioner) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
			if token == "" {
				writeErrorResponse(r.Context(), w,
					iderr.New(iderr.CodeAuthMissingToken, "auth: request has no bearer token"))
				return
			}

			ctx, err := authenticate(r.Context(), verifier, provisioner, token)
			if err != nil {
				writeErrorResponse(r.Context(), w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalMiddleware returns HTTP middleware that authenticates requests
// carrying credentials but admits requests without them.
//
// Requests with no bearer token, and requests whose token is rejected for a
// client-caused reason, proceed as guests: no Identity or principal is
// placed in the context and no error response is written. Dependency
// failures still respond 503, since the credentials that were presented
// could not be checked at all.
func OptionalMiddleware(verifier TokenVerifier, provisioner PrincipalProvisioner) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx, err := authenticate(r.Context(), verifier, provisioner, token)
			if err != nil {
				if iderr.IsAuthentication(err) {
					slog.DebugContext(r.Context(), "auth: admitting request as guest",
						slog.Any("error", err))
					next.ServeHTTP(w, r)
					return
				}
				writeErrorResponse(r.Context(), w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authenticate runs the verification chain for a bearer token and returns a
// context enriched with the resulting Identity (and principal, when a
// provisioner is configured). On failure the intermediate contexts are
// discarded and the original context is returned alongside the classified
// error.
func authenticate(ctx context.Context, verifier TokenVerifier, provisioner PrincipalProvisioner, token string) (context.Context, error) {
	claims, err := verifier.Verify(ctx, token)
	if err != nil {
		return ctx, err
	}
	identity, err := ResolveIdentity(claims)
	if err != nil {
		return ctx, err
	}

	enriched := ContextWithIdentity(ctx, identity)
	if provisioner == nil {
		return enriched, nil
	}
	enriched, err = provisioner.AttachPrincipal(enriched, identity)
	if err != nil {
		return ctx, err
	}
	return enriched, nil
}

// writeErrorResponse logs the classified failure kind and writes the
// corresponding boundary response. Client-caused failures receive the opaque
// 401; everything else is treated as a dependency failure and receives 503.
func writeErrorResponse(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusServiceUnavailable
	body := unavailableBody
	if iderr.IsAuthentication(err) {
		status = http.StatusUnauthorized
		body = unauthorizedBody
		logFailure(ctx, slog.LevelInfo, "auth: request authentication failed", err)
	} else {
		logFailure(ctx, slog.LevelError, "auth: identity verification unavailable", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// logFailure records a rejected or failed authentication server-side. The
// response bodies are opaque, so this log line plus the trace ids is all an
// operator has to link a client report to a cause.
func logFailure(ctx context.Context, level slog.Level, msg string, err error) {
	attrs := []slog.Attr{slog.Any("error", err)}
	if traceID, ok := TraceIDFromContext(ctx); ok {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	if spanID, ok := SpanIDFromContext(ctx); ok {
		attrs = append(attrs, slog.String("span_id", spanID))
	}
	slog.LogAttrs(ctx, level, msg, attrs...)
}
