// Package auth verifies provider-issued bearer tokens and resolves them
// into normalized identities for principal provisioning.
//
// The package implements the request identity chain up to the point
// where storage takes over:
//
//	token → Verifier → VerifiedClaims → ResolveIdentity → Identity
//
// pkg/principal continues the chain by mapping the Identity to a durable
// Principal row. HTTP middleware and gRPC interceptors wire the full
// chain into request handling and place the results in the request
// context.
//
// Signing keys:
//
// Verification trusts only the provider's published signing keys,
// fetched from its JWKS endpoint and cached by [KeySetCache]. The cache
// serves stale keys when the provider is unreachable rather than taking
// authentication down with it; only a cold start with no fetched keys
// fails closed.
//
// Error discipline:
//
// Every rejection is classified internally with a distinct pkg/errors
// AUTH code, but boundary layers collapse all client-caused failures to
// a single opaque 401 response. Dependency failures (key discovery,
// storage) collapse to 503. The split keeps operator logs precise
// without handing callers an oracle for probing why a token was
// rejected.
package auth

import (
	"strings"

	iderr "github.com/StricklySoft/identity-core/pkg/errors"
)

// DefaultProvider is the provider recorded when the token carries no
// provider attribution anywhere in its metadata. OAuth logins populate
// app_metadata.provider; password logins typically leave it unset, so
// the default names the password method.
const DefaultProvider = "email"

// Identity is the normalized, ephemeral handle for an authenticated end
// user, derived from [VerifiedClaims]. It is the canonical input for
// principal lookup and creation; it is never persisted itself.
type Identity struct {
	// Provider names the login method that produced the token
	// ("google", "apple", "email", ...).
	Provider string

	// ExternalUID is the provider-scoped unique id of the user, taken
	// from the token's subject claim.
	ExternalUID string

	// Email is the user's email address, empty when the token carries
	// none.
	Email string
}

// ResolveIdentity derives the normalized Identity from a verified claim
// set.
//
// The only failure is an absent or blank subject: a token without a
// stable user id cannot be mapped to a principal. Provider attribution
// falls back through app_metadata.provider, then user_metadata.provider,
// then [DefaultProvider]. Returns a *[iderr.Error] with code
// [iderr.CodeAuthMissingSubject] on failure.
func ResolveIdentity(claims *VerifiedClaims) (Identity, error) {
	if claims == nil || strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, iderr.New(iderr.CodeAuthMissingSubject, "auth: token has no subject")
	}

	provider := DefaultProvider
	if p, ok := lookupProvider(claims); ok {
		provider = p
	}

	return Identity{
		Provider:    provider,
		ExternalUID: claims.Subject,
		Email:       claims.Email,
	}, nil
}

// providerLookups is the provider attribution chain, in priority order.
// Each entry is total over VerifiedClaims and reports whether it found a
// value; resolution short-circuits on the first hit.
var providerLookups = []func(*VerifiedClaims) (string, bool){
	providerFromAppMetadata,
	providerFromUserMetadata,
}

// lookupProvider runs the attribution chain and returns the first
// provider found. The bool reports whether any entry matched.
func lookupProvider(claims *VerifiedClaims) (string, bool) {
	for _, lookup := range providerLookups {
		if p, ok := lookup(claims); ok {
			return p, true
		}
	}
	return "", false
}

func providerFromAppMetadata(claims *VerifiedClaims) (string, bool) {
	return metadataProvider(claims.AppMetadata)
}

func providerFromUserMetadata(claims *VerifiedClaims) (string, bool) {
	return metadataProvider(claims.UserMetadata)
}

// metadataProvider extracts a non-empty "provider" entry from a token
// metadata map.
func metadataProvider(meta map[string]any) (string, bool) {
	if meta == nil {
		return "", false
	}
	p, ok := meta["provider"].(string)
	if !ok || p == "" {
		return "", false
	}
	return p, true
}
