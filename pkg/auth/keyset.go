package auth

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	iderr "github.com/StricklySoft/identity-core/pkg/errors"
)

// ---------------------------------------------------------------------------
// Key material model
// ---------------------------------------------------------------------------

// SigningKey is one public signing key published by the identity provider.
type SigningKey struct {
	// KeyID is the "kid" value the provider stamps into token headers.
	KeyID string

	// Algorithm is the JWS algorithm the provider declared for this key
	// ("ES256", "RS256"). Some providers omit "alg" on JWKS entries, in
	// which case this is empty and the verifier falls back to its default.
	Algorithm string

	// Use is the declared key use ("sig"). Informational.
	Use string

	// PublicKey is the reconstructed public key: *ecdsa.PublicKey or
	// *rsa.PublicKey.
	PublicKey crypto.PublicKey
}

// KeySet is one complete snapshot of the provider's published signing keys.
// A KeySet is immutable after construction; refreshes produce a new KeySet
// rather than mutating an existing one, so a KeySet handed to a caller
// never changes underneath it.
type KeySet struct {
	// Keys holds the usable keys from the provider's JWKS document, in
	// document order.
	Keys []SigningKey

	// FetchedAt records when this snapshot was fetched. Freshness is
	// judged against this timestamp.
	FetchedAt time.Time
}

// Key returns the signing key with the given key ID. The bool reports
// whether the key was found.
func (s *KeySet) Key(kid string) (SigningKey, bool) {
	for _, k := range s.Keys {
		if k.KeyID == kid {
			return k, true
		}
	}
	return SigningKey{}, false
}

// ---------------------------------------------------------------------------
// KeySetSource interface
// ---------------------------------------------------------------------------

// KeySetSource supplies the provider's current KeySet to the verifier.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type KeySetSource interface {
	// Get returns a KeySet that satisfies the source's freshness policy,
	// fetching from the provider if necessary. Sources that cache may
	// return a stale KeySet when the provider is unreachable.
	Get(ctx context.Context) (*KeySet, error)

	// ForceRefresh fetches from the provider regardless of freshness.
	// The failure policy matches Get: a stale KeySet may be returned
	// when the provider is unreachable.
	ForceRefresh(ctx context.Context) (*KeySet, error)
}

// ---------------------------------------------------------------------------
// HTTPClient interface
// ---------------------------------------------------------------------------

// HTTPClient abstracts the HTTP client used for fetching the provider's
// JWKS document. This allows callers to provide custom HTTP clients with
// specific transport settings or middleware (e.g., for mTLS, proxy
// configuration, or request tracing).
//
// The standard [http.Client] satisfies this interface.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ---------------------------------------------------------------------------
// KeySetCache
// ---------------------------------------------------------------------------

// DefaultKeySetTTL is the default time a fetched KeySet is considered
// fresh. Key rotation at providers is rare and old keys remain published
// for a grace period, so freshness is a tuning knob rather than a
// correctness requirement.
const DefaultKeySetTTL = 10 * time.Minute

// DefaultFetchTimeout is the default bound on a single JWKS fetch.
const DefaultFetchTimeout = 10 * time.Second

// maxJWKSResponseSize is the maximum accepted JWKS response body (1 MB).
// Larger responses are truncated at read time to prevent resource
// exhaustion; a real JWKS document is a few kilobytes.
const maxJWKSResponseSize = 1 << 20

// KeySetCacheConfig configures a [KeySetCache].
type KeySetCacheConfig struct {
	// JWKSURL is the provider's JWKS endpoint. Required.
	JWKSURL string

	// TTL is how long a fetched KeySet is served without refetching.
	// Zero or negative means [DefaultKeySetTTL].
	TTL time.Duration

	// FetchTimeout bounds each refresh HTTP GET, applied through the
	// request context. Zero or negative means [DefaultFetchTimeout].
	FetchTimeout time.Duration

	// HTTPClient performs the refresh requests. If nil, a default
	// [http.Client] is used; FetchTimeout still bounds each request.
	HTTPClient HTTPClient

	// Logger receives stale-serve warnings and refresh debug records.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
}

// KeySetCache is a TTL-bounded in-process cache of the provider's signing
// keys, implementing [KeySetSource].
//
// The current KeySet is held in an atomic pointer and replaced wholesale
// on refresh, so concurrent readers observe either the old snapshot or
// the new one, never a torn mix. Reads of a fresh cache take no lock; a
// mutex guards only the refresh-and-publish step, which also
// single-flights concurrent refreshes: callers that find the TTL expired
// wait for one in-flight fetch instead of issuing duplicates.
//
// When a refresh fails and a previous KeySet exists, the stale set is
// served and the failure is logged at WARN; token verification then
// proceeds against possibly-rotated keys, which at worst rejects a token
// that a fresh set would have accepted. When no KeySet has ever been
// fetched, the failure is returned as key discovery being unavailable.
type KeySetCache struct {
	jwksURL      string
	ttl          time.Duration
	fetchTimeout time.Duration
	client       HTTPClient
	logger       *slog.Logger
	tracer       trace.Tracer

	// current holds the last successfully fetched KeySet, nil before the
	// first successful fetch.
	current atomic.Pointer[KeySet]

	// refreshMu serializes refresh-and-publish. Readers never take it.
	refreshMu sync.Mutex
}

// Compile-time assertion that KeySetCache implements KeySetSource.
var _ KeySetSource = (*KeySetCache)(nil)

// NewKeySetCache creates a KeySetCache for the given configuration. The
// first fetch happens lazily on the first Get or ForceRefresh call.
func NewKeySetCache(cfg KeySetCacheConfig) (*KeySetCache, error) {
	if cfg.JWKSURL == "" {
		return nil, iderr.New(iderr.CodeValidationRequired, "auth: keyset cache requires a JWKS URL")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultKeySetTTL
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &KeySetCache{
		jwksURL:      cfg.JWKSURL,
		ttl:          ttl,
		fetchTimeout: fetchTimeout,
		client:       client,
		logger:       logger,
		tracer:       otel.Tracer(tracerName),
	}, nil
}

// Get returns the cached KeySet if it is younger than the TTL, refreshing
// from the provider otherwise. Implements [KeySetSource].
func (c *KeySetCache) Get(ctx context.Context) (*KeySet, error) {
	if ks := c.current.Load(); ks != nil && time.Since(ks.FetchedAt) < c.ttl {
		return ks, nil
	}
	return c.refresh(ctx, false)
}

// ForceRefresh fetches from the provider regardless of the cached
// KeySet's age. Implements [KeySetSource].
func (c *KeySetCache) ForceRefresh(ctx context.Context) (*KeySet, error) {
	return c.refresh(ctx, true)
}

// refresh fetches the JWKS document and publishes the resulting KeySet.
// The mutex single-flights concurrent refreshes: the winner fetches while
// the others wait, then reuse whatever the winner published (unless
// force, which always fetches).
func (c *KeySetCache) refresh(ctx context.Context, force bool) (*KeySet, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// A concurrent caller may have refreshed while this one waited for
	// the lock.
	if !force {
		if ks := c.current.Load(); ks != nil && time.Since(ks.FetchedAt) < c.ttl {
			return ks, nil
		}
	}

	ks, err := c.fetch(ctx)
	if err != nil {
		if stale := c.current.Load(); stale != nil {
			c.logger.WarnContext(ctx, "auth: keyset refresh failed; serving stale keyset",
				slog.String("jwks_url", c.jwksURL),
				slog.Time("fetched_at", stale.FetchedAt),
				slog.String("error", err.Error()))
			return stale, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, iderr.Wrap(err, iderr.CodeTimeoutKeyDiscovery, "auth: key discovery timed out")
		}
		return nil, iderr.Wrap(err, iderr.CodeUnavailableKeyDiscovery, "auth: key discovery unavailable")
	}

	c.current.Store(ks)
	c.logger.DebugContext(ctx, "auth: keyset refreshed",
		slog.String("jwks_url", c.jwksURL),
		slog.Int("keys", len(ks.Keys)))
	return ks, nil
}

// fetch performs one HTTP GET against the JWKS URL and builds a KeySet.
// The request is bounded by the configured fetch timeout; a timeout is
// reported like any other fetch failure.
func (c *KeySetCache) fetch(ctx context.Context) (*KeySet, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	ctx, span := startSpan(ctx, c.tracer, "auth.KeySetCache.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("auth.jwks_url", c.jwksURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jwksURL, nil)
	if err != nil {
		err = fmt.Errorf("auth: failed to create JWKS request: %w", err)
		finishSpan(span, err)
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		err = fmt.Errorf("auth: JWKS request failed: %w", err)
		finishSpan(span, err)
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("auth: JWKS endpoint returned status %d", resp.StatusCode)
		finishSpan(span, err)
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSResponseSize))
	if err != nil {
		err = fmt.Errorf("auth: failed to read JWKS response: %w", err)
		finishSpan(span, err)
		return nil, err
	}

	ks, skipped, err := parseJWKS(body)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}
	if skipped > 0 {
		c.logger.WarnContext(ctx, "auth: skipped unusable JWKS entries",
			slog.String("jwks_url", c.jwksURL),
			slog.Int("skipped", skipped))
	}

	span.SetAttributes(attribute.Int("auth.keyset_size", len(ks.Keys)))
	return ks, nil
}

// ---------------------------------------------------------------------------
// JWKS parsing
// ---------------------------------------------------------------------------

// jwksDocument is the JSON structure of a JWKS endpoint response.
type jwksDocument struct {
	Keys []jwkEntry `json:"keys"`
}

// jwkEntry is a single key in a JWKS response. Only the fields needed for
// RSA and EC key reconstruction are included.
type jwkEntry struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	// RSA fields
	N string `json:"n"`
	E string `json:"e"`
	// EC fields
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// parseJWKS decodes a JWKS document into a KeySet. Entries without a kid,
// with an unrecognized key type, or that fail reconstruction are skipped
// and counted. A document yielding no usable keys is a failed fetch, not
// an empty cache entry.
func parseJWKS(body []byte) (*KeySet, int, error) {
	var doc jwksDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, 0, fmt.Errorf("auth: failed to parse JWKS JSON: %w", err)
	}

	skipped := 0
	keys := make([]SigningKey, 0, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kid == "" {
			skipped++
			continue
		}
		switch k.Kty {
		case "RSA":
			pub, err := parseRSAPublicKey(k.N, k.E)
			if err != nil {
				skipped++ // Skip malformed keys.
				continue
			}
			keys = append(keys, SigningKey{KeyID: k.Kid, Algorithm: k.Alg, Use: k.Use, PublicKey: pub})
		case "EC":
			pub, err := parseECPublicKey(k.Crv, k.X, k.Y)
			if err != nil {
				skipped++ // Skip malformed keys.
				continue
			}
			keys = append(keys, SigningKey{KeyID: k.Kid, Algorithm: k.Alg, Use: k.Use, PublicKey: pub})
		default:
			skipped++
		}
	}

	if len(keys) == 0 {
		return nil, skipped, fmt.Errorf("auth: JWKS document contains no usable keys")
	}

	return &KeySet{Keys: keys, FetchedAt: time.Now()}, skipped, nil
}

// parseRSAPublicKey constructs an *rsa.PublicKey from base64url-encoded
// modulus (n) and exponent (e) values.
func parseRSAPublicKey(nBase64, eBase64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode RSA modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode RSA exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	return &rsa.PublicKey{
		N: n,
		E: int(e.Int64()),
	}, nil
}

// parseECPublicKey constructs an *ecdsa.PublicKey from a curve name and
// base64url-encoded x and y coordinates.
func parseECPublicKey(crv, xBase64, yBase64 string) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("auth: unsupported EC curve %q", crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(xBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode EC x coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(yBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode EC y coordinate: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
