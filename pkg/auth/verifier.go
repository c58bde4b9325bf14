package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	iderr "github.com/StricklySoft/identity-core/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for auth spans.
const tracerName = "github.com/StricklySoft/identity-core/pkg/auth"

// ---------------------------------------------------------------------------
// VerifierConfig
// ---------------------------------------------------------------------------

// DefaultAudience is the audience claim the provider mints into end-user
// access tokens.
const DefaultAudience = "authenticated"

// DefaultAlgorithm is assumed when neither the token header nor the JWKS
// entry declares a signing algorithm. The provider signs current tokens
// with ES256.
const DefaultAlgorithm = "ES256"

// allowedAlgorithms is the closed set of accepted signing algorithms,
// matching what the provider actually issues. Symmetric algorithms are
// deliberately absent: accepting HMAC against a published public key
// enables key-confusion forgeries.
var allowedAlgorithms = map[string]bool{
	"ES256": true,
	"RS256": true,
}

// maxTokenSize is the maximum accepted size for a bearer token string
// (8 KB). Tokens larger than this are rejected to prevent resource
// exhaustion.
const maxTokenSize = 8192

// Provider URL suffixes used to derive the JWKS endpoint and issuer from
// the project base URL.
const (
	jwksPathSuffix   = "/auth/v1/.well-known/jwks.json"
	issuerPathSuffix = "/auth/v1"
)

// VerifierConfig holds the configuration for [Verifier]. Load it with
// pkg/config using the IDENTITY env prefix, or construct it directly.
//
// Either ProjectURL or the explicit JWKSURL/Issuer pair must be set; the
// explicit values override derivation when both are present.
type VerifierConfig struct {
	// ProjectURL is the identity provider's project base URL. When set,
	// the JWKS endpoint and issuer are derived from it:
	//
	//	JWKS:   {ProjectURL}/auth/v1/.well-known/jwks.json
	//	Issuer: {ProjectURL}/auth/v1
	ProjectURL string `json:"project_url" yaml:"project_url" env:"PROJECT_URL"`

	// JWKSURL is the provider's key-discovery endpoint. Overrides the
	// URL derived from ProjectURL.
	JWKSURL string `json:"jwks_url,omitempty" yaml:"jwks_url" env:"JWKS_URL"`

	// Issuer is the expected "iss" claim. Overrides the issuer derived
	// from ProjectURL.
	Issuer string `json:"issuer,omitempty" yaml:"issuer" env:"ISSUER"`

	// Audience is the expected "aud" claim. Defaults to "authenticated",
	// the audience the provider mints into end-user access tokens.
	Audience string `json:"audience" yaml:"audience" env:"AUDIENCE" envDefault:"authenticated"`

	// CacheTTL is how long fetched signing keys are served without
	// refetching. Defaults to 10 minutes; staleness tuning only, not
	// load-bearing for correctness.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl" env:"CACHE_TTL" envDefault:"10m"`

	// FetchTimeout bounds each key-discovery HTTP GET. Defaults to 10
	// seconds.
	FetchTimeout time.Duration `json:"fetch_timeout" yaml:"fetch_timeout" env:"FETCH_TIMEOUT" envDefault:"10s"`

	// Leeway is the clock-skew tolerance applied to time-based claims.
	// Defaults to zero: expiry is judged strictly against wall time.
	Leeway time.Duration `json:"leeway" yaml:"leeway" env:"LEEWAY" envDefault:"0s"`

	// HTTPClient performs key-discovery requests. If nil, a default
	// [http.Client] is used.
	HTTPClient HTTPClient `json:"-" yaml:"-"`

	// KeySetSource overrides the JWKS-backed key cache. If nil, a
	// [KeySetCache] is built from JWKSURL, CacheTTL, and FetchTimeout.
	KeySetSource KeySetSource `json:"-" yaml:"-"`

	// Logger receives verification and keyset records. If nil,
	// [slog.Default] is used.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

// Validate checks the configuration for logical correctness. It returns
// a *[iderr.Error] with a VAL code if any field is invalid.
//
// Validation rules:
//   - ProjectURL or Issuer must be set
//   - ProjectURL or JWKSURL must be set, unless a KeySetSource is injected
//   - ProjectURL and JWKSURL must be absolute http(s) URLs when set
//   - CacheTTL, FetchTimeout, and Leeway must be non-negative
func (c *VerifierConfig) Validate() error {
	if c.ProjectURL == "" && c.Issuer == "" {
		return iderr.New(iderr.CodeValidationRequired,
			"auth: verifier config requires a project URL or an explicit issuer")
	}
	if c.KeySetSource == nil && c.ProjectURL == "" && c.JWKSURL == "" {
		return iderr.New(iderr.CodeValidationRequired,
			"auth: verifier config requires a project URL or an explicit JWKS URL")
	}
	if c.ProjectURL != "" && !isAbsoluteHTTPURL(c.ProjectURL) {
		return iderr.Newf(iderr.CodeValidationFormat,
			"auth: project URL %q must be an absolute http(s) URL", c.ProjectURL)
	}
	if c.JWKSURL != "" && !isAbsoluteHTTPURL(c.JWKSURL) {
		return iderr.Newf(iderr.CodeValidationFormat,
			"auth: JWKS URL %q must be an absolute http(s) URL", c.JWKSURL)
	}
	if c.CacheTTL < 0 {
		return iderr.New(iderr.CodeValidationRange, "auth: cache TTL must be non-negative")
	}
	if c.FetchTimeout < 0 {
		return iderr.New(iderr.CodeValidationRange, "auth: fetch timeout must be non-negative")
	}
	if c.Leeway < 0 {
		return iderr.New(iderr.CodeValidationRange, "auth: leeway must be non-negative")
	}
	return nil
}

// DefaultVerifierConfig returns a VerifierConfig with the standard
// defaults. ProjectURL (or JWKSURL and Issuer) must still be set by the
// caller.
func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		Audience:     DefaultAudience,
		CacheTTL:     DefaultKeySetTTL,
		FetchTimeout: DefaultFetchTimeout,
		Leeway:       0,
	}
}

// EffectiveJWKSURL returns the explicit JWKSURL when set, otherwise the
// endpoint derived from ProjectURL. Empty when neither is available.
func (c *VerifierConfig) EffectiveJWKSURL() string {
	if c.JWKSURL != "" {
		return c.JWKSURL
	}
	if c.ProjectURL == "" {
		return ""
	}
	return strings.TrimRight(c.ProjectURL, "/") + jwksPathSuffix
}

// EffectiveIssuer returns the explicit Issuer when set, otherwise the
// issuer derived from ProjectURL. Empty when neither is available.
func (c *VerifierConfig) EffectiveIssuer() string {
	if c.Issuer != "" {
		return c.Issuer
	}
	if c.ProjectURL == "" {
		return ""
	}
	return strings.TrimRight(c.ProjectURL, "/") + issuerPathSuffix
}

// isAbsoluteHTTPURL reports whether raw parses as an absolute URL with
// an http or https scheme and a host.
func isAbsoluteHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ---------------------------------------------------------------------------
// VerifiedClaims
// ---------------------------------------------------------------------------

// VerifiedClaims is the claim set of a token that passed verification.
// It is produced once per [Verifier.Verify] call and never persisted.
type VerifiedClaims struct {
	// Subject is the provider-scoped unique id of the end user, from
	// the "sub" claim.
	Subject string

	// Email is the user's email address when the token carries one.
	Email string

	// Audience is the token's "aud" claim (the first value when the
	// claim is a list), validated against the configured audience.
	Audience string

	// Issuer is the token's "iss" claim, validated against the
	// configured issuer.
	Issuer string

	// ExpiresAt is the token's "exp" instant.
	ExpiresAt time.Time

	// ProviderHint is the login provider the token attributes this user
	// to, when the provider populated one in the token metadata. Empty
	// for logins the provider does not attribute (typically password
	// logins).
	ProviderHint string

	// AppMetadata is the token's "app_metadata" claim when present.
	// Written by the provider, not editable by the user.
	AppMetadata map[string]any

	// UserMetadata is the token's "user_metadata" claim when present.
	// User-editable at the provider; treat its values as untrusted.
	UserMetadata map[string]any

	// Raw is the complete verified claim set.
	Raw jwt.MapClaims
}

// ---------------------------------------------------------------------------
// Verifier
// ---------------------------------------------------------------------------

// Verifier verifies provider-issued bearer tokens against the provider's
// published signing keys and returns the verified claim set.
//
// Verification is fail-closed and every rejection carries a distinct
// classified code: missing token, malformed header, unknown key id,
// algorithm mismatch, unsupported algorithm, invalid signature, expired,
// bad audience, bad issuer. Boundary layers collapse all of these to one
// opaque response; the codes exist for logs and tests, not for clients.
//
// Verifier is safe for concurrent use by multiple goroutines.
type Verifier struct {
	config   VerifierConfig
	issuer   string
	audience string
	keys     KeySetSource
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewVerifier creates a Verifier with the given configuration. The
// configuration is validated before use; an error is returned if it is
// invalid.
//
// If cfg.KeySetSource is nil, a [KeySetCache] is built from the
// configuration and the first key fetch happens on the first Verify
// call.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Audience == "" {
		cfg.Audience = DefaultAudience
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	keys := cfg.KeySetSource
	if keys == nil {
		cache, err := NewKeySetCache(KeySetCacheConfig{
			JWKSURL:      cfg.EffectiveJWKSURL(),
			TTL:          cfg.CacheTTL,
			FetchTimeout: cfg.FetchTimeout,
			HTTPClient:   cfg.HTTPClient,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		keys = cache
	}

	return &Verifier{
		config:   cfg,
		issuer:   cfg.EffectiveIssuer(),
		audience: cfg.Audience,
		keys:     keys,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// KeySet returns the verifier's key source. Exposed so operators can
// trigger [KeySetSource.ForceRefresh] after a known provider key
// rotation instead of waiting out the cache TTL.
func (v *Verifier) KeySet() KeySetSource {
	return v.keys
}

// Verify checks the given bearer token and returns its verified claims.
//
// The verification order is fixed; each step rejects with its own
// classified code before any later work happens:
//  1. Reject empty and oversized tokens; parse the header without
//     verification to read the key id and declared algorithm
//  2. Resolve the signing key from the current KeySet by key id
//  3. Determine the effective algorithm (header, else key, else ES256)
//  4. Reject header/key algorithm disagreement
//  5. Reject algorithms outside the allow-list
//  6. Verify the signature and the issuer, audience, and expiry claims
//  7. Return the verified claim set
//
// Key-discovery failures surface as dependency errors (UNAVAIL/TIMEOUT
// codes), never as token rejections. Returns a *[iderr.Error] on
// failure.
func (v *Verifier) Verify(ctx context.Context, tokenStr string) (*VerifiedClaims, error) {
	ctx, span := startSpan(ctx, v.tracer, "auth.Verifier.Verify")
	defer span.End()

	// Step 1: reject the obviously unusable, then read the header.
	if strings.TrimSpace(tokenStr) == "" {
		err := iderr.New(iderr.CodeAuthMissingToken, "auth: token must not be empty")
		finishSpan(span, err)
		return nil, err
	}
	if len(tokenStr) > maxTokenSize {
		err := iderr.New(iderr.CodeAuthMalformedHeader, "auth: token exceeds maximum size")
		finishSpan(span, err)
		return nil, err
	}

	unverified, _, err := jwt.NewParser().ParseUnverified(tokenStr, jwt.MapClaims{})
	if err != nil {
		clsErr := iderr.Wrap(err, iderr.CodeAuthMalformedHeader, "auth: token could not be parsed")
		finishSpan(span, clsErr)
		return nil, clsErr
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		clsErr := iderr.New(iderr.CodeAuthMalformedHeader, "auth: token header has no key id")
		finishSpan(span, clsErr)
		return nil, clsErr
	}
	headerAlg, _ := unverified.Header["alg"].(string)

	// Step 2: resolve the signing key. A key-discovery failure is a
	// dependency error and propagates as-is.
	ks, err := v.keys.Get(ctx)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}
	key, ok := ks.Key(kid)
	if !ok {
		clsErr := iderr.Newf(iderr.CodeAuthUnknownKeyID, "auth: token key id %q is not in the current keyset", kid)
		finishSpan(span, clsErr)
		return nil, clsErr
	}
	span.SetAttributes(attribute.String("auth.key_id", kid))

	// Step 3: effective algorithm.
	alg := headerAlg
	if alg == "" {
		alg = key.Algorithm
	}
	if alg == "" {
		alg = DefaultAlgorithm
	}
	span.SetAttributes(attribute.String("auth.algorithm", alg))

	// Step 4: the header and the key may each declare an algorithm;
	// when both do, they must agree.
	if headerAlg != "" && key.Algorithm != "" && headerAlg != key.Algorithm {
		clsErr := iderr.Newf(iderr.CodeAuthAlgorithmMismatch,
			"auth: token algorithm %q does not match key algorithm %q", headerAlg, key.Algorithm)
		finishSpan(span, clsErr)
		return nil, clsErr
	}

	// Step 5: closed allow-list.
	if !allowedAlgorithms[alg] {
		clsErr := iderr.Newf(iderr.CodeAuthUnsupportedAlgorithm, "auth: algorithm %q is not accepted", alg)
		finishSpan(span, clsErr)
		return nil, clsErr
	}

	// Step 6: full cryptographic verification and claim validation.
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{alg}),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(v.audience),
		jwt.WithIssuer(v.issuer),
	}
	if v.config.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(v.config.Leeway))
	}

	parsed, err := jwt.NewParser(opts...).Parse(tokenStr, func(*jwt.Token) (any, error) {
		return key.PublicKey, nil
	})
	if err != nil {
		clsErr := classifyVerifyError(err)
		finishSpan(span, clsErr)
		return nil, clsErr
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		clsErr := iderr.New(iderr.CodeAuthInvalidSignature, "auth: token claims are not a JSON object")
		finishSpan(span, clsErr)
		return nil, clsErr
	}

	// Step 7: assemble the verified claim set.
	return newVerifiedClaims(claims), nil
}

// newVerifiedClaims extracts the structured fields from a verified claim
// set. Absent optional claims leave their fields zero-valued; the full
// set remains available through Raw.
func newVerifiedClaims(claims jwt.MapClaims) *VerifiedClaims {
	vc := &VerifiedClaims{Raw: claims}

	if sub, err := claims.GetSubject(); err == nil {
		vc.Subject = sub
	}
	if iss, err := claims.GetIssuer(); err == nil {
		vc.Issuer = iss
	}
	if aud, err := claims.GetAudience(); err == nil && len(aud) > 0 {
		vc.Audience = aud[0]
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		vc.ExpiresAt = exp.Time
	}
	if email, ok := claims["email"].(string); ok {
		vc.Email = email
	}
	vc.AppMetadata = nestedMap(claims, "app_metadata")
	vc.UserMetadata = nestedMap(claims, "user_metadata")
	if hint, ok := lookupProvider(vc); ok {
		vc.ProviderHint = hint
	}
	return vc
}

// nestedMap returns the named claim when it is a JSON object, nil
// otherwise.
func nestedMap(claims jwt.MapClaims, name string) map[string]any {
	m, _ := claims[name].(map[string]any)
	return m
}

// classifyVerifyError converts a golang-jwt verification failure into
// the matching classified rejection. Anything not specifically
// recognized is reported as a signature failure.
func classifyVerifyError(err error) *iderr.Error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return iderr.Wrap(err, iderr.CodeAuthExpired, "auth: token has expired")
	}
	if errors.Is(err, jwt.ErrTokenInvalidAudience) {
		return iderr.Wrap(err, iderr.CodeAuthBadAudience, "auth: token audience is invalid")
	}
	if errors.Is(err, jwt.ErrTokenInvalidIssuer) {
		return iderr.Wrap(err, iderr.CodeAuthBadIssuer, "auth: token issuer is invalid")
	}
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		return iderr.Wrap(err, iderr.CodeAuthInvalidSignature, "auth: token signature is invalid")
	}
	return iderr.Wrap(err, iderr.CodeAuthInvalidSignature, "auth: token verification failed")
}

// ---------------------------------------------------------------------------
// Span helpers
// ---------------------------------------------------------------------------

// startSpan creates a new OpenTelemetry span with the given name. Returns
// the updated context and span.
func startSpan(ctx context.Context, tracer trace.Tracer, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// finishSpan records an error on the span if err is non-nil and sets the
// span status to Error. This is a helper for consistent error recording
// across verification paths.
func finishSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
