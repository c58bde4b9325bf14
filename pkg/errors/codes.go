package errors

import "strings"

// Code is a stable, machine-readable identifier for one failure
// scenario. Codes never change once assigned and never get reused, so
// dashboards, alerts, and log queries keyed on a code stay valid across
// releases.
//
// A code is CATEGORY_NNN: the category prefix decides the HTTP mapping
// and the Is* helpers, the number distinguishes scenarios within the
// category.
type Code string

// Category prefixes. A code's category is everything before the first
// underscore; it decides both the HTTP status mapping and which Is*
// helper matches.
const (
	categoryValidation  = "VAL"
	categoryAuth        = "AUTH"
	categoryNotFound    = "NF"
	categoryConflict    = "CONF"
	categoryInternal    = "INT"
	categoryUnavailable = "UNAVAIL"
	categoryTimeout     = "TIMEOUT"
)

const (
	// Validation errors (VAL_xxx) - HTTP 400
	// Used when configuration or input fails validation rules.

	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationFormat indicates a field has an invalid format.
	CodeValidationFormat Code = "VAL_003"

	// CodeValidationRange indicates a value is outside the acceptable range.
	CodeValidationRange Code = "VAL_004"

	// Authentication errors (AUTH_xxx) - HTTP 401
	//
	// One code per classified verification failure. The granularity exists
	// for logs and tests only; transport layers collapse all of these into
	// a single indistinguishable 401 response.

	// CodeAuthentication indicates a general authentication failure.
	CodeAuthentication Code = "AUTH_001"

	// CodeAuthMissingToken indicates no bearer token was presented.
	CodeAuthMissingToken Code = "AUTH_002"

	// CodeAuthMalformedHeader indicates the token header could not be
	// parsed or carries no key id.
	CodeAuthMalformedHeader Code = "AUTH_003"

	// CodeAuthUnknownKeyID indicates the token's key id matches no key in
	// the provider's current key set.
	CodeAuthUnknownKeyID Code = "AUTH_004"

	// CodeAuthUnsupportedAlgorithm indicates the effective signing
	// algorithm is outside the allow-list.
	CodeAuthUnsupportedAlgorithm Code = "AUTH_005"

	// CodeAuthAlgorithmMismatch indicates the token header and the matched
	// key declare different signing algorithms.
	CodeAuthAlgorithmMismatch Code = "AUTH_006"

	// CodeAuthInvalidSignature indicates cryptographic signature
	// verification failed.
	CodeAuthInvalidSignature Code = "AUTH_007"

	// CodeAuthExpired indicates the token's expiry is in the past.
	CodeAuthExpired Code = "AUTH_008"

	// CodeAuthBadIssuer indicates the token's issuer does not match the
	// configured issuer.
	CodeAuthBadIssuer Code = "AUTH_009"

	// CodeAuthBadAudience indicates the token's audience does not match
	// the configured audience.
	CodeAuthBadAudience Code = "AUTH_010"

	// CodeAuthMissingSubject indicates verified claims carry no subject.
	CodeAuthMissingSubject Code = "AUTH_011"

	// Not found errors (NF_xxx) - HTTP 404
	// Used when a requested resource does not exist.

	// CodeNotFound indicates a general not found error.
	CodeNotFound Code = "NF_001"

	// CodeNotFoundPrincipal indicates no principal exists for the given
	// external uid.
	CodeNotFoundPrincipal Code = "NF_002"

	// Conflict errors (CONF_xxx) - HTTP 409
	// Used when an operation conflicts with current state.

	// CodeConflict indicates a general conflict error.
	CodeConflict Code = "CONF_001"

	// CodeConflictDuplicate indicates an insert violated a uniqueness
	// constraint. The provisioner treats this as the "lost the creation
	// race" signal and recovers by re-reading the winner; it never reaches
	// a transport boundary.
	CodeConflictDuplicate Code = "CONF_002"

	// Internal errors (INT_xxx) - HTTP 500
	// Used for unexpected internal failures.

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalDatabase indicates a database operation failed.
	CodeInternalDatabase Code = "INT_002"

	// CodeInternalConfiguration indicates a configuration error.
	CodeInternalConfiguration Code = "INT_003"

	// Unavailable errors (UNAVAIL_xxx) - HTTP 503
	// Used when a dependency is temporarily unavailable.

	// CodeUnavailable indicates a general service unavailable error.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableKeyDiscovery indicates the provider's key-discovery
	// endpoint is unreachable or returned an unusable response, and no
	// previously fetched key set exists to fall back on.
	CodeUnavailableKeyDiscovery Code = "UNAVAIL_002"

	// CodeUnavailableDatabase indicates the principal store is unreachable.
	CodeUnavailableDatabase Code = "UNAVAIL_003"

	// Timeout errors (TIMEOUT_xxx) - HTTP 504
	// Used when an operation exceeds its time limit.

	// CodeTimeout indicates a general timeout error.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutDatabase indicates a database operation timed out.
	CodeTimeoutDatabase Code = "TIMEOUT_002"

	// CodeTimeoutKeyDiscovery indicates the key-discovery fetch timed out.
	CodeTimeoutKeyDiscovery Code = "TIMEOUT_003"
)

// String returns the code as a plain string.
func (c Code) String() string {
	return string(c)
}

// Category returns the code's category prefix ("AUTH", "VAL", ...).
// A code without an underscore is its own category.
func (c Code) Category() string {
	category, _, _ := strings.Cut(string(c), "_")
	return category
}
