// Package errors provides standardized error types and error handling
// utilities for the StricklySoft identity core. It defines the error
// categories, stable error codes, and helper functions used by token
// verification, key discovery, and principal provisioning.
//
// # Error Categories
//
// The package defines several error categories that map to the failure
// scenarios of the identity pipeline:
//
//   - Validation errors: invalid or incomplete configuration
//   - Authentication errors: missing, malformed, expired, or forged tokens
//   - NotFound errors: principal does not exist
//   - Conflict errors: duplicate principal row (lost provisioning race)
//   - Internal errors: unexpected system failures
//   - Unavailable errors: key discovery or database unreachable
//   - Timeout errors: operation exceeded time limit
//
// # Error Codes
//
// Each error includes a machine-readable code (e.g., "AUTH_006") that can be
// used for error tracking, alerting, and log correlation. Error codes follow
// the pattern CATEGORY_XXX where CATEGORY is a short identifier and XXX is a
// numeric code.
//
// Authentication codes are deliberately fine-grained so operators can tell an
// expired token from a key rotation problem in the logs. Transport layers
// must NOT forward that granularity to clients: every AUTH_xxx code collapses
// to the same opaque 401 response, and every UNAVAIL/TIMEOUT code collapses
// to the same 503. Responding differently per failure kind would hand an
// attacker a verification oracle.
//
// # Usage
//
// Create a new error with context:
//
//	err := errors.New(errors.CodeAuthExpired, "token has expired")
//
// Wrap an existing error:
//
//	err := errors.Wrap(err, errors.CodeUnavailableDatabase, "failed to query principal")
//
// Check error category:
//
//	if errors.IsAuthentication(err) {
//	    // collapse to the opaque 401
//	}
//
// Log a classified error. *Error implements [log/slog.LogValuer], so
// logging it as a value expands into grouped code, message, and cause
// attributes:
//
//	logger.WarnContext(ctx, "verification rejected", slog.Any("error", err))
package errors
