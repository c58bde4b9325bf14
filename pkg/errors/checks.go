package errors

import (
	"errors"
)

// AsError finds the first *Error in err's chain. The bool reports
// whether one was found.
//
// Example:
//
//	if e, ok := errors.AsError(err); ok {
//	    log.Printf("rejected: %s (%s)", e.Code, e.Message)
//	}
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the code of the first *Error in err's chain, or ""
// when the chain carries no classified error. When classified errors
// wrap classified errors, the outermost code wins.
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether err's chain carries a classified error with
// exactly the given code.
//
// Example:
//
//	if errors.HasCode(err, errors.CodeNotFoundPrincipal) {
//	    // first login for this uid; provision a row
//	}
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

// categoryOf returns the category of err's classified code, or "" when
// err carries no classified error.
func categoryOf(err error) string {
	if e, ok := AsError(err); ok {
		return e.Code.Category()
	}
	return ""
}

// IsValidation reports whether err is a validation error (VAL_xxx).
func IsValidation(err error) bool {
	return categoryOf(err) == categoryValidation
}

// IsAuthentication reports whether err is an authentication error
// (AUTH_xxx). The HTTP and gRPC middleware branch on this to decide
// between the opaque 401 and the 503.
func IsAuthentication(err error) bool {
	return categoryOf(err) == categoryAuth
}

// IsNotFound reports whether err is a not found error (NF_xxx).
func IsNotFound(err error) bool {
	return categoryOf(err) == categoryNotFound
}

// IsConflict reports whether err is a conflict error (CONF_xxx).
func IsConflict(err error) bool {
	return categoryOf(err) == categoryConflict
}

// IsInternal reports whether err is an internal error (INT_xxx).
func IsInternal(err error) bool {
	return categoryOf(err) == categoryInternal
}

// IsUnavailable reports whether err is an unavailability error
// (UNAVAIL_xxx).
func IsUnavailable(err error) bool {
	return categoryOf(err) == categoryUnavailable
}

// IsTimeout reports whether err is a timeout error (TIMEOUT_xxx).
func IsTimeout(err error) bool {
	return categoryOf(err) == categoryTimeout
}

// IsRetryable reports whether retrying err could plausibly succeed.
// Timeouts and unavailability qualify; validation, authentication, and
// internal errors do not.
//
// Example:
//
//	if errors.IsRetryable(err) {
//	    // retry with backoff
//	}
func IsRetryable(err error) bool {
	switch categoryOf(err) {
	case categoryTimeout, categoryUnavailable:
		return true
	default:
		return false
	}
}

// IsClientError reports whether err maps to a 4xx status: validation,
// authentication, not found, or conflict.
func IsClientError(err error) bool {
	switch categoryOf(err) {
	case categoryValidation, categoryAuth, categoryNotFound, categoryConflict:
		return true
	default:
		return false
	}
}

// IsServerError reports whether err maps to a 5xx status: internal,
// unavailable, or timeout. These are the failures worth alerting on;
// client errors are business as usual.
func IsServerError(err error) bool {
	switch categoryOf(err) {
	case categoryInternal, categoryUnavailable, categoryTimeout:
		return true
	default:
		return false
	}
}
