package errors

import (
	"fmt"
)

// New creates a classified error with no underlying cause.
//
// Example:
//
//	err := errors.New(errors.CodeAuthMissingToken, "no bearer token presented")
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a classified error with a formatted message.
//
// Example:
//
//	err := errors.Newf(errors.CodeAuthUnknownKeyID, "no signing key with id %q", kid)
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap classifies an underlying error. The cause stays reachable
// through errors.Is and errors.As. A nil err yields a nil result, so
// call sites can wrap unconditionally.
//
// Example:
//
//	if err := row.Scan(&p.InternalID); err != nil {
//	    return errors.Wrap(err, errors.CodeInternalDatabase, "principal scan failed")
//	}
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf classifies an underlying error with a formatted message. A nil
// err yields a nil result.
//
// Example:
//
//	err := errors.Wrapf(err, errors.CodeUnavailableKeyDiscovery,
//	    "fetching key set from %s", url)
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}
