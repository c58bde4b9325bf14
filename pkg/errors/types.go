package errors

import (
	"fmt"
	"log/slog"
	"maps"
	"net/http"
)

// Error is the classified error type carried across the identity
// pipeline: every failure that crosses a package boundary is one of
// these, so callers branch on [Code] values instead of driver or
// library error types.
//
// An Error is immutable after construction. WithDetail and WithDetails
// return copies; nothing mutates an Error that has been returned to a
// caller.
type Error struct {
	// Code identifies the failure scenario (e.g., "AUTH_008").
	Code Code

	// Message is the human-readable description. It may surface in logs
	// and operator tooling, so it must never contain token material,
	// credentials, or internal paths.
	Message string

	// Cause is the wrapped underlying error, if any. It stays reachable
	// through errors.Is and errors.As via Unwrap.
	Cause error

	// Details carries optional structured context (field names, resource
	// ids). Transport layers must not forward it to clients.
	Details map[string]any
}

// Error renders "CODE: message" with the cause appended when present.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause to the errors.Is and errors.As chain walk.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error's category to an HTTP status code.
//
// The identity middleware does not use this mapping directly: it
// collapses every authentication failure to one opaque 401 and every
// dependency failure to one 503, regardless of category. HTTPStatus is
// for services that expose classified errors on their own endpoints.
func (e *Error) HTTPStatus() int {
	switch e.Code.Category() {
	case categoryValidation:
		return http.StatusBadRequest
	case categoryAuth:
		return http.StatusUnauthorized
	case categoryNotFound:
		return http.StatusNotFound
	case categoryConflict:
		return http.StatusConflict
	case categoryUnavailable:
		return http.StatusServiceUnavailable
	case categoryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// clone copies the error with details as its Details field.
func (e *Error) clone(details map[string]any) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Details: details,
	}
}

// WithDetail returns a copy of the error with one detail added. The
// receiver is left unchanged.
func (e *Error) WithDetail(key string, value any) *Error {
	merged := make(map[string]any, len(e.Details)+1)
	maps.Copy(merged, e.Details)
	merged[key] = value
	return e.clone(merged)
}

// WithDetails returns a copy of the error with details merged in, new
// keys winning over existing ones. The receiver is left unchanged.
func (e *Error) WithDetails(details map[string]any) *Error {
	merged := make(map[string]any, len(e.Details)+len(details))
	maps.Copy(merged, e.Details)
	maps.Copy(merged, details)
	return e.clone(merged)
}

// LogValue implements [slog.LogValuer]. Logging a classified error with
// slog.Any("error", err) yields grouped code, message, cause, and
// details attributes instead of one flat string, so log queries can
// filter on the code alone.
func (e *Error) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, 4)
	attrs = append(attrs,
		slog.String("code", string(e.Code)),
		slog.String("message", e.Message),
	)
	if e.Cause != nil {
		attrs = append(attrs, slog.String("cause", e.Cause.Error()))
	}
	if len(e.Details) > 0 {
		attrs = append(attrs, slog.Any("details", e.Details))
	}
	return slog.GroupValue(attrs...)
}

// Format implements fmt.Formatter. %v and %s render Error(); %+v adds
// the details map and the full cause chain; %q quotes the %s form.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "Error{Code: %q, Message: %q", e.Code, e.Message)
			if len(e.Details) > 0 {
				fmt.Fprintf(s, ", Details: %v", e.Details)
			}
			if e.Cause != nil {
				fmt.Fprintf(s, ", Cause: %+v", e.Cause)
			}
			fmt.Fprint(s, "}")
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
