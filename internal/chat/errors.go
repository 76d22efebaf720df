package chat

import "errors"

// Error codes for chat domain errors.
const (
	CodeValidation   = "validation"
	CodeAccessDenied = "access_denied"
	CodeNotFound     = "not_found"
	CodeRateLimited  = "rate_limited"
	CodeEncoding     = "encoding"
	CodeTimeout      = "timeout"
	CodeConflict     = "conflict"
	CodeInternal     = "internal"
)

// Error wraps a code and human-readable message. RetryAfter is set only for
// rate-limit errors.
type Error struct {
	Code       string
	Message    string
	RetryAfter int
}

func (e *Error) Error() string {
	return e.Message
}

// AsError extracts a *Error from err, or wraps err as an internal error.
func AsError(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Code: CodeInternal, Message: "internal error"}
}

func validationError(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

func accessDenied(msg string) *Error {
	return &Error{Code: CodeAccessDenied, Message: msg}
}

func notFoundError(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

func rateLimited(retryAfter int) *Error {
	return &Error{Code: CodeRateLimited, Message: "too many messages, slow down", RetryAfter: retryAfter}
}

func encodingError(msg string) *Error {
	return &Error{Code: CodeEncoding, Message: msg}
}

func timeoutError(msg string) *Error {
	return &Error{Code: CodeTimeout, Message: msg}
}

func internalError(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}
