package connector

import (
	"errors"
	"fmt"
)

// Code identifies an error category. The string values are stable and appear
// verbatim in tool response envelopes.
type Code string

const (
	CodeNotFound            Code = "not_found"
	CodeInvalidArgument     Code = "invalid_argument"
	CodeDisallowedStatement Code = "disallowed_statement"
	CodeConnection          Code = "connection_error"
	CodeQuery               Code = "query_error"
	CodeCacheCorrupt        Code = "cache_corrupt"
	CodeTimeout             Code = "timeout"
	CodeInternal            Code = "internal"
)

// Error is the tagged outcome returned by every boundary method. Messages
// never contain credentials or raw connection strings.
type Error struct {
	Code    Code
	Message string
	// OraCode carries the vendor error number (ORA-NNNNN) when known.
	OraCode int
	Err     error
}

func (e *Error) Error() string {
	if e.OraCode != 0 {
		return fmt.Sprintf("%s: %s (ORA-%05d)", e.Code, e.Message, e.OraCode)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a tagged error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error without losing it.
func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err, OraCode: oraCode(err)}
}

// CodeOf extracts the taxonomy code from err, or CodeInternal if err carries
// no tag.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}

// IsNotFound reports whether err is a not_found outcome.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }
