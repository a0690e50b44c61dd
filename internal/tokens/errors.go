package tokens

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrorCode classifies token-layer failures.
type ErrorCode string

const (
	CodeMalformed        ErrorCode = "malformed"
	CodeInvalidSignature ErrorCode = "invalid_signature"
	CodeExpired          ErrorCode = "expired"
	CodeInvalidClaims    ErrorCode = "invalid_claims"
	CodeWrongKind        ErrorCode = "wrong_kind"
)

var errorMessages = map[ErrorCode]string{
	CodeMalformed:        "Malformed token",
	CodeInvalidSignature: "Invalid token signature",
	CodeExpired:          "Token expired",
	CodeInvalidClaims:    "Invalid token claims",
	CodeWrongKind:        "Wrong token kind",
}

// Error wraps a verification failure with a stable code.
// Two errors match under errors.Is when their codes are equal.
type Error struct {
	Code ErrorCode
	Err  error
}

var (
	ErrMalformed        = &Error{Code: CodeMalformed}
	ErrInvalidSignature = &Error{Code: CodeInvalidSignature}
	ErrExpired          = &Error{Code: CodeExpired}
	ErrInvalidClaims    = &Error{Code: CodeInvalidClaims}
	ErrWrongKind        = &Error{Code: CodeWrongKind}
)

func (e *Error) Error() string {
	msg, ok := errorMessages[e.Code]
	if !ok {
		msg = string(e.Code)
	}
	if e.Err == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the token error code carried by err, or "" when err is not a token error.
func CodeOf(err error) ErrorCode {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

func newError(code ErrorCode, err error) error {
	return &Error{Code: code, Err: err}
}

// classify maps golang-jwt parse errors onto the token error taxonomy.
// Signature problems win over claim problems so a tampered, expired token is never reported as merely expired.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return newError(CodeMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrSignatureInvalid):
		return newError(CodeInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return newError(CodeExpired, err)
	default:
		return newError(CodeInvalidClaims, err)
	}
}
