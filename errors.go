package identity

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeEmailRegistered    = "EMAIL_ALREADY_REGISTERED"
	textCodeInvalidCredentials = "INVALID_CREDENTIALS"
	textCodeInvalidToken       = "INVALID_TOKEN"
	textCodeTokenExpired       = "TOKEN_EXPIRED"
	textCodeAlreadyVerified    = "EMAIL_ALREADY_VERIFIED"
	textCodeUserNotFound       = "USER_NOT_FOUND"
)

// ErrEmailRegistered is returned when a signup or profile update collides with
// an existing account email.
var ErrEmailRegistered = goerrors.New("email already taken", goerrors.CategoryConflict).
	WithTextCode(textCodeEmailRegistered).
	WithCode(goerrors.CodeConflict)

// ErrInvalidCredentials covers both unknown emails and wrong passwords so the
// response shape never reveals which one failed.
var ErrInvalidCredentials = goerrors.New("incorrect email or password", goerrors.CategoryAuth).
	WithTextCode(textCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidToken is returned for bad signatures, type mismatches, and tokens
// whose stored row is gone (consumed, revoked, or replayed).
var ErrInvalidToken = goerrors.New("token not found or expired", goerrors.CategoryAuth).
	WithTextCode(textCodeInvalidToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned when a credential's expiry has passed.
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(textCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrAlreadyVerified is returned when requesting verification email for an
// account whose email is already verified.
var ErrAlreadyVerified = goerrors.New("email already verified", goerrors.CategoryAuth).
	WithTextCode(textCodeAlreadyVerified).
	WithCode(goerrors.CodeUnauthorized)

// ErrUserNotFound is used in contexts where revealing existence is not a
// concern, e.g. the internal password update helper.
var ErrUserNotFound = goerrors.New("user not found", goerrors.CategoryNotFound).
	WithTextCode(textCodeUserNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrMismatchedHashAndPassword is surfaced by password comparison failures.
var ErrMismatchedHashAndPassword = goerrors.New("password does not match", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized)

// ErrNoEmptyString rejects empty inputs to hashing helpers.
var ErrNoEmptyString = goerrors.New("value cannot be an empty string", goerrors.CategoryBadInput).
	WithCode(goerrors.CodeBadRequest)

// WrapStorageErr normalizes store failures: the full error is preserved for
// logs while callers get a generic internal category.
func WrapStorageErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
