// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates malformed input rejected before reaching the core.
	ErrValidation = errors.New("validation")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the principal lacks a required permission.
	ErrForbidden = errors.New("forbidden")

	// ErrSecurity indicates a confirmed security incident (refresh token reuse).
	ErrSecurity = errors.New("security")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidToken indicates an access token failed signature or expiry checks.
	ErrInvalidToken = errors.New("invalid token")
)

// Reasoned authentication failures. All unwrap to ErrUnauthorized except
// ErrTokenReuse, which unwraps to ErrSecurity.
var (
	ErrInvalidCredentials    = &ReasonError{Kind: ErrUnauthorized, Reason: "invalid credentials"}
	ErrInvalidTokenFormat    = &ReasonError{Kind: ErrUnauthorized, Reason: "invalid token format"}
	ErrTokenNotFound         = &ReasonError{Kind: ErrUnauthorized, Reason: "token not found"}
	ErrTokenRotating         = &ReasonError{Kind: ErrUnauthorized, Reason: "token is rotating, retry"}
	ErrTokenRevoked          = &ReasonError{Kind: ErrUnauthorized, Reason: "token revoked"}
	ErrTokenExpired          = &ReasonError{Kind: ErrUnauthorized, Reason: "token expired"}
	ErrInvalidTokenSignature = &ReasonError{Kind: ErrUnauthorized, Reason: "invalid token signature"}
	ErrUnknownPrincipal      = &ReasonError{Kind: ErrUnauthorized, Reason: "user not found"}
	ErrTokenReuse            = &ReasonError{Kind: ErrSecurity, Reason: "token reuse detected"}
)

// ReasonError is a failure with a fixed client-facing reason and a taxonomy kind.
type ReasonError struct {
	Kind   error
	Reason string
}

func (e *ReasonError) Error() string { return e.Reason }

// Unwrap exposes the taxonomy kind to errors.Is.
func (e *ReasonError) Unwrap() error { return e.Kind }

// Validationf builds a validation failure with a formatted message.
func Validationf(format string, args ...any) error {
	return &ReasonError{Kind: ErrValidation, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a not-found failure with a formatted message.
func NotFoundf(format string, args ...any) error {
	return &ReasonError{Kind: ErrNotFound, Reason: fmt.Sprintf(format, args...)}
}

// ConflictError reports which unique fields collided on registration.
type ConflictError struct {
	Fields []string // "username", "email"
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f+" already registered")
	}
	return strings.Join(parts, " and ")
}

// Unwrap makes ConflictError match ErrAlreadyExists.
func (e *ConflictError) Unwrap() error { return ErrAlreadyExists }
