// Package common defines shared constants and sentinel errors used across
// the AfterLiving authorization core. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")

	// Verifier registry errors.
	ErrDuplicateVerifier    = errors.New("verifier already exists for plan")
	ErrVerifierLimitReached = errors.New("verifier limit reached")
	ErrInvitationExpired    = errors.New("invitation expired")
	ErrAlreadyResponded     = errors.New("already responded")

	// Release authorization errors.
	ErrRequestAlreadyExists          = errors.New("pending release request already exists")
	ErrInvalidStatus                 = errors.New("invalid status")
	ErrNotAuthorized                 = errors.New("not authorized")
	ErrAuthorizationEvaluationFailed = errors.New("authorization evaluation failed")

	// Key envelope errors. ErrAuthenticationFailed indicates a tamper or a
	// wrong master key and must never be treated as transient.
	ErrMalformedKeyEnvelope = errors.New("malformed key envelope")
	ErrAuthenticationFailed = errors.New("key envelope authentication failed")

	// Token lifecycle errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrTokenRevoked = errors.New("token revoked")
)
