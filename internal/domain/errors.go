package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMissingRefreshToken = errors.New("refresh token is required")
	ErrAccountNotFound     = errors.New("account not found")

	// ErrAuthExpired marks a transient token-refresh failure; the account
	// stays in the pool and another one is tried first.
	ErrAuthExpired = errors.New("access token expired and refresh failed")
	// ErrCredentialRevoked marks a permanent invalid_grant failure; the
	// account is evicted from the pool.
	ErrCredentialRevoked = errors.New("refresh token revoked")
	ErrRateLimited = errors.New("account rate limited")
	// ErrUpstreamUnavailable marks a transport-level failure on the last
	// fallback endpoint.
	ErrUpstreamUnavailable = errors.New("upstream unreachable")
	ErrPoolExhausted       = errors.New("no usable accounts in pool; run `agp login` to add one")
)

// StatusError carries an upstream HTTP status plus an optional retry hint.
type StatusError struct {
	Code       int
	Message    string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream status %d", e.Code)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Message)
}

// Retryable reports whether the status warrants endpoint fallback.
func (e *StatusError) Retryable() bool {
	switch {
	case e.Code == 403, e.Code == 404, e.Code == 429:
		return true
	case e.Code >= 500:
		return true
	default:
		return false
	}
}
