// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Sentinels shared by repositories, services and the HTTP layer.
var (
	// ErrNotFound indicates the requested user/device/channel does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUsernameTaken indicates a registration against an existing username.
	ErrUsernameTaken = errors.New("username taken")

	// ErrInvalidSignature indicates a failed key-binding, batch or challenge signature.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrUnauthorized indicates a missing, invalid or expired session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrExpiredChallenge indicates an expired or already-consumed login challenge.
	ErrExpiredChallenge = errors.New("challenge expired or already used")

	// ErrNoKeysAvailable indicates a claim against an empty pre-key pool.
	ErrNoKeysAvailable = errors.New("no one-time keys available")

	// ErrConflict indicates a benign race lost to a concurrent writer; callers retry.
	ErrConflict = errors.New("conflict")

	// ErrRateLimited indicates a temporary lockout after repeated auth failures.
	ErrRateLimited = errors.New("rate limited")

	// ErrValidation indicates malformed input (key sizes, empty fields, bad ids).
	ErrValidation = errors.New("validation failed")

	// ErrInternal hides storage and infrastructure failures from clients.
	ErrInternal = errors.New("internal error")
)
