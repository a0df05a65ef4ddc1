package model

import "errors"

var (
	// Credential and session errors
	ErrIdentityNotFound    = errors.New("identity not found")
	ErrIdentityExists      = errors.New("identity already exists")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountInactive     = errors.New("account inactive")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrGenerationConflict  = errors.New("token generation superseded")

	// Reset errors
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")

	// Access errors
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrTooManyRequests = errors.New("too many requests")

	// Job errors
	ErrJobNotFound    = errors.New("job not found")
	ErrJobProcessing  = errors.New("job is processing")
	ErrJobSuperseded  = errors.New("job already superseded")
	ErrJobStateChange = errors.New("job state transition rejected")

	ErrInvalidInput = errors.New("invalid input")
)
