package apperrors

import (
	"errors"
)

var (
	ErrTokenNotFound    = errors.New("verification token not found")
	ErrTokenExists      = errors.New("verification token already exists")
	ErrInvalidFormat    = errors.New("code format is invalid")
	ErrInvalidSubject   = errors.New("parcel or pickup reference is invalid")
	ErrInvalidValidity  = errors.New("validity period is out of range")
	ErrIssuance         = errors.New("code issuance failed")
	ErrSecretKeyTooWeak = errors.New("secret key is too short")

	// Another issuance for the same parcel or pickup committed first
	ErrConcurrentIssuance = errors.New("concurrent issuance for the same subject")

	ErrRevocationReasonRequired = errors.New("revocation reason is required")

	ErrParcelNotFound = errors.New("parcel not found")
	ErrPickupNotFound = errors.New("pickup not found")

	ErrUnauthorized = errors.New("unauthorized")
)
