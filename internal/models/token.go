package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	TokenTypePermanent = "PERMANENT"
	TokenTypeTemporary = "TEMPORARY"
)

// Prefix carried by the payload reference of temporary codes
const TemporaryRefPrefix = "TMP-"

const (
	RevocationSuperseded = "superseded"
	RevocationConverted  = "converted"
)

type VerificationToken struct {
	ID          uuid.UUID
	Token       string
	Signature   string // full signature, the printed code carries a truncated one
	Type        string
	ParcelID    uuid.UUID
	TrackingRef string
	PickupID    *uuid.UUID // set for temporary tokens only
	CreatedAt   time.Time
	ExpiresAt   *time.Time // nil for permanent tokens

	Valid            bool
	RevocationReason *string
	RevokedAt        *time.Time

	VerificationCount         int64
	LastVerifiedAt            *time.Time
	LastVerifiedBy            *uuid.UUID
	LastVerificationIP        *string
	LastVerificationUserAgent *string
}

// Ref returns the reference embedded in the signed payload
func (t VerificationToken) Ref() string {
	if t.Type == TokenTypeTemporary {
		return TemporaryRefPrefix + t.TrackingRef
	}
	return t.TrackingRef
}

// Expired reports whether the token is past its expiry at 'now'.
// Tokens without expiry never expire.
func (t VerificationToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// Usable reports whether the token may be accepted at 'now'
func (t VerificationToken) Usable(now time.Time) bool {
	return t.Valid && !t.Expired(now)
}

// Verification stats written on every successful verification
type VerificationRecord struct {
	VerifiedAt time.Time
	VerifiedBy *uuid.UUID
	IP         string
	UserAgent  string
}

// Code issued to a parcel or a pickup: stored token and the encoded payload to print
type IssuedCode struct {
	Token   VerificationToken
	Payload string
}
