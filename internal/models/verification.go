package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Verification outcomes
const (
	StatusValid             = "VALID"
	StatusTokenNotFound     = "TOKEN_NOT_FOUND"
	StatusTokenRevoked      = "TOKEN_REVOKED"
	StatusTokenExpired      = "TOKEN_EXPIRED"
	StatusSignatureInvalid  = "SIGNATURE_INVALID"
	StatusFormatInvalid     = "FORMAT_INVALID"
	StatusVerificationError = "VERIFICATION_ERROR"
)

const (
	RiskLow    = "LOW"
	RiskMedium = "MEDIUM"
	RiskHigh   = "HIGH"
)

// Caller metadata attached to a verification attempt
type VerificationMeta struct {
	IP        string
	UserAgent string
	ActorID   *uuid.UUID // nil for anonymous scans
	Language  string
}

type ParcelSummary struct {
	TrackingRef       string           `json:"tracking_ref"`
	Status            string           `json:"status,omitempty"`
	ServiceType       string           `json:"service_type,omitempty"`
	Weight            *decimal.Decimal `json:"weight,omitempty"`
	Dimensions        string           `json:"dimensions,omitempty"`
	Fragile           bool             `json:"fragile"`
	OriginAgency      string           `json:"origin_agency,omitempty"`
	DestinationAgency string           `json:"destination_agency,omitempty"`
}

type PickupSummary struct {
	ID            uuid.UUID  `json:"id"`
	State         string     `json:"state,omitempty"`
	RequestedDate *time.Time `json:"requested_date,omitempty"`
	TimeWindow    string     `json:"time_window,omitempty"`
}

type VerificationResult struct {
	Valid   bool
	Status  string
	Message string

	TokenID           *uuid.UUID
	TokenType         string
	CreatedAt         *time.Time
	ExpiresAt         *time.Time
	VerificationCount int64
	VerifiedAt        time.Time

	TamperingDetected bool
	RiskLevel         string

	Parcel *ParcelSummary
	Pickup *PickupSummary
}

// Audit record sent to the parcel registry after a successful verification
type VerificationEvent struct {
	TokenID     uuid.UUID  `json:"token_id"`
	TokenType   string     `json:"token_type"`
	ParcelID    uuid.UUID  `json:"parcel_id"`
	PickupID    *uuid.UUID `json:"pickup_id,omitempty"`
	TrackingRef string     `json:"tracking_ref"`
	VerifiedAt  time.Time  `json:"verified_at"`
	VerifiedBy  *uuid.UUID `json:"verified_by,omitempty"`
	IP          string     `json:"ip,omitempty"`
	UserAgent   string     `json:"user_agent,omitempty"`
	RiskLevel   string     `json:"risk_level"`
}
