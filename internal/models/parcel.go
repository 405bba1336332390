package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Parcel as the parcel registry exposes it. Read only here.
type Parcel struct {
	ID                uuid.UUID        `json:"id"`
	TrackingRef       string           `json:"tracking_ref"`
	Status            string           `json:"status"`
	ServiceType       string           `json:"service_type"`
	Weight            *decimal.Decimal `json:"weight,omitempty"`
	Dimensions        string           `json:"dimensions,omitempty"`
	Fragile           bool             `json:"fragile"`
	OriginAgency      string           `json:"origin_agency,omitempty"`
	DestinationAgency string           `json:"destination_agency,omitempty"`
}

// Pickup request as the parcel registry exposes it. Read only here.
type Pickup struct {
	ID            uuid.UUID  `json:"id"`
	ParcelID      uuid.UUID  `json:"parcel_id"`
	TrackingRef   string     `json:"tracking_ref"`
	State         string     `json:"state"`
	RequestedDate *time.Time `json:"requested_date,omitempty"`
	TimeWindow    string     `json:"time_window,omitempty"`
}
