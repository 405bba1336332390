package models

import "github.com/google/uuid"

const (
	RoleAgent   = "agent"
	RoleCourier = "courier"
	RoleAdmin   = "admin"
	RoleClient  = "client"
)

// Authenticated caller of the platform, taken from the access token
type Actor struct {
	ID   uuid.UUID
	Role string
}

// Staff may issue codes
func (a Actor) IsStaff() bool {
	switch a.Role {
	case RoleAgent, RoleCourier, RoleAdmin:
		return true
	default:
		return false
	}
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
