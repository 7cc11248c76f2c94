package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// UserRole is the role the authenticated user signed in with.
type UserRole string

const (
	UserResident  UserRole = "resident"
	UserResponder UserRole = "responder"
)

// UserProfile is the serialized profile the authentication flow stores on the device.
type UserProfile struct {
	ID        int64    `json:"id"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Role      UserRole `json:"role"`
	Address   string   `json:"address,omitempty"`
	TeamID    *int64   `json:"team_id,omitempty"`
}

// DisplayName joins first and last name.
func (u UserProfile) DisplayName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Claims defines the structure of the control API's JWT claims.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}
