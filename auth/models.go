package auth

import "time"

type Role string

const (
	RoleOwner  Role = "owner"
	RoleClient Role = "client"
	RoleBroker Role = "broker"
	RoleAdmin  Role = "admin"
)

// User is the domain representation of an account. It mirrors the users
// table and should not include JSON annotations so it can be reused by
// different presentation layers. Phone is the primary login credential;
// BI holds the national identity document number required before the user
// may sign a contract.
type User struct {
	ID           string
	FullName     string
	Phone        string
	Email        *string
	PasswordHash string
	Roles        []Role
	BI           *string
	Address      *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasRole reports whether the user carries the given role tag.
func HasRole(u User, role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// CanModerate reports whether the user may approve or reject listings.
func CanModerate(u User) bool {
	return HasRole(u, RoleAdmin)
}

// HasIdentityDocument reports whether the user's BI is on record, the gate
// for finalizing a contract signature.
func HasIdentityDocument(u User) bool {
	return u.BI != nil && *u.BI != ""
}

// RegisterRequest contains registration data supplied by callers.
type RegisterRequest struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
	Roles    []Role `json:"roles,omitempty"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// ProfileUpdate carries optional profile edits; nil fields are left
// untouched. BI is captured here when the contract flow collects it inline.
type ProfileUpdate struct {
	FullName *string `json:"full_name,omitempty"`
	Email    *string `json:"email,omitempty"`
	BI       *string `json:"bi,omitempty"`
	Address  *string `json:"address,omitempty"`
}
