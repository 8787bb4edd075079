package models

import (
	"github.com/google/uuid"
)

type UserRole string

const (
	RoleAdmin       UserRole = "admin"
	RoleTenantOwner UserRole = "tenant_owner"
	RoleUser        UserRole = "user"
)

// Principal is the authenticated caller, built from JWT claims by the auth middleware
type Principal struct {
	ID       string     `json:"id"`
	Email    string     `json:"email"`
	Username string     `json:"username,omitempty"`
	Role     UserRole   `json:"role"`
	TenantID *uuid.UUID `json:"tenant_id,omitempty"`
}

// HasTenant reports whether the principal is bound to a tenant
func (p Principal) HasTenant() bool {
	return p.TenantID != nil && *p.TenantID != uuid.Nil
}

// Actor returns the identifier recorded on rows the principal reviews
func (p Principal) Actor() string {
	if p.Email != "" {
		return p.Email
	}
	return p.ID
}
