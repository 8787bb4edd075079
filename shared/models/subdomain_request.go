package models

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus is the moderation state shared by subdomain requests and custom domains
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

// Valid reports whether s is one of the known statuses
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Active reports whether a row in this status still holds its label
func (s RequestStatus) Active() bool {
	return s == StatusPending || s == StatusApproved
}

// SubdomainRequest represents a tenant's request to move to a different subdomain
type SubdomainRequest struct {
	ID                 uuid.UUID     `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID           uuid.UUID     `json:"tenant_id" gorm:"type:uuid;not null;index"`
	RequestedSubdomain string        `json:"requested_subdomain" gorm:"type:varchar(30);not null"`
	Status             RequestStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	AdminNotes         string        `json:"admin_notes"`
	ReviewedBy         string        `json:"reviewed_by,omitempty" gorm:"type:varchar(255)"`
	CreatedAt          time.Time     `json:"created_at" gorm:"index"`
	UpdatedAt          time.Time     `json:"updated_at"`
	ApprovedAt         *time.Time    `json:"approved_at,omitempty"`
	RejectedAt         *time.Time    `json:"rejected_at,omitempty"`
}

// TableName returns the table name for the SubdomainRequest model
func (SubdomainRequest) TableName() string {
	return "subdomain_requests"
}

// IsPending checks if the request can still be edited, approved or rejected
func (r *SubdomainRequest) IsPending() bool {
	return r.Status == StatusPending
}
