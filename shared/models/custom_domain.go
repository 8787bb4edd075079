package models

import (
	"time"

	"github.com/google/uuid"
)

// CustomDomain represents a tenant's request to serve its pages from an apex domain
type CustomDomain struct {
	ID                uuid.UUID     `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID          uuid.UUID     `json:"tenant_id" gorm:"type:uuid;not null;index"`
	Domain            string        `json:"domain" gorm:"type:varchar(253);not null;index"`
	VerificationToken string        `json:"verification_token" gorm:"type:varchar(64);not null"`
	DNSVerified       bool          `json:"dns_verified" gorm:"not null;default:false"`
	VerifiedAt        *time.Time    `json:"verified_at,omitempty"`
	SSLConfigured     bool          `json:"ssl_configured" gorm:"not null;default:false"`
	Status            RequestStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	AdminNotes        string        `json:"admin_notes"`
	ReviewedBy        string        `json:"reviewed_by,omitempty" gorm:"type:varchar(255)"`
	CreatedAt         time.Time     `json:"created_at" gorm:"index"`
	UpdatedAt         time.Time     `json:"updated_at"`
	ApprovedAt        *time.Time    `json:"approved_at,omitempty"`
	RejectedAt        *time.Time    `json:"rejected_at,omitempty"`
}

// TableName returns the table name for the CustomDomain model
func (CustomDomain) TableName() string {
	return "custom_domains"
}

// IsPending checks if the domain request is still awaiting review
func (d *CustomDomain) IsPending() bool {
	return d.Status == StatusPending
}

// CanApprove checks both approval preconditions
func (d *CustomDomain) CanApprove() bool {
	return d.Status == StatusPending && d.DNSVerified
}
