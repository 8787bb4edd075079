package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxSubdomainChanges is the number of self-service subdomain changes a tenant may make.
const MaxSubdomainChanges = 5

// Tenant represents a tenant and its domain identity
type Tenant struct {
	ID                   uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name                 string    `json:"name"`
	Subdomain            *string   `json:"subdomain" gorm:"type:varchar(30)"`
	ApprovedCustomDomain *string   `json:"approved_custom_domain" gorm:"type:varchar(253)"`
	CustomDomainEnabled  bool      `json:"custom_domain_enabled" gorm:"not null;default:false"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// TableName returns the table name for the Tenant model
func (Tenant) TableName() string {
	return "tenants"
}

// CurrentSubdomain returns the assigned subdomain or an empty string
func (t *Tenant) CurrentSubdomain() string {
	if t.Subdomain == nil {
		return ""
	}
	return *t.Subdomain
}

// SubdomainHistoryEntry is one self-service change, appended before the old value is overwritten.
// Seq runs from 1 to MaxSubdomainChanges; the database rejects anything outside that range.
type SubdomainHistoryEntry struct {
	TenantID  uuid.UUID `json:"-" gorm:"type:uuid;primaryKey"`
	Seq       int       `json:"seq" gorm:"primaryKey;autoIncrement:false;check:chk_subdomain_history_seq,seq BETWEEN 1 AND 5"`
	Subdomain string    `json:"subdomain" gorm:"type:varchar(30);not null"`
	ChangedAt time.Time `json:"changed_at" gorm:"not null"`
}

// TableName returns the table name for the SubdomainHistoryEntry model
func (SubdomainHistoryEntry) TableName() string {
	return "subdomain_history"
}
