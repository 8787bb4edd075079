package store

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/pavitra93/netqr-tenant-identity/shared/models"
)

// partial and expression indexes that gorm tags cannot express
var indexStatements = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_tenants_subdomain_lower
		ON tenants (LOWER(subdomain)) WHERE subdomain IS NOT NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_subdomain_requests_active_label
		ON subdomain_requests (requested_subdomain) WHERE status IN ('pending', 'approved')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_custom_domains_active_domain
		ON custom_domains (domain) WHERE status IN ('pending', 'approved')`,
	`CREATE INDEX IF NOT EXISTS idx_tenants_custom_domain
		ON tenants (approved_custom_domain) WHERE custom_domain_enabled`,
}

// Migrate creates the identity tables and the indexes that guard their invariants
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Tenant{},
		&models.SubdomainHistoryEntry{},
		&models.SubdomainRequest{},
		&models.CustomDomain{},
	); err != nil {
		return fmt.Errorf("failed to migrate identity tables: %w", err)
	}

	for _, stmt := range indexStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
