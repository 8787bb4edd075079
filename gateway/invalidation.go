package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/pavitra93/netqr-tenant-identity/shared/identity"
	"github.com/pavitra93/netqr-tenant-identity/shared/utils"
)

// Invalidator drops cached hosts affected by identity events
type Invalidator struct {
	cache      *utils.HostCache
	rootDomain string
	logger     logrus.FieldLogger
}

// NewInvalidator creates an invalidator for hosts below rootDomain
func NewInvalidator(cache *utils.HostCache, rootDomain string, logger logrus.FieldLogger) *Invalidator {
	return &Invalidator{cache: cache, rootDomain: identity.NormalizeDomain(rootDomain), logger: logger}
}

// Handle is an events.Handler
func (inv *Invalidator) Handle(ctx context.Context, event identity.Event) error {
	hosts := inv.affectedHosts(event)
	if len(hosts) == 0 {
		return nil
	}
	if err := inv.cache.Invalidate(ctx, hosts...); err != nil {
		return err
	}
	inv.logger.WithFields(logrus.Fields{
		"event_type": event.Type,
		"tenant_id":  event.TenantID,
		"hosts":      hosts,
	}).Debug("Invalidated cached hosts")
	return nil
}

func (inv *Invalidator) affectedHosts(event identity.Event) []string {
	var hosts []string
	switch event.Type {
	case identity.EventSubdomainAssigned, identity.EventSubdomainChanged:
		for _, label := range []string{event.Subdomain, event.PreviousSubdomain} {
			if label != "" {
				hosts = append(hosts, label+"."+inv.rootDomain)
			}
		}
	case identity.EventCustomDomainApproved:
		if event.Domain != "" {
			hosts = append(hosts, event.Domain, "www."+event.Domain)
		}
	}
	return hosts
}
