package main

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/netqr-tenant-identity/shared/identity"
	"github.com/pavitra93/netqr-tenant-identity/shared/utils"
)

const resolvedHostKey = "resolved_host"

// HostLookup resolves a request host to its tenant
type HostLookup interface {
	ResolveHost(ctx context.Context, host string) (*identity.ResolvedHost, error)
}

// HostRouter resolves request hosts, reading through the redis cache when one is configured
type HostRouter struct {
	lookup HostLookup
	cache  *utils.HostCache
	logger logrus.FieldLogger
}

// NewHostRouter creates a router; cache may be nil
func NewHostRouter(lookup HostLookup, cache *utils.HostCache, logger logrus.FieldLogger) *HostRouter {
	return &HostRouter{lookup: lookup, cache: cache, logger: logger}
}

// Resolve returns the tenant serving host. Cache failures fall back to the store.
func (hr *HostRouter) Resolve(ctx context.Context, host string) (*identity.ResolvedHost, error) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if hr.cache != nil {
		resolved, err := hr.cache.Get(ctx, host)
		if err == nil {
			return resolved, nil
		}
		if !errors.Is(err, utils.ErrCacheMiss) {
			hr.logger.WithField("error", err).Warn("Host cache unavailable")
		}
	}

	resolved, err := hr.lookup.ResolveHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if hr.cache != nil {
		if err := hr.cache.Set(ctx, resolved); err != nil {
			hr.logger.WithField("error", err).Warn("Failed to cache host")
		}
	}
	return resolved, nil
}

// attach resolves the request host into c, responding with the error when it can't
func (hr *HostRouter) attach(c *gin.Context) bool {
	resolved, err := hr.Resolve(c.Request.Context(), c.Request.Host)
	if err != nil {
		utils.RespondError(c, hr.logger, err)
		return false
	}
	c.Set(resolvedHostKey, resolved)
	c.Set("tenant_id", resolved.TenantID.String())
	return true
}

func resolvedHostFromContext(c *gin.Context) (*identity.ResolvedHost, bool) {
	v, ok := c.Get(resolvedHostKey)
	if !ok {
		return nil, false
	}
	resolved, ok := v.(*identity.ResolvedHost)
	return resolved, ok
}

// apiPrefixes are forwarded to the tenant service whatever the host
var apiPrefixes = []string{"/subdomain", "/custom-domains", "/admin"}

func isAPIPath(path string) bool {
	for _, prefix := range apiPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}
