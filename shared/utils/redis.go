package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/pavitra93/netqr-tenant-identity/shared/identity"
	"github.com/pavitra93/netqr-tenant-identity/shared/metrics"
)

const hostKeyPrefix = "host:"

// ErrCacheMiss is returned when a host is not cached
var ErrCacheMiss = errors.New("host not cached")

// NewRedisClient connects to redis and checks the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return client, nil
}

// HostCache caches host to tenant resolutions for the gateway
type HostCache struct {
	client  redis.UniversalClient
	ttl     time.Duration
	metrics *metrics.Registry
}

// NewHostCache creates a cache whose entries expire after ttl
func NewHostCache(client redis.UniversalClient, ttl time.Duration, m *metrics.Registry) *HostCache {
	return &HostCache{client: client, ttl: ttl, metrics: m}
}

func hostKey(host string) string {
	return hostKeyPrefix + identity.NormalizeDomain(host)
}

// Get returns the cached resolution of host or ErrCacheMiss
func (h *HostCache) Get(ctx context.Context, host string) (*identity.ResolvedHost, error) {
	data, err := h.client.Get(ctx, hostKey(host)).Bytes()
	if err == redis.Nil {
		h.metrics.CacheLookup(false)
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read host cache: %w", err)
	}

	var resolved identity.ResolvedHost
	if err := json.Unmarshal(data, &resolved); err != nil {
		// treat a corrupt entry as a miss; Set will overwrite it
		h.metrics.CacheLookup(false)
		return nil, ErrCacheMiss
	}
	h.metrics.CacheLookup(true)
	return &resolved, nil
}

// Set caches resolved under its host
func (h *HostCache) Set(ctx context.Context, resolved *identity.ResolvedHost) error {
	data, err := json.Marshal(resolved)
	if err != nil {
		return fmt.Errorf("failed to marshal host: %w", err)
	}
	if err := h.client.Set(ctx, hostKey(resolved.Host), data, h.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write host cache: %w", err)
	}
	return nil
}

// Invalidate drops the given hosts
func (h *HostCache) Invalidate(ctx context.Context, hosts ...string) error {
	if len(hosts) == 0 {
		return nil
	}
	keys := make([]string, 0, len(hosts))
	for _, host := range hosts {
		keys = append(keys, hostKey(host))
	}
	if err := h.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate host cache: %w", err)
	}
	return nil
}
