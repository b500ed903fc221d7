package data

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/contentops/jobcore/internal/core"
)

// DefaultTenantSetKey is the Redis set holding active tenant identifiers.
// Provisioning writes to it; the scheduler only reads.
const DefaultTenantSetKey = "tenants:active"

// RedisTenantDirectory reads the active tenant set from Redis.
type RedisTenantDirectory struct {
	client redis.UniversalClient
	setKey string
}

var _ core.TenantDirectory = (*RedisTenantDirectory)(nil)

func NewRedisTenantDirectory(client redis.UniversalClient, setKey string) *RedisTenantDirectory {
	if setKey == "" {
		setKey = DefaultTenantSetKey
	}
	return &RedisTenantDirectory{client: client, setKey: setKey}
}

// ListActiveTenants returns the current members of the tenant set, sorted
// for deterministic fan-out order.
func (d *RedisTenantDirectory) ListActiveTenants(ctx context.Context) ([]string, error) {
	members, err := d.client.SMembers(ctx, d.setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	sort.Strings(members)
	return members, nil
}
