package data

import (
	"context"
	"sort"

	"github.com/contentops/jobcore/internal/core"
)

// StaticTenantDirectory serves a fixed tenant list. It backs single-tenant
// deployments and tests, where the Redis-maintained set would be overkill.
type StaticTenantDirectory struct {
	tenants []string
}

var _ core.TenantDirectory = (*StaticTenantDirectory)(nil)

func NewStaticTenantDirectory(tenants []string) *StaticTenantDirectory {
	out := make([]string, 0, len(tenants))
	for _, t := range tenants {
		if t != "" {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return &StaticTenantDirectory{tenants: out}
}

func (d *StaticTenantDirectory) ListActiveTenants(_ context.Context) ([]string, error) {
	out := make([]string, len(d.tenants))
	copy(out, d.tenants)
	return out, nil
}
