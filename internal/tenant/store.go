// Package tenant resolves best-effort tenant hints (company name) from the
// local key-value store. Lookups degrade to empty; the dialer never blocks on
// a missing hint.
package tenant

import (
	"context"
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const companyNameKeyPrefix = "tenant:company_name:"

type Store struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewStore(rdb *redis.Client, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{rdb: rdb, log: log}
}

// CompanyName returns the cached company name for a tenant, or "" when the
// hint is absent or the store is unreachable.
func (s *Store) CompanyName(ctx context.Context, tenantID string) string {
	if s == nil || s.rdb == nil || tenantID == "" {
		return ""
	}
	v, err := s.rdb.Get(ctx, companyNameKeyPrefix+tenantID).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Debug("tenant hint lookup failed", "tenant_id", tenantID, "err", err)
		}
		return ""
	}
	return v
}

// SetCompanyName records the hint. Used when the UI learns the company name
// from the CRM connection flow.
func (s *Store) SetCompanyName(ctx context.Context, tenantID, name string) error {
	if s == nil || s.rdb == nil {
		return errors.New("tenant: store not configured")
	}
	if tenantID == "" {
		return errors.New("tenant: tenant id is required")
	}
	return s.rdb.Set(ctx, companyNameKeyPrefix+tenantID, name, 0).Err()
}
