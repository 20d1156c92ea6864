// Package masterdata serves canonical option sets through the shared cache.
package masterdata

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/opensource-finance/ratedesk/internal/cache"
	"github.com/opensource-finance/ratedesk/internal/domain"
	"github.com/opensource-finance/ratedesk/internal/logging"
)

// DefaultTTL applies when the configured master-data TTL is zero.
const DefaultTTL = 30 * time.Minute

// Cached is a MasterDataSource that reads through a cache. Concurrent misses
// for the same kind share one upstream call. Failures are never cached.
type Cached struct {
	upstream domain.MasterDataSource
	cache    domain.Cache
	ttl      time.Duration
	group    singleflight.Group
	log      *zap.SugaredLogger
}

// NewCached wraps upstream. A nil store disables caching.
func NewCached(upstream domain.MasterDataSource, store domain.Cache, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cached{
		upstream: upstream,
		cache:    store,
		ttl:      ttl,
		log:      logging.Named("masterdata"),
	}
}

// OptionSet returns the option set for kind.
func (c *Cached) OptionSet(ctx context.Context, kind string) ([]domain.MasterOption, error) {
	if c.cache != nil {
		set, err := c.cache.GetOptionSet(ctx, domain.GlobalTenant, kind)
		if err != nil {
			c.log.Warnw("cache read failed", "kind", kind, "error", err)
		} else if set != nil {
			return set, nil
		}
	}

	v, err, _ := c.group.Do(kind, func() (any, error) {
		set, err := c.upstream.OptionSet(ctx, kind)
		if err != nil {
			return nil, err
		}
		if c.cache != nil {
			if err := c.cache.SetOptionSet(ctx, domain.GlobalTenant, kind, set, c.ttl); err != nil {
				c.log.Warnw("cache write failed", "kind", kind, "error", err)
			}
		}
		return set, nil
	})
	if err != nil {
		return nil, fmt.Errorf("option set %s: %w", kind, err)
	}
	return v.([]domain.MasterOption), nil
}

// Invalidate drops the cached sets for kinds.
func (c *Cached) Invalidate(ctx context.Context, kinds ...string) error {
	if c.cache == nil {
		return nil
	}
	for _, kind := range kinds {
		if err := c.cache.Delete(ctx, domain.GlobalTenant, cache.OptionSetKey(kind)); err != nil {
			return err
		}
	}
	return nil
}

// Store is a MasterDataSource over a repository. A kind with no stored set is
// KindNotFound.
type Store struct {
	Repo domain.Repository
}

func (s Store) OptionSet(ctx context.Context, kind string) ([]domain.MasterOption, error) {
	set, err := s.Repo.GetMasterData(ctx, kind)
	if err != nil {
		return nil, err
	}
	if set == nil {
		return nil, domain.NewError(domain.KindNotFound, fmt.Sprintf("master data %s not found", kind), nil)
	}
	return set, nil
}
