// Package cache keeps master-data option sets and other read-mostly values
// close to the service. The memory cache serves single nodes; redis, alone or
// behind a local tier, shares entries across replicas.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/ratedesk/internal/domain"
)

const optionSetPrefix = "optionset:"

// OptionSetKey is the cache key holding a master-data option set.
func OptionSetKey(kind string) string {
	return optionSetPrefix + kind
}

// New creates the cache selected by cfg.Type.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory", "":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

type byteStore interface {
	Get(ctx context.Context, tenantID, key string) ([]byte, error)
	Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error
}

func getOptionSet(ctx context.Context, s byteStore, tenantID, kind string) ([]domain.MasterOption, error) {
	data, err := s.Get(ctx, tenantID, OptionSetKey(kind))
	if err != nil || data == nil {
		return nil, err
	}
	var set []domain.MasterOption
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("cached option set %s: %w", kind, err)
	}
	return set, nil
}

func setOptionSet(ctx context.Context, s byteStore, tenantID, kind string, set []domain.MasterOption, ttl time.Duration) error {
	if set == nil {
		set = []domain.MasterOption{}
	}
	data, err := json.Marshal(set)
	if err != nil {
		return err
	}
	return s.Set(ctx, tenantID, OptionSetKey(kind), data, ttl)
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return nil
}

// TwoPhaseCache reads through a local LRU before redis. Writes go to both;
// the local copy never outlives LocalTTL so replicas converge after a peer
// invalidates.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache connects the redis tier and wraps it with a local LRU.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("redis tier: %w", err)
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL <= 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{local: local, remote: remote, l1TTL: l1TTL}
}

func (c *TwoPhaseCache) localTTL(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl < c.l1TTL {
		return ttl
	}
	return c.l1TTL
}

// Get checks the local tier first and back-fills it on a remote hit.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil || val != nil {
		return val, err
	}

	val, err = c.remote.Get(ctx, tenantID, key)
	if err != nil || val == nil {
		return nil, err
	}
	_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	return val, nil
}

// Set writes both tiers.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, tenantID, key, value, c.localTTL(ttl)); err != nil {
		return err
	}
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes key from both tiers.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

func (c *TwoPhaseCache) GetOptionSet(ctx context.Context, tenantID, kind string) ([]domain.MasterOption, error) {
	return getOptionSet(ctx, c, tenantID, kind)
}

func (c *TwoPhaseCache) SetOptionSet(ctx context.Context, tenantID, kind string, set []domain.MasterOption, ttl time.Duration) error {
	return setOptionSet(ctx, c, tenantID, kind, set, ttl)
}

// Ping checks both tiers.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("local tier: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("redis tier: %w", err)
	}
	return nil
}

// Close releases both tiers.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats reports the local tier's size and capacity.
func (c *TwoPhaseCache) Stats() (size, capacity int) {
	return c.local.Stats()
}
