package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/optvault/vault-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh the cache; reads check
// Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh cache) ---

func (s *CachedStore) SaveOption(ctx context.Context, opt *model.OptionRecord) error {
	if err := s.primary.SaveOption(ctx, opt); err != nil {
		return err
	}
	s.cacheJSON(ctx, optionKey(opt.ID), opt)
	return nil
}

func (s *CachedStore) SaveHedge(ctx context.Context, pos *model.HedgePosition) error {
	if err := s.primary.SaveHedge(ctx, pos); err != nil {
		return err
	}
	s.cacheJSON(ctx, hedgeKey(pos.ID), pos)
	return nil
}

func (s *CachedStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if err := s.primary.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	s.cacheJSON(ctx, snapshotKey, snap)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetOption(ctx context.Context, id uint64) (*model.OptionRecord, error) {
	data, err := s.rdb.Get(ctx, optionKey(id)).Bytes()
	if err == nil {
		var opt model.OptionRecord
		if json.Unmarshal(data, &opt) == nil {
			return &opt, nil
		}
	}

	opt, err := s.primary.GetOption(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, optionKey(id), opt)
	return opt, nil
}

func (s *CachedStore) GetHedge(ctx context.Context, id string) (*model.HedgePosition, error) {
	data, err := s.rdb.Get(ctx, hedgeKey(id)).Bytes()
	if err == nil {
		var pos model.HedgePosition
		if json.Unmarshal(data, &pos) == nil {
			return &pos, nil
		}
	}

	pos, err := s.primary.GetHedge(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, hedgeKey(id), pos)
	return pos, nil
}

func (s *CachedStore) GetSnapshot(ctx context.Context) (*Snapshot, error) {
	data, err := s.rdb.Get(ctx, snapshotKey).Bytes()
	if err == nil {
		var snap Snapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	snap, err := s.primary.GetSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, snapshotKey, snap)
	return snap, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListOptions(ctx context.Context) ([]model.OptionRecord, error) {
	return s.primary.ListOptions(ctx)
}

func (s *CachedStore) ListHedges(ctx context.Context) ([]model.HedgePosition, error) {
	return s.primary.ListHedges(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const snapshotKey = "vault:snapshot"

func optionKey(id uint64) string { return fmt.Sprintf("option:%d", id) }
func hedgeKey(id string) string  { return fmt.Sprintf("hedge:%s", id) }
