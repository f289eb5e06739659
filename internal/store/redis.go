package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fundboard/fund-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the fund catalog. Fund writes go to the primary store and
// invalidate the cache; fund reads check Redis first then fall back to the
// primary. Wallets, positions and the transaction log pass straight through.
//
// Settlement must read prices from the primary store, not from this cache.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateFund(ctx context.Context, f *model.Fund) error {
	if err := s.Store.CreateFund(ctx, f); err != nil {
		return err
	}
	s.cacheFund(ctx, f)
	s.invalidateLists(ctx)
	return nil
}

func (s *CachedStore) UpdateFund(ctx context.Context, f *model.Fund) error {
	if err := s.Store.UpdateFund(ctx, f); err != nil {
		return err
	}
	// Invalidate; next read will re-populate.
	s.rdb.Del(ctx, fundKey(f.ID))
	s.invalidateLists(ctx)
	return nil
}

func (s *CachedStore) DeleteFund(ctx context.Context, id string) error {
	if err := s.Store.DeleteFund(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, fundKey(id))
	s.invalidateLists(ctx)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetFund(ctx context.Context, id string) (*model.Fund, error) {
	data, err := s.rdb.Get(ctx, fundKey(id)).Bytes()
	if err == nil {
		var f model.Fund
		if json.Unmarshal(data, &f) == nil {
			return &f, nil
		}
	}

	// Cache miss or Redis unavailable: read from primary.
	f, err := s.Store.GetFund(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheFund(ctx, f)
	return f, nil
}

func (s *CachedStore) ListFunds(ctx context.Context, filter model.FundFilter) ([]model.Fund, error) {
	if filter == "" {
		filter = model.FundsAll
	}

	data, err := s.rdb.Get(ctx, fundListKey(filter)).Bytes()
	if err == nil {
		var funds []model.Fund
		if json.Unmarshal(data, &funds) == nil {
			return funds, nil
		}
	}

	funds, err := s.Store.ListFunds(ctx, filter)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(funds); err == nil {
		s.rdb.Set(ctx, fundListKey(filter), data, s.ttl)
	}
	return funds, nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheFund(ctx context.Context, f *model.Fund) {
	if data, err := json.Marshal(f); err == nil {
		s.rdb.Set(ctx, fundKey(f.ID), data, s.ttl)
	}
}

func (s *CachedStore) invalidateLists(ctx context.Context) {
	s.rdb.Del(ctx,
		fundListKey(model.FundsAll),
		fundListKey(model.FundsActive),
		fundListKey(model.FundsInactive),
	)
}

func fundKey(id string) string { return fmt.Sprintf("fund:%s", id) }
func fundListKey(filter model.FundFilter) string { return fmt.Sprintf("funds:%s", filter) }
