// Package store holds the hot in-memory market and position state that the
// execution path reads and mutates directly. Durable storage sits behind it:
// entries are loaded lazily on first touch and flushed back on a short
// write-behind interval, so a trade never waits on a disk write.
package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alitto/pond"

	"github.com/pavan9802/prediction-market/internal/pricing"
	"github.com/pavan9802/prediction-market/internal/storage"
	"github.com/pavan9802/prediction-market/pkg/types"
)

// flushIdleAfter is how long a market must sit unmodified before its dirty
// state is flushed. Keeps a hot market from being written on every trade.
const flushIdleAfter = 1000 * time.Millisecond

type marketEntry struct {
	state        *types.MarketState
	lastModified int64 // millis of last mutation
}

// MarketStore caches market state keyed by market ID. Mutation methods are
// safe for concurrent use, but the execution lanes guarantee that only one
// goroutine mutates a given market at a time.
type MarketStore struct {
	backing storage.Markets
	pool    *pond.WorkerPool
	log     *slog.Logger

	mu      sync.RWMutex
	markets map[string]*marketEntry
}

// NewMarketStore returns a cache over the given durable market storage.
func NewMarketStore(backing storage.Markets, pool *pond.WorkerPool, log *slog.Logger) *MarketStore {
	return &MarketStore{
		backing: backing,
		pool:    pool,
		log:     log.With("component", "market_store"),
		markets: make(map[string]*marketEntry),
	}
}

// Seed installs a market into the cache and persists it immediately. Used at
// bootstrap for configured markets that are not yet on disk.
func (s *MarketStore) Seed(ctx context.Context, m *types.MarketState) error {
	if err := s.backing.SaveMarket(ctx, m); err != nil {
		return err
	}
	s.mu.Lock()
	s.markets[m.MarketID] = &marketEntry{state: m}
	s.mu.Unlock()
	return nil
}

// GetOrLoad returns the cached market, loading it from durable storage on
// first touch. Returns (nil, nil) for a market that exists nowhere.
func (s *MarketStore) GetOrLoad(ctx context.Context, marketID string) (*types.MarketState, error) {
	s.mu.RLock()
	e, ok := s.markets[marketID]
	s.mu.RUnlock()
	if ok {
		return e.state, nil
	}

	loaded, err := s.backing.MarketByID(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if loaded == nil {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.markets[marketID]; ok {
		return e.state, nil // lost a load race, keep the first copy
	}
	s.markets[marketID] = &marketEntry{state: loaded}
	return loaded, nil
}

// ApplyTrade folds a fill into the cached market pools under the store lock,
// so Snapshot and the flusher never observe a half-applied trade. The market
// is marked for the next write-behind flush. Returns a copy of the updated
// state, or nil if the market is not cached.
func (s *MarketStore) ApplyTrade(marketID string, outcome types.Outcome, shares int, now int64) *types.MarketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.markets[marketID]
	if !ok {
		return nil
	}
	if outcome == types.OutcomeYes {
		e.state.YesShares += float64(shares)
	} else {
		e.state.NoShares += float64(shares)
	}
	e.state.LastTradeTimestamp = now
	e.state.CurrentPrice = pricing.Price(e.state.YesShares, e.state.NoShares, e.state.LiquidityB)
	e.lastModified = now
	c := *e.state
	return &c
}

// Snapshot returns a copy of the cached market state, or nil if not cached.
func (s *MarketStore) Snapshot(marketID string) *types.MarketState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.markets[marketID]
	if !ok {
		return nil
	}
	c := *e.state
	return &c
}

// RunFlusher flushes dirty markets on the given interval until ctx is
// cancelled, then performs one final synchronous flush.
func (s *MarketStore) RunFlusher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.FlushAll(context.Background())
			return
		case <-ticker.C:
			s.flushDirty()
		}
	}
}

// flushDirty persists markets whose last mutation has settled and whose
// in-memory state is newer than what storage has. Writes go through the
// worker pool so a slow disk never blocks the ticker.
func (s *MarketStore) flushDirty() {
	now := time.Now().UnixMilli()

	s.mu.RLock()
	var dirty []*types.MarketState
	for _, e := range s.markets {
		if e.lastModified == 0 || now-e.lastModified < flushIdleAfter.Milliseconds() {
			continue
		}
		if e.state.LastPersistedTimestamp >= e.state.LastTradeTimestamp {
			continue
		}
		c := *e.state
		dirty = append(dirty, &c)
	}
	s.mu.RUnlock()

	for _, m := range dirty {
		m := m
		s.pool.Submit(func() {
			s.persist(context.Background(), m)
		})
	}
}

// FlushAll synchronously persists every cached market with unpersisted
// trades. Used on shutdown.
func (s *MarketStore) FlushAll(ctx context.Context) {
	s.mu.RLock()
	var dirty []*types.MarketState
	for _, e := range s.markets {
		if e.state.LastPersistedTimestamp >= e.state.LastTradeTimestamp {
			continue
		}
		c := *e.state
		dirty = append(dirty, &c)
	}
	s.mu.RUnlock()

	for _, m := range dirty {
		s.persist(ctx, m)
	}
}

func (s *MarketStore) persist(ctx context.Context, m *types.MarketState) {
	persistedAt := time.Now().UnixMilli()
	m.LastPersistedTimestamp = persistedAt
	if err := s.backing.SaveMarket(ctx, m); err != nil {
		s.log.Warn("market flush failed", "marketId", m.MarketID, "error", err)
		return
	}
	s.mu.Lock()
	if e, ok := s.markets[m.MarketID]; ok && e.state.LastTradeTimestamp <= m.LastTradeTimestamp {
		e.state.LastPersistedTimestamp = persistedAt
	}
	s.mu.Unlock()
}
