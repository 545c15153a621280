package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alitto/pond"

	"github.com/pavan9802/prediction-market/internal/storage"
	"github.com/pavan9802/prediction-market/pkg/types"
)

// PositionStore caches per-user per-market share holdings. Positions are
// mutated only by the execution lanes; persistence is best-effort through the
// worker pool with the ledger remaining the recovery source of truth.
type PositionStore struct {
	backing storage.Positions
	pool    *pond.WorkerPool
	log     *slog.Logger

	mu        sync.RWMutex
	positions map[string]*types.Position
}

// NewPositionStore returns a cache over the given durable position storage.
func NewPositionStore(backing storage.Positions, pool *pond.WorkerPool, log *slog.Logger) *PositionStore {
	return &PositionStore{
		backing:   backing,
		pool:      pool,
		log:       log.With("component", "position_store"),
		positions: make(map[string]*types.Position),
	}
}

func posKey(userID, marketID string) string {
	return userID + "\x00" + marketID
}

// GetOrCreate returns the cached position, loading from storage on first
// touch and creating a zero position for a first-time trader.
func (s *PositionStore) GetOrCreate(ctx context.Context, userID, marketID string) (*types.Position, error) {
	key := posKey(userID, marketID)

	s.mu.RLock()
	p, ok := s.positions[key]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	loaded, err := s.backing.PositionFor(ctx, userID, marketID)
	if err != nil {
		return nil, err
	}
	if loaded == nil {
		loaded = &types.Position{UserID: userID, MarketID: marketID}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.positions[key]; ok {
		return p, nil
	}
	s.positions[key] = loaded
	return loaded, nil
}

// AddShares credits shares of the given outcome to the position and schedules
// an async persist. Called by the executor after a fill commits.
func (s *PositionStore) AddShares(userID, marketID string, outcome types.Outcome, shares int) {
	s.mu.Lock()
	p, ok := s.positions[posKey(userID, marketID)]
	if !ok {
		p = &types.Position{UserID: userID, MarketID: marketID}
		s.positions[posKey(userID, marketID)] = p
	}
	if outcome == types.OutcomeYes {
		p.YesShares += shares
	} else {
		p.NoShares += shares
	}
	c := *p
	s.mu.Unlock()

	submitted := s.pool.TrySubmit(func() {
		if err := s.backing.SavePosition(context.Background(), &c); err != nil {
			s.log.Warn("position persist failed", "userId", c.UserID, "marketId", c.MarketID, "error", err)
		}
	})
	if !submitted {
		s.log.Warn("position persist dropped, pool saturated", "userId", userID, "marketId", marketID)
	}
}

// Snapshot returns a copy of the cached position, or nil if not cached.
func (s *PositionStore) Snapshot(userID, marketID string) *types.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[posKey(userID, marketID)]
	if !ok {
		return nil
	}
	c := *p
	return &c
}

// FlushAll synchronously persists every cached position. Used on shutdown.
func (s *PositionStore) FlushAll(ctx context.Context) {
	s.mu.RLock()
	all := make([]*types.Position, 0, len(s.positions))
	for _, p := range s.positions {
		c := *p
		all = append(all, &c)
	}
	s.mu.RUnlock()

	for _, p := range all {
		if err := s.backing.SavePosition(ctx, p); err != nil {
			s.log.Warn("position flush failed", "userId", p.UserID, "marketId", p.MarketID, "error", err)
		}
	}
}
