package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alitto/pond"

	"github.com/pavan9802/prediction-market/internal/pricing"
	"github.com/pavan9802/prediction-market/internal/storage"
	"github.com/pavan9802/prediction-market/pkg/types"
)

func testDeps(t *testing.T) (*storage.Memory, *pond.WorkerPool, *slog.Logger) {
	t.Helper()
	pool := pond.New(2, 16)
	t.Cleanup(pool.StopAndWait)
	return storage.NewMemory(), pool, slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMarketStoreLazyLoad(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem, pool, log := testDeps(t)

	seeded := &types.MarketState{
		MarketID: "mkt-1", LiquidityB: 100, CurrentPrice: 0.5, Status: types.MarketOpen,
	}
	if err := mem.SaveMarket(ctx, seeded); err != nil {
		t.Fatalf("seed storage: %v", err)
	}

	s := NewMarketStore(mem, pool, log)
	m, err := s.GetOrLoad(ctx, "mkt-1")
	if err != nil || m == nil {
		t.Fatalf("GetOrLoad = (%+v, %v)", m, err)
	}
	if m.LiquidityB != 100 {
		t.Fatalf("loaded wrong market: %+v", m)
	}

	// Second call must hit the cache and return the same instance.
	again, err := s.GetOrLoad(ctx, "mkt-1")
	if err != nil || again != m {
		t.Fatalf("expected cached instance, got (%p vs %p, %v)", again, m, err)
	}
}

func TestMarketStoreMissingMarket(t *testing.T) {
	t.Parallel()
	mem, pool, log := testDeps(t)
	s := NewMarketStore(mem, pool, log)

	m, err := s.GetOrLoad(context.Background(), "nope")
	if err != nil || m != nil {
		t.Fatalf("missing market = (%+v, %v), want (nil, nil)", m, err)
	}
}

func TestMarketStoreFlushAllPersistsDirtyState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem, pool, log := testDeps(t)
	s := NewMarketStore(mem, pool, log)

	m := &types.MarketState{MarketID: "mkt-1", LiquidityB: 100, CurrentPrice: 0.5, Status: types.MarketOpen}
	if err := s.Seed(ctx, m); err != nil {
		t.Fatalf("seed: %v", err)
	}

	now := time.Now().UnixMilli()
	if s.ApplyTrade("mkt-1", types.OutcomeYes, 10, now) == nil {
		t.Fatal("ApplyTrade returned nil for a cached market")
	}

	s.FlushAll(ctx)

	persisted, err := mem.MarketByID(ctx, "mkt-1")
	if err != nil || persisted == nil {
		t.Fatalf("market lookup: (%+v, %v)", persisted, err)
	}
	if persisted.YesShares != 10 || persisted.LastTradeTimestamp != now {
		t.Fatalf("dirty state not persisted: %+v", persisted)
	}
	if persisted.CurrentPrice != pricing.Price(10, 0, 100) {
		t.Fatalf("persisted price %v, want %v", persisted.CurrentPrice, pricing.Price(10, 0, 100))
	}
	if persisted.LastPersistedTimestamp < now {
		t.Fatalf("lastPersisted %d not advanced past lastTrade %d",
			persisted.LastPersistedTimestamp, now)
	}
}

func TestMarketStoreApplyTradeUncachedMarket(t *testing.T) {
	t.Parallel()
	mem, pool, log := testDeps(t)
	s := NewMarketStore(mem, pool, log)

	if got := s.ApplyTrade("nope", types.OutcomeYes, 1, time.Now().UnixMilli()); got != nil {
		t.Fatalf("ApplyTrade on uncached market = %+v, want nil", got)
	}
}

// Snapshots taken while another goroutine applies trades must always be
// internally consistent: the price matches the pools it was derived from.
func TestMarketStoreSnapshotConsistentDuringTrades(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem, pool, log := testDeps(t)
	s := NewMarketStore(mem, pool, log)

	m := &types.MarketState{MarketID: "mkt-1", LiquidityB: 100, Status: types.MarketOpen}
	m.CurrentPrice = pricing.Price(0, 0, 100)
	if err := s.Seed(ctx, m); err != nil {
		t.Fatalf("seed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		base := time.Now().UnixMilli()
		for i := 0; i < 500; i++ {
			s.ApplyTrade("mkt-1", types.OutcomeYes, 1, base+int64(i))
		}
	}()

	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		snap := s.Snapshot("mkt-1")
		if snap == nil {
			t.Fatal("snapshot disappeared mid-run")
		}
		if want := pricing.Price(snap.YesShares, snap.NoShares, snap.LiquidityB); snap.CurrentPrice != want {
			t.Fatalf("torn snapshot: price %v for pools yes=%v no=%v (want %v)",
				snap.CurrentPrice, snap.YesShares, snap.NoShares, want)
		}
	}
}

func TestMarketStoreSnapshotIsCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem, pool, log := testDeps(t)
	s := NewMarketStore(mem, pool, log)

	m := &types.MarketState{MarketID: "mkt-1", LiquidityB: 50, Status: types.MarketOpen}
	if err := s.Seed(ctx, m); err != nil {
		t.Fatalf("seed: %v", err)
	}
	snap := s.Snapshot("mkt-1")
	snap.YesShares = 999

	live, _ := s.GetOrLoad(ctx, "mkt-1")
	if live.YesShares != 0 {
		t.Fatal("snapshot mutation leaked into live state")
	}
}

func TestPositionStoreGetOrCreate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem, pool, log := testDeps(t)
	s := NewPositionStore(mem, pool, log)

	p, err := s.GetOrCreate(ctx, "alice", "mkt-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if p.YesShares != 0 || p.NoShares != 0 {
		t.Fatalf("fresh position not zero: %+v", p)
	}

	seeded := &types.Position{UserID: "bob", MarketID: "mkt-1", YesShares: 7}
	if err := mem.SavePosition(ctx, seeded); err != nil {
		t.Fatalf("seed: %v", err)
	}
	p, err = s.GetOrCreate(ctx, "bob", "mkt-1")
	if err != nil || p.YesShares != 7 {
		t.Fatalf("expected lazy-loaded position with 7 YES, got (%+v, %v)", p, err)
	}
}

func TestPositionStoreAddSharesPersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := storage.NewMemory()
	pool := pond.New(2, 16)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewPositionStore(mem, pool, log)

	if _, err := s.GetOrCreate(ctx, "alice", "mkt-1"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	s.AddShares("alice", "mkt-1", types.OutcomeYes, 10)
	s.AddShares("alice", "mkt-1", types.OutcomeNo, 3)

	pool.StopAndWait()

	p, err := mem.PositionFor(ctx, "alice", "mkt-1")
	if err != nil || p == nil {
		t.Fatalf("position lookup: (%+v, %v)", p, err)
	}
	if p.YesShares != 10 || p.NoShares != 3 {
		t.Fatalf("persisted position = %+v, want 10 YES / 3 NO", p)
	}
}
