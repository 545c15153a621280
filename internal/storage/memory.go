package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/pavan9802/prediction-market/pkg/types"
)

// Memory is an in-process Store used by tests and by deployments that
// accept losing state on restart. All methods are safe for concurrent use.
type Memory struct {
	mu sync.RWMutex

	orders        map[string]*types.Order // by ID
	ordersByNonce map[string]string       // nonce -> ID
	orderSeq      map[string]int64        // ID -> insertion sequence

	txs        []*types.Transaction // insertion order
	txsByNonce map[string]*types.Transaction

	users     map[string]*types.User
	positions map[string]*types.Position // userID + "\x00" + marketID
	markets   map[string]*types.MarketState

	seq int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		orders:        make(map[string]*types.Order),
		ordersByNonce: make(map[string]string),
		orderSeq:      make(map[string]int64),
		txsByNonce:    make(map[string]*types.Transaction),
		users:         make(map[string]*types.User),
		positions:     make(map[string]*types.Position),
		markets:       make(map[string]*types.MarketState),
	}
}

func (m *Memory) Close() error { return nil }

func cloneOrder(o *types.Order) *types.Order {
	c := *o
	if o.TotalCost != nil {
		tc := *o.TotalCost
		c.TotalCost = &tc
	}
	if o.AverageFillPrice != nil {
		ap := *o.AverageFillPrice
		c.AverageFillPrice = &ap
	}
	if o.CompletedAt != nil {
		ca := *o.CompletedAt
		c.CompletedAt = &ca
	}
	return &c
}

func cloneTx(tx *types.Transaction) *types.Transaction {
	c := *tx
	if tx.Price != nil {
		p := *tx.Price
		c.Price = &p
	}
	return &c
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

func (m *Memory) SaveOrder(_ context.Context, o *types.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if o.Nonce != "" {
		if existingID, ok := m.ordersByNonce[o.Nonce]; ok && existingID != o.ID {
			return ErrDuplicateKey
		}
	}
	if _, ok := m.orders[o.ID]; !ok {
		m.seq++
		m.orderSeq[o.ID] = m.seq
	}
	m.orders[o.ID] = cloneOrder(o)
	if o.Nonce != "" {
		m.ordersByNonce[o.Nonce] = o.ID
	}
	return nil
}

func (m *Memory) OrderByID(_ context.Context, id string) (*types.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	return cloneOrder(o), nil
}

func (m *Memory) OrderByNonce(_ context.Context, nonce string) (*types.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.ordersByNonce[nonce]
	if !ok {
		return nil, nil
	}
	return cloneOrder(m.orders[id]), nil
}

func (m *Memory) OrdersForUser(_ context.Context, userID string) ([]*types.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var orders []*types.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			orders = append(orders, cloneOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt != orders[j].CreatedAt {
			return orders[i].CreatedAt > orders[j].CreatedAt
		}
		return m.orderSeq[orders[i].ID] > m.orderSeq[orders[j].ID]
	})
	return orders, nil
}

func (m *Memory) ApplyFill(_ context.Context, o *types.Order) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.orders[o.ID]
	if !ok || !existing.Status.IsActive() {
		return 0, nil
	}
	updated := cloneOrder(existing)
	updated.FilledQuantity = o.FilledQuantity
	updated.Status = o.Status
	updated.UpdatedAt = o.UpdatedAt
	updated.TransactionID = o.TransactionID
	updated.TotalCost = nil
	updated.AverageFillPrice = nil
	updated.CompletedAt = nil
	if o.TotalCost != nil {
		tc := *o.TotalCost
		updated.TotalCost = &tc
	}
	if o.AverageFillPrice != nil {
		ap := *o.AverageFillPrice
		updated.AverageFillPrice = &ap
	}
	if o.CompletedAt != nil {
		ca := *o.CompletedAt
		updated.CompletedAt = &ca
	}
	m.orders[o.ID] = updated
	return 1, nil
}

func (m *Memory) CancelOrder(_ context.Context, id string, timestamp int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.orders[id]
	if !ok || !existing.Status.IsActive() {
		return 0, nil
	}
	updated := cloneOrder(existing)
	updated.Status = types.StatusCancelled
	updated.UpdatedAt = timestamp
	updated.CompletedAt = &timestamp
	m.orders[id] = updated
	return 1, nil
}

// ————————————————————————————————————————————————————————————————————————
// Transactions
// ————————————————————————————————————————————————————————————————————————

func (m *Memory) InsertTransaction(_ context.Context, tx *types.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.Nonce != "" {
		if _, ok := m.txsByNonce[tx.Nonce]; ok {
			return ErrDuplicateKey
		}
	}
	c := cloneTx(tx)
	m.txs = append(m.txs, c)
	if tx.Nonce != "" {
		m.txsByNonce[tx.Nonce] = c
	}
	return nil
}

func (m *Memory) LatestForUser(_ context.Context, userID string) (*types.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *types.Transaction
	for _, tx := range m.txs {
		if tx.UserID != userID {
			continue
		}
		if latest == nil || tx.Timestamp >= latest.Timestamp {
			latest = tx
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneTx(latest), nil
}

func (m *Memory) TransactionsForUser(_ context.Context, userID string) ([]*types.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var txs []*types.Transaction
	for _, tx := range m.txs {
		if tx.UserID == userID {
			txs = append(txs, cloneTx(tx))
		}
	}
	return txs, nil
}

// ————————————————————————————————————————————————————————————————————————
// Users, positions, markets
// ————————————————————————————————————————————————————————————————————————

func (m *Memory) SaveUser(_ context.Context, u *types.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *u
	m.users[u.UserID] = &c
	return nil
}

func (m *Memory) UserByID(_ context.Context, userID string) (*types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (m *Memory) AllUsers(_ context.Context) ([]*types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]*types.User, 0, len(m.users))
	for _, u := range m.users {
		c := *u
		users = append(users, &c)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users, nil
}

func positionKey(userID, marketID string) string {
	return userID + "\x00" + marketID
}

func (m *Memory) SavePosition(_ context.Context, p *types.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *p
	m.positions[positionKey(p.UserID, p.MarketID)] = &c
	return nil
}

func (m *Memory) PositionFor(_ context.Context, userID, marketID string) (*types.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[positionKey(userID, marketID)]
	if !ok {
		return nil, nil
	}
	c := *p
	return &c, nil
}

func (m *Memory) SaveMarket(_ context.Context, ms *types.MarketState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *ms
	m.markets[ms.MarketID] = &c
	return nil
}

func (m *Memory) MarketByID(_ context.Context, marketID string) (*types.MarketState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.markets[marketID]
	if !ok {
		return nil, nil
	}
	c := *ms
	return &c, nil
}

var _ Store = (*Memory)(nil)
