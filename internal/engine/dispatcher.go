package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pavan9802/prediction-market/pkg/types"
)

// result carries the executor's outcome back to the submitting handler.
type result struct {
	order *types.Order
	err   error
}

// job is one queued trade plus its reply channel.
type job struct {
	ctx   context.Context
	req   types.TradeRequest
	reply chan result
}

// lane is one market's bounded queue and its single consumer goroutine.
type lane struct {
	jobs chan job
}

// Dispatcher routes trade requests onto one bounded single-consumer queue
// per market. Trades within a market execute in strict FIFO order; trades
// across markets run in parallel. Lanes are created on first trade and live
// until Stop.
type Dispatcher struct {
	executor  *Executor
	queueSize int
	log       *slog.Logger

	mu    sync.Mutex
	lanes map[string]*lane

	stopped bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given per-market queue size.
func NewDispatcher(executor *Executor, queueSize int, log *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		executor:  executor,
		queueSize: queueSize,
		log:       log.With("component", "dispatcher"),
		lanes:     make(map[string]*lane),
	}
}

// Submit enqueues the request onto its market's lane and blocks until the
// executor produces a result or ctx is cancelled. A full lane fails fast
// with ErrQueueFull instead of blocking the handler.
func (d *Dispatcher) Submit(ctx context.Context, req types.TradeRequest) (*types.Order, error) {
	l, err := d.laneFor(req.MarketID)
	if err != nil {
		return nil, err
	}

	j := job{ctx: ctx, req: req, reply: make(chan result, 1)}
	select {
	case l.jobs <- j:
	default:
		d.log.Warn("market lane saturated, rejecting trade", "marketId", req.MarketID)
		return nil, ErrQueueFull
	}

	select {
	case r := <-j.reply:
		return r.order, r.err
	case <-ctx.Done():
		// The worker will notice the cancelled ctx if it has not started
		// executing; once execution begins the trade completes regardless.
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) laneFor(marketID string) (*lane, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil, context.Canceled
	}
	l, ok := d.lanes[marketID]
	if !ok {
		l = &lane{jobs: make(chan job, d.queueSize)}
		d.lanes[marketID] = l
		d.wg.Add(1)
		go d.run(marketID, l)
		d.log.Info("market lane started", "marketId", marketID)
	}
	return l, nil
}

// run is the single consumer for one market. Requests whose ctx was
// cancelled while queued are dropped before execution.
func (d *Dispatcher) run(marketID string, l *lane) {
	defer d.wg.Done()
	for j := range l.jobs {
		if err := j.ctx.Err(); err != nil {
			j.reply <- result{err: err}
			continue
		}
		order, err := d.executor.ExecuteMarketOrder(j.ctx, j.req)
		j.reply <- result{order: order, err: err}
	}
}

// Stop closes every lane and waits for in-flight trades to finish. Submit
// calls after Stop fail.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for _, l := range d.lanes {
		close(l.jobs)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
