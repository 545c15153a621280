package api

import (
	"github.com/pavan9802/prediction-market/pkg/types"
)

// StreamEvent is the wrapper for all events pushed to WebSocket subscribers.
type StreamEvent struct {
	Type      string `json:"type"` // "trade", "price"
	Timestamp int64  `json:"timestamp"`
	MarketID  string `json:"marketId"`
	Data      any    `json:"data"`
}

// TradeEvent is broadcast after every applied fill.
type TradeEvent struct {
	OrderID          string  `json:"orderId"`
	UserID           string  `json:"userId"`
	Outcome          string  `json:"outcome"`
	Quantity         int     `json:"quantity"`
	TotalCost        string  `json:"totalCost"`
	AverageFillPrice string  `json:"averageFillPrice"`
	MarketPrice      float64 `json:"marketPrice"`
}

// PriceEvent carries the post-trade market state.
type PriceEvent struct {
	YesShares    float64 `json:"yesShares"`
	NoShares     float64 `json:"noShares"`
	CurrentPrice float64 `json:"currentPrice"`
}

func newTradeEvent(o *types.Order, m *types.MarketState) StreamEvent {
	evt := TradeEvent{
		OrderID:     o.ID,
		UserID:      o.UserID,
		Outcome:     string(o.Outcome),
		Quantity:    o.FilledQuantity,
		MarketPrice: m.CurrentPrice,
	}
	if o.TotalCost != nil {
		evt.TotalCost = o.TotalCost.String()
	}
	if o.AverageFillPrice != nil {
		evt.AverageFillPrice = o.AverageFillPrice.String()
	}
	return StreamEvent{
		Type:      "trade",
		Timestamp: o.UpdatedAt,
		MarketID:  o.MarketID,
		Data:      evt,
	}
}

func newPriceEvent(m *types.MarketState) StreamEvent {
	return StreamEvent{
		Type:      "price",
		Timestamp: m.LastTradeTimestamp,
		MarketID:  m.MarketID,
		Data: PriceEvent{
			YesShares:    m.YesShares,
			NoShares:     m.NoShares,
			CurrentPrice: m.CurrentPrice,
		},
	}
}
