package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/pavan9802/prediction-market/internal/balance"
	"github.com/pavan9802/prediction-market/internal/engine"
	"github.com/pavan9802/prediction-market/internal/storage"
	"github.com/pavan9802/prediction-market/internal/store"
	"github.com/pavan9802/prediction-market/pkg/money"
	"github.com/pavan9802/prediction-market/pkg/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy belongs to the fronting proxy.
		return true
	},
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	dispatcher *engine.Dispatcher
	executor   *engine.Executor
	orders     storage.Orders
	balance    *balance.Service
	markets    *store.MarketStore
	hub        *Hub
	logger     *slog.Logger
}

// NewHandlers wires the handler set.
func NewHandlers(
	dispatcher *engine.Dispatcher,
	executor *engine.Executor,
	orders storage.Orders,
	b *balance.Service,
	markets *store.MarketStore,
	hub *Hub,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		dispatcher: dispatcher,
		executor:   executor,
		orders:     orders,
		balance:    b,
		markets:    markets,
		hub:        hub,
		logger:     logger.With("component", "api-handlers"),
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// principal extracts the authenticated user set by the fronting auth layer.
func principal(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing principal")
		return "", false
	}
	return userID, true
}

type tradeBody struct {
	MarketID string `json:"marketId"`
	Outcome  string `json:"outcome"`
	Quantity int    `json:"quantity"`
	Nonce    string `json:"nonce,omitempty"`
}

// HandleTrade submits a market BUY onto the market's execution lane and
// responds with the final order.
func (h *Handlers) HandleTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := principal(w, r)
	if !ok {
		return
	}
	var body tradeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	order, err := h.dispatcher.Submit(r.Context(), types.TradeRequest{
		UserID:   userID,
		MarketID: body.MarketID,
		Outcome:  body.Outcome,
		Quantity: body.Quantity,
		Nonce:    body.Nonce,
	})
	if err != nil {
		var verr *engine.ValidationError
		switch {
		case errors.As(err, &verr):
			writeJSON(w, http.StatusBadRequest, order)
		case errors.Is(err, engine.ErrMarketNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, engine.ErrInsufficientBalance):
			writeJSON(w, http.StatusBadRequest, order)
		case errors.Is(err, engine.ErrQueueFull):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			h.logger.Error("trade failed", "userId", userID, "marketId", body.MarketID, "error", err)
			writeError(w, http.StatusInternalServerError, "trade execution failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type fundingBody struct {
	Amount string `json:"amount"`
	Nonce  string `json:"nonce,omitempty"`
}

func (h *Handlers) handleFunding(w http.ResponseWriter, r *http.Request, withdraw bool) {
	userID, ok := principal(w, r)
	if !ok {
		return
	}
	var body fundingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	amount, err := money.FromString(body.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount: "+body.Amount)
		return
	}

	var tx *types.Transaction
	if withdraw {
		tx, err = h.balance.Withdraw(r.Context(), userID, amount, body.Nonce)
	} else {
		tx, err = h.balance.Deposit(r.Context(), userID, amount, body.Nonce)
	}
	if err != nil {
		switch {
		case errors.Is(err, balance.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, balance.ErrInsufficientFunds):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("funding failed", "userId", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "funding failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// HandleDeposit credits the principal's account.
func (h *Handlers) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	h.handleFunding(w, r, false)
}

// HandleWithdraw debits the principal's account.
func (h *Handlers) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	h.handleFunding(w, r, true)
}

// HandleOrders lists the principal's orders, newest first.
func (h *Handlers) HandleOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := principal(w, r)
	if !ok {
		return
	}
	orders, err := h.orders.OrdersForUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("order listing failed", "userId", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "order lookup failed")
		return
	}
	if orders == nil {
		orders = []*types.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// HandleOrderByID returns one of the principal's orders.
func (h *Handlers) HandleOrderByID(w http.ResponseWriter, r *http.Request) {
	userID, ok := principal(w, r)
	if !ok {
		return
	}
	order, err := h.orders.OrderByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "order lookup failed")
		return
	}
	if order == nil || order.UserID != userID {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// HandleCancelOrder cancels an active order owned by the principal.
func (h *Handlers) HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := principal(w, r)
	if !ok {
		return
	}
	err := h.executor.Cancel(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, engine.ErrNotAuthorized):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, engine.ErrNotActive), errors.Is(err, engine.ErrRaceLost):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "cancel failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// HandleBalance returns the principal's ledger-backed balance.
func (h *Handlers) HandleBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := principal(w, r)
	if !ok {
		return
	}
	b, err := h.balance.Balance(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "balance lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"userId": userID, "balance": b.String()})
}

// HandleMarket returns the current state of one market.
func (h *Handlers) HandleMarket(w http.ResponseWriter, r *http.Request) {
	marketID := r.PathValue("id")
	m, err := h.markets.GetOrLoad(r.Context(), marketID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "market lookup failed")
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "market not found: "+marketID)
		return
	}
	writeJSON(w, http.StatusOK, h.markets.Snapshot(marketID))
}

// HandleHealth is the liveness probe.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleWebSocket upgrades the connection onto the trade stream.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	NewClient(h.hub, conn)
}
