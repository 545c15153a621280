package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/pavan9802/prediction-market/internal/ratelimit"
)

// cleanupInterval is how often idle rate-limit buckets are swept.
const cleanupInterval = 5 * time.Minute

// Server runs the HTTP and WebSocket surface of the trading backend.
type Server struct {
	handlers *Handlers
	hub      *Hub
	limiter  *ratelimit.Limiter
	server   *http.Server
	logger   *slog.Logger
	stop     chan struct{}
}

// NewServer builds the route table and wraps it in the rate-limit middleware.
func NewServer(
	addr string,
	exemptPrefixes []string,
	limiter *ratelimit.Limiter,
	handlers *Handlers,
	hub *Hub,
	logger *slog.Logger,
) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /trades", handlers.HandleTrade)
	mux.HandleFunc("POST /deposits", handlers.HandleDeposit)
	mux.HandleFunc("POST /withdrawals", handlers.HandleWithdraw)
	mux.HandleFunc("GET /orders", handlers.HandleOrders)
	mux.HandleFunc("GET /orders/{id}", handlers.HandleOrderByID)
	mux.HandleFunc("DELETE /orders/{id}", handlers.HandleCancelOrder)
	mux.HandleFunc("GET /balance", handlers.HandleBalance)
	mux.HandleFunc("GET /markets/{id}", handlers.HandleMarket)
	mux.HandleFunc("GET /ws", handlers.HandleWebSocket)
	mux.HandleFunc("GET /health", handlers.HandleHealth)

	server := &http.Server{
		Addr:         addr,
		Handler:      RateLimit(limiter, exemptPrefixes, mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		handlers: handlers,
		hub:      hub,
		limiter:  limiter,
		server:   server,
		logger:   logger.With("component", "api-server"),
		stop:     make(chan struct{}),
	}
}

// Start runs the hub, the limiter cleanup sweep and the HTTP listener.
// Blocks until the listener exits.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.limiter.RunCleanup(cleanupInterval, s.stop)

	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully drains the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")
	close(s.stop)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
