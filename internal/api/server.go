package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/leadclean/internal/cleaner"
	"github.com/ignite/leadclean/internal/config"
	"github.com/ignite/leadclean/internal/credit"
	"github.com/ignite/leadclean/internal/payments"
	"github.com/redis/go-redis/v9"
)

// Server represents the API server
type Server struct {
	config   config.ServerConfig
	handler  http.Handler
	handlers *Handlers
	server   *http.Server
	router   *chi.Mux
}

// NewServer creates a new API server
func NewServer(
	cfg *config.Config,
	cl *cleaner.Cleaner,
	ledger credit.Ledger,
	checkout *payments.Client,
	redisClient *redis.Client,
) *Server {
	handlers := NewHandlers(cl, ledger, checkout, NewProgressStore(redisClient), cfg)
	router := SetupRoutes(handlers)

	return &Server{
		config:   cfg.Server,
		handler:  router,
		handlers: handlers,
		router:   router,
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.handler,
		// Read timeout is generous to support large list uploads. Cleaning
		// itself runs detached from the request, so responses stay quick.
		ReadTimeout:       5 * time.Minute,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
