// Package web exposes the reconciliation engine to the presentation
// collaborator as a JSON API. Handlers return plain data; no UI types.
package web

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/regcanon/internal/config"
	"github.com/regcanon/internal/enum"
	"github.com/regcanon/internal/filtercache"
	"github.com/regcanon/internal/query"
	"github.com/regcanon/internal/regularize"
)

// Server wires the engine components behind HTTP.
type Server struct {
	config     *config.Config
	engine     *regularize.Engine
	cache      *filtercache.Cache
	queries    *query.Builder
	enum       *enum.Enumerator
	router     *mux.Router
	httpServer *http.Server
}

// NewServer creates the API server over constructed components.
func NewServer(cfg *config.Config, engine *regularize.Engine, cache *filtercache.Cache,
	queries *query.Builder, e *enum.Enumerator) *Server {

	s := &Server{
		config:  cfg,
		engine:  engine,
		cache:   cache,
		queries: queries,
		enum:    e,
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	api.HandleFunc("/pairs", s.handlePairs).Methods("GET")
	api.HandleFunc("/pairs/resolve", s.handleResolve).Methods("GET")
	api.HandleFunc("/pairs/promote", s.handlePromote).Methods("POST")
	api.HandleFunc("/sweep", s.handleSweep).Methods("POST")
	api.HandleFunc("/mappings/{pairKey}", s.handleDeleteMapping).Methods("DELETE")

	api.HandleFunc("/filters/{dimension}", s.handleFilterValues).Methods("GET")
	api.HandleFunc("/cache/invalidate", s.handleInvalidate).Methods("POST")

	api.HandleFunc("/query", s.handleQuery).Methods("POST")
}

// Start runs the server until SIGINT/SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-stop:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
