// Package server exposes the asset tracker over HTTP.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/shopfloor/isos/pkg/directory"
	"github.com/shopfloor/isos/pkg/service"
)

// Options configures the HTTP server.
type Options struct {
	Logger         *slog.Logger
	AllowedOrigins []string
}

// Server serves the asset, cycle and directory APIs.
type Server struct {
	db          *gorm.DB
	services    *service.Set
	credentials *directory.Credentials
	operators   *directory.Operators
	tokens      *directory.Tokens
	logger      *slog.Logger
	origins     []string
	startedAt   time.Time
	ready       atomic.Bool
}

// New creates a server. It reports not ready until SetReady(true) is called.
func New(db *gorm.DB, services *service.Set, creds *directory.Credentials, tokens *directory.Tokens, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		db:          db,
		services:    services,
		credentials: creds,
		operators:   directory.NewOperators(db),
		tokens:      tokens,
		logger:      opts.Logger,
		origins:     origins,
		startedAt:   time.Now(),
	}
}

// SetReady marks the server ready to serve traffic, once migrations are done.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Routes builds the HTTP router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", correlationHeader},
		ExposedHeaders:   []string{"Retry-After", correlationHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.loginHandler)
		r.Post("/credentials", s.changeCredentialsHandler)
		r.Get("/operators", s.listOperatorsHandler)
		r.Post("/operators/rename", s.renameOperatorHandler)
		r.Get("/asset-types", s.listAssetTypesHandler)

		r.Route("/{assetType}", func(r chi.Router) {
			r.Get("/assets", s.listAssetsHandler)
			r.Post("/assets", s.createAssetHandler)
			r.Get("/assets/{id}", s.getAssetHandler)
			r.Put("/assets/{id}", s.replaceAssetHandler)
			r.Patch("/assets/{id}", s.patchAssetHandler)
			r.Delete("/assets/{id}", s.deleteAssetHandler)
			r.Post("/assets/{id}/actions", s.actionHandler)
			r.Get("/assets/{id}/history", s.historyHandler)

			r.Get("/cycles", s.listCyclesHandler)
			r.Get("/cycles/active/*", s.activeCycleHandler)
			r.Post("/cycles/out", s.checkoutHandler)
			r.Post("/cycles/in", s.checkinHandler)
		})
	})

	return r
}

// healthHandler returns the liveness status of the server.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// readyHandler checks database connectivity and migration completion.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	allReady := s.ready.Load()

	dbStatus := map[string]string{"status": "up"}
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = map[string]string{"status": "down", "error": err.Error()}
		allReady = false
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := sqlDB.PingContext(ctx); err != nil {
			dbStatus = map[string]string{"status": "down", "error": err.Error()}
			allReady = false
		}
	}

	status := "ready"
	code := http.StatusOK
	if !allReady {
		status = "not_ready"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     status,
		"database":   dbStatus,
		"migrations": map[string]bool{"done": s.ready.Load()},
	})
}
