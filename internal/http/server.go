// Package http serves the JSON API over the table and assistant services.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/cors"

	applog "finai/internal/log"
	"finai/internal/middleware/ratelimit"
	"finai/internal/middleware/trace"
	"finai/internal/services"
)

type Config struct {
	Addr               string
	CORSOrigins        []string
	RateLimitPerMinute int
	Logger             *applog.Logger
}

// Server is the API server. Handler is a chi router.
type Server struct {
	http.Server

	tables    *services.TableService
	assistant *services.AssistantService
	logger    *applog.Logger
	limiter   *ratelimit.Limiter
	trace     *trace.Middleware

	shutdownOnce sync.Once
}

func NewServer(cfg Config, tables *services.TableService, assistant *services.AssistantService) *Server {
	if cfg.Logger == nil {
		cfg.Logger = applog.New(applog.DefaultConfig())
	}
	s := &Server{
		tables:    tables,
		assistant: assistant,
		logger:    cfg.Logger.WithComponent(applog.ComponentHTTP),
		limiter:   ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute}),
		trace:     trace.NewMiddleware(cfg.Logger, extractClientIP),
	}
	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes(origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = []string{"http://*", "https://*"}
	}
	corsMW := cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", HeaderOwnerID, trace.HeaderRequestID},
		ExposedHeaders: []string{trace.HeaderRequestID, "Retry-After"},
		MaxAge:         300,
	})

	router := chi.NewRouter()
	router.Use(s.trace.Middleware)
	router.Use(securityHeaders)
	router.Use(corsMW)

	router.Get("/healthz", handleHealth)
	router.Get("/readyz", handleReady)

	router.Route("/api", func(r chi.Router) {
		r.Use(s.limitWrites)

		r.Post("/setup", s.handleSetup)
		r.Get("/dashboard", s.handleDashboard)

		r.Route("/tables", func(r chi.Router) {
			r.Get("/", s.handleListTables)
			r.Post("/", s.handleCreateTable)

			r.Route("/{tableID}", func(r chi.Router) {
				r.Get("/", s.handleGetTable)
				r.Patch("/", s.handleUpdateTable)
				r.Delete("/", s.handleDeleteTable)
				r.Post("/duplicate", s.handleDuplicateTable)
				r.Post("/sync", s.handleResyncTable)
				r.Put("/readonly", s.handleSetReadOnly)

				r.Post("/columns", s.handleAddColumn)
				r.Patch("/columns/{columnKey}", s.handleUpdateColumn)
				r.Delete("/columns/{columnKey}", s.handleRemoveColumn)

				r.Post("/rows", s.handleAddRow)
				r.Delete("/rows/{rowID}", s.handleRemoveRow)
				r.Put("/rows/{rowID}/cells/{columnKey}", s.handleUpdateCell)
			})
		})

		r.Route("/assistant", func(r chi.Router) {
			r.Get("/messages", s.handleChatHistory)
			r.Post("/messages", s.handleChatSend)
			r.Post("/accept", s.handleChatAccept)
		})
	})

	return router
}

// limitWrites applies the per-client budget to mutating requests.
func (s *Server) limitWrites(next http.Handler) http.Handler {
	limited := s.limiter.Middleware(extractClientIP, func(w http.ResponseWriter, r *http.Request) {
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path)
		writeJSON(w, http.StatusTooManyRequests, ErrorBody{
			Error: "rate limit exceeded, please try again later",
			Code:  CodeRateLimited,
		})
	})(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
		default:
			limited.ServeHTTP(w, r)
		}
	})
}

// Metrics returns request counters collected by the trace middleware.
func (s *Server) Metrics() trace.Metrics { return s.trace.GetMetrics() }

func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
