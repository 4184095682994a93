// Package core provides the API chassis for the PaperPlan entitlement
// service: a chi router with the cross-cutting middleware (request IDs,
// logging, panic recovery, authentication), the JSON response envelope, and
// request validation.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"paperplan/internal/config"
)

// Pinger is the health-check view of the database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server bundles the router with its cross-cutting dependencies so handlers
// can be mounted against a fully configured chassis.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Auth      Authenticator

	router *chi.Mux
}

// NewServer builds the chassis and installs the base middleware chain.
// Routes under /v1 are additionally guarded by RequireActor; the webhook
// and health endpoints are mounted outside that guard.
func NewServer(cfg *config.Config, logger *slog.Logger, auth Authenticator) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if auth == nil {
		auth = TrustedHeaderAuthenticator{}
	}

	s := &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		Auth:      auth,
		router:    chi.NewRouter(),
	}

	s.router.Use(Recoverer(logger))
	s.router.Use(RequestID)
	s.router.Use(RequestLogger(logger))

	return s, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// MountV1 registers an authenticated route group under /v1.
func (s *Server) MountV1(register func(r chi.Router)) {
	s.router.Route("/v1", func(r chi.Router) {
		r.Use(RequireActor(s.Auth))
		register(r)
	})
}

// MountPublic registers routes outside the authentication guard (webhooks,
// health).
func (s *Server) MountPublic(register func(r chi.Router)) {
	register(s.router)
}

// MountHealth registers the liveness endpoint. A failing DB ping degrades
// the response to 503 so load balancers stop routing here.
func (s *Server) MountHealth(db Pinger) {
	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				s.Logger.ErrorContext(r.Context(), "health check db ping failed",
					slog.String("error", err.Error()))
				status = http.StatusServiceUnavailable
				body = map[string]string{"status": "degraded", "database": "unreachable"}
			}
		}
		JSON(w, r, status, body)
	})
}
