// Package main is the entry point for the PaperPlan API server.
//
// It loads configuration, connects the PostgreSQL pool, wires the
// entitlement, promo, referral and billing services to their HTTP handlers,
// and serves until SIGINT/SIGTERM triggers a graceful shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"paperplan/internal/api/handlers"
	"paperplan/internal/config"
	"paperplan/internal/core"
	"paperplan/internal/db"
	"paperplan/internal/entitlement"
	"paperplan/internal/external"
	"paperplan/internal/promo"
	"paperplan/internal/usage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("paperplan API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	// Data access.
	entitlementRepo := db.NewEntitlementRepo(pool, logger)
	grantRepo := db.NewGrantRepo(pool)
	promoRepo := db.NewPromoRepo(pool)
	referralRepo := db.NewReferralRepo(pool)
	usageRepo := db.NewUsageEventRepo(pool)
	ledger := db.NewTxStore(pool, logger)

	// Domain services.
	plans := entitlement.NewStaticPlanRegistry()
	decider := entitlement.NewService(entitlementRepo, grantRepo, plans, nil)
	promoResolver := promo.NewResolver(promoRepo, nil)
	referrals := promo.NewReferralService(referralRepo, nil)
	tracker := usage.NewTracker(usageRepo, logger)

	// Stripe.
	billing := external.NewStripeClient(&http.Client{Timeout: 15 * time.Second},
		external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey,
			Logger:    logger,
		})
	verifier := &external.StripeVerifier{}

	var auth core.Authenticator
	if cfg.Auth.TokenSecret != "" {
		auth = core.NewHMACTokenAuthenticator([]byte(cfg.Auth.TokenSecret), nil)
	}
	srv, err := core.NewServer(cfg, logger, auth)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	planHandler := handlers.NewPlanHandler(decider, ledger, billing, plans, promoResolver, tracker, logger)
	entitlementHandler := handlers.NewEntitlementHandler(entitlementRepo)
	billingHandler := handlers.NewBillingHandler(entitlementRepo, ledger, billing, plans,
		tracker, srv.Validator, cfg.Server.DashboardURL, logger)
	promoHandler := handlers.NewPromoHandler(entitlementRepo, promoResolver, plans, srv.Validator)
	referralHandler := handlers.NewReferralHandler(referrals, tracker, srv.Validator)
	webhookHandler := handlers.NewStripeWebhookHandler(verifier, ledger,
		cfg.Billing.StripeWebhookSecret, logger)

	srv.MountV1(func(r chi.Router) {
		planHandler.RegisterRoutes(r)
		entitlementHandler.RegisterRoutes(r)
		billingHandler.RegisterRoutes(r)
		promoHandler.RegisterRoutes(r)
		referralHandler.RegisterRoutes(r)
	})
	srv.MountPublic(webhookHandler.RegisterRoutes)
	srv.MountHealth(pool)

	return serve(ctx, cfg, srv.Handler(), logger)
}

// newPool builds the pgx pool with the configured tuning parameters and
// verifies connectivity before the server accepts traffic.
func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// serve runs the HTTP server until the context is cancelled, then shuts it
// down gracefully within the configured deadline.
func serve(ctx context.Context, cfg *config.Config, handler http.Handler, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a JSON structured logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
