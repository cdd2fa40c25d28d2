// Command server runs the attribution and fulfillment tracking API.
//
// Startup order:
//  1. Load .env (optional) and environment configuration
//  2. Configure zerolog (level, pretty console in dev)
//  3. Open the SQLite store and run migrations
//  4. Construct the PayPal verifier when credentials are configured
//  5. Set up OpenTelemetry tracing (optional)
//  6. Serve HTTP until SIGINT/SIGTERM, then drain gracefully
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/driftwell/go-track-backend/internal/config"
	httpapi "github.com/driftwell/go-track-backend/internal/http"
	"github.com/driftwell/go-track-backend/internal/observability"
	"github.com/driftwell/go-track-backend/internal/payments"
	"github.com/driftwell/go-track-backend/internal/repo"
	"github.com/driftwell/go-track-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is a dev convenience; in production the environment is the source
	// of truth. SKIP_DOTENV opts out entirely (e.g. in containers).
	if !sysutil.IsTruthy(os.Getenv("SKIP_DOTENV")) {
		if err := godotenv.Load(); err != nil {
			log.Debug().Msg("no .env file, using process environment")
		}
	}

	version = sysutil.FirstNonEmpty(os.Getenv("SERVICE_VERSION"), version)

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	gin.SetMode(cfg.GinMode)

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	var paypalVerifier payments.PayPalVerifier
	if cfg.PayPal.ClientID != "" {
		pc, err := payments.NewPayPalClient(
			cfg.PayPal.ClientID, cfg.PayPal.Secret,
			cfg.PayPal.APIBase, cfg.PayPal.WebhookID,
			cfg.PayPal.VerifyTimeout,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("init paypal client")
		}
		paypalVerifier = pc
	} else if !cfg.PayPal.AllowUnverified {
		log.Warn().Msg("paypal credentials absent, /api/webhooks/paypal will refuse deliveries")
	}
	if cfg.Stripe.WebhookSecret == "" {
		log.Warn().Msg("STRIPE_WEBHOOK_SECRET unset, /api/webhooks/stripe will refuse deliveries")
	}
	if cfg.BTC.WebhookSecret == "" {
		log.Warn().Msg("BTC_WEBHOOK_SECRET unset, /api/webhooks/bitcoin will refuse deliveries")
	}

	ctx := context.Background()
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("init tracing")
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, db, paypalVerifier, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Block until a termination signal, then drain in-flight requests.
	// Webhook handlers finish their store writes inside the grace window, so
	// a deploy never turns a verified payment into a lost fulfillment.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("stopped")
}
