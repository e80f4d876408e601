// Command server runs the reference sync server the fieldsync client talks to.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/erauner12/fieldsync/internal/auth"
	"github.com/erauner12/fieldsync/internal/db"
	"github.com/erauner12/fieldsync/internal/httpapi"
	"github.com/erauner12/fieldsync/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const idempotencyTTL = 7 * 24 * time.Hour

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return n
	}
	return def
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "fieldsync-server").Logger()

	// Pretty logging for local dev
	if env("ENV", "dev") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &httpapi.Server{
		RateLimitConfig: httpapi.RateLimitInfo{
			WindowSeconds: envInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			MaxRequests:   envInt("RATE_LIMIT_MAX_REQUESTS", 600),
			Burst:         envInt("RATE_LIMIT_BURST", 120),
		},
	}

	if pgURL := env("DATABASE_URL", ""); pgURL != "" {
		pool, err := db.Open(ctx, pgURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()

		if err := db.Migrate(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare schema")
		}

		pg := store.NewPGStore(pool)
		srv.Store = pg
		go purgeLoop(ctx, pg)
	} else {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store")
		srv.Store = store.NewMemoryStore()
	}

	jwtCfg := auth.JWTCfg{
		HS256Secret: env("JWT_HS256_SECRET", "dev-secret-change-in-production"),
		Issuer:      env("JWT_ISSUER", ""),
		Audience:    env("JWT_AUDIENCE", ""),
		DevMode:     env("ENV", "dev") == "dev",
	}

	httpAddr := env("HTTP_ADDR", ":8081")
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      srv.Routes(jwtCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}

// purgeLoop drops idempotency records older than idempotencyTTL every hour
func purgeLoop(ctx context.Context, pg *store.PGStore) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := pg.PurgeIdempotency(ctx, idempotencyTTL)
			if err != nil {
				log.Error().Err(err).Msg("idempotency purge failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("purged", n).Msg("expired idempotency records removed")
			}
		}
	}
}
