// Command mitsud runs the rate-proxying cache service: it wires C1-C8
// together, starts the revalidator (C6) and the HTTP server (C7/C8), and
// shuts both down in order on SIGINT/SIGTERM. spec.md describes the
// components but not a process; this is SPEC_FULL.md §12's supplement.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ryanelian/mitsu/internal/config"
	"github.com/ryanelian/mitsu/internal/httpapi"
	"github.com/ryanelian/mitsu/internal/kvstore"
	"github.com/ryanelian/mitsu/internal/lock"
	"github.com/ryanelian/mitsu/internal/quota"
	"github.com/ryanelian/mitsu/internal/ratecache"
	"github.com/ryanelian/mitsu/internal/upstream"
)

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("mitsud: fatal start-up error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	configureLogging(cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := kvstore.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer store.Close()

	l := lock.New(store)
	up := upstream.New(cfg.RateAPIURL, cfg.RateAPIToken, cfg.UpstreamTimeout)
	q := quota.New(store, cfg.RateAPIQuota)

	engine := ratecache.New(store, l, up, q, ratecache.Config{
		CacheTTL:        cfg.CacheTTL,
		RefreshInterval: cfg.RefreshInterval,
		LockTTL:         cfg.LockTTL,
		LockRetries:     2,
		LockRetryDelay:  100 * time.Millisecond,
	}, "mitsu", prometheus.DefaultRegisterer)

	revalidator := ratecache.NewRevalidator(engine, cfg.RefreshInterval)
	go revalidator.Run(ctx)

	handler := httpapi.New(engine, store, q)
	router := httpapi.NewRouter(handler)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	serveErrs := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("mitsud: listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrs <- err
			return
		}
		serveErrs <- nil
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErrs:
		cancel()
		return err
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("mitsud: shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("mitsud: http shutdown error")
	}

	cancel() // stop the revalidator
	return nil
}

func configureLogging(format string) {
	zerolog.TimeFieldFormat = time.RFC3339
	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
