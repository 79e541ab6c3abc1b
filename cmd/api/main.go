package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/agreement"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/auth"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/character"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/config"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/db"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/dispute"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/distribution"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/ledger"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/observability"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/outbox"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/resource"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/separation"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/submission"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/token"
)

const serviceName = "founders-governance"

func main() {
	cfg := config.MustLoad()
	logger := observability.NewLogger(serviceName, cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, serviceName, cfg.OTELEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("setup tracing")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()
	observability.RegisterMetrics()

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("bootstrap database pool")
	}
	defer pool.Close()

	catalog, err := agreement.DefaultCatalog()
	if err != nil {
		logger.Fatal().Err(err).Msg("load agreement templates")
	}

	teams := team.NewRepository(pool)
	characters := character.NewRepository(pool)
	resources := resource.NewRepository(pool)
	tokens := token.NewLedger(pool)
	notifications := outbox.NewWriter(pool)
	registry := agreement.NewRegistry(catalog, teams)

	assets := ledger.NewReader(ledger.Sources{
		Members:     teams,
		Characters:  characters,
		Resources:   resources,
		Balances:    token.FixedBalance(cfg.Governance.TokenPlaceholderBalance),
		Submissions: submission.NewRepository(pool),
	}, cfg.Governance.LedgerConcurrency, logger)

	executor := distribution.NewExecutor(
		distribution.NewStore(pool),
		characters,
		resources,
		tokens,
		teams,
		notifications,
		notifications,
		logger,
	).WithCompensationTimeout(cfg.Governance.CompensationTimeout)

	disputes := dispute.NewService(dispute.NewRepository(pool), teams, registry, notifications, logger).
		WithVotingPeriod(cfg.Governance.DisputeVotingPeriod)
	separations := separation.NewService(separation.NewRepository(pool), teams, assets, executor, notifications, logger)

	server := &Server{
		disputeService:    disputes,
		separationService: separations,
		executor:          executor,
		assets:            assets,
		templates:         registry,
		members:           teams,
		tokens:            auth.NewTokens(cfg.JWTSecret),
		logger:            logger.With().Str("component", "http").Logger(),
		requestTimeout:    cfg.HTTP.RequestTimeout,
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	relay := outbox.NewRelay(pool, outbox.LogPublisher{Logger: logger}, outbox.RelayConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info().Msg("shutting down http server")
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}
