package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"datamarket/config"
	httpHandler "datamarket/internal/adapter/http/handler"
	"datamarket/internal/adapter/ledger"
	pgStorage "datamarket/internal/adapter/storage/postgres"
	"datamarket/internal/core/ports"
	"datamarket/internal/service"
	"datamarket/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var migrateFirst bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log, migrateFirst)
		},
	}

	cmd.Flags().Int("port", 8080, "HTTP listen port")
	cmd.Flags().BoolVar(&migrateFirst, "migrate", false, "apply pending database migrations before serving")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, log zerolog.Logger, migrateFirst bool) error {
	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Str("version", Version).
		Msg("Starting datamarket")

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	if migrateFirst && st.pool != nil {
		if err := pgStorage.Migrate(st.pool, log); err != nil {
			return err
		}
	}

	registry, rec := newMetrics(cfg, st.txs)
	ledgerClient := newLedgerClient(cfg, rec, log)
	layout := service.MetadataLayout{Label: cfg.Ledger.ChecksumLabel, Field: cfg.Ledger.ChecksumField}

	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	authSvc := service.NewAuthService(st.users, st.nonces, tokenSvc, cfg.Auth.ChallengeTTL, logger.Component(log, "auth"))
	userSvc := service.NewUserService(st.users, st.files)
	settlementSvc := service.NewSettlementService(
		st.txs,
		st.datasets,
		ledgerClient,
		st.files,
		rec,
		cfg.Settlement.PendingTimeout,
		layout,
		logger.Component(log, "settlement"),
	)
	integritySvc := service.NewIntegrityService(st.txs, st.datasets, ledgerClient, st.files, rec, layout, logger.Component(log, "integrity"))
	ratingSvc := service.NewRatingService(st.txs, ledgerClient, rec, logger.Component(log, "rating"))
	auditSvc := service.NewAuditService(st.audit, logger.Component(log, "audit"))

	deps := httpHandler.RouterDeps{
		AuthSvc:        authSvc,
		UserSvc:        userSvc,
		SettlementSvc:  settlementSvc,
		IntegritySvc:   integritySvc,
		RatingSvc:      ratingSvc,
		TokenSvc:       tokenSvc,
		RateLimitStore: st.limits,
		AuditSvc:       auditSvc,
		HealthCheckers: append(st.checkers, ports.HealthChecker(ledger.NewHealthCheck(ledgerClient))),
		Metrics:        rec,
		MetricsPath:    cfg.Metrics.Path,
		RequestTimeout: cfg.Server.RequestTimeout,
		Mode:           cfg.Server.Mode,
		Logger:         log,
	}
	if registry != nil {
		deps.MetricsGather = prometheus.Gatherer(registry)
	}
	router := httpHandler.SetupRouter(deps)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		return nil
	})

	err = g.Wait()
	log.Info().Msg("Server exited")
	return err
}
