package main

import (
	"context"
	"fmt"

	"datamarket/config"
	"datamarket/internal/adapter/ledger"
	"datamarket/internal/adapter/storage/filestore"
	"datamarket/internal/adapter/storage/memory"
	pgStorage "datamarket/internal/adapter/storage/postgres"
	redisStorage "datamarket/internal/adapter/storage/redis"
	"datamarket/internal/core/ports"
	"datamarket/internal/metrics"
	"datamarket/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

// stores bundles the persistence adapters selected by storage.driver.
type stores struct {
	users    ports.UserRepository
	datasets ports.DatasetRepository
	txs      ports.TransactionRepository
	audit    ports.AuditRepository
	nonces   ports.NonceStore
	limits   ports.RateLimitStore
	files    ports.FileStore
	checkers []ports.HealthChecker
	pool     *pgxpool.Pool // nil for the memory driver
	closers  []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores connects the configured backends. With the memory driver no
// external service is contacted; records live until the process exits.
func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	s := &stores{files: filestore.NewOS(cfg.Storage.FileRoot)}

	if cfg.Storage.Driver == config.DriverMemory {
		mem := memory.New()
		s.users = mem.Users()
		s.datasets = mem.Datasets()
		s.txs = mem.Transactions()
		s.audit = mem.Audit()
		s.nonces = memory.NewNonceStore()
		s.limits = memory.NewRateLimitStore()
		log.Warn().Msg("Using in-memory storage, data is lost on restart")
		return s, nil
	}

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	s.pool = pool
	s.closers = append(s.closers, pool.Close)
	log.Info().Msg("PostgreSQL connected")

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}
	s.closers = append(s.closers, func() { _ = rdb.Close() })
	log.Info().Msg("Redis connected")

	s.users = pgStorage.NewUserRepo(pool)
	s.datasets = pgStorage.NewDatasetRepo(pool)
	s.txs = pgStorage.NewTransactionRepo(pool)
	s.audit = pgStorage.NewAuditRepo(pool)
	s.nonces = redisStorage.NewNonceStore(rdb)
	s.limits = redisStorage.NewRateLimitStore(rdb)
	s.checkers = append(s.checkers, pgStorage.NewHealthCheck(pool), redisStorage.NewHealthCheck(rdb))
	return s, nil
}

// newMetrics builds the registry served at metrics.path. Both return values
// are nil when metrics are disabled.
func newMetrics(cfg *config.Config, txs ports.TransactionRepository) (*prometheus.Registry, *metrics.Recorder) {
	if !cfg.Metrics.Enabled {
		return nil, nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewTransactionStatusCollector(txs, cfg.Storage.Driver),
	)
	return reg, metrics.NewRecorder(reg)
}

func newLedgerClient(cfg *config.Config, rec *metrics.Recorder, log zerolog.Logger) *ledger.Client {
	return ledger.NewClient(ledger.Config{
		BaseURL:   cfg.Ledger.BaseURL,
		ProjectID: cfg.Ledger.ProjectID,
		Timeout:   cfg.Ledger.Timeout,
	}, rec, logger.Component(log, "ledger"))
}
