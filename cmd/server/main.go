package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/ride-sharing/internal/config"
	"github.com/example/ride-sharing/internal/dispatch"
	"github.com/example/ride-sharing/internal/fare"
	httpapi "github.com/example/ride-sharing/internal/http"
	"github.com/example/ride-sharing/internal/ingest"
	"github.com/example/ride-sharing/internal/logging"
	"github.com/example/ride-sharing/internal/marketplace"
	"github.com/example/ride-sharing/internal/persistence"
	"github.com/example/ride-sharing/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("ride-api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snapshots, closeSnapshots, err := openSnapshotStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("snapshot store unavailable", "backend", cfg.SnapshotBackend, "error", err)
		os.Exit(1)
	}
	defer closeSnapshots()

	opts := []marketplace.Option{marketplace.WithLogger(logger)}

	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		opts = append(opts, marketplace.WithEvents(producer))
		logger.Info("ride events enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	wsreg := dispatch.NewWSRegistry(&dispatch.LogDispatcher{Logger: logger})
	opts = append(opts, marketplace.WithDispatcher(wsreg))

	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	reg := marketplace.New(cfg.CompanyName, storage.NewMemoryStore(), fare.NewRandomDistance(seed), opts...)

	snap, err := snapshots.Load(ctx)
	if err != nil {
		logger.Error("load snapshot", "error", err)
		os.Exit(1)
	}
	if snap.Company.Name == marketplace.DefaultCompanyName && cfg.CompanyName != "" {
		snap.Company.Name = cfg.CompanyName
	}
	if err := reg.Restore(snap); err != nil {
		logger.Error("restore snapshot", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(reg, wsreg, snapshots, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-sharing api listening", "addr", cfg.HTTPAddr, "company", reg.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}

	if err := snapshots.Save(shutdownCtx, reg.Snapshot()); err != nil {
		logger.Error("final snapshot save failed", "error", err)
	} else {
		logger.Info("snapshot saved", "stats", reg.Stats())
	}

	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Warn("kafka producer close", "error", err)
		}
	}
}

func openSnapshotStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (persistence.Store, func(), error) {
	if cfg.SnapshotBackend != config.BackendRedis {
		logger.Info("file snapshots", "dir", cfg.DataDir)
		return persistence.NewFileStore(cfg.DataDir), func() {}, nil
	}
	rc := persistence.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx); err != nil {
		_ = rc.Close()
		return nil, nil, err
	}
	logger.Info("redis snapshots", "addr", cfg.RedisAddr, "prefix", cfg.RedisPrefix)
	return persistence.NewRedisStore(rc, cfg.RedisPrefix), func() { _ = rc.Close() }, nil
}
