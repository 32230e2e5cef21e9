package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-sharing/internal/config"
	"github.com/example/ride-sharing/internal/ingest"
	"github.com/example/ride-sharing/internal/logging"
	"github.com/example/ride-sharing/internal/models"
	"github.com/example/ride-sharing/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archiver_messages_consumed_total",
		Help: "Total ride event messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archiver_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	ridesArchived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archiver_rides_archived_total",
		Help: "Total rides written to postgres",
	})
	archiveErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archiver_errors_total",
		Help: "Total postgres write failures after retries",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, ridesArchived, archiveErrors)
}

func main() {
	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("ride-archiver", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("postgres unavailable", "error", err)
		os.Exit(1)
	}
	if cfg.RunMigrations {
		if err := pg.Migrate(ctx, cfg.MigrationPath); err != nil {
			logger.Error("migration failed", "path", cfg.MigrationPath, "error", err)
			os.Exit(1)
		}
		logger.Info("migration applied", "path", cfg.MigrationPath)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := pg.Ping(r.Context()); err != nil {
				http.Error(w, "postgres not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = pg.Close()
	}()

	logger.Info("archiver listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down archiver")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff.String())
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		ride, err := decodeRide(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "offset", m.Offset, "error", err)
			continue
		}

		if err := archiveWithRetry(ctx, pg, &ride, cfg.RetryAttempts, cfg.RetryDelay); err != nil {
			archiveErrors.Inc()
			logger.Error("archive failed", "ride_id", ride.ID.String(), "error", err)
			continue
		}
		ridesArchived.Inc()
		logger.Debug("ride archived", "ride_id", ride.ID.String(), "status", string(ride.Status))
	}
}

func decodeRide(b []byte) (models.Ride, error) {
	var ev ingest.RideEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return models.Ride{}, err
	}
	return ev.Ride()
}

// RideArchiver is the storage call the archiver needs; *storage.PostgresStore satisfies it.
type RideArchiver interface {
	UpsertRide(ctx context.Context, r *models.Ride) error
}

// archiveWithRetry writes the ride, doubling delay between failed attempts.
func archiveWithRetry(ctx context.Context, a RideArchiver, ride *models.Ride, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = a.UpsertRide(ctx, ride); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
