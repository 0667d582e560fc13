package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/vehicle-storefront/internal/config"
	"github.com/example/vehicle-storefront/internal/logging"
	"github.com/example/vehicle-storefront/internal/models"
	"github.com/example/vehicle-storefront/internal/sold"
	"github.com/example/vehicle-storefront/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total store event messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	inventoryUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_inventory_updates_total",
		Help: "Total vehicles marked out of stock",
	})
	inventoryErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_inventory_errors_total",
		Help: "Total inventory update errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, inventoryUpdates, inventoryErrors)
}

func main() {
	cfg, err := config.LoadConsumerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inv, err := storage.NewPostgresInventory(cfg.PGDSN)
	if err != nil {
		logger.Error("postgres open failed", "error", err)
		os.Exit(1)
	}
	if cfg.RunMigrations {
		if b, err := os.ReadFile(filepath.Join("migrations", "001_create_vehicle_inventory.sql")); err != nil {
			logger.Error("read migration failed", "error", err)
		} else if err := inv.Migrate(ctx, string(b)); err != nil {
			logger.Error("migration exec error", "error", err)
		} else {
			logger.Info("migration applied", "file", "001_create_vehicle_inventory.sql")
		}
	}

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			// readiness: check postgres connectivity
			if err := inv.Ping(r.Context()); err != nil {
				http.Error(w, "postgres not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 1, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = inv.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error, backing off", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		msgsConsumed.Inc()

		ids, ok, err := soldIDs(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "offset", m.Offset, "error", err)
			continue
		}
		if !ok {
			continue
		}

		n, err := applyWithRetry(ctx, inv, ids, cfg.RetryAttempts, cfg.RetryDelay)
		if err != nil {
			inventoryErrors.Inc()
			logger.Error("inventory update failed", "vehicle_ids", ids, "error", err)
			continue
		}
		inventoryUpdates.Add(float64(n))
		logger.Info("inventory updated", "vehicle_ids", ids, "rows", n)
	}
}

// soldIDs decodes a store event and reports whether it is a sold-set event
// worth applying. Cart and compare events are skipped.
func soldIDs(value []byte) ([]int, bool, error) {
	var ev models.SoldEvent
	var probe models.StoreEvent
	if err := json.Unmarshal(value, &probe); err != nil {
		return nil, false, err
	}
	if probe.Store != sold.StorageKey {
		return nil, false, nil
	}
	if err := json.Unmarshal(value, &ev); err != nil {
		return nil, false, err
	}
	return ev.Items, len(ev.Items) > 0, nil
}

// InventoryUpdater defines the small subset of inventory operations we need for tests and production.
type InventoryUpdater interface {
	MarkOutOfStock(ctx context.Context, ids []int) (int64, error)
}

// applyWithRetry marks ids out of stock using the InventoryUpdater interface with retry/backoff.
// The sold set only grows, so replaying the whole set on every event is idempotent.
func applyWithRetry(ctx context.Context, inv InventoryUpdater, ids []int, attempts int, delay time.Duration) (int64, error) {
	var err error
	for i := 0; i < attempts; i++ {
		var n int64
		if n, err = inv.MarkOutOfStock(ctx, ids); err == nil {
			return n, nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return 0, err
}
