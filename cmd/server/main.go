package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/vehicle-storefront/internal/config"
	"github.com/example/vehicle-storefront/internal/dispatch"
	httpapi "github.com/example/vehicle-storefront/internal/http"
	"github.com/example/vehicle-storefront/internal/ingest"
	"github.com/example/vehicle-storefront/internal/logging"
	"github.com/example/vehicle-storefront/internal/orders"
	"github.com/example/vehicle-storefront/internal/payments"
	"github.com/example/vehicle-storefront/internal/session"
	"github.com/example/vehicle-storefront/internal/storage"
	"github.com/example/vehicle-storefront/internal/vehicles"
)

type closableStorage interface {
	storage.Storage
	Close() error
}

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStorage(ctx, cfg)
	if err != nil {
		logger.Error("open storage failed", "backend", cfg.StorageBackend, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	gateway := vehicles.NewClient(cfg.APIBaseURL, cfg.APITimeout, logger)
	hub := dispatch.NewWSHub(logger)
	observers := []session.Observer{hub.Broadcast}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer kp.Close()
		observers = append(observers, kp.Observe)
	}

	opts := session.Options{
		Storage:         st,
		Gateway:         gateway,
		Remote:          gateway,
		Orders:          orders.NewClient(cfg.APIBaseURL, cfg.APITimeout),
		APIBaseURL:      cfg.APIBaseURL,
		APITimeout:      cfg.APITimeout,
		CompareMax:      cfg.CompareMax,
		SoldSyncTimeout: cfg.SoldSyncTimeout,
		Currency:        cfg.Currency,
		Observers:       observers,
		Logger:          logger,
	}
	if cfg.StripeAPIKey != "" {
		opts.Payments = payments.NewStripeClient(cfg.StripeAPIKey)
	}
	sess := session.New(ctx, opts)
	defer sess.Close()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(sess, hub, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("storefront listening", "addr", cfg.HTTPAddr, "api", cfg.APIBaseURL, "storage", cfg.StorageBackend, "kafka", kp != nil, "stripe", opts.Payments != nil)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	hub.Close()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
}

func openStorage(ctx context.Context, cfg config.ServerConfig) (closableStorage, error) {
	switch cfg.StorageBackend {
	case config.BackendRedis:
		rs := storage.NewRedisStorage(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisKeyPrefix)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, err
		}
		return rs, nil
	case config.BackendMemory:
		return storage.NewMemoryStorage(), nil
	default:
		return storage.NewSQLiteStorage(cfg.StoragePath)
	}
}
