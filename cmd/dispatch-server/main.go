// Package main provides the dispatch server executable: HTTP API, review
// sweep loop and Prometheus metrics.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coregx/dispatch"
	"github.com/coregx/dispatch/adapters/relica"
	"github.com/coregx/dispatch/cmd/dispatch-server/internal/api"
	"github.com/coregx/dispatch/cmd/dispatch-server/internal/config"
	"github.com/coregx/dispatch/cmd/dispatch-server/internal/logging"
	"github.com/coregx/dispatch/metrics"
	"github.com/coregx/dispatch/notifier"
)

const serviceName = "dispatch-server"

func main() {
	bootLog := logging.New(logging.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		bootLog.Warnf(".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		bootLog.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{
		ServiceName: serviceName,
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
	})

	if err := run(cfg, logger); err != nil {
		logger.Errorf("Server failed: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	logger.Infof("Starting dispatch server: addr=%s driver=%s workers=%d sweep=%s grace=%s",
		cfg.Server.Addr(), cfg.Database.Driver, cfg.Dispatch.Workers,
		cfg.Dispatch.SweepInterval, cfg.Dispatch.GracePeriod)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.GetDSN())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Errorf("Failed to close database: %v", closeErr)
		}
	}()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		return err
	}
	logger.Info("Database connection established")

	if cfg.Database.AutoMigrate {
		if err := dispatch.ApplyMigrations(ctx, db, cfg.Database.Driver); err != nil {
			return err
		}
		logger.Info("Migrations applied")
	}

	repos := relica.NewRepositories(db, cfg.Database.Driver)

	observer := dispatch.MultiObserver{
		metrics.NewDispatchMetrics(prometheus.DefaultRegisterer),
		dispatch.NewLoggingObserver(logger),
	}

	// The standalone server logs outbound messages. Deployments with a real
	// gateway embed the library and pass their client to dispatch.WithNotifier.
	transport := notifier.NewBreakerNotifier(
		dispatch.NewLoggingNotifier(logger),
		notifier.BreakerSettings{
			Name:                "notifier",
			ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
			Timeout:             cfg.Breaker.Timeout,
		},
		logger,
	)

	coordinator, err := dispatch.NewCoordinator(
		dispatch.WithAlertRepositories(repos.Alert, repos.Catalog),
		dispatch.WithReviewRepository(repos.ReviewJob),
		dispatch.WithNotifier(transport),
		dispatch.WithLogger(logger),
		dispatch.WithObserver(observer),
		dispatch.WithPool(dispatch.NewPool(cfg.Dispatch.Workers)),
		dispatch.WithGracePeriod(cfg.Dispatch.GracePeriod),
		dispatch.WithBatchSize(cfg.Dispatch.BatchSize),
		dispatch.WithSendTimeout(cfg.Dispatch.SendTimeout),
	)
	if err != nil {
		return err
	}

	subscriptions, err := dispatch.NewSubscriptionManager(
		dispatch.WithSubscriptionManagerRepositories(repos.Alert, repos.Catalog),
		dispatch.WithSubscriptionManagerLogger(logger),
		dispatch.WithSubscriptionManagerObserver(observer),
	)
	if err != nil {
		return err
	}

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		coordinator.Run(ctx, cfg.Dispatch.SweepInterval)
	}()

	handler := api.NewHandler(subscriptions, coordinator, db, logger)
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(handler, logger, promhttp.Handler()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down server")
	case err := <-serveErr:
		stop()
		<-sweepDone
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	// In-flight sends finish: claimed candidates are never abandoned.
	<-sweepDone
	logger.Info("Server stopped gracefully")
	return nil
}
