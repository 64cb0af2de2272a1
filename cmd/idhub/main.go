package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/idhub/pkg/api"
	"github.com/platinummonkey/idhub/pkg/bus"
	"github.com/platinummonkey/idhub/pkg/catalog"
	"github.com/platinummonkey/idhub/pkg/claims"
	"github.com/platinummonkey/idhub/pkg/clientreg"
	"github.com/platinummonkey/idhub/pkg/config"
	"github.com/platinummonkey/idhub/pkg/directory"
	"github.com/platinummonkey/idhub/pkg/discovery"
	"github.com/platinummonkey/idhub/pkg/federation"
	"github.com/platinummonkey/idhub/pkg/observability"
	"github.com/platinummonkey/idhub/pkg/reconcile"
	"github.com/platinummonkey/idhub/pkg/revocation"
	"github.com/platinummonkey/idhub/pkg/seed"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "idhub: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := catalog.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("catalog migrations: %w", err)
	}
	if err := clientreg.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("client registry migrations: %w", err)
	}

	redisClient, err := openRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	store := catalog.NewStore(db)
	clients := clientreg.NewStore(db)

	seeder := seed.NewSeeder(store, clients, cfg.Identity.DefaultUserPassword, logger)
	if err := seeder.Run(ctx); err != nil {
		return fmt.Errorf("seeding: %w", err)
	}

	consulRegistry, err := discovery.NewConsulRegistry(
		cfg.Discovery.ConsulAddress, cfg.Discovery.ServiceName,
		cfg.Discovery.Timeout, logger)
	if err != nil {
		return err
	}

	publisher := bus.NewPublisher(redisClient, logger)
	registrar := federation.NewRegistrar(publisher, cfg.Bus.RegisterStream, cfg.Discovery.ServiceName)
	events := bus.NewEvents(publisher, cfg.Bus.EventsStream, cfg.Discovery.ServiceName)

	registrationConsumer := federation.NewConsumer(store, clients, events,
		cfg.Identity.DefaultUserPassword, logger, metrics)
	registerStream := bus.NewConsumer(redisClient, bus.ConsumerConfig{
		Stream:         cfg.Bus.RegisterStream,
		Group:          cfg.Bus.ConsumerGroup,
		Consumer:       cfg.Bus.ConsumerName,
		HandlerTimeout: cfg.Bus.HandlerTimeout,
	}, registrationConsumer.Handle, logger, metrics)

	revocations := revocation.NewStore(redisClient, cfg.Identity.RevocationTTL, logger)
	logoutStream := bus.NewConsumer(redisClient, bus.ConsumerConfig{
		Stream:         cfg.Bus.LogoutStream,
		Group:          cfg.Bus.ConsumerGroup,
		Consumer:       cfg.Bus.ConsumerName,
		HandlerTimeout: cfg.Bus.HandlerTimeout,
	}, revocations.HandleLogout, logger, metrics)

	worker := reconcile.NewWorker(consulRegistry, store, reconcile.Config{
		Interval:              cfg.Reconcile.Interval,
		DeactivateAfterMisses: cfg.Reconcile.DeactivateAfterMisses,
	}, logger, metrics)

	augmentor := claims.NewAugmentor(store, cfg.Identity.RestrictionsSuppressClaims, logger, metrics)
	directorySyncer := directory.NewSyncer(store, directory.NewLDAPSearcher(logger), events,
		cfg.Identity.DefaultUserPassword, logger, metrics)
	apiServer := api.NewServer(store, clients, registrar, augmentor, revocations, events,
		directorySyncer, cfg.Identity.RecoveryClientID, logger, metrics)
	healthChecker := observability.NewHealthChecker(db, redisClient)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return runHTTP(groupCtx, cfg, "api", cfg.Server.Port, apiServer.Handler(), logger)
	})
	group.Go(func() error {
		return runHTTP(groupCtx, cfg, "health", cfg.Server.HealthPort,
			healthHandler(cfg, healthChecker, registry), logger)
	})
	group.Go(func() error {
		return ignoreCancel(registerStream.Run(groupCtx))
	})
	group.Go(func() error {
		return ignoreCancel(logoutStream.Run(groupCtx))
	})
	group.Go(func() error {
		return ignoreCancel(worker.Run(groupCtx))
	})
	group.Go(func() error {
		sampleDBStats(groupCtx, db, metrics)
		return nil
	})

	logger.WithFields(map[string]interface{}{
		"port":        cfg.Server.Port,
		"health_port": cfg.Server.HealthPort,
	}).Info("identity hub started")

	if err := group.Wait(); err != nil {
		return err
	}

	logger.Info("identity hub stopped")
	return nil
}

func openPostgres(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Storage.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Storage.PostgresMaxConns)
	db.SetMaxIdleConns(cfg.Storage.PostgresMinConns)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Storage.PostgresTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.Storage.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Storage.RedisPassword != "" {
		opts.Password = cfg.Storage.RedisPassword
	}
	if cfg.Storage.RedisDB != 0 {
		opts.DB = cfg.Storage.RedisDB
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

func healthHandler(cfg *config.Config, checker *observability.HealthChecker, registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
	if cfg.Observability.MetricsEnabled {
		mux.Handle("/metrics", observability.Handler(registry))
	}
	return mux
}

func runHTTP(ctx context.Context, cfg *config.Config, name, port string, handler http.Handler, logger *observability.Logger) error {
	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("%s server: %w", name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warnf("%s server shutdown failed", name)
	}

	return nil
}

// sampleDBStats reports connection pool gauges until the context ends
func sampleDBStats(ctx context.Context, db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			metrics.DBConnectionsActive.Set(float64(stats.InUse))
			metrics.DBConnectionsIdle.Set(float64(stats.Idle))
		}
	}
}

// ignoreCancel treats context cancellation as a clean exit
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
