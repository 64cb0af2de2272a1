package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/idhub/pkg/catalog"
	"github.com/platinummonkey/idhub/pkg/discovery"
	"github.com/platinummonkey/idhub/pkg/observability"
	"github.com/platinummonkey/idhub/pkg/reconcile"
)

var (
	dbURL           = flag.String("db-url", getEnv("IDHUB_POSTGRES_URL", "postgres://localhost/idhub?sslmode=disable"), "PostgreSQL connection URL")
	consulAddress   = flag.String("consul-address", getEnv("IDHUB_CONSUL_ADDRESS", "localhost:8500"), "Consul agent address")
	serviceName     = flag.String("service-name", getEnv("IDHUB_SERVICE_NAME", "IdentityService"), "This service's own registration name")
	schedule        = flag.String("schedule", "@every 60s", "Cron schedule for reconciliation")
	deactivateAfter = flag.Int("deactivate-after-misses", 0, "Deactivate modules absent for this many consecutive runs (0 = never)")
	runOnce         = flag.Bool("run-once", false, "Run one reconciliation pass and exit")
)

func main() {
	flag.Parse()

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	registry, err := discovery.NewConsulRegistry(*consulAddress, *serviceName, 10*time.Second, logger)
	if err != nil {
		log.Fatalf("Failed to create consul client: %v", err)
	}

	worker := reconcile.NewWorker(registry, catalog.NewStore(db), reconcile.Config{
		Interval:              time.Minute,
		DeactivateAfterMisses: *deactivateAfter,
	}, logger, metrics)

	if *runOnce {
		if err := worker.Tick(context.Background()); err != nil {
			log.Fatalf("Reconciliation failed: %v", err)
		}
		log.Println("Reconciliation completed successfully")
		return
	}

	c := cron.New()
	_, err = c.AddFunc(*schedule, func() {
		if err := worker.Tick(context.Background()); err != nil {
			log.Printf("Reconciliation failed: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule reconciliation: %v", err)
	}

	c.Start()
	log.Println("Identity hub reconciler started")
	log.Printf("Reconciliation schedule: %s", *schedule)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutting down gracefully...")

	ctx := c.Stop()
	<-ctx.Done()

	log.Println("Reconciler stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
