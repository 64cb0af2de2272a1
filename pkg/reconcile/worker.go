// Package reconcile keeps the module catalog in step with service discovery.
// Each tick mirrors newly seen services into the catalog and reactivates
// modules that have come back; modules are never deleted, and deactivation
// only happens when explicitly enabled.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/idhub/pkg/catalog"
	"github.com/platinummonkey/idhub/pkg/discovery"
	"github.com/platinummonkey/idhub/pkg/observability"
)

// autoDescription is the description given to modules created from discovery
func autoDescription(name string) string {
	return fmt.Sprintf("Automatically registered module for %s", name)
}

// ModuleStore is the slice of the catalog store the worker needs
type ModuleStore interface {
	ListModules(ctx context.Context) ([]catalog.Module, error)
	EnsureModule(ctx context.Context, name, description string) (*catalog.Module, bool, error)
	SetModuleActive(ctx context.Context, id uuid.UUID, active bool) error
}

// Config holds worker settings
type Config struct {
	Interval time.Duration
	// DeactivateAfterMisses deactivates a module absent from discovery for
	// this many consecutive ticks. Zero means never deactivate.
	DeactivateAfterMisses int
}

// Worker reconciles discovered services into the module catalog
type Worker struct {
	registry discovery.Registry
	store    ModuleStore
	cfg      Config
	logger   *observability.Logger
	metrics  *observability.Metrics

	// misses counts consecutive ticks each module was absent, keyed by
	// lowercased name. Only touched from the single Run loop.
	misses map[string]int
}

// NewWorker creates a reconciliation worker
func NewWorker(registry discovery.Registry, store ModuleStore, cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Worker {
	return &Worker{
		registry: registry,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		misses:   make(map[string]int),
	}
}

// Run ticks at the configured interval until ctx is cancelled. Ticks are
// serialized; a slow tick delays the next one rather than overlapping it.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	if err := w.tickWithMetrics(ctx); err != nil {
		w.logger.WithError(err).Warn("initial reconcile failed")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.tickWithMetrics(ctx); err != nil {
				w.logger.WithError(err).Warn("reconcile tick failed")
			}
		}
	}
}

func (w *Worker) tickWithMetrics(ctx context.Context) error {
	start := time.Now()
	err := w.Tick(ctx)
	w.metrics.ReconcileTickDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		w.metrics.ReconcileTicksTotal.WithLabelValues("error").Inc()
	} else {
		w.metrics.ReconcileTicksTotal.WithLabelValues("ok").Inc()
	}

	return err
}

// Tick runs one reconciliation pass. A registry failure aborts the tick
// without touching the catalog or the miss counters.
func (w *Worker) Tick(ctx context.Context) error {
	services, err := w.registry.ListHealthyServices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list services: %w", err)
	}

	// First live sighting of a module name decides its casing.
	live := make(map[string]string)
	for _, svc := range services {
		name := svc.ModuleName()
		key := strings.ToLower(name)
		if _, seen := live[key]; !seen {
			live[key] = name
		}
	}

	modules, err := w.store.ListModules(ctx)
	if err != nil {
		return fmt.Errorf("failed to list modules: %w", err)
	}

	known := make(map[string]catalog.Module, len(modules))
	for _, m := range modules {
		known[strings.ToLower(m.Name)] = m
	}

	for key, name := range live {
		module, ok := known[key]
		if !ok {
			if _, created, err := w.store.EnsureModule(ctx, name, autoDescription(name)); err != nil {
				return fmt.Errorf("failed to register module %s: %w", name, err)
			} else if created {
				w.metrics.ModulesAutoRegistered.Inc()
				w.logger.WithModule(name).Info("auto-registered module from discovery")
			}
			delete(w.misses, key)
			continue
		}

		delete(w.misses, key)
		if !module.IsActive {
			if err := w.store.SetModuleActive(ctx, module.ID, true); err != nil {
				return fmt.Errorf("failed to reactivate module %s: %w", module.Name, err)
			}
			w.metrics.ModulesReactivated.Inc()
			w.logger.WithModule(module.Name).Info("reactivated module")
		}
	}

	if w.cfg.DeactivateAfterMisses > 0 {
		w.trackMisses(ctx, modules, live)
	}

	return nil
}

func (w *Worker) trackMisses(ctx context.Context, modules []catalog.Module, live map[string]string) {
	for _, m := range modules {
		if !m.IsActive {
			continue
		}
		key := strings.ToLower(m.Name)
		if _, ok := live[key]; ok {
			continue
		}

		w.misses[key]++
		if w.misses[key] < w.cfg.DeactivateAfterMisses {
			continue
		}

		if err := w.store.SetModuleActive(ctx, m.ID, false); err != nil {
			w.logger.WithError(err).WithModule(m.Name).Warn("failed to deactivate module")
			continue
		}
		w.metrics.ModulesDeactivated.Inc()
		w.logger.WithFields(map[string]interface{}{
			"module": m.Name,
			"misses": w.misses[key],
		}).Info("deactivated module absent from discovery")
		delete(w.misses, key)
	}
}
