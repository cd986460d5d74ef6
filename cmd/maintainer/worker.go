package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"

	natsadapter "github.com/samirrijal/planb/internal/adapters/nats"
	"github.com/samirrijal/planb/internal/adapters/postgres"
	"github.com/samirrijal/planb/internal/adapters/valkey"
	"github.com/samirrijal/planb/internal/core/domain"
	"github.com/samirrijal/planb/internal/core/ports"
	"github.com/samirrijal/planb/internal/core/reconcile"
	"github.com/samirrijal/planb/internal/core/usecases"
	"github.com/samirrijal/planb/internal/pkg/metrics"
	"github.com/samirrijal/planb/internal/workflows"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Execute geometry repair workflows until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	var cacheSvc ports.CacheService
	if cache, err := valkey.New(cfg.Valkey.Addr); err != nil {
		slog.Warn("valkey unavailable", "error", err)
	} else {
		defer cache.Close()
		cacheSvc = cache
	}

	var events ports.EventPublisher
	if pub, err := natsadapter.NewPublisher(cfg.NATS.URL); err != nil {
		slog.Warn("nats unavailable", "error", err)
	} else {
		defer pub.Close()
		events = pub
	}

	c, err := dialTemporal()
	if err != nil {
		return err
	}
	defer c.Close()

	engine := reconcile.New(
		reconcile.WithReference(domain.GeoPoint{Lon: cfg.Map.ReferenceLon, Lat: cfg.Map.ReferenceLat}),
		reconcile.WithMaxDistanceKm(cfg.Map.MaxDistanceKm),
		reconcile.WithReportHook(metrics.ObserveReconcile),
	)
	svc := usecases.NewMaintenanceService(postgres.NewPlaceRepo(db), engine, cacheSvc, events)

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.GeometryRepairWorkflow)
	w.RegisterActivity(&workflows.MaintenanceActivities{Maintenance: svc})

	slog.Info("maintenance worker started", "task_queue", cfg.Temporal.TaskQueue)
	return w.Run(worker.InterruptCh())
}
