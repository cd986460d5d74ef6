package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/samirrijal/planb/internal/adapters/http"
	natsadapter "github.com/samirrijal/planb/internal/adapters/nats"
	"github.com/samirrijal/planb/internal/adapters/postgres"
	"github.com/samirrijal/planb/internal/adapters/valkey"
	"github.com/samirrijal/planb/internal/core/domain"
	"github.com/samirrijal/planb/internal/core/ports"
	"github.com/samirrijal/planb/internal/core/reconcile"
	"github.com/samirrijal/planb/internal/core/usecases"
	"github.com/samirrijal/planb/internal/pkg/config"
	"github.com/samirrijal/planb/internal/pkg/logging"
	"github.com/samirrijal/planb/internal/pkg/metrics"
	"github.com/samirrijal/planb/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("planb-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Structured logging
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.Settings{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Enabled:     cfg.Telemetry.Enabled,
	})
	if err != nil {
		slog.Warn("telemetry init failed", "error", err)
	} else {
		defer func() { _ = shutdownTracer(context.Background()) }()
	}

	// Database
	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Cache
	var cacheSvc ports.CacheService
	cache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable", "error", err)
	} else {
		defer cache.Close()
		cacheSvc = cache
	}

	// NATS
	var events ports.EventPublisher
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable", "error", err)
	} else {
		defer pub.Close()
		events = pub
	}

	// Reconciliation
	engine := reconcile.New(
		reconcile.WithReference(domain.GeoPoint{Lon: cfg.Map.ReferenceLon, Lat: cfg.Map.ReferenceLat}),
		reconcile.WithMaxDistanceKm(cfg.Map.MaxDistanceKm),
		reconcile.WithReportHook(metrics.ObserveReconcile),
	)

	// Use cases
	placeRepo := postgres.NewPlaceRepo(db)
	placeSvc := usecases.NewPlaceService(placeRepo, cacheSvc, events, engine)
	importSvc := usecases.NewImportService(placeRepo, engine, events, cacheSvc)
	maintenanceSvc := usecases.NewMaintenanceService(placeRepo, engine, cacheSvc, events)

	// Writes from other instances invalidate our cache.
	if cacheSvc != nil {
		sub, err := natsadapter.NewSubscriber(cfg.NATS.URL, "")
		if err != nil {
			slog.Warn("nats subscriber unavailable", "error", err)
		} else {
			defer sub.Close()
			if err := sub.SubscribePlaceEvents(ctx, placeSvc.HandlePlaceEvent); err != nil {
				slog.Warn("subscribe place events failed", "error", err)
			}
		}
	}

	// DB pool metrics
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.UpdateDBPoolMetrics(db.Pool.Stat())
			case <-ctx.Done():
				return
			}
		}
	}()

	deps := &http.Dependencies{
		Places:      placeSvc,
		Imports:     importSvc,
		Maintenance: maintenanceSvc,
		Map: http.MapSettings{
			DefaultZoom:     cfg.Map.DefaultZoom,
			DefaultCategory: cfg.Map.DefaultCategory,
		},
		Events:         events,
		DB:             db,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeout) * time.Second,
		RateLimit:      cfg.Server.RateLimit,
	}
	if pub != nil {
		deps.NATS = pub.Conn()
	}
	if cache != nil {
		deps.Cache = cache
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimitMB * 1024 * 1024,
		AppName:      "PlanB API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
		MaxAge:       3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr, "version", http.Version)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
