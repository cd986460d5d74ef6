package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samirrijal/planb/internal/core/domain"
	"github.com/samirrijal/planb/internal/core/ports"
	"github.com/samirrijal/planb/internal/core/reconcile"
)

// DefaultRepairBatchSize is the number of places repaired per batch.
const DefaultRepairBatchSize = 200

// MaintenanceService cleans up stored places.
type MaintenanceService struct {
	places ports.PlaceRepository
	engine *reconcile.Engine
	cache  ports.CacheService
	events ports.EventPublisher
	logger *slog.Logger
}

// NewMaintenanceService creates a new MaintenanceService. cache and events may be nil.
func NewMaintenanceService(places ports.PlaceRepository, engine *reconcile.Engine, cache ports.CacheService, events ports.EventPublisher) *MaintenanceService {
	return &MaintenanceService{
		places: places,
		engine: engine,
		cache:  cache,
		events: events,
		logger: slog.Default().With("component", "maintenance_service"),
	}
}

// CleanupLegacyFields removes the legacy coordinate copies from every place.
func (s *MaintenanceService) CleanupLegacyFields(ctx context.Context) (*domain.CleanupResult, error) {
	found, err := s.places.CountLegacyFields(ctx)
	if err != nil {
		return nil, fmt.Errorf("count legacy fields: %w", err)
	}
	res := &domain.CleanupResult{DocumentsFound: int(found)}
	if found == 0 {
		return res, nil
	}
	modified, err := s.places.RemoveLegacyFields(ctx)
	if err != nil {
		return nil, fmt.Errorf("remove legacy fields: %w", err)
	}
	res.DocumentsModified = int(modified)
	s.logger.Info("removed legacy coordinate fields", "found", found, "modified", modified)
	return res, nil
}

// PlaceIDs lists every stored place ID.
func (s *MaintenanceService) PlaceIDs(ctx context.Context) ([]string, error) {
	return s.places.ListIDs(ctx)
}

// RepairBatch reconciles the stored geometry of each place and writes back
// the ones that changed. Unrecoverable points are flagged; an existing flag
// is never cleared here.
func (s *MaintenanceService) RepairBatch(ctx context.Context, ids []string) (domain.RepairResult, error) {
	var res domain.RepairResult
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		place, err := s.places.GetByID(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("load place %s: %w", id, err)
		}
		res.Scanned++

		report := s.engine.ReconcileWithReport(place.Geometry)
		if !report.Changed() {
			continue
		}
		needs := place.NeedsCorrection || report.NeedsManualCorrection()
		if err := s.places.UpdateGeometry(ctx, id, report.Point, needs); err != nil {
			return res, fmt.Errorf("update geometry %s: %w", id, err)
		}
		if report.NeedsManualCorrection() {
			res.Unrecoverable++
		} else {
			res.Corrected++
		}
		if s.cache != nil {
			_ = s.cache.Delete(ctx, placeCacheKey(id))
		}
	}
	return res, nil
}

// RepairAll runs RepairBatch over every stored place.
func (s *MaintenanceService) RepairAll(ctx context.Context, batchSize int) (*domain.RepairResult, error) {
	ctx, span := tracer.Start(ctx, "MaintenanceService.RepairAll")
	defer span.End()

	if batchSize <= 0 {
		batchSize = DefaultRepairBatchSize
	}
	ids, err := s.places.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list place ids: %w", err)
	}

	total := &domain.RepairResult{}
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		res, err := s.RepairBatch(ctx, ids[start:end])
		total.Add(res)
		if err != nil {
			return total, err
		}
	}
	s.Announce(ctx, *total)
	return total, nil
}

// Announce publishes the result of a repair pass.
func (s *MaintenanceService) Announce(ctx context.Context, res domain.RepairResult) {
	s.logger.Info("geometry repair finished",
		"scanned", res.Scanned,
		"corrected", res.Corrected,
		"unrecoverable", res.Unrecoverable,
	)
	if s.events == nil || res.Corrected+res.Unrecoverable == 0 {
		return
	}
	ev := &domain.PlaceEvent{
		Type:      domain.EventPlaceRepaired,
		Count:     res.Corrected + res.Unrecoverable,
		Timestamp: time.Now().UTC(),
	}
	if err := s.events.PublishPlaceEvent(ctx, ev); err != nil {
		s.logger.Warn("publish repair event failed", "error", err)
	}
}
