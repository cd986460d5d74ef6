package workflows

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samirrijal/planb/internal/core/domain"
	"github.com/samirrijal/planb/internal/core/usecases"
)

// Activity names as registered on the worker.
const (
	ActivityCleanupLegacyFields = "CleanupLegacyFields"
	ActivityListPlaceIDs        = "ListPlaceIDs"
	ActivityRepairPlaces        = "RepairPlaces"
	ActivityAnnounceRepair      = "AnnounceRepair"
)

// MaintenanceActivities holds the activity implementations for the geometry
// repair workflow.
type MaintenanceActivities struct {
	Maintenance *usecases.MaintenanceService
}

// CleanupLegacyFields removes the legacy coordinate properties.
func (a *MaintenanceActivities) CleanupLegacyFields(ctx context.Context) (*domain.CleanupResult, error) {
	res, err := a.Maintenance.CleanupLegacyFields(ctx)
	if err != nil {
		return nil, fmt.Errorf("cleanup legacy fields: %w", err)
	}
	return res, nil
}

// ListPlaceIDs returns every stored place ID.
func (a *MaintenanceActivities) ListPlaceIDs(ctx context.Context) ([]string, error) {
	ids, err := a.Maintenance.PlaceIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list place ids: %w", err)
	}
	return ids, nil
}

// RepairPlaces reconciles one batch of places.
func (a *MaintenanceActivities) RepairPlaces(ctx context.Context, ids []string) (domain.RepairResult, error) {
	res, err := a.Maintenance.RepairBatch(ctx, ids)
	if err != nil {
		return res, fmt.Errorf("repair batch of %d: %w", len(ids), err)
	}
	slog.Debug("repaired batch", "size", len(ids), "corrected", res.Corrected, "unrecoverable", res.Unrecoverable)
	return res, nil
}

// AnnounceRepair logs the totals and publishes a repair event.
func (a *MaintenanceActivities) AnnounceRepair(ctx context.Context, res domain.RepairResult) error {
	a.Maintenance.Announce(ctx, res)
	return nil
}
