package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/samirrijal/planb/internal/core/domain"
	"github.com/samirrijal/planb/internal/core/usecases"
)

// RepairInput configures a geometry repair run.
type RepairInput struct {
	BatchSize     int
	CleanupLegacy bool
}

// RepairSummary is the outcome of a geometry repair run.
type RepairSummary struct {
	Cleanup *domain.CleanupResult
	Repair  domain.RepairResult
	Batches int
}

// GeometryRepairWorkflow optionally strips legacy coordinate properties,
// then reconciles every stored geometry in batches. Each batch is its own
// activity so a failed batch is retried without redoing the others.
func GeometryRepairWorkflow(ctx workflow.Context, input RepairInput) (*RepairSummary, error) {
	logger := workflow.GetLogger(ctx)

	batchSize := input.BatchSize
	if batchSize <= 0 {
		batchSize = usecases.DefaultRepairBatchSize
	}
	logger.Info("Starting geometry repair workflow", "batchSize", batchSize, "cleanupLegacy", input.CleanupLegacy)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 3,
		},
	})

	summary := &RepairSummary{}

	// Step 1: legacy properties
	if input.CleanupLegacy {
		var cleanup domain.CleanupResult
		if err := workflow.ExecuteActivity(ctx, ActivityCleanupLegacyFields).Get(ctx, &cleanup); err != nil {
			return nil, err
		}
		summary.Cleanup = &cleanup
	}

	// Step 2: batch over every place
	var ids []string
	if err := workflow.ExecuteActivity(ctx, ActivityListPlaceIDs).Get(ctx, &ids); err != nil {
		return nil, err
	}
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		var res domain.RepairResult
		if err := workflow.ExecuteActivity(ctx, ActivityRepairPlaces, ids[start:end]).Get(ctx, &res); err != nil {
			logger.Error("repair batch failed", "start", start, "error", err)
			return summary, err
		}
		summary.Repair.Add(res)
		summary.Batches++
	}

	// Step 3: tell other instances to drop cached places
	if err := workflow.ExecuteActivity(ctx, ActivityAnnounceRepair, summary.Repair).Get(ctx, nil); err != nil {
		logger.Warn("announcing repair failed", "error", err)
	}

	logger.Info("Geometry repair finished",
		"scanned", summary.Repair.Scanned,
		"corrected", summary.Repair.Corrected,
		"unrecoverable", summary.Repair.Unrecoverable,
		"batches", summary.Batches,
	)
	return summary, nil
}
