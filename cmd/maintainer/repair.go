package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/samirrijal/planb/internal/core/usecases"
	"github.com/samirrijal/planb/internal/workflows"
)

var repairOpts struct {
	batch   int
	cleanup bool
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Start a geometry repair run and wait for its summary",
	Args:  cobra.NoArgs,
	RunE:  runRepair,
}

func init() {
	f := repairCmd.Flags()
	f.IntVarP(&repairOpts.batch, "batch", "b", usecases.DefaultRepairBatchSize, "places per repair activity")
	f.BoolVar(&repairOpts.cleanup, "cleanup", false, "remove legacy coordinate properties first")
	rootCmd.AddCommand(repairCmd)
}

func runRepair(cmd *cobra.Command, _ []string) error {
	if repairOpts.batch < 1 {
		return fmt.Errorf("batch must be positive, got %d", repairOpts.batch)
	}

	c, err := dialTemporal()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := cmd.Context()
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        fmt.Sprintf("geometry-repair-%d", time.Now().Unix()),
		TaskQueue: cfg.Temporal.TaskQueue,
	}, workflows.GeometryRepairWorkflow, workflows.RepairInput{
		BatchSize:     repairOpts.batch,
		CleanupLegacy: repairOpts.cleanup,
	})
	if err != nil {
		return fmt.Errorf("start workflow: %w", err)
	}
	slog.Info("geometry repair started", "workflow_id", run.GetID(), "run_id", run.GetRunID())

	var summary workflows.RepairSummary
	if err := run.Get(ctx, &summary); err != nil {
		return fmt.Errorf("workflow failed: %w", err)
	}
	printSummary(cmd.OutOrStdout(), &summary)
	return nil
}

func printSummary(w io.Writer, s *workflows.RepairSummary) {
	if s.Cleanup != nil {
		fmt.Fprintf(w, "legacy fields: found %d, removed %d\n", s.Cleanup.DocumentsFound, s.Cleanup.DocumentsModified)
	}
	fmt.Fprintf(w, "scanned %d, corrected %d, unrecoverable %d in %d batches\n",
		s.Repair.Scanned, s.Repair.Corrected, s.Repair.Unrecoverable, s.Batches)
}
