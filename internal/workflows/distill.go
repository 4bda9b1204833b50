// Package workflows provides Temporal workflow definitions for formulad
// batch processing.
package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/cruciblelabs/formulad/internal/memory"
)

// DistillConfig configures the batch distillation workflow.
type DistillConfig struct {
	ArchiveDir      string // Directory holding archived trajectory JSON files
	StorePath       string // Memory store file to save after consolidation; empty skips saving
	MaxTrajectories int    // Cap on trajectories to process; 0 means all
}

// DistillResult summarizes one batch distillation run.
type DistillResult struct {
	Trajectories      int      // Trajectory files found in the archive
	Judged            int      // Trajectories re-judged successfully
	Successes         int      // Success verdicts
	Failures          int      // Failure verdicts
	VerdictChanges    int      // Verdicts that differ from the archived outcome
	ItemsExtracted    int      // Memory items distilled across all trajectories
	ItemsConsolidated int      // Items that survived dedup in the store
	StoreSize         int      // Store size after consolidation
	Errors            []string // Per-trajectory errors; these do not fail the run
}

// DistillWorkflow re-judges archived trajectories with the current judge
// and consolidates the extracted memory items in bulk.
//
// This workflow:
// 1. Lists trajectory files under the archive directory
// 2. Re-judges each trajectory
// 3. Extracts memory items under the fresh verdict
// 4. Consolidates all extracted items into the store in one batch
//
// A trajectory that fails to judge or extract is recorded in Errors and
// skipped, so one corrupt archive entry cannot sink the batch. A failed
// consolidation fails the whole run.
func DistillWorkflow(ctx workflow.Context, config DistillConfig) (*DistillResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting batch distillation",
		"archive_dir", config.ArchiveDir,
		"store_path", config.StorePath)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	result := &DistillResult{}

	// Step 1: List archived trajectories
	var paths []string
	err := workflow.ExecuteActivity(ctx, "ListTrajectoriesActivity", ListTrajectoriesInput{
		ArchiveDir: config.ArchiveDir,
	}).Get(ctx, &paths)
	if err != nil {
		return result, fmt.Errorf("list trajectories: %w", err)
	}

	if config.MaxTrajectories > 0 && len(paths) > config.MaxTrajectories {
		paths = paths[:config.MaxTrajectories]
	}
	result.Trajectories = len(paths)

	if len(paths) == 0 {
		logger.Info("Archive empty, nothing to distill")
		return result, nil
	}

	// Steps 2-3: re-judge and extract, per trajectory
	var items []*memory.Item
	for _, path := range paths {
		var judged JudgeTrajectoryResult
		err := workflow.ExecuteActivity(ctx, "JudgeTrajectoryActivity", JudgeTrajectoryInput{
			Path: path,
		}).Get(ctx, &judged)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("judge %s: %v", path, err))
			continue
		}

		result.Judged++
		if judged.Outcome == memory.OutcomeSuccess {
			result.Successes++
		} else {
			result.Failures++
		}
		if judged.Previous.Valid() && judged.Previous != judged.Outcome {
			result.VerdictChanges++
			logger.Info("Verdict changed on re-judge",
				"task_id", judged.TaskID,
				"previous", judged.Previous,
				"outcome", judged.Outcome)
		}

		var extracted []*memory.Item
		err = workflow.ExecuteActivity(ctx, "ExtractMemoriesActivity", ExtractMemoriesInput{
			Path:    path,
			Outcome: judged.Outcome,
		}).Get(ctx, &extracted)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("extract %s: %v", path, err))
			continue
		}
		items = append(items, extracted...)
	}
	result.ItemsExtracted = len(items)

	// Step 4: Consolidate in bulk
	if len(items) > 0 {
		var consolidated ConsolidateResult
		err = workflow.ExecuteActivity(ctx, "ConsolidateActivity", ConsolidateInput{
			Items:     items,
			StorePath: config.StorePath,
		}).Get(ctx, &consolidated)
		if err != nil {
			return result, fmt.Errorf("consolidate: %w", err)
		}
		result.ItemsConsolidated = consolidated.Added
		result.StoreSize = consolidated.StoreSize
	}

	logger.Info("Batch distillation complete",
		"trajectories", result.Trajectories,
		"judged", result.Judged,
		"verdict_changes", result.VerdictChanges,
		"items_extracted", result.ItemsExtracted,
		"items_consolidated", result.ItemsConsolidated)

	return result, nil
}
