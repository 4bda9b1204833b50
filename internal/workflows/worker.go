package workflows

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// TaskQueue is the Temporal task queue distillation runs on.
const TaskQueue = "formulad-distillation"

// NewWorker creates a Temporal worker with the distillation workflow and
// activities registered. The caller runs and stops it.
func NewWorker(c client.Client, acts *Activities) worker.Worker {
	w := worker.New(c, TaskQueue, worker.Options{})
	w.RegisterWorkflow(DistillWorkflow)
	w.RegisterActivity(acts)
	return w
}

// ExecuteDistill starts a distillation workflow and blocks until it
// finishes. A worker must be polling TaskQueue for the run to progress.
func ExecuteDistill(ctx context.Context, c client.Client, config DistillConfig) (*DistillResult, error) {
	opts := client.StartWorkflowOptions{
		ID:        fmt.Sprintf("distill-%s", uuid.New().String()),
		TaskQueue: TaskQueue,
	}

	run, err := c.ExecuteWorkflow(ctx, opts, DistillWorkflow, config)
	if err != nil {
		return nil, fmt.Errorf("start distillation workflow: %w", err)
	}

	var result DistillResult
	if err := run.Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("distillation workflow: %w", err)
	}
	return &result, nil
}
