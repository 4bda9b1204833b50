package workflows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/cruciblelabs/formulad/internal/extraction"
	"github.com/cruciblelabs/formulad/internal/judge"
	"github.com/cruciblelabs/formulad/internal/memory"
)

// Activities bundles the service dependencies the distillation activities
// need. One instance is registered on the worker and shared by all runs.
type Activities struct {
	judge     *judge.Judge
	extractor *extraction.Extractor
	store     *memory.Store
	logger    *zap.Logger
}

// NewActivities creates the activity bundle.
func NewActivities(j *judge.Judge, extractor *extraction.Extractor, store *memory.Store, logger *zap.Logger) (*Activities, error) {
	if j == nil {
		return nil, errors.New("judge is required")
	}
	if extractor == nil {
		return nil, errors.New("extractor is required")
	}
	if store == nil {
		return nil, errors.New("memory store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{judge: j, extractor: extractor, store: store, logger: logger}, nil
}

// Activity input and output types

type ListTrajectoriesInput struct {
	ArchiveDir string
}

type JudgeTrajectoryInput struct {
	Path string
}

type JudgeTrajectoryResult struct {
	TaskID   string
	Outcome  memory.Outcome
	Previous memory.Outcome // Outcome recorded at archive time, if any
	Thoughts string
	Reason   string
}

type ExtractMemoriesInput struct {
	Path    string
	Outcome memory.Outcome
}

type ConsolidateInput struct {
	Items     []*memory.Item
	StorePath string // Store file to save after adding; empty skips saving
}

type ConsolidateResult struct {
	Added     int
	StoreSize int
}

// ListTrajectoriesActivity lists the trajectory JSON files under the
// archive directory, sorted by name.
func (a *Activities) ListTrajectoriesActivity(ctx context.Context, input ListTrajectoriesInput) ([]string, error) {
	if strings.TrimSpace(input.ArchiveDir) == "" {
		return nil, errors.New("archive directory is required")
	}

	entries, err := os.ReadDir(input.ArchiveDir)
	if err != nil {
		return nil, fmt.Errorf("read archive directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(input.ArchiveDir, entry.Name()))
	}
	sort.Strings(paths)

	a.logger.Info("archive listed",
		zap.String("dir", input.ArchiveDir),
		zap.Int("trajectories", len(paths)))

	return paths, nil
}

// JudgeTrajectoryActivity loads one archived trajectory and re-judges it
// with the current judge. The archive file is never modified.
func (a *Activities) JudgeTrajectoryActivity(ctx context.Context, input JudgeTrajectoryInput) (*JudgeTrajectoryResult, error) {
	traj, err := loadTrajectory(input.Path)
	if err != nil {
		return nil, err
	}

	verdict, err := a.judge.Evaluate(ctx, traj)
	if err != nil {
		return nil, err
	}

	return &JudgeTrajectoryResult{
		TaskID:   traj.TaskID,
		Outcome:  verdict.Status,
		Previous: traj.Outcome,
		Thoughts: verdict.Thoughts,
		Reason:   verdict.Reason,
	}, nil
}

// ExtractMemoriesActivity loads one archived trajectory and distills
// memory items from it under the given outcome.
func (a *Activities) ExtractMemoriesActivity(ctx context.Context, input ExtractMemoriesInput) ([]*memory.Item, error) {
	traj, err := loadTrajectory(input.Path)
	if err != nil {
		return nil, err
	}
	return a.extractor.FromTrajectory(ctx, traj, input.Outcome)
}

// ConsolidateActivity adds the extracted items to the store in one batch
// and saves the store when a path is configured. Duplicate titles are
// skipped by the store, which also makes a retried consolidation safe.
func (a *Activities) ConsolidateActivity(ctx context.Context, input ConsolidateInput) (*ConsolidateResult, error) {
	added, err := a.store.AddMany(ctx, input.Items)
	if err != nil {
		return nil, fmt.Errorf("consolidate items: %w", err)
	}

	if input.StorePath != "" {
		if err := a.store.Save(ctx, input.StorePath); err != nil {
			return nil, fmt.Errorf("save store: %w", err)
		}
	}

	a.logger.Info("batch consolidated",
		zap.Int("extracted", len(input.Items)),
		zap.Int("added", added),
		zap.Int("store_size", a.store.Len()))

	return &ConsolidateResult{Added: added, StoreSize: a.store.Len()}, nil
}

// loadTrajectory reads one archived trajectory file.
func loadTrajectory(path string) (*memory.Trajectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trajectory: %w", err)
	}

	var traj memory.Trajectory
	if err := json.Unmarshal(data, &traj); err != nil {
		return nil, fmt.Errorf("parse trajectory %s: %w", filepath.Base(path), err)
	}
	if strings.TrimSpace(traj.TaskDescription) == "" {
		return nil, fmt.Errorf("trajectory %s has no task description", filepath.Base(path))
	}
	return &traj, nil
}
