// Package repository persists runs, steps and the append-only event trace.
package repository

import (
	"context"

	"github.com/enisisuko/ICee-agent/internal/domain"
)

// RunRepository stores Run records.
type RunRepository interface {
	Create(ctx context.Context, run *domain.Run) error
	// FindByID returns nil, nil when the run does not exist.
	FindByID(ctx context.Context, runID string) (*domain.Run, error)
	// FindAll lists runs newest first.
	FindAll(ctx context.Context, limit, offset int) ([]domain.Run, error)
	FindByState(ctx context.Context, state domain.RunState) ([]domain.Run, error)
	// UpdateState changes the state of a non-terminal run. It reports false
	// when the run is missing or already terminal.
	UpdateState(ctx context.Context, runID string, state domain.RunState) (bool, error)
	// Complete writes the terminal values of a run exactly once.
	Complete(ctx context.Context, runID string, c domain.RunCompletion) (bool, error)
}

// StepRepository stores Step records.
type StepRepository interface {
	Create(ctx context.Context, step *domain.Step) error
	// CreateMany inserts all steps or none.
	CreateMany(ctx context.Context, steps []domain.Step) error
	FindByID(ctx context.Context, stepID string) (*domain.Step, error)
	// FindByRunID returns the steps of a run ordered by sequence.
	FindByRunID(ctx context.Context, runID string) ([]domain.Step, error)
	UpdateState(ctx context.Context, stepID string, state domain.StepState, u domain.StepUpdate) error
}

// EventRepository is the append-only trace. Events are never updated or deleted.
type EventRepository interface {
	Append(ctx context.Context, event *domain.StepEvent) error
	// AppendMany appends all events or none.
	AppendMany(ctx context.Context, events []domain.StepEvent) error
	// FindByRunID returns the events of a run ordered by timestamp.
	FindByRunID(ctx context.Context, runID string) ([]domain.StepEvent, error)
	FindByStepID(ctx context.Context, stepID string) ([]domain.StepEvent, error)
	// FindFromStep returns the events of a run recorded at or after the first
	// event of stepID. It is empty when the step has no events.
	FindFromStep(ctx context.Context, runID, stepID string) ([]domain.StepEvent, error)
	GetRunStats(ctx context.Context, runID string) (*domain.RunStats, error)
}

// Store groups the three repositories behind one backend.
type Store interface {
	Runs() RunRepository
	Steps() StepRepository
	Events() EventRepository
	Close() error
}
