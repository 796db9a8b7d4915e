package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/vietddude/calcwatch/internal/core/domain"
)

var (
	// ErrNotFound is returned when a record doesn't exist.
	ErrNotFound = errors.New("record not found")

	// ErrLockTimeout is returned when an exclusive transaction could not be
	// acquired within the configured budget. Infrastructure error: callers
	// retry with backoff, it is never recorded against a calculation.
	ErrLockTimeout = errors.New("store lock timeout")

	// ErrPrerequisiteIncomplete is returned when a calculation is moved to
	// submitted while its prerequisite isn't completed.
	ErrPrerequisiteIncomplete = errors.New("prerequisite calculation not completed")

	// ErrRecoveryCeiling is returned when incrementing recovery attempts
	// past the configured ceiling.
	ErrRecoveryCeiling = errors.New("recovery attempt ceiling reached")
)

// ErrInvalidTransition rejects a status change the transition table forbids.
type ErrInvalidTransition struct {
	From domain.CalcStatus
	To   domain.CalcStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// IsInvalidTransition reports whether err is a transition-table rejection.
// Concurrent monitor invocations use it to detect a lost race.
func IsInvalidTransition(err error) bool {
	var e *ErrInvalidTransition
	return errors.As(err, &e)
}

// StatusUpdate carries the optional diagnostics stamped together with a
// status transition.
type StatusUpdate struct {
	JobID        string
	ExitCode     *int
	FailureKind  string
	ErrorMessage string
}

// MaterialRepository handles material storage operations.
type MaterialRepository interface {
	Create(ctx context.Context, m *domain.Material) error
	Get(ctx context.Context, id string) (*domain.Material, error)
	Update(ctx context.Context, m *domain.Material) error
	// Archive flips the material to archived; materials are never deleted.
	Archive(ctx context.Context, id string) error
	List(ctx context.Context, status domain.MaterialStatus) ([]*domain.Material, error)
}

// CalculationRepository handles calculation storage operations.
// UpdateStatus is the sole status-transition entry point.
type CalculationRepository interface {
	Create(ctx context.Context, c *domain.Calculation) error
	Get(ctx context.Context, id string) (*domain.Calculation, error)

	// UpdateStatus validates the transition against the allowed-transitions
	// table, enforces the prerequisite invariant for submitted, stamps the
	// matching timestamp column, and applies upd atomically.
	UpdateStatus(ctx context.Context, id string, status domain.CalcStatus, upd StatusUpdate) error

	// MarkRecoveryAttempt persists the settings blob after a recovery
	// mutation and increments the attempt counter, rejecting increments
	// past the ceiling.
	MarkRecoveryAttempt(ctx context.Context, id string, settings domain.CalcSettings, ceiling int) error

	GetByStatus(ctx context.Context, status domain.CalcStatus) ([]*domain.Calculation, error)
	GetByType(ctx context.Context, t domain.CalcType) ([]*domain.Calculation, error)
	GetByMaterial(ctx context.Context, materialID string) ([]*domain.Calculation, error)
	GetByJobID(ctx context.Context, jobID string) (*domain.Calculation, error)
	// GetActive returns calculations occupying the scheduler (submitted/running/resubmitted).
	GetActive(ctx context.Context) ([]*domain.Calculation, error)
}

// PropertyRepository is append-only.
type PropertyRepository interface {
	Add(ctx context.Context, p *domain.Property) error
	GetByMaterial(ctx context.Context, materialID string) ([]*domain.Property, error)
}

// FileRepository handles file records.
type FileRepository interface {
	Add(ctx context.Context, f *domain.FileRecord) error
	GetByCalculation(ctx context.Context, calcID string) ([]*domain.FileRecord, error)
}

// WorkflowRepository handles templates and instances.
type WorkflowRepository interface {
	SaveTemplate(ctx context.Context, t *domain.WorkflowTemplate) error
	GetTemplate(ctx context.Context, id string) (*domain.WorkflowTemplate, error)
	GetTemplateByName(ctx context.Context, name string) (*domain.WorkflowTemplate, error)

	CreateInstance(ctx context.Context, inst *domain.WorkflowInstance) error
	GetInstance(ctx context.Context, id string) (*domain.WorkflowInstance, error)
	// GetActiveInstance returns the material's active instance, ErrNotFound if none.
	GetActiveInstance(ctx context.Context, materialID string) (*domain.WorkflowInstance, error)
	UpdateInstanceStatus(ctx context.Context, id string, status domain.WorkflowStatus) error
	AdvanceInstance(ctx context.Context, id string, step int) error
}

// Store bundles the repositories behind one handle.
type Store struct {
	Materials    MaterialRepository
	Calculations CalculationRepository
	Properties   PropertyRepository
	Files        FileRepository
	Workflows    WorkflowRepository
}
