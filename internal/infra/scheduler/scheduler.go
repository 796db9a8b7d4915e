// Package scheduler integrates with the external batch scheduler.
package scheduler

import (
	"context"

	"github.com/vietddude/calcwatch/internal/core/domain"
)

// JobState is the external scheduler's vocabulary for a job.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
	StateTimeout   JobState = "timeout"
	StateUnknown   JobState = "unknown"
)

// CalcStatus maps the external state onto the calculation vocabulary.
func (s JobState) CalcStatus() domain.CalcStatus {
	switch s {
	case StateQueued:
		return domain.CalcStatusSubmitted
	case StateRunning:
		return domain.CalcStatusRunning
	case StateCompleted:
		return domain.CalcStatusCompleted
	case StateFailed, StateTimeout:
		return domain.CalcStatusFailed
	case StateCancelled:
		return domain.CalcStatusCancelled
	}
	return ""
}

// Adapter is the process-level integration with the batch scheduler.
// Implementations shell out to slow external commands, so no store
// transaction may be held across any of these calls.
type Adapter interface {
	// Submit stages the calculation's input artifact into its working
	// directory and submits it, returning the external job id.
	Submit(ctx context.Context, calc *domain.Calculation) (string, error)

	// Poll lists the caller's jobs as (external job id -> state). Jobs
	// absent from the map have left the scheduler.
	Poll(ctx context.Context) (map[string]JobState, error)

	// Cancel asks the scheduler to kill a job. Callers mark the
	// calculation cancelled locally regardless of the result.
	Cancel(ctx context.Context, jobID string) error
}
