package domain

import "time"

type CalcType string

const (
	CalcTypeRelaxation    CalcType = "relaxation"
	CalcTypeSinglePoint   CalcType = "single_point"
	CalcTypeBandStructure CalcType = "band_structure"
	CalcTypeDOS           CalcType = "density_of_states"
	CalcTypeFrequency     CalcType = "frequency"
	CalcTypeTransport     CalcType = "transport"
)

type CalcStatus string

const (
	CalcStatusPending     CalcStatus = "pending"
	CalcStatusSubmitted   CalcStatus = "submitted"
	CalcStatusRunning     CalcStatus = "running"
	CalcStatusCompleted   CalcStatus = "completed"
	CalcStatusFailed      CalcStatus = "failed"
	CalcStatusCancelled   CalcStatus = "cancelled"
	CalcStatusResubmitted CalcStatus = "resubmitted"
)

// CompletionType records how a calculation reached its current attempt.
type CompletionType string

const (
	CompletionNormal   CompletionType = "normal"
	CompletionRecovery CompletionType = "recovery_attempt"
)

// allowedTransitions is the forward-only status machine. A terminal status
// has no outgoing edges except failed -> resubmitted (recovery path).
var allowedTransitions = map[CalcStatus][]CalcStatus{
	CalcStatusPending:     {CalcStatusSubmitted, CalcStatusCancelled, CalcStatusFailed},
	CalcStatusSubmitted:   {CalcStatusRunning, CalcStatusCompleted, CalcStatusFailed, CalcStatusCancelled},
	CalcStatusRunning:     {CalcStatusCompleted, CalcStatusFailed, CalcStatusCancelled},
	CalcStatusFailed:      {CalcStatusResubmitted},
	CalcStatusResubmitted: {CalcStatusSubmitted, CalcStatusCancelled, CalcStatusFailed},
	CalcStatusCompleted:   {},
	CalcStatusCancelled:   {},
}

// CanTransition reports whether from -> to is a legal status transition.
func CanTransition(from, to CalcStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further scheduler activity.
// failed is terminal for the scheduler but may still be resubmitted by recovery.
func (s CalcStatus) IsTerminal() bool {
	return s == CalcStatusCompleted || s == CalcStatusFailed || s == CalcStatusCancelled
}

// Calculation is one attempted execution of the external compute engine
// against a material.
type Calculation struct {
	ID         string     `json:"id"`
	MaterialID string     `json:"material_id"`
	Type       CalcType   `json:"type"`
	Status     CalcStatus `json:"status"`

	// JobID is the external scheduler job handle, set on submission.
	JobID string `json:"job_id,omitempty"`

	InputFile  string `json:"input_file"`
	OutputFile string `json:"output_file"`
	WorkDir    string `json:"work_dir"`

	Settings CalcSettings `json:"settings"`

	// PrerequisiteID, when set, must reference a completed calculation
	// before this one is submission-eligible.
	PrerequisiteID string `json:"prerequisite_id,omitempty"`

	ExitCode         *int           `json:"exit_code,omitempty"`
	FailureKind      string         `json:"failure_kind,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	RecoveryAttempts int            `json:"recovery_attempts"`
	CompletionType   CompletionType `json:"completion_type,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Active reports whether the calculation still occupies the scheduler.
func (c *Calculation) Active() bool {
	switch c.Status {
	case CalcStatusSubmitted, CalcStatusRunning, CalcStatusResubmitted:
		return true
	}
	return false
}
