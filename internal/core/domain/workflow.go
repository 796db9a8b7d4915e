package domain

import "time"

type WorkflowStatus string

const (
	WorkflowStatusActive    WorkflowStatus = "active"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusPaused    WorkflowStatus = "paused"
)

// TemplateStep is one node of a workflow template. Requires names the
// upstream calculation kind this step depends on; an empty Requires marks
// an entry step. Several steps requiring the same kind fan out.
type TemplateStep struct {
	Kind     CalcType      `json:"kind" yaml:"kind"`
	Requires CalcType      `json:"requires,omitempty" yaml:"requires,omitempty"`
	Settings *CalcSettings `json:"settings,omitempty" yaml:"settings,omitempty"` // nil = kind defaults
}

// WorkflowTemplate is a named ordered list of calculation kinds with
// dependency edges.
type WorkflowTemplate struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Steps     []TemplateStep `json:"steps"`
	CreatedAt time.Time      `json:"created_at"`
}

// Downstream returns the steps that become eligible once a calculation of
// the given kind completes.
func (t *WorkflowTemplate) Downstream(completed CalcType) []TemplateStep {
	var out []TemplateStep
	for _, s := range t.Steps {
		if s.Requires == completed {
			out = append(out, s)
		}
	}
	return out
}

// HasKind reports whether the template mentions the kind at all.
func (t *WorkflowTemplate) HasKind(kind CalcType) bool {
	for _, s := range t.Steps {
		if s.Kind == kind {
			return true
		}
	}
	return false
}

// WorkflowInstance binds a template to one material.
type WorkflowInstance struct {
	ID          string         `json:"id"`
	MaterialID  string         `json:"material_id"`
	TemplateID  string         `json:"template_id"`
	CurrentStep int            `json:"current_step"`
	Status      WorkflowStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
