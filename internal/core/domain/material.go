package domain

import "time"

type MaterialStatus string

const (
	MaterialStatusActive   MaterialStatus = "active"
	MaterialStatusArchived MaterialStatus = "archived"
	MaterialStatusError    MaterialStatus = "error"
)

// Material is a tracked research subject, independent of any single calculation.
// Materials are archived, never hard-deleted.
type Material struct {
	ID             string            `json:"id"`
	Formula        string            `json:"formula"`
	SpacegroupNum  int               `json:"spacegroup_num"`
	Dimensionality string            `json:"dimensionality"` // e.g. "3D", "2D", "1D"
	Source         string            `json:"source"`         // provenance: database name, DOI, "manual"
	Metadata       map[string]string `json:"metadata,omitempty"`
	Status         MaterialStatus    `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}
