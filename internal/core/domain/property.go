package domain

import "time"

// Property is a named value extracted from a finished calculation and
// attributed to a material. Append-only; the same name may recur across
// calculations.
type Property struct {
	ID         int64     `json:"id"`
	MaterialID string    `json:"material_id"`
	CalcID     string    `json:"calc_id,omitempty"` // producing calculation, if known
	Name       string    `json:"name"`
	NumValue   *float64  `json:"num_value,omitempty"`
	TextValue  *string   `json:"text_value,omitempty"`
	Unit       string    `json:"unit,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
