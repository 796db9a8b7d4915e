package domain

import "time"

type FileType string

const (
	FileTypeInput  FileType = "input"
	FileTypeOutput FileType = "output"
	FileTypeAux    FileType = "auxiliary"
)

// FileRecord associates a calculation with a file on disk. Records are
// created once the calculation reaches a terminal state.
type FileRecord struct {
	ID        int64     `json:"id"`
	CalcID    string    `json:"calc_id"`
	Type      FileType  `json:"type"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum,omitempty"` // sha256 hex
	CreatedAt time.Time `json:"created_at"`
}
