package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vietddude/calcwatch/internal/core/domain"
	"github.com/vietddude/calcwatch/internal/infra/storage"
)

// MirrorEntry is one record of the legacy status file consumed by tooling
// that cannot query the store.
type MirrorEntry struct {
	File          string    `json:"file"`
	CalcID        string    `json:"calc_id"`
	MaterialID    string    `json:"material_id"`
	CalcType      string    `json:"calc_type"`
	SubmittedTime time.Time `json:"submitted_time"`
}

// Mirror is a derived, best-effort cache of submission records keyed by
// external job id. The store is the single source of truth; the mirror is
// rebuilt from it at startup and every write failure is logged, never
// surfaced.
type Mirror struct {
	mu      sync.Mutex
	path    string
	entries map[string]MirrorEntry
	log     *slog.Logger
}

// NewMirror creates a mirror persisting to path.
func NewMirror(path string) *Mirror {
	return &Mirror{
		path:    path,
		entries: make(map[string]MirrorEntry),
		log:     slog.With("component", "mirror"),
	}
}

// Rebuild repopulates the mirror from the store's active calculations,
// discarding whatever the file held before.
func (m *Mirror) Rebuild(ctx context.Context, calcs storage.CalculationRepository) error {
	active, err := calcs.GetActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to rebuild mirror: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]MirrorEntry, len(active))
	for _, c := range active {
		if c.JobID == "" {
			continue
		}
		e := MirrorEntry{
			File:       c.InputFile,
			CalcID:     c.ID,
			MaterialID: c.MaterialID,
			CalcType:   string(c.Type),
		}
		if c.SubmittedAt != nil {
			e.SubmittedTime = *c.SubmittedAt
		}
		m.entries[c.JobID] = e
	}
	return m.flush()
}

// Record registers a submission. Best-effort.
func (m *Mirror) Record(jobID string, c *domain.Calculation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := MirrorEntry{
		File:          c.InputFile,
		CalcID:        c.ID,
		MaterialID:    c.MaterialID,
		CalcType:      string(c.Type),
		SubmittedTime: time.Now(),
	}
	m.entries[jobID] = e
	if err := m.flush(); err != nil {
		m.log.Warn("mirror write failed", "job_id", jobID, "error", err)
	}
}

// Remove drops a job that reached a terminal state. Best-effort.
func (m *Mirror) Remove(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[jobID]; !ok {
		return
	}
	delete(m.entries, jobID)
	if err := m.flush(); err != nil {
		m.log.Warn("mirror write failed", "job_id", jobID, "error", err)
	}
}

// flush writes atomically via tmp+rename so legacy readers never see a
// torn file. Caller holds the lock.
func (m *Mirror) flush() error {
	data, err := json.MarshalIndent(m.entries, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".mirror-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), m.path)
}
