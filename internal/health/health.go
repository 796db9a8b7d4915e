// Package health provides system health monitoring and status reporting.
package health

import (
	"context"
	"time"

	"github.com/vietddude/calcwatch/internal/core/domain"
	"github.com/vietddude/calcwatch/internal/infra/storage"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Report is the full health report.
type Report struct {
	Status       SystemStatus `json:"status"`
	DatabaseOK   bool         `json:"database_ok"`
	ActiveCalcs  int          `json:"active_calculations"`
	PendingCalcs int          `json:"pending_calculations"`
	CheckedAt    time.Time    `json:"checked_at"`
}

// Pinger is anything with a health check; satisfied by postgres.DB.
type Pinger interface {
	Health(ctx context.Context) error
}

// Monitor assembles health reports from the store.
type Monitor struct {
	db    Pinger // nil in memory mode
	calcs storage.CalculationRepository
}

// NewMonitor creates a health monitor. db may be nil.
func NewMonitor(db Pinger, calcs storage.CalculationRepository) *Monitor {
	return &Monitor{db: db, calcs: calcs}
}

// Check assembles the current report. Store errors degrade the status
// instead of failing the endpoint.
func (m *Monitor) Check(ctx context.Context) Report {
	r := Report{Status: StatusHealthy, DatabaseOK: true, CheckedAt: time.Now()}

	if m.db != nil {
		if err := m.db.Health(ctx); err != nil {
			r.DatabaseOK = false
			r.Status = StatusCritical
			return r
		}
	}

	active, err := m.calcs.GetActive(ctx)
	if err != nil {
		r.Status = StatusDegraded
		return r
	}
	r.ActiveCalcs = len(active)

	pending, err := m.calcs.GetByStatus(ctx, domain.CalcStatusPending)
	if err != nil {
		r.Status = StatusDegraded
		return r
	}
	r.PendingCalcs = len(pending)

	return r
}
