package control

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/vietddude/calcwatch/internal/classify"
	"github.com/vietddude/calcwatch/internal/core/config"
	"github.com/vietddude/calcwatch/internal/core/domain"
	redisclient "github.com/vietddude/calcwatch/internal/infra/redis"
	"github.com/vietddude/calcwatch/internal/infra/scheduler"
	"github.com/vietddude/calcwatch/internal/infra/storage"
	"github.com/vietddude/calcwatch/internal/metrics"
	"github.com/vietddude/calcwatch/internal/recovery"
	"github.com/vietddude/calcwatch/internal/workflow"
)

// Monitor is the orchestrating driver: it polls the scheduler, updates the
// store, classifies and recovers failures, and advances workflows on
// success. Multiple monitor invocations may run concurrently across
// processes sharing one store; the forward-only transition table makes a
// lost race harmless.
type Monitor struct {
	store      *storage.Store
	sched      scheduler.Adapter
	classifier *classify.Classifier
	recovery   *recovery.Engine
	workflow   *workflow.Engine
	mirror     *scheduler.Mirror         // nil disables the legacy mirror
	recheck    *redisclient.RecheckQueue // nil falls back to store scans
	cfg        config.MonitorConfig
	log        *slog.Logger
}

// NewMonitor wires the monitor loop.
func NewMonitor(
	store *storage.Store,
	sched scheduler.Adapter,
	classifier *classify.Classifier,
	rec *recovery.Engine,
	wf *workflow.Engine,
	mirror *scheduler.Mirror,
	recheck *redisclient.RecheckQueue,
	cfg config.MonitorConfig,
) *Monitor {
	return &Monitor{
		store:      store,
		sched:      sched,
		classifier: classifier,
		recovery:   rec,
		workflow:   wf,
		mirror:     mirror,
		recheck:    recheck,
		cfg:        cfg,
		log:        slog.With("component", "monitor"),
	}
}

// Start runs the monitor loop until the context is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	// Initial cycle so a restart doesn't wait a full interval.
	if err := m.RunOnce(ctx); err != nil {
		m.log.Error("monitor cycle failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.RunOnce(ctx); err != nil {
				m.log.Error("monitor cycle failed", "error", err)
			}
		}
	}
}

// RunOnce performs one monitor cycle: poll and settle active jobs, process
// due re-checks, then submit whatever became eligible.
func (m *Monitor) RunOnce(ctx context.Context) error {
	if err := m.pollActive(ctx); err != nil {
		return err
	}
	m.processRechecks(ctx)
	return m.submitEligible(ctx)
}

// pollActive reconciles calculations occupying the scheduler against the
// external listing. The poll happens outside any store transaction.
func (m *Monitor) pollActive(ctx context.Context) error {
	active, err := m.store.Calculations.GetActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active calculations: %w", err)
	}
	metrics.ActiveCalcs.Set(float64(len(active)))
	if len(active) == 0 {
		return nil
	}

	start := time.Now()
	states, err := m.sched.Poll(ctx)
	metrics.PollDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("scheduler poll failed: %w", err)
	}

	for _, calc := range active {
		// resubmitted calculations are between attempts, not in the queue.
		if calc.Status == domain.CalcStatusResubmitted || calc.JobID == "" {
			continue
		}

		state, listed := states[calc.JobID]
		if !listed {
			m.resolveVanished(ctx, calc)
			continue
		}

		switch state.CalcStatus() {
		case domain.CalcStatusSubmitted:
			// still queued
		case domain.CalcStatusRunning:
			m.markRunning(ctx, calc)
			m.checkEarlyFailure(ctx, calc)
		case domain.CalcStatusCompleted:
			m.handleCompletion(ctx, calc)
		case domain.CalcStatusFailed:
			cls, msg := m.classifyOutput(calc)
			if state == scheduler.StateTimeout {
				cls = classify.Classification{
					Kind: classify.KindTimeLimit, Severity: classify.SeverityError, Recoverable: true,
				}
				msg = "scheduler reported timeout"
			}
			m.handleFailure(ctx, calc, cls, msg)
		case domain.CalcStatusCancelled:
			m.markCancelled(ctx, calc, "cancelled by scheduler")
		}
	}
	return nil
}

// resolveVanished settles a job that left the external listing without a
// terminal state: the output artifact decides.
func (m *Monitor) resolveVanished(ctx context.Context, calc *domain.Calculation) {
	outcome, cls := m.classifier.ScanOutput(calc.OutputFile)
	switch outcome {
	case classify.OutcomeCompleted:
		m.handleCompletion(ctx, calc)
	case classify.OutcomeFailed:
		m.handleFailure(ctx, calc, cls, "job left scheduler with failure output")
	case classify.OutcomeUnknown:
		// Missing or unreadable report: not a verdict. Queue a re-check
		// instead of failing the calculation.
		m.log.Info("output not readable yet, deferring verdict",
			"calc_id", calc.ID, "job_id", calc.JobID)
		m.queueRecheck(ctx, calc, "output artifact unreadable")
	}
}

// markRunning flips a submitted calculation to running. A lost race with a
// concurrent monitor is fine.
func (m *Monitor) markRunning(ctx context.Context, calc *domain.Calculation) {
	if calc.Status != domain.CalcStatusSubmitted {
		return
	}
	err := m.store.Calculations.UpdateStatus(ctx, calc.ID, domain.CalcStatusRunning, storage.StatusUpdate{})
	if err != nil && !storage.IsInvalidTransition(err) {
		m.log.Warn("failed to mark running", "calc_id", calc.ID, "error", err)
		return
	}
	now := time.Now()
	calc.Status = domain.CalcStatusRunning
	if calc.StartedAt == nil {
		calc.StartedAt = &now
	}
}

// checkEarlyFailure inspects a running calculation's output for failure
// patterns, but only after the minimum elapsed-time floor so slow-starting
// engines don't trip false positives.
func (m *Monitor) checkEarlyFailure(ctx context.Context, calc *domain.Calculation) {
	if calc.StartedAt == nil || time.Since(*calc.StartedAt) < m.cfg.MinRuntime {
		return
	}

	outcome, cls := m.classifier.ScanOutput(calc.OutputFile)
	if outcome != classify.OutcomeFailed || cls.Kind == classify.KindUnknown {
		return
	}

	m.log.Info("early failure detected, cancelling job",
		"calc_id", calc.ID, "job_id", calc.JobID, "kind", cls.Kind)
	if err := m.sched.Cancel(ctx, calc.JobID); err != nil {
		m.log.Warn("cancel failed", "job_id", calc.JobID, "error", err)
	}
	m.handleFailure(ctx, calc, cls, "early failure detected in output")
}

// handleCompletion settles a successful calculation. Exactly one of any
// concurrent monitor invocations wins the transition and triggers the
// workflow; the others see an invalid transition and stop.
func (m *Monitor) handleCompletion(ctx context.Context, calc *domain.Calculation) {
	err := m.store.Calculations.UpdateStatus(ctx, calc.ID, domain.CalcStatusCompleted, storage.StatusUpdate{})
	if storage.IsInvalidTransition(err) {
		return // another invocation settled it first
	}
	if err != nil {
		m.log.Warn("failed to mark completed", "calc_id", calc.ID, "error", err)
		return
	}

	metrics.CalcsCompleted.WithLabelValues(string(calc.Type)).Inc()
	m.log.Info("calculation completed", "calc_id", calc.ID, "type", calc.Type, "material_id", calc.MaterialID)

	m.recordArtifacts(ctx, calc)
	m.recordProperties(ctx, calc)
	m.mirrorRemove(calc.JobID)

	created, err := m.workflow.ExecuteWorkflowStep(ctx, calc.MaterialID, calc.ID)
	if err != nil {
		m.log.Error("workflow progression failed", "calc_id", calc.ID, "error", err)
		return
	}
	for _, id := range created {
		m.log.Info("downstream calculation queued", "calc_id", id, "prerequisite", calc.ID)
	}
}

// handleFailure records a failure, attempts recovery on recoverable kinds
// below the ceiling, and converts everything else to a terminal verdict.
func (m *Monitor) handleFailure(ctx context.Context, calc *domain.Calculation, cls classify.Classification, msg string) {
	err := m.store.Calculations.UpdateStatus(ctx, calc.ID, domain.CalcStatusFailed, storage.StatusUpdate{
		FailureKind:  string(cls.Kind),
		ErrorMessage: msg,
	})
	if storage.IsInvalidTransition(err) {
		return
	}
	if err != nil {
		m.log.Warn("failed to mark failed", "calc_id", calc.ID, "error", err)
		return
	}
	calc.Status = domain.CalcStatusFailed

	m.recordArtifacts(ctx, calc)
	m.mirrorRemove(calc.JobID)

	if m.recovery.AttemptRecovery(ctx, calc, cls) {
		err := m.store.Calculations.UpdateStatus(ctx, calc.ID, domain.CalcStatusResubmitted, storage.StatusUpdate{})
		if err != nil {
			m.log.Error("failed to mark resubmitted", "calc_id", calc.ID, "error", err)
			return
		}
		calc.Status = domain.CalcStatusResubmitted
		return
	}

	// Terminal: surface it and fail the material's workflow.
	metrics.CalcsFailed.WithLabelValues(string(calc.Type), string(cls.Kind)).Inc()
	m.log.Error("calculation failed terminally",
		"calc_id", calc.ID, "type", calc.Type, "kind", cls.Kind, "message", msg, "hints", cls.Hints)

	inst, err := m.store.Workflows.GetActiveInstance(ctx, calc.MaterialID)
	if err == nil {
		if err := m.store.Workflows.UpdateInstanceStatus(ctx, inst.ID, domain.WorkflowStatusFailed); err != nil {
			m.log.Warn("failed to fail workflow instance", "instance_id", inst.ID, "error", err)
		}
		m.markMaterialError(ctx, calc.MaterialID)
	} else if !errors.Is(err, storage.ErrNotFound) {
		m.log.Warn("failed to look up workflow instance", "material_id", calc.MaterialID, "error", err)
	}
}

// markMaterialError flags the material once its workflow failed terminally.
func (m *Monitor) markMaterialError(ctx context.Context, materialID string) {
	mat, err := m.store.Materials.Get(ctx, materialID)
	if err != nil {
		m.log.Warn("failed to load material", "material_id", materialID, "error", err)
		return
	}
	if mat.Status == domain.MaterialStatusError {
		return
	}
	mat.Status = domain.MaterialStatusError
	if err := m.store.Materials.Update(ctx, mat); err != nil {
		m.log.Warn("failed to flag material", "material_id", materialID, "error", err)
	}
}

func (m *Monitor) markCancelled(ctx context.Context, calc *domain.Calculation, reason string) {
	err := m.store.Calculations.UpdateStatus(ctx, calc.ID, domain.CalcStatusCancelled, storage.StatusUpdate{
		ErrorMessage: reason,
	})
	if err != nil && !storage.IsInvalidTransition(err) {
		m.log.Warn("failed to mark cancelled", "calc_id", calc.ID, "error", err)
		return
	}
	m.mirrorRemove(calc.JobID)
}

// Cancel issues the external cancel and, regardless of its result, marks
// the calculation cancelled locally with the reason.
func (m *Monitor) Cancel(ctx context.Context, calcID, reason string) error {
	calc, err := m.store.Calculations.Get(ctx, calcID)
	if err != nil {
		return err
	}
	if calc.JobID != "" {
		if err := m.sched.Cancel(ctx, calc.JobID); err != nil {
			m.log.Warn("scheduler cancel failed, marking cancelled anyway",
				"calc_id", calcID, "job_id", calc.JobID, "error", err)
		}
	}
	m.markCancelled(ctx, calc, reason)
	return nil
}

// submitEligible submits pending and resubmitted calculations whose
// prerequisite (if any) is completed. The scheduler call happens outside
// any transaction; the store transition afterwards enforces the
// prerequisite invariant again under lock.
func (m *Monitor) submitEligible(ctx context.Context) error {
	pending, err := m.store.Calculations.GetByStatus(ctx, domain.CalcStatusPending)
	if err != nil {
		return fmt.Errorf("failed to list pending calculations: %w", err)
	}
	resubmitted, err := m.store.Calculations.GetByStatus(ctx, domain.CalcStatusResubmitted)
	if err != nil {
		return fmt.Errorf("failed to list resubmitted calculations: %w", err)
	}

	for _, calc := range append(pending, resubmitted...) {
		eligible, err := m.prerequisiteDone(ctx, calc)
		if err != nil {
			m.log.Warn("prerequisite check failed", "calc_id", calc.ID, "error", err)
			continue
		}
		if !eligible {
			continue
		}

		jobID, err := m.sched.Submit(ctx, calc)
		if err != nil {
			m.log.Error("submission failed", "calc_id", calc.ID, "error", err)
			continue
		}

		err = m.store.Calculations.UpdateStatus(ctx, calc.ID, domain.CalcStatusSubmitted, storage.StatusUpdate{
			JobID: jobID,
		})
		if storage.IsInvalidTransition(err) {
			// Another invocation submitted it concurrently; ours is a
			// duplicate job. Best effort: take it back out of the queue.
			m.log.Warn("lost submission race, cancelling duplicate job",
				"calc_id", calc.ID, "job_id", jobID)
			_ = m.sched.Cancel(ctx, jobID)
			continue
		}
		if err != nil {
			m.log.Error("failed to mark submitted", "calc_id", calc.ID, "job_id", jobID, "error", err)
			continue
		}

		metrics.CalcsSubmitted.WithLabelValues(string(calc.Type)).Inc()
		calc.JobID = jobID
		m.mirrorRecord(jobID, calc)
	}
	return nil
}

func (m *Monitor) prerequisiteDone(ctx context.Context, calc *domain.Calculation) (bool, error) {
	if calc.PrerequisiteID == "" {
		return true, nil
	}
	prereq, err := m.store.Calculations.Get(ctx, calc.PrerequisiteID)
	if err != nil {
		return false, err
	}
	return prereq.Status == domain.CalcStatusCompleted, nil
}

// queueRecheck defers the verdict on an unreadable output artifact.
func (m *Monitor) queueRecheck(ctx context.Context, calc *domain.Calculation, reason string) {
	if m.recheck == nil {
		return // next poll cycle re-scans via the store
	}
	err := m.recheck.Add(ctx, redisclient.RecheckEntry{
		CalcID: calc.ID,
		JobID:  calc.JobID,
		Reason: reason,
	}, m.cfg.RecheckDelay)
	if err != nil {
		m.log.Warn("failed to queue recheck", "calc_id", calc.ID, "error", err)
	}
}

// processRechecks settles due re-check entries.
func (m *Monitor) processRechecks(ctx context.Context) {
	if m.recheck == nil {
		return
	}
	due, err := m.recheck.Due(ctx, 50)
	if err != nil {
		m.log.Warn("failed to read recheck queue", "error", err)
		return
	}

	for _, e := range due {
		calc, err := m.store.Calculations.Get(ctx, e.CalcID)
		if err != nil {
			m.log.Warn("recheck target missing", "calc_id", e.CalcID, "error", err)
			_ = m.recheck.Remove(ctx, e.CalcID)
			continue
		}
		if calc.Status.IsTerminal() {
			_ = m.recheck.Remove(ctx, e.CalcID)
			continue
		}

		outcome, cls := m.classifier.ScanOutput(calc.OutputFile)
		switch outcome {
		case classify.OutcomeCompleted:
			m.handleCompletion(ctx, calc)
			_ = m.recheck.Remove(ctx, e.CalcID)
		case classify.OutcomeFailed:
			m.handleFailure(ctx, calc, cls, "failure confirmed on recheck")
			_ = m.recheck.Remove(ctx, e.CalcID)
		case classify.OutcomeUnknown:
			m.queueRecheck(ctx, calc, e.Reason) // push the due time back
		}
	}
}

// recordArtifacts creates file records for the calculation's input and
// output once it reached a terminal state.
func (m *Monitor) recordArtifacts(ctx context.Context, calc *domain.Calculation) {
	for _, f := range []struct {
		path string
		typ  domain.FileType
	}{
		{calc.InputFile, domain.FileTypeInput},
		{calc.OutputFile, domain.FileTypeOutput},
	} {
		if f.path == "" {
			continue
		}
		info, err := os.Stat(f.path)
		if err != nil {
			continue // artifact never materialized
		}
		rec := &domain.FileRecord{
			CalcID:    calc.ID,
			Type:      f.typ,
			Name:      filepath.Base(f.path),
			Path:      f.path,
			SizeBytes: info.Size(),
			Checksum:  fileChecksum(f.path),
		}
		if err := m.store.Files.Add(ctx, rec); err != nil {
			m.log.Warn("failed to record file", "calc_id", calc.ID, "path", f.path, "error", err)
		}
	}
}

// recordProperties scrapes numeric sentinels from the completed output and
// appends them as material properties.
func (m *Monitor) recordProperties(ctx context.Context, calc *domain.Calculation) {
	props, err := classify.ExtractProperties(calc.OutputFile)
	if err != nil {
		m.log.Debug("property extraction skipped", "calc_id", calc.ID, "error", err)
		return
	}
	for _, p := range props {
		v := p.Value
		err := m.store.Properties.Add(ctx, &domain.Property{
			MaterialID: calc.MaterialID,
			CalcID:     calc.ID,
			Name:       p.Name,
			NumValue:   &v,
			Unit:       p.Unit,
		})
		if err != nil {
			m.log.Warn("failed to record property", "calc_id", calc.ID, "name", p.Name, "error", err)
		}
	}

	if sig, err := classify.ExtractSignalsFile(calc.OutputFile); err == nil && sig.ElapsedSeconds != nil {
		m.log.Debug("runtime signals", "calc_id", calc.ID,
			"elapsed_s", *sig.ElapsedSeconds, "iterations", sig.Iterations)
	}
}

func (m *Monitor) mirrorRecord(jobID string, calc *domain.Calculation) {
	if m.mirror != nil {
		m.mirror.Record(jobID, calc)
	}
}

func (m *Monitor) mirrorRemove(jobID string) {
	if m.mirror != nil && jobID != "" {
		m.mirror.Remove(jobID)
	}
}

// classifyOutput classifies the output artifact, falling back to a
// terminal unknown classification when it can't be read.
func (m *Monitor) classifyOutput(calc *domain.Calculation) (classify.Classification, string) {
	cls, err := m.classifier.ClassifyFile(calc.OutputFile)
	if err != nil {
		return classify.Classification{
			Kind:     classify.KindUnknown,
			Severity: classify.SeverityError,
		}, "scheduler reported failure, output unreadable"
	}
	return cls, "scheduler reported failure"
}

func fileChecksum(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}
