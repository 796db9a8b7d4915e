// Package workflow advances a material's calculation sequence when a
// stage completes.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/vietddude/calcwatch/internal/core/domain"
	"github.com/vietddude/calcwatch/internal/infra/inputs"
	"github.com/vietddude/calcwatch/internal/infra/storage"
	"github.com/vietddude/calcwatch/internal/metrics"
)

// Engine is the per-instance workflow state machine.
type Engine struct {
	store     *storage.Store
	generator inputs.Generator
	workRoot  string
	log       *slog.Logger
}

// NewEngine creates a workflow engine. workRoot is where per-calculation
// working directories are laid out.
func NewEngine(store *storage.Store, generator inputs.Generator, workRoot string) *Engine {
	return &Engine{
		store:     store,
		generator: generator,
		workRoot:  workRoot,
		log:       slog.With("component", "workflow"),
	}
}

// StartWorkflow binds a template to a material and creates the entry-step
// calculations (steps with no upstream requirement).
func (e *Engine) StartWorkflow(ctx context.Context, materialID, templateName string) (*domain.WorkflowInstance, []string, error) {
	tmpl, err := e.store.Workflows.GetTemplateByName(ctx, templateName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load template %s: %w", templateName, err)
	}

	inst := &domain.WorkflowInstance{
		ID:         uuid.New().String(),
		MaterialID: materialID,
		TemplateID: tmpl.ID,
		Status:     domain.WorkflowStatusActive,
	}
	if err := e.store.Workflows.CreateInstance(ctx, inst); err != nil {
		return nil, nil, fmt.Errorf("failed to create instance: %w", err)
	}

	created, err := e.createSteps(ctx, materialID, tmpl.Downstream(""), "", "")
	if err != nil {
		return inst, created, err
	}
	return inst, created, nil
}

// ExecuteWorkflowStep advances the material's active instance after a
// calculation completed. It creates at most one new downstream calculation
// per downstream kind (idempotent re-trigger protection) and returns the
// new calculation ids for submission. A template with no rule for the
// completed kind is a no-op; a kind with no downstream steps completes the
// instance.
func (e *Engine) ExecuteWorkflowStep(ctx context.Context, materialID, completedCalcID string) ([]string, error) {
	completed, err := e.store.Calculations.Get(ctx, completedCalcID)
	if err != nil {
		return nil, fmt.Errorf("failed to load completed calculation: %w", err)
	}
	if completed.Status != domain.CalcStatusCompleted {
		return nil, fmt.Errorf("calculation %s is %s, not completed", completedCalcID, completed.Status)
	}

	inst, err := e.store.Workflows.GetActiveInstance(ctx, materialID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil // no active workflow for this material
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}

	tmpl, err := e.store.Workflows.GetTemplate(ctx, inst.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	if !tmpl.HasKind(completed.Type) {
		// The template doesn't know this kind; not an error.
		return nil, nil
	}

	steps := tmpl.Downstream(completed.Type)
	if len(steps) == 0 {
		e.log.Info("workflow complete", "material_id", materialID, "instance_id", inst.ID)
		if err := e.store.Workflows.UpdateInstanceStatus(ctx, inst.ID, domain.WorkflowStatusCompleted); err != nil {
			return nil, fmt.Errorf("failed to complete instance: %w", err)
		}
		return nil, nil
	}

	created, err := e.createSteps(ctx, materialID, steps, completedCalcID, completed.OutputFile)
	if err != nil {
		return created, err
	}

	if len(created) > 0 {
		if err := e.store.Workflows.AdvanceInstance(ctx, inst.ID, inst.CurrentStep+1); err != nil {
			e.log.Warn("failed to advance instance cursor", "instance_id", inst.ID, "error", err)
		}
	}
	return created, nil
}

// createSteps materializes downstream steps as pending calculations,
// skipping kinds the material already has in a non-terminal-failed state.
func (e *Engine) createSteps(ctx context.Context, materialID string, steps []domain.TemplateStep,
	prerequisiteID, fromOutput string) ([]string, error) {

	material, err := e.store.Materials.Get(ctx, materialID)
	if err != nil {
		return nil, fmt.Errorf("failed to load material: %w", err)
	}

	existing, err := e.store.Calculations.GetByMaterial(ctx, materialID)
	if err != nil {
		return nil, fmt.Errorf("failed to list calculations: %w", err)
	}

	var created []string
	for _, step := range steps {
		if hasLiveCalc(existing, step.Kind) {
			e.log.Debug("downstream kind already in flight, skipping",
				"material_id", materialID, "type", step.Kind)
			continue
		}

		settings := domain.DefaultSettings(step.Kind)
		if step.Settings != nil {
			settings = *step.Settings
		}

		id := uuid.New().String()
		workDir := filepath.Join(e.workRoot, materialID, string(step.Kind)+"_"+id[:8])

		inputFile, err := e.generator.Generate(ctx, material, step.Kind, settings, fromOutput, workDir)
		if err != nil {
			return created, fmt.Errorf("failed to generate input for %s: %w", step.Kind, err)
		}

		calc := &domain.Calculation{
			ID:             id,
			MaterialID:     materialID,
			Type:           step.Kind,
			Status:         domain.CalcStatusPending,
			InputFile:      inputFile,
			OutputFile:     filepath.Join(workDir, string(step.Kind)+".out"),
			WorkDir:        workDir,
			Settings:       settings,
			PrerequisiteID: prerequisiteID,
		}
		if err := e.store.Calculations.Create(ctx, calc); err != nil {
			return created, fmt.Errorf("failed to create %s calculation: %w", step.Kind, err)
		}

		metrics.WorkflowStepsTriggered.WithLabelValues(string(step.Kind)).Inc()
		e.log.Info("created downstream calculation",
			"material_id", materialID, "calc_id", id, "type", step.Kind, "prerequisite", prerequisiteID)
		created = append(created, id)
	}
	return created, nil
}

// hasLiveCalc reports whether the material already has a calculation of
// the kind that isn't terminally failed or cancelled.
func hasLiveCalc(calcs []*domain.Calculation, kind domain.CalcType) bool {
	for _, c := range calcs {
		if c.Type != kind {
			continue
		}
		if c.Status != domain.CalcStatusFailed && c.Status != domain.CalcStatusCancelled {
			return true
		}
	}
	return false
}
