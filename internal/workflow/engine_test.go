package workflow

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/vietddude/calcwatch/internal/core/domain"
	"github.com/vietddude/calcwatch/internal/infra/storage"
	"github.com/vietddude/calcwatch/internal/infra/storage/memory"
)

// fakeGenerator hands back deterministic paths without shelling out.
type fakeGenerator struct {
	calls int
}

func (g *fakeGenerator) Generate(ctx context.Context, material *domain.Material, kind domain.CalcType,
	settings domain.CalcSettings, fromOutput string, workDir string) (string, error) {
	g.calls++
	return filepath.Join(workDir, string(kind)+".in"), nil
}

func (g *fakeGenerator) Rewrite(ctx context.Context, calc *domain.Calculation) error {
	return nil
}

func setupEngine(t *testing.T) (*Engine, *storage.Store) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore(memory.NewMemoryStorage())

	if err := EnsureTemplates(ctx, store.Workflows); err != nil {
		t.Fatalf("EnsureTemplates failed: %v", err)
	}
	if err := store.Materials.Create(ctx, &domain.Material{
		ID: "mat-1", Formula: "Si2", Status: domain.MaterialStatusActive,
	}); err != nil {
		t.Fatal(err)
	}

	return NewEngine(store, &fakeGenerator{}, t.TempDir()), store
}

func completeCalc(t *testing.T, store *storage.Store, id string) {
	t.Helper()
	ctx := context.Background()
	for _, s := range []domain.CalcStatus{
		domain.CalcStatusSubmitted, domain.CalcStatusRunning, domain.CalcStatusCompleted,
	} {
		if err := store.Calculations.UpdateStatus(ctx, id, s, storage.StatusUpdate{}); err != nil {
			t.Fatalf("transition to %s failed: %v", s, err)
		}
	}
}

func TestStartWorkflowCreatesEntryStep(t *testing.T) {
	engine, store := setupEngine(t)
	ctx := context.Background()

	inst, created, err := engine.StartWorkflow(ctx, "mat-1", StandardElectronic)
	if err != nil {
		t.Fatalf("StartWorkflow failed: %v", err)
	}
	if inst.Status != domain.WorkflowStatusActive {
		t.Errorf("Expected active instance, got %s", inst.Status)
	}
	if len(created) != 1 {
		t.Fatalf("Expected 1 entry calculation, got %d", len(created))
	}

	calc, err := store.Calculations.Get(ctx, created[0])
	if err != nil {
		t.Fatal(err)
	}
	if calc.Type != domain.CalcTypeRelaxation {
		t.Errorf("Expected relaxation entry step, got %s", calc.Type)
	}
	if calc.Status != domain.CalcStatusPending {
		t.Errorf("Expected pending status, got %s", calc.Status)
	}
	if calc.PrerequisiteID != "" {
		t.Errorf("Entry step must have no prerequisite, got %s", calc.PrerequisiteID)
	}
}

func TestExecuteWorkflowStepAdvances(t *testing.T) {
	engine, store := setupEngine(t)
	ctx := context.Background()

	_, created, err := engine.StartWorkflow(ctx, "mat-1", StandardElectronic)
	if err != nil {
		t.Fatal(err)
	}
	relaxID := created[0]
	completeCalc(t, store, relaxID)

	next, err := engine.ExecuteWorkflowStep(ctx, "mat-1", relaxID)
	if err != nil {
		t.Fatalf("ExecuteWorkflowStep failed: %v", err)
	}
	if len(next) != 1 {
		t.Fatalf("Expected 1 downstream calculation, got %d", len(next))
	}

	calc, err := store.Calculations.Get(ctx, next[0])
	if err != nil {
		t.Fatal(err)
	}
	if calc.Type != domain.CalcTypeSinglePoint {
		t.Errorf("Expected single_point after relaxation, got %s", calc.Type)
	}
	if calc.Status != domain.CalcStatusPending {
		t.Errorf("Downstream step must start pending, got %s", calc.Status)
	}
	if calc.PrerequisiteID != relaxID {
		t.Errorf("Expected prerequisite %s, got %s", relaxID, calc.PrerequisiteID)
	}
}

func TestExecuteWorkflowStepIdempotent(t *testing.T) {
	engine, store := setupEngine(t)
	ctx := context.Background()

	_, created, err := engine.StartWorkflow(ctx, "mat-1", StandardElectronic)
	if err != nil {
		t.Fatal(err)
	}
	relaxID := created[0]
	completeCalc(t, store, relaxID)

	first, err := engine.ExecuteWorkflowStep(ctx, "mat-1", relaxID)
	if err != nil {
		t.Fatal(err)
	}
	// A second trigger for the same completion creates nothing new.
	second, err := engine.ExecuteWorkflowStep(ctx, "mat-1", relaxID)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 || len(second) != 0 {
		t.Fatalf("Expected 1 then 0 created, got %d then %d", len(first), len(second))
	}

	calcs, err := store.Calculations.GetByType(ctx, domain.CalcTypeSinglePoint)
	if err != nil {
		t.Fatal(err)
	}
	if len(calcs) != 1 {
		t.Fatalf("Expected exactly 1 single_point calculation, got %d", len(calcs))
	}
}

func TestExecuteWorkflowStepFansOut(t *testing.T) {
	engine, store := setupEngine(t)
	ctx := context.Background()

	_, created, err := engine.StartWorkflow(ctx, "mat-1", StandardElectronic)
	if err != nil {
		t.Fatal(err)
	}
	relaxID := created[0]
	completeCalc(t, store, relaxID)

	next, err := engine.ExecuteWorkflowStep(ctx, "mat-1", relaxID)
	if err != nil {
		t.Fatal(err)
	}
	spID := next[0]
	completeCalc(t, store, spID)

	// single_point fans out to band_structure and density_of_states.
	fanout, err := engine.ExecuteWorkflowStep(ctx, "mat-1", spID)
	if err != nil {
		t.Fatal(err)
	}
	if len(fanout) != 2 {
		t.Fatalf("Expected fan-out of 2, got %d", len(fanout))
	}

	kinds := map[domain.CalcType]bool{}
	for _, id := range fanout {
		calc, err := store.Calculations.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		kinds[calc.Type] = true
		if calc.PrerequisiteID != spID {
			t.Errorf("Expected prerequisite %s for %s", spID, calc.Type)
		}
	}
	if !kinds[domain.CalcTypeBandStructure] || !kinds[domain.CalcTypeDOS] {
		t.Errorf("Expected band_structure and density_of_states, got %v", kinds)
	}
}

func TestExecuteWorkflowStepCompletesInstance(t *testing.T) {
	engine, store := setupEngine(t)
	ctx := context.Background()

	inst, created, err := engine.StartWorkflow(ctx, "mat-1", StandardElectronic)
	if err != nil {
		t.Fatal(err)
	}
	relaxID := created[0]
	completeCalc(t, store, relaxID)
	next, _ := engine.ExecuteWorkflowStep(ctx, "mat-1", relaxID)
	completeCalc(t, store, next[0])
	fanout, _ := engine.ExecuteWorkflowStep(ctx, "mat-1", next[0])

	// Leaf steps have no downstream; completing one finishes the instance.
	completeCalc(t, store, fanout[0])
	more, err := engine.ExecuteWorkflowStep(ctx, "mat-1", fanout[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(more) != 0 {
		t.Fatalf("Leaf completion must create nothing, got %d", len(more))
	}

	got, err := store.Workflows.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.WorkflowStatusCompleted {
		t.Errorf("Expected completed instance, got %s", got.Status)
	}
}

func TestExecuteWorkflowStepUnknownKindNoop(t *testing.T) {
	engine, store := setupEngine(t)
	ctx := context.Background()

	if _, _, err := engine.StartWorkflow(ctx, "mat-1", StandardElectronic); err != nil {
		t.Fatal(err)
	}

	// A frequency calculation isn't part of the electronic template.
	calc := &domain.Calculation{
		ID: "calc-freq", MaterialID: "mat-1",
		Type: domain.CalcTypeFrequency, Status: domain.CalcStatusPending,
		Settings: domain.DefaultSettings(domain.CalcTypeFrequency),
	}
	if err := store.Calculations.Create(ctx, calc); err != nil {
		t.Fatal(err)
	}
	completeCalc(t, store, calc.ID)

	created, err := engine.ExecuteWorkflowStep(ctx, "mat-1", calc.ID)
	if err != nil {
		t.Fatalf("Unknown kind must be a no-op, got error: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("Unknown kind created %d calculations", len(created))
	}
}

func TestExecuteWorkflowStepNoActiveInstance(t *testing.T) {
	engine, store := setupEngine(t)
	ctx := context.Background()

	calc := &domain.Calculation{
		ID: "calc-1", MaterialID: "mat-1",
		Type: domain.CalcTypeRelaxation, Status: domain.CalcStatusPending,
		Settings: domain.DefaultSettings(domain.CalcTypeRelaxation),
	}
	if err := store.Calculations.Create(ctx, calc); err != nil {
		t.Fatal(err)
	}
	completeCalc(t, store, calc.ID)

	created, err := engine.ExecuteWorkflowStep(ctx, "mat-1", calc.ID)
	if err != nil {
		t.Fatalf("No active instance must be a no-op, got error: %v", err)
	}
	if created != nil {
		t.Fatalf("Expected nil, got %v", created)
	}
}
