package recovery

import (
	"context"
	"errors"
	"testing"

	"github.com/vietddude/calcwatch/internal/classify"
	"github.com/vietddude/calcwatch/internal/core/domain"
	"github.com/vietddude/calcwatch/internal/infra/storage"
	"github.com/vietddude/calcwatch/internal/infra/storage/memory"
)

// stubRewriter records rewrites and can be told to fail.
type stubRewriter struct {
	calls int
	fail  bool
}

func (r *stubRewriter) Rewrite(ctx context.Context, calc *domain.Calculation) error {
	r.calls++
	if r.fail {
		return errors.New("generator unavailable")
	}
	return nil
}

func failedCalc(t *testing.T, store *storage.Store) *domain.Calculation {
	t.Helper()
	ctx := context.Background()

	calc := &domain.Calculation{
		ID:         "calc-1",
		MaterialID: "mat-1",
		Type:       domain.CalcTypeRelaxation,
		Status:     domain.CalcStatusPending,
		Settings:   domain.DefaultSettings(domain.CalcTypeRelaxation),
	}
	if err := store.Calculations.Create(ctx, calc); err != nil {
		t.Fatal(err)
	}
	for _, s := range []domain.CalcStatus{
		domain.CalcStatusSubmitted, domain.CalcStatusRunning, domain.CalcStatusFailed,
	} {
		if err := store.Calculations.UpdateStatus(ctx, calc.ID, s, storage.StatusUpdate{}); err != nil {
			t.Fatalf("transition to %s failed: %v", s, err)
		}
	}
	got, err := store.Calculations.Get(ctx, calc.ID)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func TestRecoveryEnlargesMemory(t *testing.T) {
	store := memory.NewStore(memory.NewMemoryStorage())
	calc := failedCalc(t, store)
	before := calc.Settings.MemoryMB

	rw := &stubRewriter{}
	engine := NewEngine(store.Calculations, rw, 3)

	ok := engine.AttemptRecovery(context.Background(), calc, classify.Classification{
		Kind: classify.KindMemory, Recoverable: true,
	})
	if !ok {
		t.Fatal("Expected recovery to succeed")
	}
	if calc.RecoveryAttempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", calc.RecoveryAttempts)
	}
	if calc.Settings.MemoryMB != before+before/2 {
		t.Errorf("Expected memory %d, got %d", before+before/2, calc.Settings.MemoryMB)
	}
	if calc.CompletionType != domain.CompletionRecovery {
		t.Errorf("Expected recovery_attempt completion type, got %s", calc.CompletionType)
	}
	if rw.calls != 1 {
		t.Errorf("Expected 1 input rewrite, got %d", rw.calls)
	}

	// The mutation must be persisted, not just in-memory.
	stored, err := store.Calculations.Get(context.Background(), calc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Settings.MemoryMB != calc.Settings.MemoryMB {
		t.Error("Mutated settings were not persisted")
	}
	if stored.RecoveryAttempts != 1 {
		t.Errorf("Expected persisted attempt count 1, got %d", stored.RecoveryAttempts)
	}
}

func TestRecoveryCeiling(t *testing.T) {
	store := memory.NewStore(memory.NewMemoryStorage())
	calc := failedCalc(t, store)

	engine := NewEngine(store.Calculations, &stubRewriter{}, 3)
	cls := classify.Classification{Kind: classify.KindConvergence, Recoverable: true}

	for i := 1; i <= 3; i++ {
		if !engine.AttemptRecovery(context.Background(), calc, cls) {
			t.Fatalf("Attempt %d should succeed", i)
		}
	}

	// Fourth failure of the same kind is terminal.
	if engine.AttemptRecovery(context.Background(), calc, cls) {
		t.Fatal("Expected recovery to stop at the ceiling")
	}
	if calc.RecoveryAttempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", calc.RecoveryAttempts)
	}
}

func TestRecoveryNotRecoverable(t *testing.T) {
	store := memory.NewStore(memory.NewMemoryStorage())
	calc := failedCalc(t, store)

	engine := NewEngine(store.Calculations, &stubRewriter{}, 3)
	if engine.AttemptRecovery(context.Background(), calc, classify.Classification{
		Kind: classify.KindSystemCrash, Recoverable: false,
	}) {
		t.Fatal("Non-recoverable failures must fail closed")
	}
	if calc.RecoveryAttempts != 0 {
		t.Errorf("Expected no attempts recorded, got %d", calc.RecoveryAttempts)
	}
}

func TestRecoveryUnknownKindFailsClosed(t *testing.T) {
	store := memory.NewStore(memory.NewMemoryStorage())
	calc := failedCalc(t, store)

	engine := NewEngine(store.Calculations, &stubRewriter{}, 3)
	// Recoverable flag set, but no strategy exists for the kind.
	if engine.AttemptRecovery(context.Background(), calc, classify.Classification{
		Kind: classify.KindUnknown, Recoverable: true,
	}) {
		t.Fatal("Kinds without a strategy must fail closed")
	}
}

func TestRecoveryRewriteFailureLeavesRecordUntouched(t *testing.T) {
	store := memory.NewStore(memory.NewMemoryStorage())
	calc := failedCalc(t, store)
	before := calc.Settings

	engine := NewEngine(store.Calculations, &stubRewriter{fail: true}, 3)
	if engine.AttemptRecovery(context.Background(), calc, classify.Classification{
		Kind: classify.KindMemory, Recoverable: true,
	}) {
		t.Fatal("Rewrite failure must abandon the attempt")
	}
	if calc.Settings.MemoryMB != before.MemoryMB || calc.Settings.Tolerance != before.Tolerance {
		t.Error("Failed attempt mutated the settings")
	}
	if calc.RecoveryAttempts != 0 {
		t.Errorf("Expected no attempts recorded, got %d", calc.RecoveryAttempts)
	}
}

func TestConvergenceStrategy(t *testing.T) {
	s := domain.DefaultSettings(domain.CalcTypeSinglePoint)
	tol, iters := s.Tolerance, s.MaxIterations

	if err := relaxConvergence(&s); err != nil {
		t.Fatal(err)
	}
	if s.Tolerance != tol*10 {
		t.Errorf("Expected tolerance %g, got %g", tol*10, s.Tolerance)
	}
	if s.MaxIterations <= iters {
		t.Errorf("Expected iteration cap above %d, got %d", iters, s.MaxIterations)
	}
}

func TestCoarsenGridFloor(t *testing.T) {
	s := domain.CalcSettings{KpointDensity: 2}
	if err := coarsenGrid(&s); err == nil {
		t.Fatal("Expected coarsening below the floor to fail")
	}
}
