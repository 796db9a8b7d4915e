// Package recovery mutates failed calculations so they are worth
// resubmitting, within a bounded attempt count.
package recovery

import (
	"context"
	"log/slog"

	"github.com/vietddude/calcwatch/internal/classify"
	"github.com/vietddude/calcwatch/internal/core/domain"
	"github.com/vietddude/calcwatch/internal/infra/storage"
	"github.com/vietddude/calcwatch/internal/metrics"
)

// DefaultCeiling bounds recovery attempts per calculation.
const DefaultCeiling = 3

// Rewriter regenerates a calculation's input artifact in place after its
// settings changed. Satisfied by inputs.Generator.
type Rewriter interface {
	Rewrite(ctx context.Context, calc *domain.Calculation) error
}

// Engine applies kind-specific recovery strategies.
type Engine struct {
	calcs      storage.CalculationRepository
	rewriter   Rewriter
	ceiling    int
	strategies map[classify.FailureKind]Strategy
	log        *slog.Logger
}

// NewEngine creates a recovery engine with the default strategy table.
// A ceiling <= 0 gets DefaultCeiling.
func NewEngine(calcs storage.CalculationRepository, rewriter Rewriter, ceiling int) *Engine {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Engine{
		calcs:      calcs,
		rewriter:   rewriter,
		ceiling:    ceiling,
		strategies: defaultStrategies(),
		log:        slog.With("component", "recovery"),
	}
}

// Ceiling returns the configured attempt bound.
func (e *Engine) Ceiling() int { return e.ceiling }

// AttemptRecovery mutates the failed calculation's input artifact and
// reports whether it is eligible for resubmission under the same id. It
// never creates a new material or calculation. Any strategy or rewrite
// error fails closed: the attempt is abandoned and the failure stays
// terminal.
func (e *Engine) AttemptRecovery(ctx context.Context, calc *domain.Calculation, cls classify.Classification) bool {
	log := e.log.With("calc_id", calc.ID, "kind", cls.Kind, "attempts", calc.RecoveryAttempts)

	if !cls.Recoverable {
		return false
	}
	if calc.RecoveryAttempts >= e.ceiling {
		log.Info("recovery ceiling reached, failure is terminal")
		return false
	}

	strategy, ok := e.strategies[cls.Kind]
	if !ok {
		log.Warn("no recovery strategy for kind")
		return false
	}

	// Work on a copy so a failed attempt leaves the record untouched.
	settings := calc.Settings
	if err := strategy.Apply(&settings); err != nil {
		log.Warn("recovery strategy failed", "error", err)
		return false
	}

	mutated := *calc
	mutated.Settings = settings
	if err := e.rewriter.Rewrite(ctx, &mutated); err != nil {
		log.Warn("input rewrite failed", "error", err)
		return false
	}

	if err := e.calcs.MarkRecoveryAttempt(ctx, calc.ID, settings, e.ceiling); err != nil {
		log.Warn("failed to record recovery attempt", "error", err)
		return false
	}

	calc.Settings = settings
	calc.RecoveryAttempts++
	calc.CompletionType = domain.CompletionRecovery

	metrics.RecoveryAttempts.WithLabelValues(string(cls.Kind)).Inc()
	log.Info("recovery applied, calculation eligible for resubmission",
		"new_attempts", calc.RecoveryAttempts, "hints", cls.Hints)
	return true
}
