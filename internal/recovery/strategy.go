package recovery

import (
	"fmt"

	"github.com/vietddude/calcwatch/internal/classify"
	"github.com/vietddude/calcwatch/internal/core/domain"
)

// Strategy is an in-place transformation of a calculation's settings that
// makes a resubmission worth trying for one failure kind.
type Strategy interface {
	// Apply mutates the settings. An error fails the recovery attempt closed.
	Apply(s *domain.CalcSettings) error
}

// StrategyFunc adapts a function to the Strategy interface.
type StrategyFunc func(s *domain.CalcSettings) error

func (f StrategyFunc) Apply(s *domain.CalcSettings) error { return f(s) }

// Resource ceilings keep runaway recovery from requesting absurd
// allocations; hitting one fails the attempt closed.
const (
	maxMemoryMB   = 256 * 1024
	maxWalltime   = 7 * 24 * 60 // minutes
	maxIterations = 2000
	minKpoints    = 2
)

// enlargeMemory grows the memory request by half.
func enlargeMemory(s *domain.CalcSettings) error {
	next := s.MemoryMB + s.MemoryMB/2
	if next > maxMemoryMB {
		return fmt.Errorf("memory request %dMB exceeds ceiling", next)
	}
	s.MemoryMB = next
	return nil
}

// extendWalltime doubles the walltime request.
func extendWalltime(s *domain.CalcSettings) error {
	next := s.WalltimeMin * 2
	if next > maxWalltime {
		return fmt.Errorf("walltime request %dmin exceeds ceiling", next)
	}
	s.WalltimeMin = next
	return nil
}

// relaxConvergence loosens the tolerance an order of magnitude and raises
// the iteration cap.
func relaxConvergence(s *domain.CalcSettings) error {
	s.Tolerance *= 10
	next := s.MaxIterations * 2
	if next > maxIterations {
		next = maxIterations
	}
	s.MaxIterations = next
	return nil
}

// coarsenGrid halves the k-point density.
func coarsenGrid(s *domain.CalcSettings) error {
	next := s.KpointDensity / 2
	if next < minKpoints {
		return fmt.Errorf("k-point density already at minimum")
	}
	s.KpointDensity = next
	return nil
}

// retryAsIs resubmits without changing settings; suitable for transient
// node-local faults like scratch-disk errors.
func retryAsIs(*domain.CalcSettings) error { return nil }

// defaultStrategies maps failure kinds onto their recovery transformations.
// Kinds absent from the map are not recoverable regardless of the
// classifier's flag (fail closed).
func defaultStrategies() map[classify.FailureKind]Strategy {
	return map[classify.FailureKind]Strategy{
		classify.KindMemory:      StrategyFunc(enlargeMemory),
		classify.KindTimeLimit:   StrategyFunc(extendWalltime),
		classify.KindConvergence: StrategyFunc(relaxConvergence),
		classify.KindKpointGrid:  StrategyFunc(coarsenGrid),
		classify.KindDiskIO:      StrategyFunc(retryAsIs),
	}
}
