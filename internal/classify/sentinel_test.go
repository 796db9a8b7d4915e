package classify

import (
	"os"
	"path/filepath"
	"testing"
)

func writeOutput(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calc.out")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestScanOutputCompleted(t *testing.T) {
	c := New()
	path := writeOutput(t, "iteration 12\nTOTAL ENERGY = -1234.5678 eV\nCALCULATION COMPLETED\n")

	outcome, _ := c.ScanOutput(path)
	if outcome != OutcomeCompleted {
		t.Fatalf("Expected completed outcome, got %s", outcome)
	}
}

func TestScanOutputFailedWithoutSentinel(t *testing.T) {
	c := New()
	// Output exists but carries neither a terminal marker nor a known
	// failure pattern: still a failure, unknown kind.
	path := writeOutput(t, "iteration 1\niteration 2\n")

	outcome, cls := c.ScanOutput(path)
	if outcome != OutcomeFailed {
		t.Fatalf("Expected failed outcome, got %s", outcome)
	}
	if cls.Kind != KindUnknown {
		t.Errorf("Expected unknown kind, got %s", cls.Kind)
	}
}

func TestScanOutputFailedWithPattern(t *testing.T) {
	c := New()
	path := writeOutput(t, "SCF NOT CONVERGED\n")

	outcome, cls := c.ScanOutput(path)
	if outcome != OutcomeFailed {
		t.Fatalf("Expected failed outcome, got %s", outcome)
	}
	if cls.Kind != KindConvergence {
		t.Errorf("Expected convergence_failure, got %s", cls.Kind)
	}
}

func TestScanOutputMissingFile(t *testing.T) {
	c := New()

	outcome, _ := c.ScanOutput(filepath.Join(t.TempDir(), "nope.out"))
	if outcome != OutcomeUnknown {
		t.Fatalf("Missing artifact must yield unknown, got %s", outcome)
	}
}

func TestExtractProperties(t *testing.T) {
	path := writeOutput(t, "TOTAL ENERGY = -812.443210 eV\nBAND GAP: 1.12 eV\nNORMAL TERMINATION\n")

	props, err := ExtractProperties(path)
	if err != nil {
		t.Fatalf("ExtractProperties failed: %v", err)
	}

	byName := map[string]float64{}
	for _, p := range props {
		byName[p.Name] = p.Value
	}
	if byName["total_energy"] != -812.443210 {
		t.Errorf("Expected total_energy -812.44321, got %v", byName["total_energy"])
	}
	if byName["band_gap"] != 1.12 {
		t.Errorf("Expected band_gap 1.12, got %v", byName["band_gap"])
	}
}
