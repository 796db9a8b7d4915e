package classify

import (
	"bufio"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Outcome is the verdict of a sentinel scan over an output artifact.
type Outcome string

const (
	// OutcomeCompleted means a completion marker was found.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed means a failure pattern matched before any completion marker.
	OutcomeFailed Outcome = "failed"
	// OutcomeUnknown means the artifact is missing/unreadable or carries no
	// terminal marker yet; callers should re-check later.
	OutcomeUnknown Outcome = "unknown"
)

// completionSentinels are the literal phrases the engine prints on normal
// termination. Compatibility-sensitive: changes to the engine's phrasing
// are breaking.
var completionSentinels = []string{
	"CALCULATION COMPLETED",
	"NORMAL TERMINATION",
}

// ScanOutput resolves a job whose state the scheduler no longer reports:
// it scans the output artifact for completion sentinels and failure
// patterns. A missing or unreadable artifact yields OutcomeUnknown, which
// is distinct from a parsed failure.
func (c *Classifier) ScanOutput(path string) (Outcome, Classification) {
	f, err := os.Open(path)
	if err != nil {
		return OutcomeUnknown, unknownClassification
	}
	defer f.Close()

	var failure *Classification
	sawAnything := false

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		sawAnything = true
		for _, s := range completionSentinels {
			if strings.Contains(line, s) {
				return OutcomeCompleted, Classification{}
			}
		}
		if failure == nil {
			if cls := c.Classify(line); cls.Kind != KindUnknown {
				failure = &cls
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return OutcomeUnknown, unknownClassification
	}

	if failure != nil {
		return OutcomeFailed, *failure
	}
	if !sawAnything {
		return OutcomeUnknown, unknownClassification
	}
	// Output ended without a terminal marker: the engine died mid-report.
	return OutcomeFailed, unknownClassification
}

// propertyRes are the numeric diagnostics worth recording as material
// properties on success.
var propertyRes = []struct {
	name string
	unit string
	re   *regexp.Regexp
}{
	{"total_energy", "eV", regexp.MustCompile(`(?i)TOTAL\s+ENERGY[^-0-9]*(-?[0-9]+(?:\.[0-9]+)?(?:[eE][+-]?[0-9]+)?)`)},
	{"band_gap", "eV", regexp.MustCompile(`(?i)BAND\s+GAP[^-0-9]*(-?[0-9]+(?:\.[0-9]+)?)`)},
	{"fermi_energy", "eV", regexp.MustCompile(`(?i)FERMI\s+ENERGY[^-0-9]*(-?[0-9]+(?:\.[0-9]+)?)`)},
}

// ExtractedProperty is a numeric value scraped from a completed output.
type ExtractedProperty struct {
	Name  string
	Value float64
	Unit  string
}

// ExtractProperties scans a completed output artifact for the numeric
// property sentinels. The last occurrence of each wins (engines print
// running values per iteration).
func ExtractProperties(path string) ([]ExtractedProperty, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	found := make(map[string]ExtractedProperty)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		for _, p := range propertyRes {
			m := p.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				found[p.name] = ExtractedProperty{Name: p.name, Value: v, Unit: p.unit}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	out := make([]ExtractedProperty, 0, len(found))
	for _, p := range propertyRes {
		if v, ok := found[p.name]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}
