package classify

import (
	"bufio"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// RuntimeSignals are auxiliary figures pulled from an output artifact.
// They are diagnostics only and never influence classification.
type RuntimeSignals struct {
	ElapsedSeconds *float64 `json:"elapsed_seconds,omitempty"`
	Iterations     *int     `json:"iterations,omitempty"`
	PeakMemoryMB   *float64 `json:"peak_memory_mb,omitempty"`
}

var (
	elapsedRe    = regexp.MustCompile(`(?i)(?:ELAPSED|WALL)\s+TIME[^0-9]*([0-9]+(?:\.[0-9]+)?)`)
	iterationsRe = regexp.MustCompile(`(?i)(?:SCF\s+)?ITERATIONS?[^0-9]*([0-9]+)`)
	peakMemRe    = regexp.MustCompile(`(?i)PEAK\s+MEMORY[^0-9]*([0-9]+(?:\.[0-9]+)?)\s*MB`)
)

// ExtractSignals pulls runtime figures out of output text. Missing figures
// stay nil; the last occurrence of each wins.
func ExtractSignals(output string) RuntimeSignals {
	var sig RuntimeSignals

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if m := elapsedRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				sig.ElapsedSeconds = &v
			}
		}
		if m := iterationsRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil {
				sig.Iterations = &v
			}
		}
		if m := peakMemRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				sig.PeakMemoryMB = &v
			}
		}
	}
	return sig
}

// ExtractSignalsFile reads the artifact and extracts runtime figures.
func ExtractSignalsFile(path string) (RuntimeSignals, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSignals{}, err
	}
	return ExtractSignals(string(data)), nil
}
